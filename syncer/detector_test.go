package syncer

import (
	"testing"

	"polymarket-copytrader/models"
)

func keyed(entries ...models.PositionSnapshot) map[models.PositionKey]models.PositionSnapshot {
	m := make(map[models.PositionKey]models.PositionSnapshot, len(entries))
	for _, e := range entries {
		m[e.Key()] = e
	}
	return m
}

func TestDetectChanges(t *testing.T) {
	tests := []struct {
		name       string
		old        map[models.PositionKey]models.PositionSnapshot
		current    map[models.PositionKey]models.PositionSnapshot
		wantKind   models.ChangeKind
		wantSide   models.OrderSide
		wantDelta  float64
		wantRefPx  float64
		wantEvents int
	}{
		{
			name:       "empty base produces new position",
			old:        keyed(),
			current:    keyed(snap("t1", "m1", "tok1", 100, 0.40)),
			wantKind:   models.ChangeNewPosition,
			wantSide:   models.OrderSideBuy,
			wantDelta:  100,
			wantRefPx:  0.40,
			wantEvents: 1,
		},
		{
			name:       "size increase buys at new average",
			old:        keyed(snap("t1", "m1", "tok1", 100, 0.40)),
			current:    keyed(snap("t1", "m1", "tok1", 150, 0.45)),
			wantKind:   models.ChangeSizeIncrease,
			wantSide:   models.OrderSideBuy,
			wantDelta:  50,
			wantRefPx:  0.45,
			wantEvents: 1,
		},
		{
			name:       "size decrease sells at old average",
			old:        keyed(snap("t1", "m1", "tok1", 100, 0.40)),
			current:    keyed(snap("t1", "m1", "tok1", 60, 0.55)),
			wantKind:   models.ChangeSizeDecrease,
			wantSide:   models.OrderSideSell,
			wantDelta:  40,
			wantRefPx:  0.40, // old price retained for the copier's P&L
			wantEvents: 1,
		},
		{
			name:       "closed position sells full old size",
			old:        keyed(snap("t1", "m1", "tok1", 80, 0.30)),
			current:    keyed(),
			wantKind:   models.ChangePositionClosed,
			wantSide:   models.OrderSideSell,
			wantDelta:  80,
			wantRefPx:  0.30,
			wantEvents: 1,
		},
		{
			name:       "equal size produces nothing",
			old:        keyed(snap("t1", "m1", "tok1", 100, 0.40)),
			current:    keyed(snap("t1", "m1", "tok1", 100, 0.44)),
			wantEvents: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := DetectChanges(tt.old, tt.current)
			if len(events) != tt.wantEvents {
				t.Fatalf("got %d events, want %d", len(events), tt.wantEvents)
			}
			if tt.wantEvents == 0 {
				return
			}

			ev := events[0]
			if ev.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", ev.Kind, tt.wantKind)
			}
			if ev.OrderSide != tt.wantSide {
				t.Errorf("order side = %s, want %s", ev.OrderSide, tt.wantSide)
			}
			if !floatEquals(ev.SizeDelta, tt.wantDelta) {
				t.Errorf("size delta = %f, want %f", ev.SizeDelta, tt.wantDelta)
			}
			if !floatEquals(ev.ReferencePrice, tt.wantRefPx) {
				t.Errorf("reference price = %f, want %f", ev.ReferencePrice, tt.wantRefPx)
			}
		})
	}
}

func TestDetectChangesMultipleKeys(t *testing.T) {
	old := keyed(
		snap("t1", "m1", "tok1", 100, 0.40),
		snap("t1", "m2", "tok2", 50, 0.60),
		snap("t1", "m3", "tok3", 30, 0.20),
	)
	current := keyed(
		snap("t1", "m1", "tok1", 120, 0.42), // increase
		snap("t1", "m2", "tok2", 50, 0.60),  // unchanged
		snap("t1", "m4", "tok4", 10, 0.80),  // new
		// m3 closed
	)

	events := DetectChanges(old, current)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	byKind := make(map[models.ChangeKind]models.ChangeEvent)
	for _, ev := range events {
		if ev.SizeDelta <= 0 {
			t.Errorf("event %s has non-positive delta %f", ev.Kind, ev.SizeDelta)
		}
		byKind[ev.Kind] = ev
	}

	if ev := byKind[models.ChangeSizeIncrease]; ev.MarketID != "m1" || !floatEquals(ev.SizeDelta, 20) {
		t.Errorf("increase event wrong: %+v", ev)
	}
	if ev := byKind[models.ChangeNewPosition]; ev.MarketID != "m4" || !floatEquals(ev.SizeDelta, 10) {
		t.Errorf("new position event wrong: %+v", ev)
	}
	if ev := byKind[models.ChangePositionClosed]; ev.MarketID != "m3" || !floatEquals(ev.ReferencePrice, 0.20) {
		t.Errorf("closed event wrong: %+v", ev)
	}
}

func TestDetectChangesAllClosed(t *testing.T) {
	old := keyed(
		snap("t1", "m1", "tok1", 100, 0.40),
		snap("t1", "m2", "tok2", 50, 0.60),
	)

	events := DetectChanges(old, keyed())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Kind != models.ChangePositionClosed || ev.OrderSide != models.OrderSideSell {
			t.Errorf("expected POSITION_CLOSED sell, got %s %s", ev.Kind, ev.OrderSide)
		}
	}
}

func TestDetectChangesIsPure(t *testing.T) {
	old := keyed(snap("t1", "m1", "tok1", 100, 0.40))
	current := keyed(snap("t1", "m1", "tok1", 60, 0.55))

	first := DetectChanges(old, current)
	second := DetectChanges(old, current)

	if len(first) != len(second) {
		t.Fatalf("repeated detection differs: %d vs %d events", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("event %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
