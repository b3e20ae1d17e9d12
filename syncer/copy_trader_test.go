package syncer

import (
	"context"
	"errors"
	"testing"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
)

const (
	testUser   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testTrader = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func setupTrader(t *testing.T) (*CopyTrader, *storage.MemoryStore, *mockMarkets, *mockOrders) {
	t.Helper()
	store := storage.NewMemoryStore()
	markets := newMockMarkets()
	orders := newMockOrders()
	ct := NewCopyTrader(store, markets, orders, NewPricingEngine(), 1.0)
	return ct, store, markets, orders
}

func enableCopy(t *testing.T, store *storage.MemoryStore, percentage float64) {
	t.Helper()
	_, err := store.UpsertCopyConfig(context.Background(), models.CopyConfig{
		UserAddress:    testUser,
		TargetTrader:   testTrader,
		TargetLabel:    "whale",
		CopyPercentage: percentage,
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("enable copy: %v", err)
	}
}

func TestMonitorPositionsPlacesProportionalBuy(t *testing.T) {
	ct, store, markets, orders := setupTrader(t)
	enableCopy(t, store, 10)

	// 10% of a 100-share position at 0.40 is 10 shares, $4 notional
	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 100, 0.40),
	}
	markets.quotes["tok1"] = api.NewMarketData(0.39, 0.41)

	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("MonitorPositions: %v", err)
	}

	if len(orders.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(orders.placed))
	}
	placed := orders.placed[0]
	if placed.market {
		t.Error("expected a limit order at zero elapsed time")
	}
	if placed.side != models.OrderSideBuy {
		t.Errorf("side = %s, want BUY", placed.side)
	}
	if !floatEquals(placed.size, 10) {
		t.Errorf("size = %f, want 10", placed.size)
	}
	if !floatEquals(placed.price, 0.40) {
		t.Errorf("price = %f, want target 0.40", placed.price)
	}

	open, _ := store.ListOpenOrders(context.Background())
	if len(open) != 1 {
		t.Fatalf("persisted %d open orders, want 1", len(open))
	}
	if open[0].CurrentPrice == nil || !floatEquals(*open[0].CurrentPrice, 0.40) {
		t.Errorf("current price not persisted: %+v", open[0].CurrentPrice)
	}

	// Snapshot committed after submission
	snapMap, _ := store.GetLatestSnapshot(context.Background(), testTrader)
	if len(snapMap) != 1 {
		t.Errorf("snapshot has %d entries, want 1", len(snapMap))
	}
}

func TestMonitorPositionsSkipsSubMinimumNotional(t *testing.T) {
	ct, store, markets, orders := setupTrader(t)
	enableCopy(t, store, 0.5) // 0.5% of 100 @ 0.40 = $0.20 notional

	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 100, 0.40),
	}

	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("MonitorPositions: %v", err)
	}

	if len(orders.placed) != 0 {
		t.Fatalf("placed %d orders, want 0 for sub-minimum notional", len(orders.placed))
	}
	// The snapshot still advances; skipped dust is dropped, not accumulated
	snapMap, _ := store.GetLatestSnapshot(context.Background(), testTrader)
	if len(snapMap) != 1 {
		t.Errorf("snapshot has %d entries, want 1", len(snapMap))
	}
}

func TestMonitorPositionsSellCancelsConflictingBuy(t *testing.T) {
	ct, store, markets, orders := setupTrader(t)
	enableCopy(t, store, 10)

	// Cycle 1: trader opens, we place a buy
	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 100, 0.40),
	}
	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if len(orders.placed) != 1 {
		t.Fatalf("cycle 1 placed %d orders, want 1", len(orders.placed))
	}
	buyExchangeID := orders.placed[0].orderID

	// Cycle 2: trader cuts the position in half
	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 50, 0.40),
	}
	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}

	if len(orders.cancelled) != 1 || orders.cancelled[0] != buyExchangeID {
		t.Fatalf("expected the resting buy %s cancelled, got %v", buyExchangeID, orders.cancelled)
	}

	open, _ := store.ListOpenOrders(context.Background())
	if len(open) != 1 {
		t.Fatalf("open orders = %d, want only the new sell", len(open))
	}
	if open[0].OrderSide != models.OrderSideSell {
		t.Errorf("remaining open order is %s, want SELL", open[0].OrderSide)
	}
	if !floatEquals(open[0].TargetSize, 5) {
		t.Errorf("sell size = %f, want 5 (10%% of 50-share cut)", open[0].TargetSize)
	}
	if !floatEquals(open[0].TargetPrice, 0.40) {
		t.Errorf("sell reference price = %f, want old average 0.40", open[0].TargetPrice)
	}
}

func TestMonitorPositionsFetchFailureLeavesSnapshot(t *testing.T) {
	ct, store, markets, orders := setupTrader(t)
	enableCopy(t, store, 10)

	// Seed an existing snapshot
	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 100, 0.40),
	}
	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
	saves := store.Calls["SaveSnapshot"]

	markets.positionsErr[testTrader] = errors.New("gateway timeout")
	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("failure cycle should not error out the loop: %v", err)
	}

	if store.Calls["SaveSnapshot"] != saves {
		t.Error("snapshot advanced despite fetch failure")
	}
	if len(orders.placed) != 1 {
		t.Errorf("placed %d orders, want only the seed order", len(orders.placed))
	}
}

func TestMonitorPositionsSubmitFailureRecordsFailedOrder(t *testing.T) {
	ct, store, markets, orders := setupTrader(t)
	enableCopy(t, store, 10)

	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 100, 0.40),
	}
	orders.limitErr = errors.New("exchange rejected order")

	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("MonitorPositions: %v", err)
	}

	open, _ := store.ListOpenOrders(context.Background())
	if len(open) != 0 {
		t.Fatalf("open orders = %d, want 0", len(open))
	}

	// The miss is recorded as a failed row since the snapshot advanced
	failed, ok := store.GetOrder(1)
	if !ok {
		t.Fatal("no order row recorded for the failed submission")
	}
	if failed.Status != models.OrderStatusFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Error("failed row missing error message")
	}

	snapMap, _ := store.GetLatestSnapshot(context.Background(), testTrader)
	if len(snapMap) != 1 {
		t.Errorf("snapshot has %d entries, want 1", len(snapMap))
	}
}

func TestMonitorPositionsDegradedQuoteFallback(t *testing.T) {
	ct, store, markets, orders := setupTrader(t)
	enableCopy(t, store, 10)

	// No quote registered for tok1: the gateway reports no liquidity and the
	// engine prices against the synthetic default instead of aborting
	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 100, 0.40),
	}

	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("MonitorPositions: %v", err)
	}

	if len(orders.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(orders.placed))
	}
	if !floatEquals(orders.placed[0].price, 0.40) {
		t.Errorf("price = %f, want target price under degraded quote", orders.placed[0].price)
	}
}

func TestMonitorPositionsMultipleConfigsSameTrader(t *testing.T) {
	ct, store, markets, orders := setupTrader(t)
	enableCopy(t, store, 10)

	otherUser := "0xcccccccccccccccccccccccccccccccccccccccc"
	_, err := store.UpsertCopyConfig(context.Background(), models.CopyConfig{
		UserAddress:    otherUser,
		TargetTrader:   testTrader,
		CopyPercentage: 50,
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("second config: %v", err)
	}

	markets.positions[testTrader] = []models.PositionSnapshot{
		snap(testTrader, "m1", "tok1", 100, 0.40),
	}

	if err := ct.MonitorPositions(context.Background()); err != nil {
		t.Fatalf("MonitorPositions: %v", err)
	}

	if len(orders.placed) != 2 {
		t.Fatalf("placed %d orders, want one per config", len(orders.placed))
	}
	// One snapshot commit per trader, not per config
	if store.Calls["SaveSnapshot"] != 1 {
		t.Errorf("SaveSnapshot called %d times, want 1", store.Calls["SaveSnapshot"])
	}

	sizes := map[float64]bool{}
	for _, p := range orders.placed {
		sizes[p.size] = true
	}
	if !sizes[10] || !sizes[50] {
		t.Errorf("expected sizes 10 and 50, got %v", orders.placed)
	}
}
