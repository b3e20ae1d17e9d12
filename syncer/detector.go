package syncer

import (
	"polymarket-copytrader/models"
)

// DetectChanges diffs two position sets keyed by (market, token) and returns
// one event per differing key. Pure function; ordering of the output is not
// significant.
//
// Sells reference the price at which the position was originally built, not
// the trader's new average, so the copier's proportional P&L tracks the
// trader's.
func DetectChanges(old, current map[models.PositionKey]models.PositionSnapshot) []models.ChangeEvent {
	events := make([]models.ChangeEvent, 0)

	for key, pos := range current {
		prev, existed := old[key]
		if !existed {
			events = append(events, models.ChangeEvent{
				Kind:           models.ChangeNewPosition,
				MarketID:       key.MarketID,
				TokenID:        key.TokenID,
				MarketTitle:    pos.MarketTitle,
				Side:           pos.Side,
				ReferencePrice: pos.AvgPrice,
				SizeDelta:      pos.Size,
				OrderSide:      models.OrderSideBuy,
			})
			continue
		}

		switch {
		case pos.Size > prev.Size:
			events = append(events, models.ChangeEvent{
				Kind:           models.ChangeSizeIncrease,
				MarketID:       key.MarketID,
				TokenID:        key.TokenID,
				MarketTitle:    pos.MarketTitle,
				Side:           pos.Side,
				ReferencePrice: pos.AvgPrice,
				SizeDelta:      pos.Size - prev.Size,
				OrderSide:      models.OrderSideBuy,
			})
		case pos.Size < prev.Size:
			events = append(events, models.ChangeEvent{
				Kind:           models.ChangeSizeDecrease,
				MarketID:       key.MarketID,
				TokenID:        key.TokenID,
				MarketTitle:    pos.MarketTitle,
				Side:           pos.Side,
				ReferencePrice: prev.AvgPrice,
				SizeDelta:      prev.Size - pos.Size,
				OrderSide:      models.OrderSideSell,
			})
		}
	}

	for key, prev := range old {
		if _, stillHeld := current[key]; stillHeld {
			continue
		}
		events = append(events, models.ChangeEvent{
			Kind:           models.ChangePositionClosed,
			MarketID:       key.MarketID,
			TokenID:        key.TokenID,
			MarketTitle:    prev.MarketTitle,
			Side:           prev.Side,
			ReferencePrice: prev.AvgPrice,
			SizeDelta:      prev.Size,
			OrderSide:      models.OrderSideSell,
		})
	}

	return events
}
