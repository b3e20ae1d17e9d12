package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
)

// CopyTrader is the position-monitoring orchestrator. Each cycle it diffs
// every tracked trader's current positions against the last committed
// snapshot and turns the differences into proportional copy orders.
//
// The snapshot for a trader is committed only after all of that trader's
// change events have been attempted, so a crash mid-cycle re-detects the
// same events next cycle. A single failed submission is recorded as a
// failed order row rather than silently dropped, since the advancing
// snapshot would otherwise never re-surface that delta.
type CopyTrader struct {
	store        storage.DataStore
	markets      MarketDataGateway
	orders       OrderGateway
	pricing      *PricingEngine
	minTradeSize float64
}

// NewCopyTrader builds the orchestrator with explicit dependencies; nothing
// here reads the environment or shares state outside the store.
func NewCopyTrader(store storage.DataStore, markets MarketDataGateway, orders OrderGateway, pricing *PricingEngine, minTradeSize float64) *CopyTrader {
	if minTradeSize <= 0 {
		minTradeSize = 1.0
	}
	return &CopyTrader{
		store:        store,
		markets:      markets,
		orders:       orders,
		pricing:      pricing,
		minTradeSize: minTradeSize,
	}
}

// MonitorPositions runs one detection cycle across all enabled copy configs.
// Traders are processed independently; one trader's failure never aborts the
// others.
func (ct *CopyTrader) MonitorPositions(ctx context.Context) error {
	configs, err := ct.store.ListActiveConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list active configs: %w", err)
	}
	if len(configs) == 0 {
		return nil
	}

	// Several users may copy the same trader; fetch and diff once per trader
	byTrader := make(map[string][]models.CopyConfig)
	for _, cfg := range configs {
		byTrader[cfg.TargetTrader] = append(byTrader[cfg.TargetTrader], cfg)
	}

	for trader, traderConfigs := range byTrader {
		if err := ct.processTrader(ctx, trader, traderConfigs); err != nil {
			log.Printf("[CopyTrader] Trader %s skipped this cycle: %v", trader, err)
		}
	}

	return nil
}

// processTrader diffs one trader and executes events for every config that
// copies them. A fetch failure returns before the snapshot advances, so the
// next cycle re-diffs from the same base.
func (ct *CopyTrader) processTrader(ctx context.Context, trader string, configs []models.CopyConfig) error {
	positions, err := ct.markets.GetPositions(ctx, trader)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	previous, err := ct.store.GetLatestSnapshot(ctx, trader)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	current := keyByInstrument(positions)
	events := DetectChanges(previous, current)

	if len(events) > 0 {
		log.Printf("[CopyTrader] %d change(s) detected for %s across %d config(s)",
			len(events), trader, len(configs))
	}

	for _, cfg := range configs {
		for _, event := range events {
			if err := ct.processEvent(ctx, cfg, event); err != nil {
				log.Printf("[CopyTrader] Event %s %s/%s for user %s failed: %v",
					event.Kind, event.MarketID, event.TokenID, cfg.UserAddress, err)
			}
		}
	}

	// Snapshot write is last, keeping one clean diff base per cycle
	if err := ct.store.SaveSnapshot(ctx, trader, positions); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// processEvent sizes, prices, and submits one copy order for one config.
func (ct *CopyTrader) processEvent(ctx context.Context, cfg models.CopyConfig, event models.ChangeEvent) error {
	userSize := event.SizeDelta * cfg.CopyPercentage / 100
	notional := userSize * event.ReferencePrice

	if notional < ct.minTradeSize {
		log.Printf("[CopyTrader] Skipping %s %s: notional $%.2f below $%.2f floor",
			event.Kind, event.MarketID, notional, ct.minTradeSize)
		return nil
	}

	// A trader reversal pre-empts our stale resting buys on the same token
	if event.OrderSide == models.OrderSideSell {
		if err := ct.cancelConflictingBuys(ctx, cfg.UserAddress, event); err != nil {
			return err
		}
	}

	md := ct.marketData(ctx, event.TokenID)
	decision := ct.pricing.CalculateOptimalPrice(event.ReferencePrice, event.OrderSide, md, 0)

	order := models.PendingCopyOrder{
		UserAddress:  cfg.UserAddress,
		TargetTrader: cfg.TargetTrader,
		MarketID:     event.MarketID,
		TokenID:      event.TokenID,
		MarketTitle:  event.MarketTitle,
		Side:         event.Side,
		OrderSide:    event.OrderSide,
		TargetSize:   userSize,
		TargetPrice:  event.ReferencePrice,
	}

	var orderID string
	var submitErr error
	if decision.IsMarket() {
		order.InitialPrice = event.ReferencePrice
		orderID, submitErr = ct.orders.PlaceMarketOrder(ctx, event.TokenID, event.OrderSide, notional)
	} else {
		order.InitialPrice = decision.Price
		price := decision.Price
		order.CurrentPrice = &price
		orderID, submitErr = ct.orders.PlaceLimitOrder(ctx, event.TokenID, event.OrderSide, userSize, decision.Price)
	}

	if submitErr != nil {
		// Record the miss: the snapshot still advances, so this delta will
		// not be re-detected next cycle
		order.Status = models.OrderStatusFailed
		order.ErrorMessage = submitErr.Error()
		if _, saveErr := ct.store.CreatePendingOrder(ctx, order); saveErr != nil {
			log.Printf("[CopyTrader] Failed to record failed order for %s: %v", event.MarketID, saveErr)
		}
		return fmt.Errorf("submit order: %w", submitErr)
	}

	order.ExchangeOrderID = orderID
	order.Status = models.OrderStatusPending
	id, err := ct.store.CreatePendingOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("persist pending order: %w", err)
	}

	log.Printf("[CopyTrader] %s %s size=%.4f @ %.4f (%s, urgency=%s) -> order %d/%s",
		event.OrderSide, event.MarketID, userSize, event.ReferencePrice,
		decision.OrderType, decision.Urgency, id, orderID)
	return nil
}

// cancelConflictingBuys cancels open BUY orders on the instrument a SELL
// event targets, keeping at most one non-terminal direction per token.
func (ct *CopyTrader) cancelConflictingBuys(ctx context.Context, userAddress string, event models.ChangeEvent) error {
	buys, err := ct.store.ListOpenOrdersForInstrument(ctx, userAddress, event.MarketID, event.TokenID, models.OrderSideBuy)
	if err != nil {
		return fmt.Errorf("list conflicting buys: %w", err)
	}

	for _, buy := range buys {
		if buy.ExchangeOrderID != "" {
			if err := ct.orders.CancelOrder(ctx, buy.ExchangeOrderID); err != nil {
				log.Printf("[CopyTrader] Cancel of conflicting buy %d/%s failed: %v",
					buy.ID, buy.ExchangeOrderID, err)
				continue
			}
		}
		if err := ct.store.UpdateOrderStatus(ctx, buy.ID, models.OrderStatusCancelled, "superseded by trader exit"); err != nil {
			log.Printf("[CopyTrader] Failed to mark buy %d cancelled: %v", buy.ID, err)
		} else {
			log.Printf("[CopyTrader] Cancelled stale buy %d on %s before sell", buy.ID, event.MarketID)
		}
	}
	return nil
}

// marketData fetches a live quote, degrading to a synthetic wide-spread
// default on an empty book or a transient read failure. The degraded quote
// keeps pricing conservative rather than aborting the event.
func (ct *CopyTrader) marketData(ctx context.Context, tokenID string) *api.MarketData {
	md, err := ct.markets.GetMarketData(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, api.ErrNoLiquidity) {
			log.Printf("[CopyTrader] Market data for %s unavailable (%v), using default quote", tokenID, err)
		}
		return api.DefaultMarketData()
	}
	return md
}

func keyByInstrument(positions []models.PositionSnapshot) map[models.PositionKey]models.PositionSnapshot {
	m := make(map[models.PositionKey]models.PositionSnapshot, len(positions))
	for _, pos := range positions {
		m[pos.Key()] = pos
	}
	return m
}
