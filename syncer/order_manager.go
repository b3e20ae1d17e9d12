package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
)

// Minimum price move that justifies a cancel-and-replace; smaller deltas are
// noise against the exchange's tick.
const repriceThreshold = 0.001

// Sells at or above this price never convert to market orders. The book is
// thin near 1.0 and a crossing sell gives back most of the edge.
const highPriceSellThreshold = 0.96

// OrderManager is the second periodic loop: it walks every open copy order,
// reconciles fills into the executed ledger, and escalates prices per the
// pricing engine. It coordinates with the orchestrator only through the
// store; each row transition is a single read-modify-write.
type OrderManager struct {
	store   storage.DataStore
	markets MarketDataGateway
	orders  OrderGateway
	pricing *PricingEngine
}

// NewOrderManager builds the pending-order manager.
func NewOrderManager(store storage.DataStore, markets MarketDataGateway, orders OrderGateway, pricing *PricingEngine) *OrderManager {
	return &OrderManager{
		store:   store,
		markets: markets,
		orders:  orders,
		pricing: pricing,
	}
}

// ManagePendingOrders runs one pass over all open orders, oldest first, so
// long-waiting orders get priority attention. Errors on one order are logged
// and never stop the rest of the queue.
func (om *OrderManager) ManagePendingOrders(ctx context.Context) error {
	open, err := om.store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	log.Printf("[OrderManager] Reconciling %d open order(s)", len(open))
	for _, order := range open {
		if err := om.manageOrder(ctx, order); err != nil {
			log.Printf("[OrderManager] Order %d (%s %s) failed: %v",
				order.ID, order.OrderSide, order.MarketID, err)
		}
	}
	return nil
}

func (om *OrderManager) manageOrder(ctx context.Context, order models.PendingCopyOrder) error {
	status, err := om.orders.GetOrderStatus(ctx, order.ExchangeOrderID)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}

	if status.Filled() {
		return om.recordFill(ctx, order, status)
	}

	if status.FilledSize > order.FilledSize {
		if err := om.store.MarkOrderPartial(ctx, order.ID, status.FilledSize); err != nil {
			return fmt.Errorf("record partial fill: %w", err)
		}
		order.FilledSize = status.FilledSize
		log.Printf("[OrderManager] Order %d partially filled: %.4f/%.4f",
			order.ID, order.FilledSize, order.TargetSize)
	}

	// A converted market order has no limit price to escalate; it either
	// fills on the next status check or was killed by the exchange
	if order.CurrentPrice == nil {
		return nil
	}

	if !om.pricing.ShouldAdjustPrice(order.CreatedAt, order.LastPriceAdjustment, order.PriceAdjustmentCount) {
		return nil
	}

	md := om.marketData(ctx, order.TokenID)
	hours := om.pricing.HoursElapsed(order.CreatedAt)
	decision := om.pricing.CalculateOptimalPrice(order.TargetPrice, order.OrderSide, md, hours)

	if decision.IsMarket() {
		if order.OrderSide == models.OrderSideSell && order.TargetPrice >= highPriceSellThreshold {
			log.Printf("[OrderManager] Order %d: high-price sell (%.2f), keeping limit instead of market",
				order.ID, order.TargetPrice)
			return nil
		}
		return om.convertToMarket(ctx, order, decision)
	}
	return om.replacePrice(ctx, order, decision)
}

// recordFill writes the immutable ledger row and finalizes the order. The
// fill price is the resting limit price; for converted market orders it
// comes from exchange-reported status.
func (om *OrderManager) recordFill(ctx context.Context, order models.PendingCopyOrder, status *api.OrderStatus) error {
	filledPrice := status.Price
	if order.CurrentPrice != nil {
		filledPrice = *order.CurrentPrice
	}

	filledSize := status.FilledSize
	if filledSize <= 0 {
		filledSize = order.TargetSize
	}

	trade := models.ExecutedCopyTrade{
		UserAddress:     order.UserAddress,
		TargetTrader:    order.TargetTrader,
		TargetLabel:     om.traderLabel(ctx, order),
		MarketID:        order.MarketID,
		TokenID:         order.TokenID,
		MarketTitle:     order.MarketTitle,
		Side:            order.Side,
		OrderSide:       order.OrderSide,
		FilledSize:      filledSize,
		FilledPrice:     filledPrice,
		TargetPrice:     order.TargetPrice,
		Slippage:        filledPrice - order.TargetPrice,
		ExchangeOrderID: order.ExchangeOrderID,
	}
	if err := om.store.SaveExecutedTrade(ctx, trade); err != nil {
		return fmt.Errorf("save executed trade: %w", err)
	}

	if err := om.store.MarkOrderFilled(ctx, order.ID, filledSize); err != nil {
		return fmt.Errorf("mark filled: %w", err)
	}

	log.Printf("[OrderManager] Order %d filled: %.4f @ %.4f (slippage %+.4f)",
		order.ID, filledSize, filledPrice, trade.Slippage)
	return nil
}

// convertToMarket cancels the resting limit order and submits a market order
// for the remaining notional. Status stays open until the next fill check.
func (om *OrderManager) convertToMarket(ctx context.Context, order models.PendingCopyOrder, decision PricingDecision) error {
	if err := om.orders.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
		return fmt.Errorf("cancel before market conversion: %w", err)
	}

	notional := (order.TargetSize - order.FilledSize) * order.TargetPrice
	newID, err := om.orders.PlaceMarketOrder(ctx, order.TokenID, order.OrderSide, notional)
	if err != nil {
		return fmt.Errorf("submit market order: %w", err)
	}

	if err := om.store.ConvertOrderToMarket(ctx, order.ID, newID); err != nil {
		return fmt.Errorf("record market conversion: %w", err)
	}

	log.Printf("[OrderManager] Order %d converted to market (%s): notional $%.2f -> %s",
		order.ID, decision.Reasoning, notional, newID)
	return nil
}

// replacePrice cancels and re-submits at the escalated price when it has
// moved past the re-price threshold.
func (om *OrderManager) replacePrice(ctx context.Context, order models.PendingCopyOrder, decision PricingDecision) error {
	if math.Abs(decision.Price-*order.CurrentPrice) <= repriceThreshold {
		return nil
	}

	if err := om.orders.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
		return fmt.Errorf("cancel before re-price: %w", err)
	}

	remaining := order.TargetSize - order.FilledSize
	newID, err := om.orders.PlaceLimitOrder(ctx, order.TokenID, order.OrderSide, remaining, decision.Price)
	if err != nil {
		return fmt.Errorf("submit re-priced order: %w", err)
	}

	if err := om.store.ReplaceOrderPrice(ctx, order.ID, newID, decision.Price); err != nil {
		return fmt.Errorf("record re-price: %w", err)
	}

	log.Printf("[OrderManager] Order %d re-priced %.4f -> %.4f (urgency=%s) -> %s",
		order.ID, *order.CurrentPrice, decision.Price, decision.Urgency, newID)
	return nil
}

func (om *OrderManager) marketData(ctx context.Context, tokenID string) *api.MarketData {
	md, err := om.markets.GetMarketData(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, api.ErrNoLiquidity) {
			log.Printf("[OrderManager] Market data for %s unavailable (%v), using default quote", tokenID, err)
		}
		return api.DefaultMarketData()
	}
	return md
}

// traderLabel resolves the display label from the copy config; missing
// configs just leave the label blank on the ledger row.
func (om *OrderManager) traderLabel(ctx context.Context, order models.PendingCopyOrder) string {
	cfg, err := om.store.GetCopyConfig(ctx, order.UserAddress, order.TargetTrader)
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.TargetLabel
}
