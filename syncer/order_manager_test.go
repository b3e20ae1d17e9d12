package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
)

func setupManager(t *testing.T) (*OrderManager, *storage.MemoryStore, *mockMarkets, *mockOrders) {
	t.Helper()
	store := storage.NewMemoryStore()
	markets := newMockMarkets()
	orders := newMockOrders()
	om := NewOrderManager(store, markets, orders, NewPricingEngine())
	return om, store, markets, orders
}

func pendingOrder(t *testing.T, store *storage.MemoryStore, age time.Duration, currentPrice *float64) models.PendingCopyOrder {
	t.Helper()
	order := models.PendingCopyOrder{
		UserAddress:     testUser,
		TargetTrader:    testTrader,
		MarketID:        "m1",
		TokenID:         "tok1",
		MarketTitle:     "Test market",
		Side:            "Yes",
		OrderSide:       models.OrderSideBuy,
		TargetSize:      10,
		TargetPrice:     0.40,
		InitialPrice:    0.40,
		CurrentPrice:    currentPrice,
		ExchangeOrderID: "ex-1",
		CreatedAt:       time.Now().UTC().Add(-age),
	}
	id, err := store.CreatePendingOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("create pending order: %v", err)
	}
	order.ID = id
	return order
}

func priceOf(p float64) *float64 { return &p }

func TestManagePendingOrdersRecordsFill(t *testing.T) {
	om, store, _, orders := setupManager(t)
	order := pendingOrder(t, store, time.Hour, priceOf(0.42))

	orders.statuses["ex-1"] = &api.OrderStatus{
		OrderID: "ex-1", Status: "MATCHED", FilledSize: 10,
	}

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	stored, _ := store.GetOrder(order.ID)
	if stored.Status != models.OrderStatusFilled {
		t.Errorf("status = %s, want filled", stored.Status)
	}
	if !floatEquals(stored.FilledSize, 10) {
		t.Errorf("filled size = %f, want 10", stored.FilledSize)
	}

	trades, _ := store.ListExecutedTrades(context.Background(), testUser, time.Time{})
	if len(trades) != 1 {
		t.Fatalf("executed trades = %d, want 1", len(trades))
	}
	// Fill price is the resting limit price; slippage vs trader's reference
	if !floatEquals(trades[0].FilledPrice, 0.42) {
		t.Errorf("filled price = %f, want 0.42", trades[0].FilledPrice)
	}
	if !floatEquals(trades[0].Slippage, 0.02) {
		t.Errorf("slippage = %f, want 0.02", trades[0].Slippage)
	}
}

func TestManagePendingOrdersMarketFillUsesExchangePrice(t *testing.T) {
	om, store, _, orders := setupManager(t)
	// A converted market order carries no limit price
	order := pendingOrder(t, store, time.Hour, nil)

	orders.statuses["ex-1"] = &api.OrderStatus{
		OrderID: "ex-1", Status: "MATCHED", FilledSize: 10, Price: 0.47,
	}

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	trades, _ := store.ListExecutedTrades(context.Background(), testUser, time.Time{})
	if len(trades) != 1 {
		t.Fatalf("executed trades = %d, want 1", len(trades))
	}
	if !floatEquals(trades[0].FilledPrice, 0.47) {
		t.Errorf("filled price = %f, want exchange-reported 0.47", trades[0].FilledPrice)
	}

	stored, _ := store.GetOrder(order.ID)
	if stored.Status != models.OrderStatusFilled {
		t.Errorf("status = %s, want filled", stored.Status)
	}
}

func TestManagePendingOrdersRecordsPartialFill(t *testing.T) {
	om, store, _, orders := setupManager(t)
	order := pendingOrder(t, store, time.Hour, priceOf(0.40))

	orders.statuses["ex-1"] = &api.OrderStatus{
		OrderID: "ex-1", Status: "LIVE", FilledSize: 4, RemainingSize: 6,
	}

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	stored, _ := store.GetOrder(order.ID)
	if stored.Status != models.OrderStatusPartial {
		t.Errorf("status = %s, want partial", stored.Status)
	}
	if !floatEquals(stored.FilledSize, 4) {
		t.Errorf("filled size = %f, want 4", stored.FilledSize)
	}
}

func TestManagePendingOrdersRepricesAfterSixHours(t *testing.T) {
	om, store, markets, orders := setupManager(t)
	order := pendingOrder(t, store, 7*time.Hour, priceOf(0.40))

	markets.quotes["tok1"] = api.NewMarketData(0.496, 0.504)

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	if len(orders.cancelled) != 1 || orders.cancelled[0] != "ex-1" {
		t.Fatalf("expected ex-1 cancelled, got %v", orders.cancelled)
	}
	if len(orders.placed) != 1 || orders.placed[0].market {
		t.Fatalf("expected one replacement limit order, got %v", orders.placed)
	}

	// Normal regime at 7h: target + 20% of spread
	wantPrice := roundPrice(0.40 + 0.008*0.2)
	if !floatEquals(orders.placed[0].price, wantPrice) {
		t.Errorf("replacement price = %.8f, want %.8f", orders.placed[0].price, wantPrice)
	}

	stored, _ := store.GetOrder(order.ID)
	if stored.PriceAdjustmentCount != 1 {
		t.Errorf("adjustment count = %d, want 1", stored.PriceAdjustmentCount)
	}
	if stored.CurrentPrice == nil || !floatEquals(*stored.CurrentPrice, wantPrice) {
		t.Errorf("current price not updated: %+v", stored.CurrentPrice)
	}
	if stored.LastPriceAdjustment == nil {
		t.Error("last adjustment timestamp not set")
	}
	if stored.ExchangeOrderID != orders.placed[0].orderID {
		t.Errorf("exchange order id = %s, want %s", stored.ExchangeOrderID, orders.placed[0].orderID)
	}
}

func TestManagePendingOrdersLeavesYoungOrdersAlone(t *testing.T) {
	om, store, markets, orders := setupManager(t)
	pendingOrder(t, store, 2*time.Hour, priceOf(0.40))

	markets.quotes["tok1"] = api.NewMarketData(0.496, 0.504)

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	if len(orders.cancelled) != 0 || len(orders.placed) != 0 {
		t.Errorf("young order touched: cancelled=%v placed=%v", orders.cancelled, orders.placed)
	}
}

func TestManagePendingOrdersConvertsToMarketAtCeiling(t *testing.T) {
	om, store, markets, orders := setupManager(t)
	order := pendingOrder(t, store, 40*time.Hour, priceOf(0.45))

	markets.quotes["tok1"] = api.NewMarketData(0.496, 0.504)

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	if len(orders.cancelled) != 1 {
		t.Fatalf("expected the limit order cancelled, got %v", orders.cancelled)
	}
	if len(orders.placed) != 1 || !orders.placed[0].market {
		t.Fatalf("expected one market order, got %v", orders.placed)
	}
	// Remaining notional: full 10 shares at the 0.40 reference price
	if !floatEquals(orders.placed[0].notional, 4.0) {
		t.Errorf("market notional = %f, want 4.0", orders.placed[0].notional)
	}

	stored, _ := store.GetOrder(order.ID)
	if stored.CurrentPrice != nil {
		t.Error("current price should be nil after market conversion")
	}
	if !isOpenStatus(stored.Status) {
		t.Errorf("status = %s, should stay open until the next fill check", stored.Status)
	}
}

func isOpenStatus(status string) bool {
	return status == models.OrderStatusPending || status == models.OrderStatusPartial
}

func TestManagePendingOrdersNeverMarketsHighPriceSells(t *testing.T) {
	om, store, markets, orders := setupManager(t)

	sell := models.PendingCopyOrder{
		UserAddress:     testUser,
		TargetTrader:    testTrader,
		MarketID:        "m1",
		TokenID:         "tok1",
		OrderSide:       models.OrderSideSell,
		TargetSize:      10,
		TargetPrice:     0.97,
		CurrentPrice:    priceOf(0.97),
		ExchangeOrderID: "ex-1",
		CreatedAt:       time.Now().UTC().Add(-40 * time.Hour),
	}
	id, err := store.CreatePendingOrder(context.Background(), sell)
	if err != nil {
		t.Fatalf("create sell order: %v", err)
	}

	markets.quotes["tok1"] = api.NewMarketData(0.955, 0.975)

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	if len(orders.cancelled) != 0 || len(orders.placed) != 0 {
		t.Errorf("high-price sell touched: cancelled=%v placed=%v", orders.cancelled, orders.placed)
	}
	stored, _ := store.GetOrder(id)
	if stored.CurrentPrice == nil {
		t.Error("sell converted to market despite the price guard")
	}
}

func TestManagePendingOrdersIsolatesFailures(t *testing.T) {
	om, store, _, orders := setupManager(t)

	bad := pendingOrder(t, store, time.Hour, priceOf(0.40))
	good := models.PendingCopyOrder{
		UserAddress:     testUser,
		TargetTrader:    testTrader,
		MarketID:        "m2",
		TokenID:         "tok2",
		OrderSide:       models.OrderSideBuy,
		TargetSize:      5,
		TargetPrice:     0.50,
		CurrentPrice:    priceOf(0.50),
		ExchangeOrderID: "ex-2",
		CreatedAt:       time.Now().UTC().Add(-time.Hour),
	}
	goodID, err := store.CreatePendingOrder(context.Background(), good)
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}

	orders.statusErrFor["ex-1"] = errors.New("gateway timeout")
	orders.statuses["ex-2"] = &api.OrderStatus{
		OrderID: "ex-2", Status: "MATCHED", FilledSize: 5,
	}

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("one bad order must not fail the pass: %v", err)
	}

	// The failing order stays open for the next pass
	stored, _ := store.GetOrder(bad.ID)
	if stored.Status != models.OrderStatusPending {
		t.Errorf("bad order status = %s, want pending", stored.Status)
	}

	// The healthy order behind it still reconciled
	stored, _ = store.GetOrder(goodID)
	if stored.Status != models.OrderStatusFilled {
		t.Errorf("good order status = %s, want filled", stored.Status)
	}
}

func TestManagePendingOrdersSkipsTinyPriceMoves(t *testing.T) {
	om, store, markets, orders := setupManager(t)

	// Current price already matches what the engine would produce at 7h
	current := roundPrice(0.40 + 0.008*0.2)
	pendingOrder(t, store, 7*time.Hour, priceOf(current))

	markets.quotes["tok1"] = api.NewMarketData(0.496, 0.504)

	if err := om.ManagePendingOrders(context.Background()); err != nil {
		t.Fatalf("ManagePendingOrders: %v", err)
	}

	if len(orders.cancelled) != 0 || len(orders.placed) != 0 {
		t.Errorf("re-priced within threshold: cancelled=%v placed=%v", orders.cancelled, orders.placed)
	}
}
