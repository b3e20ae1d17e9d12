package syncer

import (
	"context"
	"fmt"
	"math"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// mockMarkets is a canned MarketDataGateway.
type mockMarkets struct {
	positions    map[string][]models.PositionSnapshot
	positionsErr map[string]error
	quotes       map[string]*api.MarketData
	quoteErr     map[string]error
}

func newMockMarkets() *mockMarkets {
	return &mockMarkets{
		positions:    make(map[string][]models.PositionSnapshot),
		positionsErr: make(map[string]error),
		quotes:       make(map[string]*api.MarketData),
		quoteErr:     make(map[string]error),
	}
}

func (m *mockMarkets) GetPositions(ctx context.Context, trader string) ([]models.PositionSnapshot, error) {
	if err, ok := m.positionsErr[trader]; ok {
		return nil, err
	}
	return m.positions[trader], nil
}

func (m *mockMarkets) GetMarketData(ctx context.Context, tokenID string) (*api.MarketData, error) {
	if err, ok := m.quoteErr[tokenID]; ok {
		return nil, err
	}
	if md, ok := m.quotes[tokenID]; ok {
		return md, nil
	}
	return nil, api.ErrNoLiquidity
}

type placedOrder struct {
	orderID  string
	tokenID  string
	side     models.OrderSide
	size     float64
	price    float64
	notional float64
	market   bool
}

// mockOrders is an OrderGateway that records submissions and serves canned
// statuses.
type mockOrders struct {
	placed    []placedOrder
	cancelled []string
	statuses  map[string]*api.OrderStatus

	limitErr     error
	marketErr    error
	cancelErr    error
	statusErr    error
	statusErrFor map[string]error

	nextID int
}

func newMockOrders() *mockOrders {
	return &mockOrders{
		statuses:     make(map[string]*api.OrderStatus),
		statusErrFor: make(map[string]error),
	}
}

func (m *mockOrders) PlaceLimitOrder(ctx context.Context, tokenID string, side models.OrderSide, size, price float64) (string, error) {
	if m.limitErr != nil {
		return "", m.limitErr
	}
	m.nextID++
	id := fmt.Sprintf("ord-%d", m.nextID)
	m.placed = append(m.placed, placedOrder{
		orderID: id, tokenID: tokenID, side: side, size: size, price: price,
	})
	return id, nil
}

func (m *mockOrders) PlaceMarketOrder(ctx context.Context, tokenID string, side models.OrderSide, notionalUSDC float64) (string, error) {
	if m.marketErr != nil {
		return "", m.marketErr
	}
	m.nextID++
	id := fmt.Sprintf("ord-%d", m.nextID)
	m.placed = append(m.placed, placedOrder{
		orderID: id, tokenID: tokenID, side: side, notional: notionalUSDC, market: true,
	})
	return id, nil
}

func (m *mockOrders) CancelOrder(ctx context.Context, orderID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockOrders) GetOrderStatus(ctx context.Context, orderID string) (*api.OrderStatus, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if err, ok := m.statusErrFor[orderID]; ok {
		return nil, err
	}
	if st, ok := m.statuses[orderID]; ok {
		return st, nil
	}
	return &api.OrderStatus{OrderID: orderID, Status: "LIVE"}, nil
}

func snap(trader, marketID, tokenID string, size, avgPrice float64) models.PositionSnapshot {
	return models.PositionSnapshot{
		TraderAddress: trader,
		MarketID:      marketID,
		TokenID:       tokenID,
		MarketTitle:   "Test market",
		Side:          "Yes",
		Size:          size,
		AvgPrice:      avgPrice,
		CapturedAt:    time.Now().UTC(),
	}
}
