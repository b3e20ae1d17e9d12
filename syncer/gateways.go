package syncer

import (
	"context"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
)

// MarketDataGateway is the read side of the exchange: trader positions and
// best bid/ask. Satisfied by api.Client + api.ClobClient via Gateways.
type MarketDataGateway interface {
	GetPositions(ctx context.Context, traderAddress string) ([]models.PositionSnapshot, error)
	GetMarketData(ctx context.Context, tokenID string) (*api.MarketData, error)
}

// OrderGateway is the command side: submit, cancel, and query orders.
type OrderGateway interface {
	PlaceLimitOrder(ctx context.Context, tokenID string, side models.OrderSide, size, price float64) (string, error)
	PlaceMarketOrder(ctx context.Context, tokenID string, side models.OrderSide, notionalUSDC float64) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (*api.OrderStatus, error)
}

// Gateways bundles the data API and CLOB clients into the two engine-facing
// interfaces.
type Gateways struct {
	Data *api.Client
	Clob *api.ClobClient
}

func (g Gateways) GetPositions(ctx context.Context, traderAddress string) ([]models.PositionSnapshot, error) {
	return g.Data.GetPositions(ctx, traderAddress)
}

func (g Gateways) GetMarketData(ctx context.Context, tokenID string) (*api.MarketData, error) {
	return g.Clob.GetMarketData(ctx, tokenID)
}

func (g Gateways) PlaceLimitOrder(ctx context.Context, tokenID string, side models.OrderSide, size, price float64) (string, error) {
	return g.Clob.PlaceLimitOrder(ctx, tokenID, side, size, price)
}

func (g Gateways) PlaceMarketOrder(ctx context.Context, tokenID string, side models.OrderSide, notionalUSDC float64) (string, error) {
	return g.Clob.PlaceMarketOrder(ctx, tokenID, side, notionalUSDC)
}

func (g Gateways) CancelOrder(ctx context.Context, orderID string) error {
	return g.Clob.CancelOrder(ctx, orderID)
}

func (g Gateways) GetOrderStatus(ctx context.Context, orderID string) (*api.OrderStatus, error) {
	return g.Clob.GetOrderStatus(ctx, orderID)
}

var (
	_ MarketDataGateway = Gateways{}
	_ OrderGateway      = Gateways{}
)
