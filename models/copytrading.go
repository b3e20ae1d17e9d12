package models

import "time"

// OrderSide is the direction of an order on the exchange.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ChangeKind classifies a detected position change for a tracked trader.
type ChangeKind string

const (
	ChangeNewPosition    ChangeKind = "NEW_POSITION"
	ChangeSizeIncrease   ChangeKind = "SIZE_INCREASE"
	ChangeSizeDecrease   ChangeKind = "SIZE_DECREASE"
	ChangePositionClosed ChangeKind = "POSITION_CLOSED"
)

// Pending order lifecycle. Terminal states are filled, cancelled, failed.
const (
	OrderStatusPending   = "pending"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusFailed    = "failed"
)

// CopyConfig is one user's decision to copy a target trader at a given
// percentage. Unique per (user, target trader).
type CopyConfig struct {
	ID             int       `json:"id"`
	UserAddress    string    `json:"user_address"`
	TargetTrader   string    `json:"target_trader_address"`
	TargetLabel    string    `json:"target_trader_label"`
	CopyPercentage float64   `json:"copy_percentage"` // 0.1–100
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PositionKey identifies one outcome-token position within a market.
type PositionKey struct {
	MarketID string
	TokenID  string
}

// PositionSnapshot is one entry of a trader's position set at capture time.
// Snapshots are append-only; a new capture supersedes the previous set.
type PositionSnapshot struct {
	TraderAddress string    `json:"trader_address"`
	MarketID      string    `json:"market_id"`
	TokenID       string    `json:"token_id"`
	MarketTitle   string    `json:"market_title"`
	Side          string    `json:"side"` // outcome label, e.g. "Yes"
	Size          float64   `json:"size"`
	AvgPrice      float64   `json:"avg_price"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Key returns the snapshot's (market, token) identity.
func (p PositionSnapshot) Key() PositionKey {
	return PositionKey{MarketID: p.MarketID, TokenID: p.TokenID}
}

// ChangeEvent is a single detected difference between two snapshots.
// SizeDelta is always a positive magnitude; OrderSide carries the direction.
type ChangeEvent struct {
	Kind           ChangeKind
	MarketID       string
	TokenID        string
	MarketTitle    string
	Side           string
	ReferencePrice float64
	SizeDelta      float64
	OrderSide      OrderSide
}

// PendingCopyOrder is an open copy order being worked by the order manager.
// CurrentPrice is nil only while the order rests as a market order.
type PendingCopyOrder struct {
	ID                   int64      `json:"id"`
	UserAddress          string     `json:"user_address"`
	TargetTrader         string     `json:"target_trader_address"`
	MarketID             string     `json:"market_id"`
	TokenID              string     `json:"token_id"`
	MarketTitle          string     `json:"market_title"`
	Side                 string     `json:"side"`
	OrderSide            OrderSide  `json:"order_side"`
	TargetSize           float64    `json:"target_size"`
	TargetPrice          float64    `json:"target_price"` // trader's reference price
	InitialPrice         float64    `json:"initial_price"`
	CurrentPrice         *float64   `json:"current_price"`
	ExchangeOrderID      string     `json:"exchange_order_id"`
	Status               string     `json:"status"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	FilledSize           float64    `json:"filled_size"`
	PriceAdjustmentCount int        `json:"price_adjustment_count"`
	LastPriceAdjustment  *time.Time `json:"last_price_adjustment"`
	CreatedAt            time.Time  `json:"created_at"`
	LastUpdated          time.Time  `json:"last_updated"`
}

// ExecutedCopyTrade is an immutable ledger row written when a pending order
// fills. Slippage is filled price minus the trader's reference price.
type ExecutedCopyTrade struct {
	ID              int64     `json:"id"`
	UserAddress     string    `json:"user_address"`
	TargetTrader    string    `json:"target_trader_address"`
	TargetLabel     string    `json:"target_trader_label"`
	MarketID        string    `json:"market_id"`
	TokenID         string    `json:"token_id"`
	MarketTitle     string    `json:"market_title"`
	Side            string    `json:"side"`
	OrderSide       OrderSide `json:"order_side"`
	FilledSize      float64   `json:"filled_size"`
	FilledPrice     float64   `json:"filled_price"`
	TargetPrice     float64   `json:"target_price"`
	Slippage        float64   `json:"slippage"`
	ExchangeOrderID string    `json:"exchange_order_id"`
	ExecutedAt      time.Time `json:"executed_at"`
}
