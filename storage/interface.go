package storage

import (
	"context"
	"time"

	"polymarket-copytrader/models"
)

// DataStore is the persistence boundary for the copy-trading engine. The
// store is the single source of truth; the two periodic loops coordinate
// exclusively through it.
type DataStore interface {
	Close() error

	// Copy config operations. Upsert is atomic on (user, target trader).
	UpsertCopyConfig(ctx context.Context, cfg models.CopyConfig) (*models.CopyConfig, error)
	GetCopyConfig(ctx context.Context, userAddress, targetTrader string) (*models.CopyConfig, error)
	SetCopyEnabled(ctx context.Context, userAddress, targetTrader string, enabled bool) error
	ListActiveConfigs(ctx context.Context) ([]models.CopyConfig, error)
	ListUserConfigs(ctx context.Context, userAddress string) ([]models.CopyConfig, error)

	// Snapshot operations. SaveSnapshot records a complete capture cycle,
	// including empty ones, so a flat book supersedes stale positions.
	SaveSnapshot(ctx context.Context, traderAddress string, positions []models.PositionSnapshot) error
	GetLatestSnapshot(ctx context.Context, traderAddress string) (map[models.PositionKey]models.PositionSnapshot, error)

	// Pending order operations. Open means status pending or partial.
	CreatePendingOrder(ctx context.Context, order models.PendingCopyOrder) (int64, error)
	ListOpenOrders(ctx context.Context) ([]models.PendingCopyOrder, error) // oldest first
	ListUserOpenOrders(ctx context.Context, userAddress string) ([]models.PendingCopyOrder, error)
	ListOpenOrdersForInstrument(ctx context.Context, userAddress, marketID, tokenID string, side models.OrderSide) ([]models.PendingCopyOrder, error)
	ListOpenOrdersForPairing(ctx context.Context, userAddress, targetTrader string) ([]models.PendingCopyOrder, error)
	UpdateOrderStatus(ctx context.Context, id int64, status, errorMessage string) error
	MarkOrderPartial(ctx context.Context, id int64, filledSize float64) error
	MarkOrderFilled(ctx context.Context, id int64, filledSize float64) error
	ReplaceOrderPrice(ctx context.Context, id int64, exchangeOrderID string, newPrice float64) error
	ConvertOrderToMarket(ctx context.Context, id int64, exchangeOrderID string) error

	// Executed trade ledger.
	SaveExecutedTrade(ctx context.Context, trade models.ExecutedCopyTrade) error
	ListExecutedTrades(ctx context.Context, userAddress string, since time.Time) ([]models.ExecutedCopyTrade, error)
	TotalExecutionPnL(ctx context.Context, userAddress string) (float64, error)
}

// Ensure both implementations satisfy the interface
var _ DataStore = (*PostgresStore)(nil)
var _ DataStore = (*MemoryStore)(nil)
