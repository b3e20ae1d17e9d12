package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"polymarket-copytrader/models"
)

// MemoryStore is an in-memory DataStore used by tests and local dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	Configs  map[string]models.CopyConfig // user|trader -> config
	Snaps    map[string][]models.PositionSnapshot
	SnapSet  map[string]bool // trader has at least one capture
	Orders   map[int64]models.PendingCopyOrder
	Executed []models.ExecutedCopyTrade

	nextConfigID int
	nextOrderID  int64

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Configs:     make(map[string]models.CopyConfig),
		Snaps:       make(map[string][]models.PositionSnapshot),
		SnapSet:     make(map[string]bool),
		Orders:      make(map[int64]models.PendingCopyOrder),
		Executed:    []models.ExecutedCopyTrade{},
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MemoryStore) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func configKey(userAddress, targetTrader string) string {
	return userAddress + "|" + targetTrader
}

func (m *MemoryStore) Close() error {
	return m.trackCall("Close")
}

func (m *MemoryStore) UpsertCopyConfig(ctx context.Context, cfg models.CopyConfig) (*models.CopyConfig, error) {
	if err := m.trackCall("UpsertCopyConfig"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := configKey(cfg.UserAddress, cfg.TargetTrader)
	now := time.Now().UTC()
	if existing, ok := m.Configs[key]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		m.nextConfigID++
		cfg.ID = m.nextConfigID
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	m.Configs[key] = cfg

	out := cfg
	return &out, nil
}

func (m *MemoryStore) GetCopyConfig(ctx context.Context, userAddress, targetTrader string) (*models.CopyConfig, error) {
	if err := m.trackCall("GetCopyConfig"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.Configs[configKey(userAddress, targetTrader)]
	if !ok {
		return nil, nil
	}
	out := cfg
	return &out, nil
}

func (m *MemoryStore) SetCopyEnabled(ctx context.Context, userAddress, targetTrader string, enabled bool) error {
	if err := m.trackCall("SetCopyEnabled"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := configKey(userAddress, targetTrader)
	cfg, ok := m.Configs[key]
	if !ok {
		return fmt.Errorf("no copy config for %s -> %s", userAddress, targetTrader)
	}
	cfg.Enabled = enabled
	cfg.UpdatedAt = time.Now().UTC()
	m.Configs[key] = cfg
	return nil
}

func (m *MemoryStore) ListActiveConfigs(ctx context.Context) ([]models.CopyConfig, error) {
	if err := m.trackCall("ListActiveConfigs"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]models.CopyConfig, 0)
	for _, cfg := range m.Configs {
		if cfg.Enabled {
			configs = append(configs, cfg)
		}
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}

func (m *MemoryStore) ListUserConfigs(ctx context.Context, userAddress string) ([]models.CopyConfig, error) {
	if err := m.trackCall("ListUserConfigs"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]models.CopyConfig, 0)
	for _, cfg := range m.Configs {
		if cfg.UserAddress == userAddress {
			configs = append(configs, cfg)
		}
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, traderAddress string, positions []models.PositionSnapshot) error {
	if err := m.trackCall("SaveSnapshot"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	entries := make([]models.PositionSnapshot, len(positions))
	copy(entries, positions)
	for i := range entries {
		entries[i].TraderAddress = traderAddress
		entries[i].CapturedAt = now
	}
	m.Snaps[traderAddress] = entries
	m.SnapSet[traderAddress] = true
	return nil
}

func (m *MemoryStore) GetLatestSnapshot(ctx context.Context, traderAddress string) (map[models.PositionKey]models.PositionSnapshot, error) {
	if err := m.trackCall("GetLatestSnapshot"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return snapshotMap(m.Snaps[traderAddress]), nil
}

func (m *MemoryStore) CreatePendingOrder(ctx context.Context, order models.PendingCopyOrder) (int64, error) {
	if err := m.trackCall("CreatePendingOrder"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOrderID++
	order.ID = m.nextOrderID
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.LastUpdated = now
	m.Orders[order.ID] = order
	return order.ID, nil
}

func isOpen(status string) bool {
	return status == models.OrderStatusPending || status == models.OrderStatusPartial
}

func (m *MemoryStore) listOrders(match func(models.PendingCopyOrder) bool) []models.PendingCopyOrder {
	orders := make([]models.PendingCopyOrder, 0)
	for _, o := range m.Orders {
		if match(o) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

func (m *MemoryStore) ListOpenOrders(ctx context.Context) ([]models.PendingCopyOrder, error) {
	if err := m.trackCall("ListOpenOrders"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listOrders(func(o models.PendingCopyOrder) bool {
		return isOpen(o.Status)
	}), nil
}

func (m *MemoryStore) ListUserOpenOrders(ctx context.Context, userAddress string) ([]models.PendingCopyOrder, error) {
	if err := m.trackCall("ListUserOpenOrders"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listOrders(func(o models.PendingCopyOrder) bool {
		return isOpen(o.Status) && o.UserAddress == userAddress
	}), nil
}

func (m *MemoryStore) ListOpenOrdersForInstrument(ctx context.Context, userAddress, marketID, tokenID string, side models.OrderSide) ([]models.PendingCopyOrder, error) {
	if err := m.trackCall("ListOpenOrdersForInstrument"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listOrders(func(o models.PendingCopyOrder) bool {
		return isOpen(o.Status) && o.UserAddress == userAddress &&
			o.MarketID == marketID && o.TokenID == tokenID && o.OrderSide == side
	}), nil
}

func (m *MemoryStore) ListOpenOrdersForPairing(ctx context.Context, userAddress, targetTrader string) ([]models.PendingCopyOrder, error) {
	if err := m.trackCall("ListOpenOrdersForPairing"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listOrders(func(o models.PendingCopyOrder) bool {
		return isOpen(o.Status) && o.UserAddress == userAddress && o.TargetTrader == targetTrader
	}), nil
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, id int64, status, errorMessage string) error {
	if err := m.trackCall("UpdateOrderStatus"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.Orders[id]
	if !ok {
		return fmt.Errorf("no pending order %d", id)
	}
	o.Status = status
	o.ErrorMessage = errorMessage
	o.LastUpdated = time.Now().UTC()
	m.Orders[id] = o
	return nil
}

func (m *MemoryStore) MarkOrderPartial(ctx context.Context, id int64, filledSize float64) error {
	if err := m.trackCall("MarkOrderPartial"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.Orders[id]
	if !ok {
		return fmt.Errorf("no pending order %d", id)
	}
	o.Status = models.OrderStatusPartial
	o.FilledSize = filledSize
	o.LastUpdated = time.Now().UTC()
	m.Orders[id] = o
	return nil
}

func (m *MemoryStore) MarkOrderFilled(ctx context.Context, id int64, filledSize float64) error {
	if err := m.trackCall("MarkOrderFilled"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.Orders[id]
	if !ok {
		return fmt.Errorf("no pending order %d", id)
	}
	o.Status = models.OrderStatusFilled
	o.FilledSize = filledSize
	o.LastUpdated = time.Now().UTC()
	m.Orders[id] = o
	return nil
}

func (m *MemoryStore) ReplaceOrderPrice(ctx context.Context, id int64, exchangeOrderID string, newPrice float64) error {
	if err := m.trackCall("ReplaceOrderPrice"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.Orders[id]
	if !ok {
		return fmt.Errorf("no pending order %d", id)
	}
	now := time.Now().UTC()
	o.ExchangeOrderID = exchangeOrderID
	price := newPrice
	o.CurrentPrice = &price
	o.PriceAdjustmentCount++
	o.LastPriceAdjustment = &now
	o.LastUpdated = now
	m.Orders[id] = o
	return nil
}

func (m *MemoryStore) ConvertOrderToMarket(ctx context.Context, id int64, exchangeOrderID string) error {
	if err := m.trackCall("ConvertOrderToMarket"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.Orders[id]
	if !ok {
		return fmt.Errorf("no pending order %d", id)
	}
	now := time.Now().UTC()
	o.ExchangeOrderID = exchangeOrderID
	o.CurrentPrice = nil
	o.PriceAdjustmentCount++
	o.LastPriceAdjustment = &now
	o.LastUpdated = now
	m.Orders[id] = o
	return nil
}

func (m *MemoryStore) SaveExecutedTrade(ctx context.Context, trade models.ExecutedCopyTrade) error {
	if err := m.trackCall("SaveExecutedTrade"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	trade.ID = int64(len(m.Executed) + 1)
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = time.Now().UTC()
	}
	m.Executed = append(m.Executed, trade)
	return nil
}

func (m *MemoryStore) ListExecutedTrades(ctx context.Context, userAddress string, since time.Time) ([]models.ExecutedCopyTrade, error) {
	if err := m.trackCall("ListExecutedTrades"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	trades := make([]models.ExecutedCopyTrade, 0)
	for _, t := range m.Executed {
		if t.UserAddress == userAddress && !t.ExecutedAt.Before(since) {
			trades = append(trades, t)
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.After(trades[j].ExecutedAt) })
	return trades, nil
}

func (m *MemoryStore) TotalExecutionPnL(ctx context.Context, userAddress string) (float64, error) {
	if err := m.trackCall("TotalExecutionPnL"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pnl float64
	for _, t := range m.Executed {
		if t.UserAddress != userAddress {
			continue
		}
		if t.OrderSide == models.OrderSideBuy {
			pnl += (t.TargetPrice - t.FilledPrice) * t.FilledSize
		} else {
			pnl += (t.FilledPrice - t.TargetPrice) * t.FilledSize
		}
	}
	return pnl, nil
}

// GetOrder returns a copy of one order row for test assertions.
func (m *MemoryStore) GetOrder(id int64) (models.PendingCopyOrder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.Orders[id]
	return o, ok
}
