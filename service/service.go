package service

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/syncer"
)

var ethAddressRegex = regexp.MustCompile(`^0x[a-f0-9]{40}$`)

// Config validation bounds for the copy percentage.
const (
	minCopyPercentage = 0.1
	maxCopyPercentage = 100.0
)

// Service is the config-mutation and query boundary in front of the engine.
// Invalid configuration is rejected here and never reaches the loops.
type Service struct {
	store  storage.DataStore
	orders syncer.OrderGateway
}

// CopyStatus summarizes one user's copy-trading state.
type CopyStatus struct {
	ActiveConfigs []models.CopyConfig       `json:"active_configs"`
	PendingOrders []models.PendingCopyOrder `json:"pending_orders"`
	TotalPnL      float64                   `json:"total_pnl"`
}

// NewService creates the service over the shared store and order gateway.
func NewService(store storage.DataStore, orders syncer.OrderGateway) *Service {
	return &Service{store: store, orders: orders}
}

// EnableCopy creates or updates the (user, trader) pairing. Re-enabling an
// existing pairing updates its label and percentage atomically.
func (s *Service) EnableCopy(ctx context.Context, userAddress, targetTrader, label string, percentage float64) (*models.CopyConfig, error) {
	user, err := normalizeAddress(userAddress)
	if err != nil {
		return nil, fmt.Errorf("user address: %w", err)
	}
	trader, err := normalizeAddress(targetTrader)
	if err != nil {
		return nil, fmt.Errorf("target trader: %w", err)
	}
	if user == trader {
		return nil, fmt.Errorf("cannot copy your own account")
	}
	if percentage < minCopyPercentage || percentage > maxCopyPercentage {
		return nil, fmt.Errorf("copy percentage must be between %.1f and %.0f, got %g",
			minCopyPercentage, maxCopyPercentage, percentage)
	}

	cfg, err := s.store.UpsertCopyConfig(ctx, models.CopyConfig{
		UserAddress:    user,
		TargetTrader:   trader,
		TargetLabel:    strings.TrimSpace(label),
		CopyPercentage: percentage,
		Enabled:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("save copy config: %w", err)
	}

	log.Printf("[Service] Copy enabled: %s -> %s at %.1f%%", user, trader, percentage)
	return cfg, nil
}

// DisableCopy turns a pairing off and cancels its open orders. Cancellation
// failures are logged per order; the config is disabled regardless so no new
// orders are created.
func (s *Service) DisableCopy(ctx context.Context, userAddress, targetTrader string) error {
	user, err := normalizeAddress(userAddress)
	if err != nil {
		return fmt.Errorf("user address: %w", err)
	}
	trader, err := normalizeAddress(targetTrader)
	if err != nil {
		return fmt.Errorf("target trader: %w", err)
	}

	if err := s.store.SetCopyEnabled(ctx, user, trader, false); err != nil {
		return err
	}

	open, err := s.store.ListOpenOrdersForPairing(ctx, user, trader)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	cancelled := 0
	for _, order := range open {
		if order.ExchangeOrderID != "" {
			if err := s.orders.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
				log.Printf("[Service] Cancel of order %d/%s failed: %v", order.ID, order.ExchangeOrderID, err)
				continue
			}
		}
		if err := s.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled, "copy trading disabled"); err != nil {
			log.Printf("[Service] Failed to mark order %d cancelled: %v", order.ID, err)
			continue
		}
		cancelled++
	}

	log.Printf("[Service] Copy disabled: %s -> %s (%d open order(s) cancelled)", user, trader, cancelled)
	return nil
}

// GetStatus returns the user's active configs, open orders, and cumulative
// execution P&L versus the copied traders' reference prices.
func (s *Service) GetStatus(ctx context.Context, userAddress string) (*CopyStatus, error) {
	user, err := normalizeAddress(userAddress)
	if err != nil {
		return nil, err
	}

	configs, err := s.store.ListUserConfigs(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	active := make([]models.CopyConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Enabled {
			active = append(active, cfg)
		}
	}

	pending, err := s.store.ListUserOpenOrders(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}

	pnl, err := s.store.TotalExecutionPnL(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("total pnl: %w", err)
	}

	return &CopyStatus{
		ActiveConfigs: active,
		PendingOrders: pending,
		TotalPnL:      pnl,
	}, nil
}

// GetHistory returns the user's executed copy trades over the last N days.
func (s *Service) GetHistory(ctx context.Context, userAddress string, days int) ([]models.ExecutedCopyTrade, error) {
	user, err := normalizeAddress(userAddress)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.store.ListExecutedTrades(ctx, user, since)
}

func normalizeAddress(addr string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(addr))
	if !ethAddressRegex.MatchString(normalized) {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return normalized, nil
}
