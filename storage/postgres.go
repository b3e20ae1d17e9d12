package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PostgresStore wraps PostgreSQL persistence with Redis caching.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a store with connection pooling and a Redis cache,
// and ensures the copy-trading schema exists.
func NewPostgres(pgCfg config.PostgresConfig, redisCfg config.RedisConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		pgCfg.User, pgCfg.Password, pgCfg.Host, pgCfg.Port, pgCfg.DBName)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	// Bound query time so a wedged statement cannot stall a whole cycle
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	poolCfg.ConnConfig.RuntimeParams["lock_timeout"] = "10000"
	poolCfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = "60000"

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", redisCfg.Host, redisCfg.Port),
		Password:     redisCfg.Password,
		DB:           0,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, redis: rdb}
	if err := s.initSchema(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}

	return s, nil
}

// Close releases database connections.
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS copy_trading_config (
			id SERIAL PRIMARY KEY,
			user_address TEXT NOT NULL,
			target_trader_address TEXT NOT NULL,
			target_trader_label TEXT NOT NULL DEFAULT '',
			copy_percentage DOUBLE PRECISION NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_address, target_trader_address)
		)`,
		`CREATE TABLE IF NOT EXISTS position_snapshot_cycles (
			trader_address TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (trader_address, captured_at)
		)`,
		`CREATE TABLE IF NOT EXISTS position_snapshots (
			id BIGSERIAL PRIMARY KEY,
			trader_address TEXT NOT NULL,
			market_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			market_title TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL DEFAULT '',
			size DOUBLE PRECISION NOT NULL,
			avg_price DOUBLE PRECISION NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_snapshots_trader_time
			ON position_snapshots (trader_address, captured_at DESC)`,
		`CREATE TABLE IF NOT EXISTS pending_copy_orders (
			id BIGSERIAL PRIMARY KEY,
			user_address TEXT NOT NULL,
			target_trader_address TEXT NOT NULL,
			market_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			market_title TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL DEFAULT '',
			order_side TEXT NOT NULL,
			target_size DOUBLE PRECISION NOT NULL,
			target_price DOUBLE PRECISION NOT NULL,
			initial_price DOUBLE PRECISION NOT NULL,
			current_price DOUBLE PRECISION,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			filled_size DOUBLE PRECISION NOT NULL DEFAULT 0,
			price_adjustment_count INTEGER NOT NULL DEFAULT 0,
			last_price_adjustment TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_copy_orders_open
			ON pending_copy_orders (status, created_at)
			WHERE status IN ('pending', 'partial')`,
		`CREATE TABLE IF NOT EXISTS executed_copy_trades (
			id BIGSERIAL PRIMARY KEY,
			user_address TEXT NOT NULL,
			target_trader_address TEXT NOT NULL,
			target_trader_label TEXT NOT NULL DEFAULT '',
			market_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			market_title TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL DEFAULT '',
			order_side TEXT NOT NULL,
			filled_size DOUBLE PRECISION NOT NULL,
			filled_price DOUBLE PRECISION NOT NULL,
			target_price DOUBLE PRECISION NOT NULL,
			slippage DOUBLE PRECISION NOT NULL,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executed_copy_trades_user_time
			ON executed_copy_trades (user_address, executed_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// COPY CONFIG
// ============================================================================

// UpsertCopyConfig creates or updates the (user, trader) pairing and returns
// the stored row.
func (s *PostgresStore) UpsertCopyConfig(ctx context.Context, cfg models.CopyConfig) (*models.CopyConfig, error) {
	var out models.CopyConfig
	err := s.pool.QueryRow(ctx, `
		INSERT INTO copy_trading_config (
			user_address, target_trader_address, target_trader_label,
			copy_percentage, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (user_address, target_trader_address) DO UPDATE SET
			target_trader_label = EXCLUDED.target_trader_label,
			copy_percentage = EXCLUDED.copy_percentage,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING id, user_address, target_trader_address, target_trader_label,
			copy_percentage, enabled, created_at, updated_at
	`, cfg.UserAddress, cfg.TargetTrader, cfg.TargetLabel, cfg.CopyPercentage, cfg.Enabled).Scan(
		&out.ID, &out.UserAddress, &out.TargetTrader, &out.TargetLabel,
		&out.CopyPercentage, &out.Enabled, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.redis.Del(ctx, "configs:active")
	return &out, nil
}

// GetCopyConfig returns the pairing, or nil if none exists.
func (s *PostgresStore) GetCopyConfig(ctx context.Context, userAddress, targetTrader string) (*models.CopyConfig, error) {
	var cfg models.CopyConfig
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_address, target_trader_address, target_trader_label,
			copy_percentage, enabled, created_at, updated_at
		FROM copy_trading_config
		WHERE user_address = $1 AND target_trader_address = $2
	`, userAddress, targetTrader).Scan(
		&cfg.ID, &cfg.UserAddress, &cfg.TargetTrader, &cfg.TargetLabel,
		&cfg.CopyPercentage, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// SetCopyEnabled flips the enabled flag for a pairing.
func (s *PostgresStore) SetCopyEnabled(ctx context.Context, userAddress, targetTrader string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE copy_trading_config
		SET enabled = $3, updated_at = NOW()
		WHERE user_address = $1 AND target_trader_address = $2
	`, userAddress, targetTrader, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no copy config for %s -> %s", userAddress, targetTrader)
	}

	s.redis.Del(ctx, "configs:active")
	return nil
}

// ListActiveConfigs returns all enabled pairings, briefly cached so the two
// loops do not hammer the table every cycle.
func (s *PostgresStore) ListActiveConfigs(ctx context.Context) ([]models.CopyConfig, error) {
	cached, err := s.redis.Get(ctx, "configs:active").Bytes()
	if err == nil {
		var configs []models.CopyConfig
		if json.Unmarshal(cached, &configs) == nil {
			return configs, nil
		}
	}

	configs, err := s.queryConfigs(ctx, `WHERE enabled = TRUE ORDER BY id`)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(configs); err == nil {
		s.redis.Set(ctx, "configs:active", data, 30*time.Second)
	}
	return configs, nil
}

// ListUserConfigs returns all pairings for a user, enabled or not.
func (s *PostgresStore) ListUserConfigs(ctx context.Context, userAddress string) ([]models.CopyConfig, error) {
	return s.queryConfigs(ctx, `WHERE user_address = $1 ORDER BY id`, userAddress)
}

func (s *PostgresStore) queryConfigs(ctx context.Context, clause string, args ...interface{}) ([]models.CopyConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_address, target_trader_address, target_trader_label,
			copy_percentage, enabled, created_at, updated_at
		FROM copy_trading_config `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make([]models.CopyConfig, 0)
	for rows.Next() {
		var cfg models.CopyConfig
		if err := rows.Scan(
			&cfg.ID, &cfg.UserAddress, &cfg.TargetTrader, &cfg.TargetLabel,
			&cfg.CopyPercentage, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// ============================================================================
// POSITION SNAPSHOTS
// ============================================================================

// SaveSnapshot records a complete capture cycle for a trader. An empty
// position set still writes a cycle marker so closed books supersede
// earlier snapshots.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, traderAddress string, positions []models.PositionSnapshot) error {
	capturedAt := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO position_snapshot_cycles (trader_address, captured_at)
		VALUES ($1, $2)
		ON CONFLICT (trader_address, captured_at) DO NOTHING
	`, traderAddress, capturedAt); err != nil {
		return err
	}

	if len(positions) > 0 {
		batch := &pgx.Batch{}
		for _, pos := range positions {
			batch.Queue(`
				INSERT INTO position_snapshots (
					trader_address, market_id, token_id, market_title, side,
					size, avg_price, captured_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, traderAddress, pos.MarketID, pos.TokenID, pos.MarketTitle, pos.Side,
				pos.Size, pos.AvgPrice, capturedAt)
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("batch exec %d: %w", i, err)
			}
		}
		br.Close()
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// Refresh the cache with the committed set
	entries := make([]models.PositionSnapshot, len(positions))
	copy(entries, positions)
	for i := range entries {
		entries[i].TraderAddress = traderAddress
		entries[i].CapturedAt = capturedAt
	}
	if data, err := json.Marshal(entries); err == nil {
		s.redis.Set(ctx, "snapshot:"+traderAddress, data, 24*time.Hour)
	}

	return nil
}

// GetLatestSnapshot returns the trader's most recent capture as a keyed map.
// An empty map means either no snapshot yet or a flat book; detection treats
// both the same way.
func (s *PostgresStore) GetLatestSnapshot(ctx context.Context, traderAddress string) (map[models.PositionKey]models.PositionSnapshot, error) {
	cached, err := s.redis.Get(ctx, "snapshot:"+traderAddress).Bytes()
	if err == nil {
		var entries []models.PositionSnapshot
		if json.Unmarshal(cached, &entries) == nil {
			return snapshotMap(entries), nil
		}
	}

	// MAX over zero rows yields NULL, so scan through a pointer
	var capturedAt *time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT MAX(captured_at) FROM position_snapshot_cycles WHERE trader_address = $1
	`, traderAddress).Scan(&capturedAt)
	if err != nil {
		return nil, err
	}
	if capturedAt == nil {
		return map[models.PositionKey]models.PositionSnapshot{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT trader_address, market_id, token_id, market_title, side,
			size, avg_price, captured_at
		FROM position_snapshots
		WHERE trader_address = $1 AND captured_at = $2
	`, traderAddress, *capturedAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.PositionSnapshot, 0)
	for rows.Next() {
		var pos models.PositionSnapshot
		if err := rows.Scan(
			&pos.TraderAddress, &pos.MarketID, &pos.TokenID, &pos.MarketTitle,
			&pos.Side, &pos.Size, &pos.AvgPrice, &pos.CapturedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		s.redis.Set(ctx, "snapshot:"+traderAddress, data, 24*time.Hour)
	}

	return snapshotMap(entries), nil
}

func snapshotMap(entries []models.PositionSnapshot) map[models.PositionKey]models.PositionSnapshot {
	m := make(map[models.PositionKey]models.PositionSnapshot, len(entries))
	for _, pos := range entries {
		m[pos.Key()] = pos
	}
	return m
}

// ============================================================================
// PENDING ORDERS
// ============================================================================

const pendingOrderColumns = `
	id, user_address, target_trader_address, market_id, token_id, market_title,
	side, order_side, target_size, target_price, initial_price, current_price,
	exchange_order_id, status, error_message, filled_size,
	price_adjustment_count, last_price_adjustment, created_at, last_updated`

// CreatePendingOrder inserts a new pending order row and returns its ID.
func (s *PostgresStore) CreatePendingOrder(ctx context.Context, order models.PendingCopyOrder) (int64, error) {
	status := order.Status
	if status == "" {
		status = models.OrderStatusPending
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pending_copy_orders (
			user_address, target_trader_address, market_id, token_id, market_title,
			side, order_side, target_size, target_price, initial_price, current_price,
			exchange_order_id, status, error_message, created_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING id
	`, order.UserAddress, order.TargetTrader, order.MarketID, order.TokenID,
		order.MarketTitle, order.Side, string(order.OrderSide), order.TargetSize,
		order.TargetPrice, order.InitialPrice, order.CurrentPrice,
		order.ExchangeOrderID, status, order.ErrorMessage).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListOpenOrders returns pending and partially filled orders, oldest first,
// so long-waiting orders are escalated before fresh ones.
func (s *PostgresStore) ListOpenOrders(ctx context.Context) ([]models.PendingCopyOrder, error) {
	return s.queryOrders(ctx, `
		WHERE status IN ('pending', 'partial')
		ORDER BY created_at ASC`)
}

// ListUserOpenOrders returns a user's open orders, oldest first.
func (s *PostgresStore) ListUserOpenOrders(ctx context.Context, userAddress string) ([]models.PendingCopyOrder, error) {
	return s.queryOrders(ctx, `
		WHERE user_address = $1 AND status IN ('pending', 'partial')
		ORDER BY created_at ASC`, userAddress)
}

// ListOpenOrdersForInstrument returns a user's open orders on one outcome
// token in one direction. Used to cancel resting buys when the trader exits.
func (s *PostgresStore) ListOpenOrdersForInstrument(ctx context.Context, userAddress, marketID, tokenID string, side models.OrderSide) ([]models.PendingCopyOrder, error) {
	return s.queryOrders(ctx, `
		WHERE user_address = $1 AND market_id = $2 AND token_id = $3
			AND order_side = $4 AND status IN ('pending', 'partial')
		ORDER BY created_at ASC`, userAddress, marketID, tokenID, string(side))
}

// ListOpenOrdersForPairing returns a user's open orders that copy one trader.
func (s *PostgresStore) ListOpenOrdersForPairing(ctx context.Context, userAddress, targetTrader string) ([]models.PendingCopyOrder, error) {
	return s.queryOrders(ctx, `
		WHERE user_address = $1 AND target_trader_address = $2
			AND status IN ('pending', 'partial')
		ORDER BY created_at ASC`, userAddress, targetTrader)
}

func (s *PostgresStore) queryOrders(ctx context.Context, clause string, args ...interface{}) ([]models.PendingCopyOrder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pendingOrderColumns+` FROM pending_copy_orders `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]models.PendingCopyOrder, 0)
	for rows.Next() {
		var o models.PendingCopyOrder
		var orderSide string
		if err := rows.Scan(
			&o.ID, &o.UserAddress, &o.TargetTrader, &o.MarketID, &o.TokenID,
			&o.MarketTitle, &o.Side, &orderSide, &o.TargetSize, &o.TargetPrice,
			&o.InitialPrice, &o.CurrentPrice, &o.ExchangeOrderID, &o.Status,
			&o.ErrorMessage, &o.FilledSize, &o.PriceAdjustmentCount,
			&o.LastPriceAdjustment, &o.CreatedAt, &o.LastUpdated,
		); err != nil {
			return nil, err
		}
		o.OrderSide = models.OrderSide(orderSide)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus moves an order to a new lifecycle state.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id int64, status, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_copy_orders
		SET status = $2, error_message = $3, last_updated = NOW()
		WHERE id = $1
	`, id, status, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no pending order %d", id)
	}
	return nil
}

// MarkOrderPartial records progress on a partially filled order.
func (s *PostgresStore) MarkOrderPartial(ctx context.Context, id int64, filledSize float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pending_copy_orders
		SET status = 'partial', filled_size = $2, last_updated = NOW()
		WHERE id = $1
	`, id, filledSize)
	return err
}

// MarkOrderFilled finalizes an order as completely filled.
func (s *PostgresStore) MarkOrderFilled(ctx context.Context, id int64, filledSize float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pending_copy_orders
		SET status = 'filled', filled_size = $2, last_updated = NOW()
		WHERE id = $1
	`, id, filledSize)
	return err
}

// ReplaceOrderPrice records a cancel-and-replace at a new limit price,
// bumping the escalation counter.
func (s *PostgresStore) ReplaceOrderPrice(ctx context.Context, id int64, exchangeOrderID string, newPrice float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_copy_orders
		SET exchange_order_id = $2,
			current_price = $3,
			price_adjustment_count = price_adjustment_count + 1,
			last_price_adjustment = NOW(),
			last_updated = NOW()
		WHERE id = $1
	`, id, exchangeOrderID, newPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no pending order %d", id)
	}
	return nil
}

// ConvertOrderToMarket records a final escalation to a market order. The
// current price is cleared; fill price comes from exchange status.
func (s *PostgresStore) ConvertOrderToMarket(ctx context.Context, id int64, exchangeOrderID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_copy_orders
		SET exchange_order_id = $2,
			current_price = NULL,
			price_adjustment_count = price_adjustment_count + 1,
			last_price_adjustment = NOW(),
			last_updated = NOW()
		WHERE id = $1
	`, id, exchangeOrderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no pending order %d", id)
	}
	return nil
}

// ============================================================================
// EXECUTED TRADES
// ============================================================================

// SaveExecutedTrade appends a fill to the execution ledger.
func (s *PostgresStore) SaveExecutedTrade(ctx context.Context, trade models.ExecutedCopyTrade) error {
	executedAt := trade.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO executed_copy_trades (
			user_address, target_trader_address, target_trader_label,
			market_id, token_id, market_title, side, order_side,
			filled_size, filled_price, target_price, slippage,
			exchange_order_id, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, trade.UserAddress, trade.TargetTrader, trade.TargetLabel,
		trade.MarketID, trade.TokenID, trade.MarketTitle, trade.Side,
		string(trade.OrderSide), trade.FilledSize, trade.FilledPrice,
		trade.TargetPrice, trade.Slippage, trade.ExchangeOrderID, executedAt)
	if err != nil {
		return err
	}

	s.redis.Del(ctx, "pnl:"+trade.UserAddress)
	return nil
}

// ListExecutedTrades returns a user's fills since the given time, newest first.
func (s *PostgresStore) ListExecutedTrades(ctx context.Context, userAddress string, since time.Time) ([]models.ExecutedCopyTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_address, target_trader_address, target_trader_label,
			market_id, token_id, market_title, side, order_side,
			filled_size, filled_price, target_price, slippage,
			exchange_order_id, executed_at
		FROM executed_copy_trades
		WHERE user_address = $1 AND executed_at >= $2
		ORDER BY executed_at DESC
	`, userAddress, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]models.ExecutedCopyTrade, 0)
	for rows.Next() {
		var t models.ExecutedCopyTrade
		var orderSide string
		if err := rows.Scan(
			&t.ID, &t.UserAddress, &t.TargetTrader, &t.TargetLabel,
			&t.MarketID, &t.TokenID, &t.MarketTitle, &t.Side, &orderSide,
			&t.FilledSize, &t.FilledPrice, &t.TargetPrice, &t.Slippage,
			&t.ExchangeOrderID, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.OrderSide = models.OrderSide(orderSide)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// TotalExecutionPnL sums execution quality across a user's fills: positive
// when buys landed below the trader's price and sells above it.
func (s *PostgresStore) TotalExecutionPnL(ctx context.Context, userAddress string) (float64, error) {
	cacheKey := "pnl:" + userAddress
	if cached, err := s.redis.Get(ctx, cacheKey).Float64(); err == nil {
		return cached, nil
	}

	var pnl float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN order_side = 'BUY'
				THEN (target_price - filled_price) * filled_size
				ELSE (filled_price - target_price) * filled_size
			END), 0)
		FROM executed_copy_trades
		WHERE user_address = $1
	`, userAddress).Scan(&pnl)
	if err != nil {
		return 0, err
	}

	s.redis.Set(ctx, cacheKey, pnl, 2*time.Minute)
	return pnl, nil
}
