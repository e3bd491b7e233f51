package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FXUD/SCOA-DASH/internal/model"
)

// PostgresSink stores time-series points in one narrow table per measurement.
type PostgresSink struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresSink creates a PostgresSink over an existing pool.
func NewPostgresSink(pool *pgxpool.Pool, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{Pool: pool, logger: logger}
}

// Migrate creates the measurement tables if they do not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS account_balance (
			time TIMESTAMPTZ NOT NULL,
			exchange TEXT NOT NULL,
			asset TEXT NOT NULL,
			free DOUBLE PRECISION NOT NULL,
			locked DOUBLE PRECISION NOT NULL,
			total DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			time TIMESTAMPTZ NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			fee_asset TEXT NOT NULL,
			UNIQUE (exchange, trade_id)
		)`,
		`CREATE TABLE IF NOT EXISTS market_data (
			time TIMESTAMPTZ NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			volume_24h DOUBLE PRECISION NOT NULL,
			change_24h DOUBLE PRECISION NOT NULL,
			change_24h_percent DOUBLE PRECISION NOT NULL,
			high_24h DOUBLE PRECISION NOT NULL,
			low_24h DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_value (
			time TIMESTAMPTZ NOT NULL,
			exchange TEXT NOT NULL,
			type TEXT NOT NULL,
			asset TEXT,
			value_usdt DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION,
			price DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS health_metrics (
			time TIMESTAMPTZ NOT NULL,
			metric TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_pnl (
			time TIMESTAMPTZ NOT NULL,
			exchange TEXT NOT NULL,
			strategy TEXT NOT NULL,
			total_value_usdt DOUBLE PRECISION NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) WriteBalances(ctx context.Context, exchange string, balances []model.Balance) error {
	if len(balances) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(
			`INSERT INTO account_balance (time, exchange, asset, free, locked, total) VALUES ($1, $2, $3, $4, $5, $6)`,
			b.Timestamp, exchange, b.Asset, b.Free, b.Locked, b.Total,
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("write balances: %w", err)
	}

	s.logger.Debug("wrote balance records", "exchange", exchange, "count", len(balances))
	return nil
}

func (s *PostgresSink) WriteTrades(ctx context.Context, exchange string, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			`INSERT INTO trades (time, exchange, symbol, side, trade_id, amount, price, value, fee, fee_asset)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (exchange, trade_id) DO NOTHING`,
			t.Timestamp, exchange, t.Symbol, t.Side, t.TradeID, t.Amount, t.Price, t.Amount*t.Price, t.Fee, t.FeeAsset,
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}

	s.logger.Debug("wrote trade records", "exchange", exchange, "count", len(trades))
	return nil
}

func (s *PostgresSink) WriteMarketData(ctx context.Context, exchange string, marketData []model.MarketData) error {
	if len(marketData) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, md := range marketData {
		batch.Queue(
			`INSERT INTO market_data (time, exchange, symbol, price, volume_24h, change_24h, change_24h_percent, high_24h, low_24h)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			md.Timestamp, exchange, md.Symbol, md.Price, md.Volume24h, md.Change24h, md.Change24hPercent, md.High24h, md.Low24h,
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("write market data: %w", err)
	}

	s.logger.Debug("wrote market data records", "exchange", exchange, "count", len(marketData))
	return nil
}

func (s *PostgresSink) WritePortfolioValue(ctx context.Context, exchange string, pv model.PortfolioValue) error {
	ts := pv.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO portfolio_value (time, exchange, type, value_usdt) VALUES ($1, $2, 'total', $3)`,
		ts, exchange, pv.TotalValueUSDT,
	)
	for asset, av := range pv.Assets {
		batch.Queue(
			`INSERT INTO portfolio_value (time, exchange, type, asset, value_usdt, amount, price)
			 VALUES ($1, $2, 'asset', $3, $4, $5, $6)`,
			ts, exchange, asset, av.ValueUSDT, av.Amount, av.Price,
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("write portfolio value: %w", err)
	}

	s.logger.Debug("wrote portfolio value", "exchange", exchange, "total_value_usdt", pv.TotalValueUSDT)
	return nil
}

func (s *PostgresSink) WriteHealthMetrics(ctx context.Context, metrics model.HealthMetrics) error {
	now := time.Now()
	points := map[string]float64{
		"collections_completed": float64(metrics.CollectionsCompleted),
		"collections_failed":    float64(metrics.CollectionsFailed),
		"exchanges_active":      float64(metrics.ExchangesActive),
		"total_runtime_seconds": metrics.TotalRuntimeSeconds,
		"memory_usage_mb":       metrics.MemoryUsageMB,
	}

	batch := &pgx.Batch{}
	for metric, value := range points {
		batch.Queue(
			`INSERT INTO health_metrics (time, metric, value) VALUES ($1, $2, $3)`,
			now, metric, value,
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("write health metrics: %w", err)
	}
	return nil
}

func (s *PostgresSink) WriteStrategyPnL(ctx context.Context, exchange string, totalValueUSDT float64, ts time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO strategy_pnl (time, exchange, strategy, total_value_usdt) VALUES ($1, $2, 'stablecoin_arbitrage', $3)`,
		ts, exchange, totalValueUSDT,
	)
	if err != nil {
		return fmt.Errorf("write strategy pnl: %w", err)
	}

	s.logger.Debug("wrote strategy pnl", "exchange", exchange, "total_value_usdt", totalValueUSDT)
	return nil
}

// LatestPortfolioValue returns the most recent total valuation recorded for
// an exchange, or false when none exists.
func (s *PostgresSink) LatestPortfolioValue(ctx context.Context, exchange string) (float64, bool, error) {
	var value float64
	err := s.Pool.QueryRow(ctx,
		`SELECT value_usdt FROM portfolio_value WHERE exchange = $1 AND type = 'total' ORDER BY time DESC LIMIT 1`,
		exchange,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest portfolio value: %w", err)
	}
	return value, true, nil
}

func (s *PostgresSink) Close() {
	s.Pool.Close()
}

func (s *PostgresSink) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := s.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
