package database

import (
	"context"
	"time"

	"github.com/FXUD/SCOA-DASH/internal/model"
)

// Sink defines the standard interface for time-series point writes. Writes
// are synchronous; a returned error means the batch was dropped and the
// caller decides how loudly to log it.
type Sink interface {
	WriteBalances(ctx context.Context, exchange string, balances []model.Balance) error
	WriteTrades(ctx context.Context, exchange string, trades []model.Trade) error
	WriteMarketData(ctx context.Context, exchange string, marketData []model.MarketData) error
	WritePortfolioValue(ctx context.Context, exchange string, pv model.PortfolioValue) error
	WriteHealthMetrics(ctx context.Context, metrics model.HealthMetrics) error
	WriteStrategyPnL(ctx context.Context, exchange string, totalValueUSDT float64, ts time.Time) error
	Close()
}
