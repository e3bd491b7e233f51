package exchange

import (
	"context"
	"errors"

	"github.com/FXUD/SCOA-DASH/internal/model"
)

// ErrDisabled is returned when an operation is attempted on an exchange that
// is not enabled or is missing credentials.
var ErrDisabled = errors.New("exchange is not enabled")

// Client defines the standard capability set every exchange adapter implements.
// All calls that touch the network take a context and pass through the
// adapter's private rate limiter.
type Client interface {
	Name() string

	// Initialize establishes connectivity and credentials. An adapter that
	// fails here is excluded by the orchestrator for the process lifetime.
	Initialize(ctx context.Context) error

	// TestConnection is a cheap, side-effect-free liveness probe.
	TestConnection(ctx context.Context) bool

	// GetAccountBalance returns only assets with a positive total.
	GetAccountBalance(ctx context.Context) ([]model.Balance, error)

	// GetMarketData returns one entry per requested symbol found; missing
	// symbols are silently omitted. With no symbols it uses the configured
	// symbol list.
	GetMarketData(ctx context.Context, symbols ...string) ([]model.MarketData, error)

	// GetRecentTrades merges per-symbol fill queries, sorted most-recent-first
	// and truncated to limit.
	GetRecentTrades(ctx context.Context, limit int) ([]model.Trade, error)

	// GetPortfolioValue composes balances and market data into a normalized
	// USDT valuation. Every adapter shares the same valuation logic.
	GetPortfolioValue(ctx context.Context) (model.PortfolioValue, error)

	// Close releases any held connection; idempotent.
	Close() error

	// Enabled reports whether the exchange is configured enabled and both
	// credential fields are present. This is the single gate the orchestrator
	// uses to include the adapter in a cycle.
	Enabled() bool
}
