package exchange

import (
	"fmt"
	"log/slog"

	"github.com/FXUD/SCOA-DASH/internal/config"
)

// NewClient creates a new exchange client based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg config.ExchangeConfig) (Client, error) {
	switch name {
	case "binance":
		return NewBinanceClient(logger, cfg), nil
	case "htx":
		return NewHTXClient(logger, cfg), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}
