package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// latest prices expire on their own so a dead feed cannot serve stale quotes.
const priceTTL = 2 * time.Minute

// PriceCache keeps the latest per-exchange, per-symbol price in Redis. It is
// an optional component; every failure degrades to "no cached price".
type PriceCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPriceCache creates a PriceCache over an existing Redis client.
func NewPriceCache(client *redis.Client, logger *slog.Logger) *PriceCache {
	return &PriceCache{client: client, logger: logger}
}

func priceKey(exchange, symbol string) string {
	return fmt.Sprintf("latest:%s:%s", exchange, strings.ToUpper(symbol))
}

// SetPrice stores the latest price for an exchange/symbol pair.
func (p *PriceCache) SetPrice(ctx context.Context, exchange, symbol string, price float64) error {
	err := p.client.Set(ctx, priceKey(exchange, symbol), price, priceTTL).Err()
	if err != nil {
		return fmt.Errorf("set latest price: %w", err)
	}
	return nil
}

// GetPrice returns the cached price for an exchange/symbol pair, or false when
// no fresh quote is available.
func (p *PriceCache) GetPrice(ctx context.Context, exchange, symbol string) (float64, bool) {
	raw, err := p.client.Get(ctx, priceKey(exchange, symbol)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		p.logger.Warn("price cache read failed", "exchange", exchange, "symbol", symbol, "error", err)
		return 0, false
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.logger.Warn("price cache holds invalid value", "key", priceKey(exchange, symbol), "error", err)
		return 0, false
	}
	return price, true
}

// Ping checks connectivity.
func (p *PriceCache) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (p *PriceCache) Close() error {
	return p.client.Close()
}
