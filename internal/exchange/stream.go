package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// PricePublisher receives live ticker prices from a stream.
type PricePublisher interface {
	SetPrice(ctx context.Context, exchange, symbol string, price float64) error
}

// TickerStream keeps the latest-price cache warm between collection rounds by
// following Binance's combined miniTicker websocket stream for the configured
// symbols. It is an optional supplement to the polled market data; any failure
// reconnects with backoff and never affects collection.
type TickerStream struct {
	logger    *slog.Logger
	symbols   []string
	publisher PricePublisher
}

// NewTickerStream creates a TickerStream over the given symbols.
func NewTickerStream(logger *slog.Logger, symbols []string, publisher PricePublisher) *TickerStream {
	return &TickerStream{logger: logger, symbols: symbols, publisher: publisher}
}

func (s *TickerStream) url() string {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	return "wss://stream.binance.com:9443/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and streams until the context is cancelled.
func (s *TickerStream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 || s.publisher == nil {
		return nil
	}

	wsURL := s.url()
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("TickerStream: context cancelled, shutting down")
			return nil
		default:
		}

		s.logger.Info("TickerStream: connecting to WebSocket", "url", wsURL, "backoff", backoff)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			s.logger.Error("TickerStream: WebSocket connection failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > 16*time.Second {
					backoff = 16 * time.Second
				}
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = time.Second
		s.logger.Info("TickerStream: connected successfully")

		s.readLoop(ctx, c)
		c.Close()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *TickerStream) readLoop(ctx context.Context, c *websocket.Conn) {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("TickerStream: failed to read message", "error", err)
			}
			return
		}

		var frame struct {
			Data struct {
				Symbol string `json:"s"`
				Close  string `json:"c"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.Warn("TickerStream: failed to parse message", "error", err)
			continue
		}
		if frame.Data.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(frame.Data.Close, 64)
		if err != nil {
			s.logger.Warn("TickerStream: failed to parse price", "error", err)
			continue
		}

		if err := s.publisher.SetPrice(ctx, "binance", frame.Data.Symbol, price); err != nil {
			s.logger.Warn("TickerStream: failed to publish price", "symbol", frame.Data.Symbol, "error", err)
		}
	}
}
