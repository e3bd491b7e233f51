package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/FXUD/SCOA-DASH/internal/config"
	"github.com/FXUD/SCOA-DASH/internal/model"
)

const (
	binanceBaseURL    = "https://api.binance.com"
	binanceSandboxURL = "https://testnet.binance.vision"
)

// BinanceClient implements the Client interface for Binance spot accounts.
type BinanceClient struct {
	logger     *slog.Logger
	cfg        config.ExchangeConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rateLimiter
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger, cfg config.ExchangeConfig) *BinanceClient {
	baseURL := binanceBaseURL
	if cfg.Sandbox {
		baseURL = binanceSandboxURL
	}
	return &BinanceClient{
		logger:     logger,
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    newRateLimiter(cfg.RateLimit),
	}
}

func (b *BinanceClient) Name() string {
	return "binance"
}

func (b *BinanceClient) Enabled() bool {
	return b.cfg.Enabled && b.cfg.APIKey != "" && b.cfg.APISecret != ""
}

// Initialize verifies connectivity before the adapter joins collection cycles.
func (b *BinanceClient) Initialize(ctx context.Context) error {
	if !b.Enabled() {
		return ErrDisabled
	}
	if !b.TestConnection(ctx) {
		return fmt.Errorf("binance connection test failed")
	}
	b.logger.Info("Binance exchange initialized", "sandbox", b.cfg.Sandbox)
	return nil
}

// TestConnection probes the public ping endpoint.
func (b *BinanceClient) TestConnection(ctx context.Context) bool {
	_, err := b.publicRequest(ctx, "/api/v3/ping", nil)
	if err != nil {
		b.logger.Error("Binance connection test failed", "error", err)
		return false
	}
	return true
}

func (b *BinanceClient) GetAccountBalance(ctx context.Context) ([]model.Balance, error) {
	body, err := b.signedRequest(ctx, "/api/v3/account", nil)
	if err != nil {
		return nil, fmt.Errorf("binance account: %w", err)
	}

	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("binance account decode: %w", err)
	}

	now := time.Now()
	var balances []model.Balance
	for _, raw := range account.Balances {
		free, _ := strconv.ParseFloat(raw.Free, 64)
		locked, _ := strconv.ParseFloat(raw.Locked, 64)
		if free+locked <= 0 {
			continue
		}
		balances = append(balances, model.NewBalance(raw.Asset, free, locked, now))
	}

	b.logger.Debug("retrieved Binance balances", "count", len(balances))
	return balances, nil
}

func (b *BinanceClient) GetMarketData(ctx context.Context, symbols ...string) ([]model.MarketData, error) {
	target := symbols
	if len(target) == 0 {
		target = b.cfg.Symbols
	}
	if len(target) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(target))
	for _, s := range target {
		wanted[strings.ToUpper(s)] = true
	}

	// A symbols=[...] batch request fails wholesale on any unknown symbol, so
	// fetch the full ticker list and filter client-side.
	body, err := b.publicRequest(ctx, "/api/v3/ticker/24hr", nil)
	if err != nil {
		return nil, fmt.Errorf("binance ticker: %w", err)
	}

	var tickers []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		Volume             string `json:"volume"`
		PriceChange        string `json:"priceChange"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("binance ticker decode: %w", err)
	}

	now := time.Now()
	marketData := make([]model.MarketData, 0, len(target))
	for _, t := range tickers {
		if !wanted[t.Symbol] {
			continue
		}
		price, _ := strconv.ParseFloat(t.LastPrice, 64)
		volume, _ := strconv.ParseFloat(t.Volume, 64)
		change, _ := strconv.ParseFloat(t.PriceChange, 64)
		changePct, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		high, _ := strconv.ParseFloat(t.HighPrice, 64)
		low, _ := strconv.ParseFloat(t.LowPrice, 64)

		marketData = append(marketData, model.MarketData{
			Symbol:           t.Symbol,
			Price:            price,
			Volume24h:        volume,
			Change24h:        change,
			Change24hPercent: changePct,
			High24h:          high,
			Low24h:           low,
			Timestamp:        now,
		})
	}

	b.logger.Debug("retrieved Binance market data", "symbols", len(marketData))
	return marketData, nil
}

func (b *BinanceClient) GetRecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	var all []model.Trade
	for _, symbol := range b.cfg.Symbols {
		params := url.Values{}
		params.Set("symbol", strings.ToUpper(symbol))
		params.Set("limit", strconv.Itoa(limit))

		body, err := b.signedRequest(ctx, "/api/v3/myTrades", params)
		if err != nil {
			b.logger.Warn("failed to get Binance trades for symbol", "symbol", symbol, "error", err)
			continue
		}

		var fills []struct {
			Symbol          string `json:"symbol"`
			ID              int64  `json:"id"`
			Price           string `json:"price"`
			Qty             string `json:"qty"`
			Commission      string `json:"commission"`
			CommissionAsset string `json:"commissionAsset"`
			Time            int64  `json:"time"`
			IsBuyer         bool   `json:"isBuyer"`
		}
		if err := json.Unmarshal(body, &fills); err != nil {
			b.logger.Warn("failed to decode Binance trades", "symbol", symbol, "error", err)
			continue
		}

		for _, f := range fills {
			side := "sell"
			if f.IsBuyer {
				side = "buy"
			}
			price, _ := strconv.ParseFloat(f.Price, 64)
			amount, _ := strconv.ParseFloat(f.Qty, 64)
			fee, _ := strconv.ParseFloat(f.Commission, 64)

			all = append(all, model.Trade{
				Symbol:    f.Symbol,
				Side:      side,
				Amount:    amount,
				Price:     price,
				Fee:       fee,
				FeeAsset:  f.CommissionAsset,
				Timestamp: time.UnixMilli(f.Time),
				TradeID:   strconv.FormatInt(f.ID, 10),
			})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > limit {
		all = all[:limit]
	}

	b.logger.Debug("retrieved Binance trades", "count", len(all))
	return all, nil
}

func (b *BinanceClient) GetPortfolioValue(ctx context.Context) (model.PortfolioValue, error) {
	return FetchPortfolioValue(ctx, b)
}

func (b *BinanceClient) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// publicRequest performs an unauthenticated GET against the given path.
func (b *BinanceClient) publicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := b.limiter.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := b.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

// signedRequest performs an HMAC-SHA256 signed GET against the given path.
func (b *BinanceClient) signedRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := b.limiter.wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))

	endpoint := fmt.Sprintf("%s%s?%s&signature=%s", b.baseURL, path, query, signature)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	return b.do(req)
}

func (b *BinanceClient) do(req *http.Request) ([]byte, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
