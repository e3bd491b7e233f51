package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	htxBaseURL = "https://api.huobi.pro"
	htxHost    = "api.huobi.pro"
)

// HTXClient implements the Client interface for HTX (Huobi) spot accounts.
type HTXClient struct {
	logger     *slog.Logger
	cfg        config.ExchangeConfig
	baseURL    string
	host       string
	httpClient *http.Client
	limiter    *rateLimiter
	accountID  string
}

// NewHTXClient creates a new HTXClient.
func NewHTXClient(logger *slog.Logger, cfg config.ExchangeConfig) *HTXClient {
	return &HTXClient{
		logger:     logger,
		cfg:        cfg,
		baseURL:    htxBaseURL,
		host:       htxHost,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    newRateLimiter(cfg.RateLimit),
	}
}

func (h *HTXClient) Name() string {
	return "htx"
}

func (h *HTXClient) Enabled() bool {
	return h.cfg.Enabled && h.cfg.APIKey != "" && h.cfg.APISecret != ""
}

// Initialize discovers the spot account id; without it no signed account call
// can be made, so a failure here excludes the adapter.
func (h *HTXClient) Initialize(ctx context.Context) error {
	if !h.Enabled() {
		return ErrDisabled
	}

	body, err := h.signedRequest(ctx, "/v1/account/accounts", nil)
	if err != nil {
		return fmt.Errorf("htx account discovery: %w", err)
	}

	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("htx account discovery decode: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("htx account discovery status %q", resp.Status)
	}

	for _, acct := range resp.Data {
		if acct.Type == "spot" {
			h.accountID = strconv.FormatInt(acct.ID, 10)
			h.logger.Info("HTX exchange initialized", "account_id", h.accountID)
			return nil
		}
	}
	return fmt.Errorf("htx spot account not found")
}

// TestConnection probes the public timestamp endpoint.
func (h *HTXClient) TestConnection(ctx context.Context) bool {
	_, err := h.publicRequest(ctx, "/v1/common/timestamp", nil)
	if err != nil {
		h.logger.Error("HTX connection test failed", "error", err)
		return false
	}
	return true
}

func (h *HTXClient) GetAccountBalance(ctx context.Context) ([]model.Balance, error) {
	if h.accountID == "" {
		return nil, fmt.Errorf("htx adapter not initialized")
	}

	body, err := h.signedRequest(ctx, "/v1/account/accounts/"+h.accountID+"/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("htx balance: %w", err)
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			List []struct {
				Currency string `json:"currency"`
				Type     string `json:"type"`
				Balance  string `json:"balance"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("htx balance decode: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("htx balance status %q", resp.Status)
	}

	// HTX reports free and locked funds as separate list entries per currency.
	free := make(map[string]float64)
	locked := make(map[string]float64)
	for _, entry := range resp.Data.List {
		amount, err := strconv.ParseFloat(entry.Balance, 64)
		if err != nil || amount == 0 {
			continue
		}
		switch entry.Type {
		case "trade":
			free[entry.Currency] += amount
		case "frozen":
			locked[entry.Currency] += amount
		}
	}

	assets := make(map[string]bool)
	for a := range free {
		assets[a] = true
	}
	for a := range locked {
		assets[a] = true
	}

	now := time.Now()
	var balances []model.Balance
	for asset := range assets {
		b := model.NewBalance(strings.ToUpper(asset), free[asset], locked[asset], now)
		if b.Total > 0 {
			balances = append(balances, b)
		}
	}

	h.logger.Debug("retrieved HTX balances", "count", len(balances))
	return balances, nil
}

func (h *HTXClient) GetMarketData(ctx context.Context, symbols ...string) ([]model.MarketData, error) {
	target := symbols
	if len(target) == 0 {
		target = h.cfg.Symbols
	}
	if len(target) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(target))
	for _, s := range target {
		wanted[strings.ToLower(s)] = true
	}

	body, err := h.publicRequest(ctx, "/market/tickers", nil)
	if err != nil {
		return nil, fmt.Errorf("htx tickers: %w", err)
	}

	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			Symbol string  `json:"symbol"`
			Close  float64 `json:"close"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Amount float64 `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("htx tickers decode: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("htx tickers status %q", resp.Status)
	}

	now := time.Now()
	var marketData []model.MarketData
	for _, t := range resp.Data {
		if !wanted[t.Symbol] {
			continue
		}
		change := t.Close - t.Open
		changePct := 0.0
		if t.Open > 0 {
			changePct = change / t.Open * 100
		}
		marketData = append(marketData, model.MarketData{
			Symbol:           strings.ToUpper(t.Symbol),
			Price:            t.Close,
			Volume24h:        t.Amount,
			Change24h:        change,
			Change24hPercent: changePct,
			High24h:          t.High,
			Low24h:           t.Low,
			Timestamp:        now,
		})
	}

	h.logger.Debug("retrieved HTX market data", "symbols", len(marketData))
	return marketData, nil
}

func (h *HTXClient) GetRecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	var all []model.Trade
	for _, symbol := range h.cfg.Symbols {
		params := url.Values{}
		params.Set("symbol", strings.ToLower(symbol))
		params.Set("size", strconv.Itoa(limit))

		body, err := h.signedRequest(ctx, "/v1/order/matchresults", params)
		if err != nil {
			h.logger.Warn("failed to get HTX trades for symbol", "symbol", symbol, "error", err)
			continue
		}

		var resp struct {
			Status string `json:"status"`
			Data   []struct {
				ID           int64  `json:"id"`
				Symbol       string `json:"symbol"`
				Type         string `json:"type"`
				FilledAmount string `json:"filled-amount"`
				Price        string `json:"price"`
				FilledFees   string `json:"filled-fees"`
				FeeCurrency  string `json:"fee-currency"`
				CreatedAt    int64  `json:"created-at"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || resp.Status != "ok" {
			h.logger.Warn("failed to decode HTX trades", "symbol", symbol, "error", err)
			continue
		}

		for _, f := range resp.Data {
			// order type looks like "buy-limit" or "sell-market"
			side, _, _ := strings.Cut(f.Type, "-")
			amount, _ := strconv.ParseFloat(f.FilledAmount, 64)
			price, _ := strconv.ParseFloat(f.Price, 64)
			fee, _ := strconv.ParseFloat(f.FilledFees, 64)

			all = append(all, model.Trade{
				Symbol:    strings.ToUpper(f.Symbol),
				Side:      side,
				Amount:    amount,
				Price:     price,
				Fee:       fee,
				FeeAsset:  strings.ToUpper(f.FeeCurrency),
				Timestamp: time.UnixMilli(f.CreatedAt),
				TradeID:   strconv.FormatInt(f.ID, 10),
			})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > limit {
		all = all[:limit]
	}

	h.logger.Debug("retrieved HTX trades", "count", len(all))
	return all, nil
}

func (h *HTXClient) GetPortfolioValue(ctx context.Context) (model.PortfolioValue, error) {
	return FetchPortfolioValue(ctx, h)
}

func (h *HTXClient) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

func (h *HTXClient) publicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := h.limiter.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := h.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return h.do(req)
}

// signedRequest performs a Signature-v2 signed GET: HMAC-SHA256 over
// "GET\nhost\npath\nsorted-query", base64 encoded.
func (h *HTXClient) signedRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := h.limiter.wait(ctx); err != nil {
		return nil, err
	}

	all := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			all.Add(k, v)
		}
	}
	all.Set("AccessKeyId", h.cfg.APIKey)
	all.Set("SignatureMethod", "HmacSHA256")
	all.Set("SignatureVersion", "2")
	all.Set("Timestamp", time.Now().UTC().Format("2006-01-02T15:04:05"))

	// Encode sorts keys lexicographically, which is what the signature expects.
	query := all.Encode()
	preSigned := strings.Join([]string{http.MethodGet, h.host, path, query}, "\n")

	mac := hmac.New(sha256.New, []byte(h.cfg.APISecret))
	mac.Write([]byte(preSigned))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	endpoint := h.baseURL + path + "?" + query + "&Signature=" + url.QueryEscape(signature)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return h.do(req)
}

func (h *HTXClient) do(req *http.Request) ([]byte, error) {
	resp, err := h.httpClient.Do(req)
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
