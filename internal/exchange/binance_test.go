package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FXUD/SCOA-DASH/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExchangeConfig() config.ExchangeConfig {
	return config.ExchangeConfig{
		Enabled:   true,
		APIKey:    "test-key",
		APISecret: "test-secret",
		Symbols:   []string{"FDUSDUSDT", "USDCUSDT"},
		RateLimit: 60000, // effectively no throttling in tests
	}
}

func TestBinanceClient_Enabled(t *testing.T) {
	cfg := testExchangeConfig()
	assert.True(t, NewBinanceClient(testLogger(), cfg).Enabled())

	cfg.APISecret = ""
	assert.False(t, NewBinanceClient(testLogger(), cfg).Enabled(), "missing secret must gate the adapter off")

	cfg = testExchangeConfig()
	cfg.Enabled = false
	assert.False(t, NewBinanceClient(testLogger(), cfg).Enabled())
}

func TestBinanceClient_GetAccountBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))

		fmt.Fprint(w, `{"balances":[
			{"asset":"USDT","free":"100.5","locked":"0.5"},
			{"asset":"FDUSD","free":"200","locked":"0"},
			{"asset":"BTC","free":"0","locked":"0"}
		]}`)
	}))
	defer srv.Close()

	b := NewBinanceClient(testLogger(), testExchangeConfig())
	b.baseURL = srv.URL

	balances, err := b.GetAccountBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2, "zero balances must be filtered out")

	for _, bal := range balances {
		assert.Equal(t, bal.Free+bal.Locked, bal.Total)
	}
}

func TestBinanceClient_GetMarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("symbols"), "full list is fetched and filtered client-side")
		fmt.Fprint(w, `[{
			"symbol":"FDUSDUSDT","lastPrice":"0.9995","volume":"1000000",
			"priceChange":"-0.0002","priceChangePercent":"-0.02",
			"highPrice":"1.0001","lowPrice":"0.9991"
		},{
			"symbol":"BTCUSDT","lastPrice":"60000","volume":"100",
			"priceChange":"1000","priceChangePercent":"1.69",
			"highPrice":"61000","lowPrice":"58000"
		}]`)
	}))
	defer srv.Close()

	b := NewBinanceClient(testLogger(), testExchangeConfig())
	b.baseURL = srv.URL

	marketData, err := b.GetMarketData(context.Background())
	require.NoError(t, err)
	require.Len(t, marketData, 1, "unrequested symbols are filtered out")

	md := marketData[0]
	assert.Equal(t, "FDUSDUSDT", md.Symbol)
	assert.Equal(t, 0.9995, md.Price)
	assert.Equal(t, -0.02, md.Change24hPercent)
}

func TestBinanceClient_GetMarketData_OmitsDelistedSymbol(t *testing.T) {
	// a delisted symbol never appears in the ticker list; the remaining
	// symbols must still come back instead of failing the whole call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{
			"symbol":"FDUSDUSDT","lastPrice":"0.9995","volume":"1000000",
			"priceChange":"-0.0002","priceChangePercent":"-0.02",
			"highPrice":"1.0001","lowPrice":"0.9991"
		}]`)
	}))
	defer srv.Close()

	cfg := testExchangeConfig()
	cfg.Symbols = []string{"FDUSDUSDT", "DELISTEDUSDT"}
	b := NewBinanceClient(testLogger(), cfg)
	b.baseURL = srv.URL

	marketData, err := b.GetMarketData(context.Background())
	require.NoError(t, err)
	require.Len(t, marketData, 1)
	assert.Equal(t, "FDUSDUSDT", marketData[0].Symbol)
}

func TestBinanceClient_GetRecentTrades_SortedAndTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "FDUSDUSDT" {
			fmt.Fprint(w, `[
				{"symbol":"FDUSDUSDT","id":1,"price":"0.999","qty":"10","commission":"0.01","commissionAsset":"USDT","time":1000000,"isBuyer":true},
				{"symbol":"FDUSDUSDT","id":2,"price":"0.998","qty":"20","commission":"0.02","commissionAsset":"USDT","time":3000000,"isBuyer":false}
			]`)
			return
		}
		fmt.Fprint(w, `[
			{"symbol":"USDCUSDT","id":3,"price":"1.0001","qty":"5","commission":"0.005","commissionAsset":"USDT","time":2000000,"isBuyer":true}
		]`)
	}))
	defer srv.Close()

	b := NewBinanceClient(testLogger(), testExchangeConfig())
	b.baseURL = srv.URL

	trades, err := b.GetRecentTrades(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "2", trades[0].TradeID, "most recent fill first")
	assert.Equal(t, "sell", trades[0].Side)
	assert.Equal(t, "3", trades[1].TradeID)
	assert.True(t, trades[0].Timestamp.After(trades[1].Timestamp))
}

func TestBinanceClient_ErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-2014,"msg":"API-key format invalid."}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := NewBinanceClient(testLogger(), testExchangeConfig())
	b.baseURL = srv.URL

	_, err := b.GetAccountBalance(context.Background())
	assert.Error(t, err)
}
