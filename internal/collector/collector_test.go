package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FXUD/SCOA-DASH/internal/arbitrage"
	"github.com/FXUD/SCOA-DASH/internal/config"
	"github.com/FXUD/SCOA-DASH/internal/exchange"
	"github.com/FXUD/SCOA-DASH/internal/model"
)

type MockClient struct {
	mock.Mock
	name string
}

func (m *MockClient) Name() string { return m.name }

func (m *MockClient) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) TestConnection(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockClient) GetAccountBalance(ctx context.Context) ([]model.Balance, error) {
	args := m.Called(ctx)
	balances, _ := args.Get(0).([]model.Balance)
	return balances, args.Error(1)
}

func (m *MockClient) GetMarketData(ctx context.Context, symbols ...string) ([]model.MarketData, error) {
	args := m.Called(ctx, symbols)
	marketData, _ := args.Get(0).([]model.MarketData)
	return marketData, args.Error(1)
}

func (m *MockClient) GetRecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	args := m.Called(ctx, limit)
	trades, _ := args.Get(0).([]model.Trade)
	return trades, args.Error(1)
}

func (m *MockClient) GetPortfolioValue(ctx context.Context) (model.PortfolioValue, error) {
	args := m.Called(ctx)
	pv, _ := args.Get(0).(model.PortfolioValue)
	return pv, args.Error(1)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Enabled() bool {
	args := m.Called()
	return args.Bool(0)
}

type MockSink struct {
	mock.Mock
	healthWrites atomic.Int64
}

func (m *MockSink) WriteBalances(ctx context.Context, exchange string, balances []model.Balance) error {
	args := m.Called(ctx, exchange, balances)
	return args.Error(0)
}

func (m *MockSink) WriteTrades(ctx context.Context, exchange string, trades []model.Trade) error {
	args := m.Called(ctx, exchange, trades)
	return args.Error(0)
}

func (m *MockSink) WriteMarketData(ctx context.Context, exchange string, marketData []model.MarketData) error {
	args := m.Called(ctx, exchange, marketData)
	return args.Error(0)
}

func (m *MockSink) WritePortfolioValue(ctx context.Context, exchange string, pv model.PortfolioValue) error {
	args := m.Called(ctx, exchange, pv)
	return args.Error(0)
}

func (m *MockSink) WriteHealthMetrics(ctx context.Context, metrics model.HealthMetrics) error {
	m.healthWrites.Add(1)
	args := m.Called(ctx, metrics)
	return args.Error(0)
}

func (m *MockSink) WriteStrategyPnL(ctx context.Context, exchange string, totalValueUSDT float64, ts time.Time) error {
	args := m.Called(ctx, exchange, totalValueUSDT, ts)
	return args.Error(0)
}

func (m *MockSink) Close() {
	m.Called()
}

func testConfig() *config.Config {
	return &config.Config{
		DataCollection: config.CollectionConfig{
			IntervalMinutes:    1,
			ConcurrentRequests: 5,
			TradeLimit:         50,
		},
		Monitoring: config.MonitoringConfig{HealthCheckInterval: 1},
		Arbitrage:  config.ArbitrageConfig{Pair: "FDUSDUSDT"},
	}
}

func newTestCollector(sink *MockSink) *Collector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calc := arbitrage.NewCalculator(logger, config.ArbitrageConfig{})
	return New(logger, testConfig(), sink, nil, calc)
}

// healthyClient stubs a client whose four sub-collections all succeed.
func healthyClient(name string) *MockClient {
	mc := &MockClient{name: name}
	balances := []model.Balance{model.NewBalance("USDT", 1000, 0, time.Now())}
	marketData := []model.MarketData{{Symbol: "FDUSDUSDT", Price: 0.9995, Timestamp: time.Now()}}
	trades := []model.Trade{{Symbol: "FDUSDUSDT", Side: "buy", Amount: 10, Price: 0.9995, TradeID: "1", Timestamp: time.Now()}}
	pv := model.PortfolioValue{
		TotalValueUSDT: 1000,
		Assets:         map[string]model.AssetValue{"USDT": {Amount: 1000, Price: 1, ValueUSDT: 1000}},
		Timestamp:      time.Now(),
	}

	mc.On("Enabled").Return(true)
	mc.On("GetAccountBalance", mock.Anything).Return(balances, nil)
	mc.On("GetMarketData", mock.Anything, mock.Anything).Return(marketData, nil)
	mc.On("GetRecentTrades", mock.Anything, 50).Return(trades, nil)
	mc.On("GetPortfolioValue", mock.Anything).Return(pv, nil)
	return mc
}

// failingClient stubs a client whose every call fails.
func failingClient(name string) *MockClient {
	mc := &MockClient{name: name}
	errDown := errors.New("exchange down")
	mc.On("Enabled").Return(true)
	mc.On("GetAccountBalance", mock.Anything).Return(nil, errDown)
	mc.On("GetMarketData", mock.Anything, mock.Anything).Return(nil, errDown)
	mc.On("GetRecentTrades", mock.Anything, 50).Return(nil, errDown)
	mc.On("GetPortfolioValue", mock.Anything).Return(model.PortfolioValue{}, errDown)
	return mc
}

func permissiveSink() *MockSink {
	sink := &MockSink{}
	sink.On("WriteBalances", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WriteTrades", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WriteMarketData", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WritePortfolioValue", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WriteStrategyPnL", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WriteHealthMetrics", mock.Anything, mock.Anything).Return(nil)
	return sink
}

func TestCollectExchange_PartialSuccessCountsAsSuccess(t *testing.T) {
	sink := permissiveSink()
	c := newTestCollector(sink)

	mc := &MockClient{name: "binance"}
	errDown := errors.New("exchange down")
	mc.On("Enabled").Return(true)
	mc.On("GetAccountBalance", mock.Anything).
		Return([]model.Balance{model.NewBalance("USDT", 100, 0, time.Now())}, nil)
	mc.On("GetMarketData", mock.Anything, mock.Anything).Return(nil, errDown)
	mc.On("GetRecentTrades", mock.Anything, 50).Return(nil, errDown)
	mc.On("GetPortfolioValue", mock.Anything).Return(model.PortfolioValue{}, errDown)

	ok := c.collectExchange(context.Background(), "binance", mc, newRoundState())
	assert.True(t, ok, "one successful sub-collection keeps the exchange a round success")
}

func TestCollectExchange_AllSubCollectionsFail(t *testing.T) {
	c := newTestCollector(permissiveSink())

	ok := c.collectExchange(context.Background(), "binance", failingClient("binance"), newRoundState())
	assert.False(t, ok)
}

func TestCollectExchange_DisabledExchange(t *testing.T) {
	c := newTestCollector(permissiveSink())

	mc := &MockClient{name: "binance"}
	mc.On("Enabled").Return(false)

	ok := c.collectExchange(context.Background(), "binance", mc, newRoundState())
	assert.False(t, ok)
	mc.AssertNotCalled(t, "GetAccountBalance")
}

func TestCollectRound_AggregatesPerExchangeOutcomes(t *testing.T) {
	sink := permissiveSink()
	c := newTestCollector(sink)
	c.exchanges["binance"] = healthyClient("binance")
	c.exchanges["htx"] = failingClient("htx")

	c.collectRound(context.Background())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.CollectionsCompleted)
	assert.Equal(t, int64(1), stats.CollectionsFailed)
	assert.False(t, stats.LastCollectionTime.IsZero())
}

func TestCollectRound_EmitsStrategyPnLForPositiveValue(t *testing.T) {
	sink := permissiveSink()
	c := newTestCollector(sink)
	c.exchanges["binance"] = healthyClient("binance")

	c.collectRound(context.Background())

	sink.AssertCalled(t, "WriteStrategyPnL", mock.Anything, "binance", 1000.0, mock.Anything)
}

func TestCollectRound_SinkFailureDoesNotAbortRound(t *testing.T) {
	sink := &MockSink{}
	sink.On("WriteBalances", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("sink down"))
	sink.On("WriteTrades", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WriteMarketData", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WritePortfolioValue", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("WriteStrategyPnL", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	c := newTestCollector(sink)
	c.exchanges["binance"] = healthyClient("binance")

	c.collectRound(context.Background())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.CollectionsCompleted, "remaining sub-collections still succeed")
}

func TestInitialize_ZeroAdaptersIsFatal(t *testing.T) {
	c := newTestCollector(permissiveSink())
	c.cfg.Exchanges = map[string]config.ExchangeConfig{
		"binance": {Enabled: true, APIKey: "k", APISecret: "s"},
	}
	c.newClient = func(name string, logger *slog.Logger, cfg config.ExchangeConfig) (exchange.Client, error) {
		mc := &MockClient{name: name}
		mc.On("Enabled").Return(true)
		mc.On("Initialize", mock.Anything).Return(errors.New("auth failed"))
		return mc, nil
	}

	err := c.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrNoExchanges)
	assert.Equal(t, StateStopped, c.State())
}

func TestInitialize_SurvivesPartialAdapterFailure(t *testing.T) {
	c := newTestCollector(permissiveSink())
	c.cfg.Exchanges = map[string]config.ExchangeConfig{
		"binance": {Enabled: true, APIKey: "k", APISecret: "s"},
		"htx":     {Enabled: true, APIKey: "k", APISecret: "s"},
	}
	c.newClient = func(name string, logger *slog.Logger, cfg config.ExchangeConfig) (exchange.Client, error) {
		mc := &MockClient{name: name}
		mc.On("Enabled").Return(true)
		if name == "htx" {
			mc.On("Initialize", mock.Anything).Return(errors.New("auth failed"))
		} else {
			mc.On("Initialize", mock.Anything).Return(nil)
		}
		return mc, nil
	}

	err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.exchanges, 1)
	assert.Contains(t, c.exchanges, "binance")
}

func TestInitialize_SkipsDisabledAndUncredentialed(t *testing.T) {
	c := newTestCollector(permissiveSink())
	c.cfg.Exchanges = map[string]config.ExchangeConfig{
		"binance": {Enabled: false},
		"htx":     {Enabled: true}, // no credentials
	}

	err := c.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrNoExchanges)
}

func TestHealthLoop_StopsEmittingAfterCancel(t *testing.T) {
	sink := permissiveSink()
	c := newTestCollector(sink)
	c.statsMu.Lock()
	c.stats.StartTime = time.Now()
	c.statsMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.healthLoop(ctx)
	}()

	// one-second interval: wait for at least one emission
	assert.Eventually(t, func() bool { return sink.healthWrites.Load() >= 1 },
		3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health loop did not stop on cancellation")
	}

	emitted := sink.healthWrites.Load()
	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, emitted, sink.healthWrites.Load(), "no emission may happen after cancellation")
}

func TestHealthMetrics_ReflectCounters(t *testing.T) {
	c := newTestCollector(permissiveSink())
	c.exchanges["binance"] = healthyClient("binance")
	c.statsMu.Lock()
	c.stats.CollectionsCompleted = 7
	c.stats.CollectionsFailed = 2
	c.stats.StartTime = time.Now().Add(-time.Minute)
	c.statsMu.Unlock()

	m := c.healthMetrics()
	assert.Equal(t, int64(7), m.CollectionsCompleted)
	assert.Equal(t, int64(2), m.CollectionsFailed)
	assert.Equal(t, 1, m.ExchangesActive)
	assert.GreaterOrEqual(t, m.TotalRuntimeSeconds, 59.0)
}

func TestStop_ClosesAdaptersAndReachesStopped(t *testing.T) {
	c := newTestCollector(permissiveSink())

	good := healthyClient("binance")
	good.On("Close").Return(nil)
	bad := failingClient("htx")
	bad.On("Close").Return(errors.New("close failed"))

	c.exchanges["binance"] = good
	c.exchanges["htx"] = bad

	c.Stop()

	good.AssertCalled(t, "Close")
	bad.AssertCalled(t, "Close")
	assert.Equal(t, StateStopped, c.State())
}
