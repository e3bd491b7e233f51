package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/semaphore"

	"github.com/FXUD/SCOA-DASH/internal/arbitrage"
	"github.com/FXUD/SCOA-DASH/internal/cache"
	"github.com/FXUD/SCOA-DASH/internal/config"
	"github.com/FXUD/SCOA-DASH/internal/database"
	"github.com/FXUD/SCOA-DASH/internal/exchange"
	"github.com/FXUD/SCOA-DASH/internal/model"
)

// ErrNoExchanges is returned by Initialize when not a single configured
// exchange could be initialized. It is the only fatal collection error.
var ErrNoExchanges = errors.New("no exchanges were successfully initialized")

// State is the collector lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateInitializing
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// CollectionStats are the process-lifetime collection counters.
type CollectionStats struct {
	CollectionsCompleted int64
	CollectionsFailed    int64
	LastCollectionTime   time.Time
	StartTime            time.Time
}

// Collector owns the active exchange adapters and drives the periodic
// collection cycle: a two-level concurrent fan-out per round, a strategy-PnL
// pass, and an independent health-check loop.
type Collector struct {
	logger     *slog.Logger
	cfg        *config.Config
	sink       database.Sink
	priceCache *cache.PriceCache // may be nil when the cache is disabled
	calc       *arbitrage.Calculator

	exchanges map[string]exchange.Client
	sem       *semaphore.Weighted

	state atomic.Int32

	statsMu sync.Mutex
	stats   CollectionStats

	healthWG sync.WaitGroup

	newClient func(name string, logger *slog.Logger, cfg config.ExchangeConfig) (exchange.Client, error)
}

// New creates a Collector. priceCache may be nil.
func New(logger *slog.Logger, cfg *config.Config, sink database.Sink, priceCache *cache.PriceCache, calc *arbitrage.Calculator) *Collector {
	concurrent := cfg.DataCollection.ConcurrentRequests
	if concurrent <= 0 {
		concurrent = 5
	}
	return &Collector{
		logger:     logger,
		cfg:        cfg,
		sink:       sink,
		priceCache: priceCache,
		calc:       calc,
		exchanges:  make(map[string]exchange.Client),
		sem:        semaphore.NewWeighted(int64(concurrent)),
		newClient:  exchange.NewClient,
	}
}

// State reports the current lifecycle state.
func (c *Collector) State() State {
	return State(c.state.Load())
}

// Stats returns a copy of the collection counters.
func (c *Collector) Stats() CollectionStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Initialize constructs and initializes an adapter for every enabled exchange
// configuration entry. Adapters that fail are logged and excluded; it is fatal
// only when zero adapters survive.
func (c *Collector) Initialize(ctx context.Context) error {
	c.state.Store(int32(StateInitializing))

	for name, exCfg := range c.cfg.Exchanges {
		if !exCfg.Enabled {
			continue
		}

		client, err := c.newClient(name, c.logger, exCfg)
		if err != nil {
			c.logger.Warn("skipping unknown exchange", "exchange", name, "error", err)
			continue
		}
		if !client.Enabled() {
			c.logger.Warn("exchange enabled but missing credentials, skipping", "exchange", name)
			continue
		}
		if err := client.Initialize(ctx); err != nil {
			c.logger.Error("failed to initialize exchange", "exchange", name, "error", err)
			continue
		}

		c.exchanges[name] = client
		c.logger.Info("successfully initialized exchange", "exchange", name)
	}

	if len(c.exchanges) == 0 {
		c.state.Store(int32(StateStopped))
		return ErrNoExchanges
	}

	c.logger.Info("data collector initialized", "exchanges", len(c.exchanges))
	return nil
}

// Run drives the collection loop until ctx is cancelled. An in-flight round is
// allowed to finish; cancellation is honored between rounds and during the
// inter-round sleep. The health-check loop runs alongside and is cancelled on
// return.
func (c *Collector) Run(ctx context.Context) error {
	c.state.Store(int32(StateRunning))
	c.statsMu.Lock()
	c.stats.StartTime = time.Now()
	c.statsMu.Unlock()

	interval := time.Duration(c.cfg.DataCollection.IntervalMinutes) * time.Minute
	c.logger.Info("starting data collection", "interval", interval)

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	c.healthWG.Add(1)
	go func() {
		defer c.healthWG.Done()
		c.healthLoop(healthCtx)
	}()
	defer func() {
		cancelHealth()
		c.healthWG.Wait()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		// The round runs on its own context so shutdown does not abort
		// in-flight sink writes; the interval caps a stuck round.
		roundCtx, cancel := context.WithTimeout(context.Background(), interval)
		c.collectRound(roundCtx)
		cancel()

		c.logger.Info("data collection completed", "duration", time.Since(start).Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// Stop closes every adapter and reports final counters. The health loop is
// already cancelled by the time Run returns.
func (c *Collector) Stop() {
	c.state.Store(int32(StateStopping))
	c.logger.Info("stopping data collection service")

	for name, ex := range c.exchanges {
		if err := ex.Close(); err != nil {
			c.logger.Error("error closing exchange", "exchange", name, "error", err)
			continue
		}
		c.logger.Info("closed connection to exchange", "exchange", name)
	}

	stats := c.Stats()
	runtime := time.Duration(0)
	if !stats.StartTime.IsZero() {
		runtime = time.Since(stats.StartTime)
	}
	c.logger.Info("data collection stopped",
		"runtime", runtime.Round(time.Second),
		"completed", stats.CollectionsCompleted,
		"failed", stats.CollectionsFailed,
	)
	c.state.Store(int32(StateStopped))
}

// roundState carries the prices and valuations gathered during one round to
// the strategy-PnL pass and the calculator feed.
type roundState struct {
	mu         sync.Mutex
	pairPrices map[string]float64 // exchange -> monitored pair last price
	stable     map[string]float64 // conversion prices, e.g. "fdusd_usdt"
	portfolios map[string]model.PortfolioValue
}

func newRoundState() *roundState {
	return &roundState{
		pairPrices: make(map[string]float64),
		stable:     make(map[string]float64),
		portfolios: make(map[string]model.PortfolioValue),
	}
}

func (r *roundState) recordMarketData(exchangeName, pair string, marketData []model.MarketData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, md := range marketData {
		symbol := strings.ToUpper(md.Symbol)
		if symbol == pair {
			r.pairPrices[exchangeName] = md.Price
		}
		switch symbol {
		case "FDUSDUSDT":
			r.stable["fdusd_usdt"] = md.Price
		case "USDCUSDT":
			r.stable["usdc_usdt"] = md.Price
		}
	}
}

func (r *roundState) recordPortfolio(exchangeName string, pv model.PortfolioValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portfolios[exchangeName] = pv
}

func (r *roundState) pairPrice(exchangeName string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairPrices[exchangeName]
	return p, ok
}

func (r *roundState) portfolio(exchangeName string) (model.PortfolioValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pv, ok := r.portfolios[exchangeName]
	return pv, ok
}

// collectRound runs one full collection pass: the per-exchange fan-out, the
// stats update, then the strategy-PnL pass once all exchange tasks joined.
func (c *Collector) collectRound(ctx context.Context) {
	round := newRoundState()

	var wg sync.WaitGroup
	var successful, failed atomic.Int64
	for name, ex := range c.exchanges {
		wg.Add(1)
		go func(name string, ex exchange.Client) {
			defer wg.Done()
			if c.collectExchange(ctx, name, ex, round) {
				successful.Add(1)
			} else {
				failed.Add(1)
			}
		}(name, ex)
	}
	wg.Wait()

	c.statsMu.Lock()
	c.stats.CollectionsCompleted += successful.Load()
	c.stats.CollectionsFailed += failed.Load()
	c.stats.LastCollectionTime = time.Now()
	c.statsMu.Unlock()

	if failed.Load() > 0 {
		c.logger.Warn("collection round completed with failures",
			"successful", successful.Load(), "failed", failed.Load())
	} else {
		c.logger.Info("collection round completed", "successful", successful.Load())
	}

	c.collectStrategyPnL(ctx, round)
}

// collectExchange concurrently runs the four sub-collections for one exchange.
// The exchange counts as a round success when at least one sub-collection
// succeeded.
func (c *Collector) collectExchange(ctx context.Context, name string, ex exchange.Client, round *roundState) bool {
	if !ex.Enabled() {
		c.logger.Warn("exchange is not enabled", "exchange", name)
		return false
	}

	c.logger.Debug("collecting data from exchange", "exchange", name)

	subs := []func(context.Context, string, exchange.Client, *roundState) bool{
		c.collectBalances,
		c.collectMarketData,
		c.collectTrades,
		c.collectPortfolio,
	}

	results := make([]bool, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub func(context.Context, string, exchange.Client, *roundState) bool) {
			defer wg.Done()
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer c.sem.Release(1)
			results[i] = sub(ctx, name, ex, round)
		}(i, sub)
	}
	wg.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}

	switch {
	case n == len(subs):
		c.logger.Debug("collected all data types", "exchange", name)
	case n > 0:
		c.logger.Warn("partial collection for exchange", "exchange", name, "successful", n, "total", len(subs))
	default:
		c.logger.Error("all collections failed for exchange", "exchange", name)
	}
	return n > 0
}

func (c *Collector) collectBalances(ctx context.Context, name string, ex exchange.Client, _ *roundState) bool {
	balances, err := ex.GetAccountBalance(ctx)
	if err != nil {
		c.logger.Error("failed to collect balance data", "exchange", name, "error", err)
		return false
	}
	if len(balances) == 0 {
		return false
	}
	if err := c.sink.WriteBalances(ctx, name, balances); err != nil {
		c.logger.Error("failed to write balance data", "exchange", name, "error", err)
		return false
	}
	c.logger.Debug("collected balance records", "exchange", name, "count", len(balances))
	return true
}

func (c *Collector) collectMarketData(ctx context.Context, name string, ex exchange.Client, round *roundState) bool {
	marketData, err := ex.GetMarketData(ctx)
	if err != nil {
		c.logger.Error("failed to collect market data", "exchange", name, "error", err)
		return false
	}
	if len(marketData) == 0 {
		return false
	}

	round.recordMarketData(name, strings.ToUpper(c.cfg.Arbitrage.Pair), marketData)
	if c.priceCache != nil {
		for _, md := range marketData {
			if err := c.priceCache.SetPrice(ctx, name, md.Symbol, md.Price); err != nil {
				c.logger.Warn("failed to cache price", "exchange", name, "symbol", md.Symbol, "error", err)
				break
			}
		}
	}

	if err := c.sink.WriteMarketData(ctx, name, marketData); err != nil {
		c.logger.Error("failed to write market data", "exchange", name, "error", err)
		return false
	}
	c.logger.Debug("collected market data", "exchange", name, "symbols", len(marketData))
	return true
}

func (c *Collector) collectTrades(ctx context.Context, name string, ex exchange.Client, _ *roundState) bool {
	limit := c.cfg.DataCollection.TradeLimit
	if limit <= 0 {
		limit = 50
	}
	trades, err := ex.GetRecentTrades(ctx, limit)
	if err != nil {
		c.logger.Error("failed to collect trade data", "exchange", name, "error", err)
		return false
	}
	if len(trades) == 0 {
		return false
	}
	if err := c.sink.WriteTrades(ctx, name, trades); err != nil {
		c.logger.Error("failed to write trade data", "exchange", name, "error", err)
		return false
	}
	c.logger.Debug("collected trade records", "exchange", name, "count", len(trades))
	return true
}

func (c *Collector) collectPortfolio(ctx context.Context, name string, ex exchange.Client, round *roundState) bool {
	pv, err := ex.GetPortfolioValue(ctx)
	if err != nil {
		c.logger.Error("failed to collect portfolio data", "exchange", name, "error", err)
		return false
	}
	round.recordPortfolio(name, pv)
	if pv.TotalValueUSDT <= 0 {
		return false
	}
	if err := c.sink.WritePortfolioValue(ctx, name, pv); err != nil {
		c.logger.Error("failed to write portfolio data", "exchange", name, "error", err)
		return false
	}
	c.logger.Debug("collected portfolio value", "exchange", name, "total_value_usdt", pv.TotalValueUSDT)
	return true
}

// collectStrategyPnL runs the second concurrent pass of a round: per exchange,
// reuse (or re-fetch) the portfolio value and emit a strategy PnL point for
// any exchange holding positive value. A single exchange's failure is skipped.
// The pass then feeds the arbitrage calculator with the round's prices.
func (c *Collector) collectStrategyPnL(ctx context.Context, round *roundState) {
	now := time.Now()

	var wg sync.WaitGroup
	for name, ex := range c.exchanges {
		wg.Add(1)
		go func(name string, ex exchange.Client) {
			defer wg.Done()

			pv, ok := round.portfolio(name)
			if !ok {
				var err error
				pv, err = ex.GetPortfolioValue(ctx)
				if err != nil {
					c.logger.Error("failed to collect strategy pnl", "exchange", name, "error", err)
					return
				}
				round.recordPortfolio(name, pv)
			}

			if pv.TotalValueUSDT <= 0 {
				return
			}
			if err := c.sink.WriteStrategyPnL(ctx, name, pv.TotalValueUSDT, now); err != nil {
				c.logger.Error("failed to write strategy pnl", "exchange", name, "error", err)
				return
			}
			c.logger.Debug("strategy pnl recorded", "exchange", name, "total_value_usdt", pv.TotalValueUSDT)
		}(name, ex)
	}
	wg.Wait()

	c.feedCalculator(ctx, round, now)
	c.logger.Info("strategy pnl collection completed")
}

// feedCalculator updates the arbitrage calculator from the round's data: a
// spread signal when both venues produced a price for the monitored pair, and
// a PnL snapshot from the valuations gathered this round.
func (c *Collector) feedCalculator(ctx context.Context, round *roundState, now time.Time) {
	pair := strings.ToUpper(c.cfg.Arbitrage.Pair)

	binancePrice, okB := round.pairPrice("binance")
	if !okB {
		binancePrice, okB = c.cachedPrice(ctx, "binance", pair)
	}
	htxPrice, okH := round.pairPrice("htx")
	if !okH {
		htxPrice, okH = c.cachedPrice(ctx, "htx", pair)
	}

	if okB && okH {
		opp := c.calc.ComputeOpportunity(binancePrice, htxPrice, now)
		if opp.SuggestedAction != model.ActionNone {
			c.logger.Info("arbitrage opportunity detected",
				"action", string(opp.SuggestedAction),
				"binance_price", opp.BinancePrice,
				"htx_price", opp.HTXPrice,
				"spread_percent", opp.PriceDiffPercent,
				"potential_profit_percent", opp.PotentialProfitPercent,
			)
		}
	}

	binancePV, okPB := round.portfolio("binance")
	htxPV, okPH := round.portfolio("htx")
	if !okPB && !okPH {
		return
	}

	round.mu.Lock()
	prices := make(map[string]float64, len(round.stable))
	for k, v := range round.stable {
		prices[k] = v
	}
	round.mu.Unlock()

	pnl := c.calc.ComputePnL(assetAmounts(binancePV), assetAmounts(htxPV), prices, now)
	c.logger.Debug("pnl snapshot computed",
		"total_value_usdt", pnl.TotalValueUSDT,
		"cumulative_pnl", pnl.CumulativePnL,
		"daily_pnl", pnl.DailyPnL,
	)
}

func (c *Collector) cachedPrice(ctx context.Context, exchangeName, symbol string) (float64, bool) {
	if c.priceCache == nil {
		return 0, false
	}
	return c.priceCache.GetPrice(ctx, exchangeName, symbol)
}

func assetAmounts(pv model.PortfolioValue) map[string]float64 {
	amounts := make(map[string]float64, len(pv.Assets))
	for asset, av := range pv.Assets {
		amounts[asset] = av.Amount
	}
	return amounts
}

// healthLoop periodically emits orchestrator-wide counters until cancelled.
func (c *Collector) healthLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.Monitoring.HealthCheckInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("health check loop stopped")
			return
		case <-ticker.C:
			metrics := c.healthMetrics()
			if err := c.sink.WriteHealthMetrics(ctx, metrics); err != nil {
				c.logger.Error("failed to write health metrics", "error", err)
				continue
			}
			c.logger.Debug("health check",
				"completed", metrics.CollectionsCompleted,
				"failed", metrics.CollectionsFailed,
				"exchanges_active", metrics.ExchangesActive,
				"memory_usage_mb", metrics.MemoryUsageMB,
			)
		}
	}
}

func (c *Collector) healthMetrics() model.HealthMetrics {
	stats := c.Stats()
	runtime := 0.0
	if !stats.StartTime.IsZero() {
		runtime = time.Since(stats.StartTime).Seconds()
	}
	return model.HealthMetrics{
		CollectionsCompleted: stats.CollectionsCompleted,
		CollectionsFailed:    stats.CollectionsFailed,
		ExchangesActive:      len(c.exchanges),
		TotalRuntimeSeconds:  runtime,
		MemoryUsageMB:        processMemoryMB(),
	}
}

// processMemoryMB reports the resident set size, degrading to zero when the
// probe fails.
func processMemoryMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / 1024 / 1024
}
