package arbitrage

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/FXUD/SCOA-DASH/internal/config"
	"github.com/FXUD/SCOA-DASH/internal/model"
)

// Calculator holds the stablecoin-arbitrage price and PnL history and derives
// spread signals and running performance statistics. Histories are append-only;
// read-side queries return copied snapshots.
type Calculator struct {
	logger *slog.Logger

	initialCapital     float64
	transactionFee     float64
	minProfitThreshold float64
	historyLimit       int

	mu           sync.Mutex
	priceHistory []model.ArbitrageOpportunity
	pnlHistory   []model.PnLData
}

// NewCalculator creates a Calculator from the arbitrage configuration,
// applying the strategy defaults for any zero value.
func NewCalculator(logger *slog.Logger, cfg config.ArbitrageConfig) *Calculator {
	c := &Calculator{
		logger:             logger,
		initialCapital:     cfg.InitialCapital,
		transactionFee:     cfg.TransactionFee,
		minProfitThreshold: cfg.MinProfitThreshold,
		historyLimit:       cfg.HistoryLimit,
	}
	if c.initialCapital <= 0 {
		c.initialCapital = 10000.0
	}
	if c.transactionFee <= 0 {
		c.transactionFee = 0.001
	}
	if c.minProfitThreshold <= 0 {
		c.minProfitThreshold = 0.05
	}
	return c
}

// ComputeOpportunity derives a spread signal from the two venues' prices for
// the monitored pair and appends it to the history. Non-positive prices yield
// a no-action result that is not recorded. A zero timestamp means now.
func (c *Calculator) ComputeOpportunity(binancePrice, htxPrice float64, ts time.Time) model.ArbitrageOpportunity {
	if ts.IsZero() {
		ts = time.Now()
	}

	// Non-positive prices carry no signal and would poison the midpoint.
	if binancePrice <= 0 || htxPrice <= 0 {
		return model.ArbitrageOpportunity{
			Timestamp:       ts,
			BinancePrice:    binancePrice,
			HTXPrice:        htxPrice,
			SuggestedAction: model.ActionNone,
		}
	}

	priceDiff := binancePrice - htxPrice
	priceDiffPercent := priceDiff / ((binancePrice + htxPrice) / 2) * 100

	potentialProfit := math.Abs(priceDiffPercent) - c.transactionFee*2*100

	action := model.ActionNone
	switch {
	case priceDiffPercent > c.minProfitThreshold:
		// HTX is cheap, Binance expensive
		action = model.ActionBuyHTXSellBinance
	case priceDiffPercent < -c.minProfitThreshold:
		action = model.ActionBuyBinanceSellHTX
	}

	opp := model.ArbitrageOpportunity{
		Timestamp:              ts,
		BinancePrice:           binancePrice,
		HTXPrice:               htxPrice,
		PriceDiff:              priceDiff,
		PriceDiffPercent:       priceDiffPercent,
		SuggestedAction:        action,
		PotentialProfitPercent: math.Max(0, potentialProfit),
	}

	c.mu.Lock()
	c.priceHistory = appendBounded(c.priceHistory, opp, c.historyLimit)
	c.mu.Unlock()

	return opp
}

// ComputePnL values both venues' balances in USDT, derives daily and
// cumulative PnL, and appends the snapshot to the history. Daily PnL is
// nonzero only when ts falls on a different calendar day than the most recent
// entry, and is computed against that entry's total. A zero timestamp means now.
func (c *Calculator) ComputePnL(binanceBalances, htxBalances map[string]float64, prices map[string]float64, ts time.Time) model.PnLData {
	if ts.IsZero() {
		ts = time.Now()
	}

	binanceTotal := c.totalValueUSDT(binanceBalances, prices)
	htxTotal := c.totalValueUSDT(htxBalances, prices)
	totalValue := binanceTotal + htxTotal

	cumulativePnL := totalValue - c.initialCapital
	cumulativePnLPercent := cumulativePnL / c.initialCapital * 100

	var dailyPnL, dailyPnLPercent float64

	c.mu.Lock()
	if n := len(c.pnlHistory); n > 0 {
		last := c.pnlHistory[n-1]
		ly, lm, ld := last.Timestamp.Date()
		y, m, d := ts.Date()
		if y != ly || m != lm || d != ld {
			dailyPnL = totalValue - last.TotalValueUSDT
			if last.TotalValueUSDT != 0 {
				dailyPnLPercent = dailyPnL / last.TotalValueUSDT * 100
			}
		}
	}

	pnl := model.PnLData{
		Timestamp:            ts,
		TotalValueUSDT:       totalValue,
		BinanceBalanceUSDT:   binanceTotal,
		HTXBalanceUSDT:       htxTotal,
		DailyPnL:             dailyPnL,
		DailyPnLPercent:      dailyPnLPercent,
		CumulativePnL:        cumulativePnL,
		CumulativePnLPercent: cumulativePnLPercent,
	}
	c.pnlHistory = appendBounded(c.pnlHistory, pnl, c.historyLimit)
	c.mu.Unlock()

	return pnl
}

// totalValueUSDT values a stablecoin balance map in USDT. FDUSD and USDC
// convert through the supplied price table, falling back to a 1:1 rate when no
// live tick is available. The fallback silently assumes no depeg; this matches
// the documented strategy behavior.
func (c *Calculator) totalValueUSDT(balances map[string]float64, prices map[string]float64) float64 {
	total := 0.0
	for asset, amount := range balances {
		if amount <= 0 {
			continue
		}
		switch strings.ToUpper(asset) {
		case "USDT":
			total += amount
		case "FDUSD":
			total += amount * priceOrDefault(prices, "fdusd_usdt", 1.0)
		case "USDC":
			total += amount * priceOrDefault(prices, "usdc_usdt", 1.0)
		default:
			c.logger.Debug("unknown asset for valuation", "asset", asset)
		}
	}
	return total
}

// RecentOpportunities returns opportunities seen within the last `hours`.
func (c *Calculator) RecentOpportunities(hours int) []model.ArbitrageOpportunity {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.ArbitrageOpportunity
	for _, opp := range c.priceHistory {
		if !opp.Timestamp.Before(cutoff) {
			out = append(out, opp)
		}
	}
	return out
}

// RecentPnL returns PnL snapshots within the last `days`.
func (c *Calculator) RecentPnL(days int) []model.PnLData {
	cutoff := time.Now().AddDate(0, 0, -days)

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.PnLData
	for _, pnl := range c.pnlHistory {
		if !pnl.Timestamp.Before(cutoff) {
			out = append(out, pnl)
		}
	}
	return out
}

// PerformanceStats derives drawdown, annualized return and a simplified
// Sharpe ratio from the full PnL history. It returns nil when the history is
// empty.
func (c *Calculator) PerformanceStats() *model.PerformanceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pnlHistory) == 0 {
		return nil
	}

	latest := c.pnlHistory[len(c.pnlHistory)-1]

	// Max drawdown: peak-to-trough decline from the running maximum,
	// seeded at the initial capital.
	maxValue := c.initialCapital
	maxDrawdown := 0.0
	for _, pnl := range c.pnlHistory {
		if pnl.TotalValueUSDT > maxValue {
			maxValue = pnl.TotalValueUSDT
		}
		drawdown := (maxValue - pnl.TotalValueUSDT) / maxValue * 100
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}

	daysRunning := int(time.Since(c.pnlHistory[0].Timestamp).Hours() / 24)
	if daysRunning < 1 {
		daysRunning = 1
	}
	annualizedReturn := latest.CumulativePnLPercent / float64(daysRunning) * 365

	// Simplified Sharpe over period-over-period returns.
	var returns []float64
	for i := 1; i < len(c.pnlHistory); i++ {
		prev := c.pnlHistory[i-1].TotalValueUSDT
		if prev == 0 {
			continue
		}
		returns = append(returns, (c.pnlHistory[i].TotalValueUSDT-prev)/prev)
	}

	sharpe := 0.0
	if len(returns) > 0 {
		avg := mean(returns) * 365
		std := 0.0
		if len(returns) > 1 {
			std = stddev(returns) * math.Sqrt(365)
		}
		if std > 0 {
			sharpe = avg / std
		}
	}

	return &model.PerformanceStats{
		TotalReturnPercent:      latest.CumulativePnLPercent,
		AnnualizedReturnPercent: annualizedReturn,
		MaxDrawdownPercent:      maxDrawdown,
		SharpeRatio:             sharpe,
		DaysRunning:             daysRunning,
		CurrentValueUSDT:        latest.TotalValueUSDT,
	}
}

func priceOrDefault(prices map[string]float64, key string, def float64) float64 {
	if p, ok := prices[key]; ok && p > 0 {
		return p
	}
	return def
}

// appendBounded appends and, when limit > 0, drops the oldest entries to keep
// at most limit. A limit of 0 keeps the history unbounded.
func appendBounded[T any](history []T, entry T, limit int) []T {
	history = append(history, entry)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
