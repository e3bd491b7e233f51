package model

import "time"

// Balance represents one asset's holding on one exchange at a point in time.
// Total is always Free + Locked; construct through NewBalance.
type Balance struct {
	Asset     string
	Free      float64
	Locked    float64
	Total     float64
	Timestamp time.Time
}

// NewBalance builds a Balance with Total derived from Free and Locked.
func NewBalance(asset string, free, locked float64, ts time.Time) Balance {
	return Balance{
		Asset:     asset,
		Free:      free,
		Locked:    locked,
		Total:     free + locked,
		Timestamp: ts,
	}
}

// Trade represents a single executed fill on an exchange.
type Trade struct {
	Symbol    string
	Side      string // "buy" or "sell"
	Amount    float64
	Price     float64
	Fee       float64
	FeeAsset  string
	Timestamp time.Time
	TradeID   string
}

// MarketData is a 24h ticker snapshot for one symbol.
type MarketData struct {
	Symbol           string
	Price            float64
	Volume24h        float64
	Change24h        float64
	Change24hPercent float64
	High24h          float64
	Low24h           float64
	Timestamp        time.Time
}

// AssetValue is one asset's contribution to a portfolio valuation.
type AssetValue struct {
	Amount    float64
	Price     float64
	ValueUSDT float64
}

// PortfolioValue is the USDT-normalized valuation of one exchange's holdings.
// Assets without a discoverable USDT price appear in Assets with Price 0 and
// ValueUSDT 0 and are excluded from TotalValueUSDT.
type PortfolioValue struct {
	TotalValueUSDT float64
	Assets         map[string]AssetValue
	Timestamp      time.Time
}

// ArbitrageAction is the suggested direction for a detected spread.
type ArbitrageAction string

const (
	ActionBuyBinanceSellHTX ArbitrageAction = "buy_binance_sell_htx"
	ActionBuyHTXSellBinance ArbitrageAction = "buy_htx_sell_binance"
	ActionNone              ArbitrageAction = "no_action"
)

// ArbitrageOpportunity is a detected price spread between the two venues for
// the monitored stablecoin pair.
type ArbitrageOpportunity struct {
	Timestamp              time.Time
	BinancePrice           float64
	HTXPrice               float64
	PriceDiff              float64
	PriceDiffPercent       float64
	SuggestedAction        ArbitrageAction
	PotentialProfitPercent float64
}

// PnLData is one time-stamped profit-and-loss snapshot.
type PnLData struct {
	Timestamp            time.Time
	TotalValueUSDT       float64
	BinanceBalanceUSDT   float64
	HTXBalanceUSDT       float64
	DailyPnL             float64
	DailyPnLPercent      float64
	CumulativePnL        float64
	CumulativePnLPercent float64
}

// PerformanceStats summarizes the PnL history of the strategy.
type PerformanceStats struct {
	TotalReturnPercent      float64
	AnnualizedReturnPercent float64
	MaxDrawdownPercent      float64
	SharpeRatio             float64
	DaysRunning             int
	CurrentValueUSDT        float64
}

// HealthMetrics are the orchestrator-wide counters emitted by the health loop.
type HealthMetrics struct {
	CollectionsCompleted int64
	CollectionsFailed    int64
	ExchangesActive      int
	TotalRuntimeSeconds  float64
	MemoryUsageMB        float64
}
