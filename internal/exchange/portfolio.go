package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FXUD/SCOA-DASH/internal/model"
)

// BuildPriceTable derives an asset -> USDT price table from market data by
// taking every symbol ending in USDT and stripping the suffix.
func BuildPriceTable(marketData []model.MarketData) map[string]float64 {
	prices := make(map[string]float64, len(marketData))
	for _, md := range marketData {
		symbol := strings.ToUpper(md.Symbol)
		if strings.HasSuffix(symbol, "USDT") && symbol != "USDT" {
			asset := strings.TrimSuffix(symbol, "USDT")
			prices[asset] = md.Price
		}
	}
	return prices
}

// ValuePortfolio converts a balance set and a price table into a USDT
// valuation. USDT values at 1.0. An asset without a price is retained in the
// breakdown with price 0 and value 0 and excluded from the total; a missing
// price is a normal case, never an error.
func ValuePortfolio(balances []model.Balance, prices map[string]float64) model.PortfolioValue {
	pv := model.PortfolioValue{
		Assets:    make(map[string]model.AssetValue),
		Timestamp: time.Now(),
	}

	for _, b := range balances {
		if b.Total <= 0 {
			continue
		}
		asset := strings.ToUpper(b.Asset)

		var price, value float64
		switch {
		case asset == "USDT":
			price, value = 1.0, b.Total
		default:
			if p, ok := prices[asset]; ok {
				price, value = p, b.Total*p
			}
		}

		pv.Assets[asset] = model.AssetValue{
			Amount:    b.Total,
			Price:     price,
			ValueUSDT: value,
		}
		pv.TotalValueUSDT += value
	}

	return pv
}

// FetchPortfolioValue composes an adapter's balance and market-data calls into
// a valuation. Defined once so every adapter shares identical logic.
func FetchPortfolioValue(ctx context.Context, c Client) (model.PortfolioValue, error) {
	balances, err := c.GetAccountBalance(ctx)
	if err != nil {
		return model.PortfolioValue{}, fmt.Errorf("fetch balances: %w", err)
	}

	marketData, err := c.GetMarketData(ctx)
	if err != nil {
		return model.PortfolioValue{}, fmt.Errorf("fetch market data: %w", err)
	}

	return ValuePortfolio(balances, BuildPriceTable(marketData)), nil
}
