package trader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperExchange_PlaceMarketOrderDelegatesToPortfolio(t *testing.T) {
	portfolio := NewPortfolio(1000, testCosts(), testParams())
	prices := map[string]float64{"BTC": 100}
	exchange := NewPaperExchange(portfolio, func(symbol string) (float64, float64) {
		return prices[symbol], 1
	})

	fill, err := exchange.PlaceMarketOrder(context.Background(), "BTC", Long, 0, 1.0)
	require.NoError(t, err)

	assert.Equal(t, "OPEN", fill.Action)
	assert.Contains(t, portfolio.Positions, "BTC")
}

func TestPaperExchange_PlaceMarketOrderAppliesSizeMultiplier(t *testing.T) {
	portfolio := NewPortfolio(1000, testCosts(), testParams())
	prices := map[string]float64{"BTC": 100}
	exchange := NewPaperExchange(portfolio, func(symbol string) (float64, float64) {
		return prices[symbol], 1
	})

	fill, err := exchange.PlaceMarketOrder(context.Background(), "BTC", Long, 0, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 50, fill.Price*fill.Quantity, 0.1)
}

func TestPaperExchange_AccountBalanceReflectsCash(t *testing.T) {
	portfolio := NewPortfolio(1000, testCosts(), testParams())
	exchange := NewPaperExchange(portfolio, nil)

	balance, err := exchange.AccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, balance)
}
