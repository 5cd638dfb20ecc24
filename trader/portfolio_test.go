package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/indicator"
	"warden/signal"
)

func testCosts() Costs { return Costs{FeePct: 0.001, SlippagePct: 0.0005} }

func testParams() EntryParams {
	return EntryParams{
		PositionSizePct: 0.10,
		StopLossPct:     0.02,
		TakeProfitPct:   0.03,
		MaxPositions:    3,
		AllowShort:      true,
		ShortMinConf:    40,
	}
}

func TestOpenLong_RoundTripWithNoPriceChangeLosesTwiceFeePlusSlippage(t *testing.T) {
	p := NewPortfolio(1000, testCosts(), testParams())
	now := time.Now()

	_, err := p.OpenLong("BTC", 100, 1, 1.0, now)
	require.NoError(t, err)

	fill, err := p.Close("BTC", 100, ExitManual, "", now)
	require.NoError(t, err)

	assert.Less(t, fill.RealizedPnL, 0.0)
	// Two fees plus twice the slippage on the notional, within tolerance.
	// RealizedPnL books only the exit fee (the entry fee was debited at
	// open), so the full round-trip loss is the change in cash.
	notional := 1000 * 0.10
	expectedLoss := 2*notional*testCosts().FeePct + 2*notional*testCosts().SlippagePct
	assert.InDelta(t, -expectedLoss, p.Cash-1000, 1e-3)
}

func TestOpenLong_WarningHalvesSize(t *testing.T) {
	p := NewPortfolio(1000, testCosts(), testParams())
	now := time.Now()

	fill, err := p.OpenLong("BTC", 100, 1, 0.5, now)
	require.NoError(t, err)

	assert.InDelta(t, 50, fill.Price*fill.Quantity, 0.1)
	assert.InDelta(t, 100.05, fill.Price, 0.001)
}

func TestOpenLong_StopLossIsWiderOfPctAndATR(t *testing.T) {
	p := NewPortfolio(1000, testCosts(), testParams())
	now := time.Now()

	p.OpenLong("BTC", 100, 1, 1.0, now)
	pos := p.Positions["BTC"]
	assert.InDelta(t, 98, pos.StopLossPrice, 0.2)
}

func TestStopLossNeverLoosensOnLong(t *testing.T) {
	pos := &Position{Side: Long, EntryPrice: 100, StopLossPrice: 98}
	ApplyTrailingStop(pos, 101) // profit 1%, below the 1.5% trigger
	assert.Equal(t, 98.0, pos.StopLossPrice)

	ApplyTrailingStop(pos, 101.5) // profit 1.5%, tightens to 100.5
	assert.InDelta(t, 100.5, pos.StopLossPrice, 0.001)

	ApplyTrailingStop(pos, 99) // price fell; stop must not loosen back down
	assert.InDelta(t, 100.5, pos.StopLossPrice, 0.001)
}

func TestEvaluateExit_TrailingStopFiresAfterTightening(t *testing.T) {
	pos := &Position{Side: Long, EntryPrice: 100, StopLossPrice: 98, TakeProfitPct: 0.03}
	ApplyTrailingStop(pos, 101.5)
	require.InDelta(t, 100.5, pos.StopLossPrice, 0.001)

	reason, _, closed := EvaluateExit(pos, 100.4, indicator.Set{}, signal.Signal{Action: signal.Hold})
	assert.True(t, closed)
	assert.Equal(t, ExitStopLoss, reason)
}

func TestEvaluateExit_MACDCrossoverOnlyWhenInProfit(t *testing.T) {
	pos := &Position{Side: Long, EntryPrice: 100, StopLossPrice: 90, TakeProfitPct: 0.10}
	set := indicator.Set{MACDLine: -1, MACDSignal: 0}

	_, _, closed := EvaluateExit(pos, 100.2, set, signal.Signal{Action: signal.Hold})
	assert.False(t, closed, "profit below 1%% should not trigger MACD exit")

	reason, _, closed := EvaluateExit(pos, 102, set, signal.Signal{Action: signal.Hold})
	assert.True(t, closed)
	assert.Equal(t, ExitMACDCrossover, reason)
}

func TestEvaluateExit_OpposingSignalExit(t *testing.T) {
	pos := &Position{Side: Long, EntryPrice: 100, StopLossPrice: 90, TakeProfitPct: 0.10}
	set := indicator.Set{MACDLine: 1, MACDSignal: 0.5}

	reason, _, closed := EvaluateExit(pos, 101.2, set, signal.Signal{Action: signal.Sell, Confidence: 60})
	assert.True(t, closed)
	assert.Equal(t, ExitIndicator, reason)
}

func TestEntryEligible_RespectsMaxPositionsAndSameSideAndShortConfidence(t *testing.T) {
	p := NewPortfolio(1000, testCosts(), testParams())
	now := time.Now()
	p.OpenLong("BTC", 100, 1, 1.0, now)

	assert.False(t, p.EntryEligible("BTC", Long, 90, true), "already holds a LONG in BTC")
	assert.True(t, p.EntryEligible("ETH", Long, 90, true))
	assert.False(t, p.EntryEligible("ETH", Short, 30, true), "SHORT confidence below threshold")
	assert.True(t, p.EntryEligible("ETH", Short, 50, true))
	assert.False(t, p.EntryEligible("ETH", Long, 90, false), "risk controller denies new entries")
}

func TestPortfolioValue_SumsCashAndMarkedPositions(t *testing.T) {
	p := NewPortfolio(1000, testCosts(), testParams())
	now := time.Now()
	p.OpenLong("BTC", 100, 1, 1.0, now)
	p.OpenShort("ETH", 50, 1, 1.0, now)

	value := p.Value(map[string]float64{"BTC": 110, "ETH": 45})
	assert.Greater(t, value, 0.0)
}

func TestCandidateScore_ConfidenceScaledByVolatilityAndPrior(t *testing.T) {
	c := Candidate{Confidence: 50, VolatilityPct: 20, PriorMultiplier: 1.2}
	assert.InDelta(t, 50*1.2*1.2, c.Score(), 1e-9)
}
