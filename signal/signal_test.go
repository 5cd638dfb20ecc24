package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"warden/indicator"
)

func TestGenerate_ShortHistoryForcesHold(t *testing.T) {
	set := indicator.Set{RSI: 10, Trend: indicator.Bullish}
	got := Generate(set, 100, 10)

	assert.Equal(t, Hold, got.Action)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestGenerate_BuyOnStrongBullishConfluence(t *testing.T) {
	set := indicator.Set{
		RSI:           20,
		MACDLine:      1,
		MACDSignal:    0.5,
		MACDHistogram: 0.5,
		BBLower:       105,
		Momentum10Pct: 3,
		Trend:         indicator.Bullish,
	}
	got := Generate(set, 100, 20)

	assert.Equal(t, Buy, got.Action)
	assert.Greater(t, got.Confidence, 0.0)
	assert.Len(t, got.Reasons, 4)
}

func TestGenerate_CounterTrendVotesAreClippedToZero(t *testing.T) {
	// RSI oversold but trend is BEARISH: the long vote must be
	// disallowed, so with nothing else firing the action is HOLD.
	set := indicator.Set{RSI: 20, Trend: indicator.Bearish, BBLower: 50, BBUpper: 200}
	got := Generate(set, 100, 20)

	assert.Equal(t, Hold, got.Action)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestGenerate_ExtremeRSIAloneStaysWithinConfidenceRange(t *testing.T) {
	// RSI < 25 contributes two vote slots instead of one, but every
	// other rule still contributes its own zero slot, so the mean's
	// denominator is 5, not 2 — confidence must land well inside
	// [0,100], not at 200.
	set := indicator.Set{RSI: 20, Trend: indicator.Bullish, BBLower: 90, BBUpper: 110}
	got := Generate(set, 100, 20)

	assert.Equal(t, Buy, got.Action)
	assert.InDelta(t, 40.0, got.Confidence, 1e-9)
}

func TestGenerate_SingleNonExtremeRSIAloneIsNotEnoughToAct(t *testing.T) {
	// A single weight-1 vote against a denominator of 4 (0.25) falls
	// short of the 0.3 action threshold, so the result is HOLD.
	set := indicator.Set{RSI: 28, Trend: indicator.Bullish, BBLower: 90, BBUpper: 110}
	got := Generate(set, 100, 20)

	assert.Equal(t, Hold, got.Action)
	assert.InDelta(t, 25.0, got.Confidence, 1e-9)
}

func TestGenerate_SellOnStrongBearishConfluence(t *testing.T) {
	set := indicator.Set{
		RSI:           80,
		MACDLine:      -1,
		MACDSignal:    -0.5,
		MACDHistogram: -0.5,
		BBUpper:       95,
		Momentum10Pct: -3,
		Trend:         indicator.Bearish,
	}
	got := Generate(set, 100, 20)

	assert.Equal(t, Sell, got.Action)
	assert.Greater(t, got.Confidence, 0.0)
}
