// Package signal combines an indicator.Set and a
// trend filter into a trading Signal via a set of signed, trend-gated
// votes. Vote direction is clipped to zero whenever the
// trend filter disagrees — long entries are disallowed outside
// BULLISH, shorts outside BEARISH, by design.
package signal

import (
	"fmt"
	"math"

	"warden/indicator"
)

// Action is the generator's recommendation.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Signal is the generator's output.
type Signal struct {
	Action     Action
	Confidence float64
	Reasons    []string
	Indicators indicator.Set
}

// minHistoryForSignal is the floor below which the generator is
// forced to HOLD regardless of indicator readings.
const minHistoryForSignal = 15

// Generate derives a Signal from the full indicator set and the
// current price. historyLen is the number of price observations the
// indicator set was computed from.
func Generate(set indicator.Set, price float64, historyLen int) Signal {
	if historyLen < minHistoryForSignal {
		return Signal{
			Action:     Hold,
			Confidence: 0,
			Reasons:    []string{"gathering data: fewer than 15 samples in history"},
			Indicators: set,
		}
	}

	var votes []float64
	var reasons []string

	rsiVotes, rsiReason := rsiVote(set)
	votes = append(votes, rsiVotes...)
	if rsiReason != "" {
		reasons = append(reasons, rsiReason)
	}

	macdV, macdReason := macdVote(set)
	votes = append(votes, macdV)
	if macdReason != "" {
		reasons = append(reasons, macdReason)
	}

	bbV, bbReason := bollingerVote(set, price)
	votes = append(votes, bbV)
	if bbReason != "" {
		reasons = append(reasons, bbReason)
	}

	momV, momReason := momentumVote(set)
	votes = append(votes, momV)
	if momReason != "" {
		reasons = append(reasons, momReason)
	}

	if len(reasons) == 0 {
		return Signal{
			Action:     Hold,
			Confidence: 0,
			Reasons:    []string{"no indicator votes cast this tick"},
			Indicators: set,
		}
	}

	m := meanOf(votes)
	confidence := math.Abs(m) * 100

	action := Hold
	switch {
	case m > 0.3:
		action = Buy
	case m < -0.3:
		action = Sell
	}

	return Signal{
		Action:     action,
		Confidence: confidence,
		Reasons:    reasons,
		Indicators: set,
	}
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// rsiVote returns one vote slot per firing (two at the extreme
// oversold/overbought tier, matching the weighted-duplication the
// reference strategy uses instead of a doubled magnitude), or a
// single zero slot when RSI doesn't warrant a vote this tick — every
// other vote contributes exactly one slot, so the mean's denominator
// stays 4 (5 only when RSI fires at its extreme tier).
func rsiVote(set indicator.Set) ([]float64, string) {
	switch {
	case set.RSI < 30 && set.Trend == indicator.Bullish:
		n := 1
		if set.RSI < 25 {
			n = 2
		}
		votes := make([]float64, n)
		for i := range votes {
			votes[i] = 1
		}
		return votes, fmt.Sprintf("RSI %.1f oversold in BULLISH trend", set.RSI)
	case set.RSI > 70 && set.Trend == indicator.Bearish:
		n := 1
		if set.RSI > 75 {
			n = 2
		}
		votes := make([]float64, n)
		for i := range votes {
			votes[i] = -1
		}
		return votes, fmt.Sprintf("RSI %.1f overbought in BEARISH trend", set.RSI)
	}
	return []float64{0}, ""
}

func macdVote(set indicator.Set) (float64, string) {
	switch {
	case set.MACDHistogram > 0 && set.MACDLine > set.MACDSignal && set.Trend == indicator.Bullish:
		return 1, "MACD bullish crossover in BULLISH trend"
	case set.MACDHistogram < 0 && set.MACDLine < set.MACDSignal && set.Trend == indicator.Bearish:
		return -1, "MACD bearish crossover in BEARISH trend"
	}
	return 0, ""
}

func bollingerVote(set indicator.Set, price float64) (float64, string) {
	switch {
	case price < set.BBLower && set.Trend == indicator.Bullish:
		return 1, "price below lower Bollinger band in BULLISH trend"
	case price > set.BBUpper && set.Trend == indicator.Bearish:
		return -1, "price above upper Bollinger band in BEARISH trend"
	}
	return 0, ""
}

// momentumVote is gated by the trend filter like every other vote,
// applied uniformly even though momentum has no separate untrended
// variant documented elsewhere.
func momentumVote(set indicator.Set) (float64, string) {
	switch {
	case set.Momentum10Pct > 2 && set.Trend == indicator.Bullish:
		return 1, fmt.Sprintf("momentum %.2f%% > +2%% in BULLISH trend", set.Momentum10Pct)
	case set.Momentum10Pct < -2 && set.Trend == indicator.Bearish:
		return -1, fmt.Sprintf("momentum %.2f%% < -2%% in BEARISH trend", set.Momentum10Pct)
	}
	return 0, ""
}
