// Package trader implements position and portfolio accounting, the
// exit-priority chain, and the exchange interface new orders flow
// through. Reasoning strings on every fill are short and
// human-readable, one per decision.
package trader

import (
	"fmt"
	"time"
)

// Side is a position's direction.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ExitReason records which rule in the priority chain closed a
// position.
type ExitReason string

const (
	ExitStopLoss        ExitReason = "STOP_LOSS"
	ExitTakeProfit      ExitReason = "TAKE_PROFIT"
	ExitMACDCrossover   ExitReason = "MACD_EXIT"
	ExitIndicator       ExitReason = "INDICATOR"
	ExitPartialProfit   ExitReason = "PARTIAL_PROFIT"
	ExitTrailingToBE    ExitReason = "TRAILING_STOP_BREAKEVEN"
	ExitRiskLiquidation ExitReason = "KILL_SWITCH"
	ExitManual          ExitReason = "MANUAL"
)

// Position is one open exposure to a symbol.
type Position struct {
	Symbol         string
	Side           Side
	EntryPrice     float64
	Quantity       float64
	OpenedAt       time.Time
	StopLossPrice  float64
	TakeProfitPct  float64
	PeakGainPct    float64 // not updated in this package; ApplyTrailingStop works from the current gain
	PartialTaken   bool
	TrailingActive bool
}

// Fill is a completed open or close, after fees and slippage.
type Fill struct {
	Symbol       string
	Side         Side
	Action       string // "OPEN" or "CLOSE"
	Price        float64
	Quantity     float64
	Fee          float64
	Slippage     float64
	RealizedPnL  float64 // only set on CLOSE
	Reason       string
	Timestamp    time.Time
}

// UnrealizedPnLPct returns the position's current percentage gain
// (positive) or loss (negative) at the given mark price.
func (p *Position) UnrealizedPnLPct(markPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	switch p.Side {
	case Long:
		return (markPrice - p.EntryPrice) / p.EntryPrice * 100
	default:
		return (p.EntryPrice - markPrice) / p.EntryPrice * 100
	}
}

// MarketValue is the position's notional value at the given mark
// price (always positive, regardless of side).
func (p *Position) MarketValue(markPrice float64) float64 {
	return p.Quantity * markPrice
}

func closeReasonString(r ExitReason, detail string) string {
	if detail == "" {
		return string(r)
	}
	return fmt.Sprintf("%s: %s", r, detail)
}
