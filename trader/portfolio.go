package trader

import (
	"fmt"
	"time"

	"warden/indicator"
	"warden/signal"
)

// Costs bundles the constants that price every fill.
type Costs struct {
	FeePct      float64
	SlippagePct float64
}

// EntryParams bundles the per-trade sizing and exit-anchor constants.
type EntryParams struct {
	PositionSizePct float64
	StopLossPct     float64
	TakeProfitPct   float64
	MaxPositions    int
	AllowShort      bool
	ShortMinConf    float64 // "SHORT entries require confidence >= 40"
}

// Portfolio holds cash, open positions, and the running accounting
// totals (fees paid, trade count, trade log) that every status report
// and the end-of-run summary are built from.
type Portfolio struct {
	InitialCapital float64
	Cash           float64
	Positions      map[string]*Position
	PeakValue      float64
	TotalFeesPaid  float64
	TotalTrades    int
	TradeLog       []Fill

	costs  Costs
	params EntryParams
}

// NewPortfolio creates a Portfolio seeded with initialCapital cash.
func NewPortfolio(initialCapital float64, costs Costs, params EntryParams) *Portfolio {
	return &Portfolio{
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		Positions:      make(map[string]*Position),
		PeakValue:      initialCapital,
		costs:          costs,
		params:         params,
	}
}

// Value returns the current portfolio value: cash plus every open
// position's mark-to-market contribution.
func (p *Portfolio) Value(prices map[string]float64) float64 {
	v := p.Cash
	for symbol, pos := range p.Positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		switch pos.Side {
		case Long:
			v += pos.Quantity * price
		case Short:
			v += pos.Quantity * (pos.EntryPrice - price)
		}
	}
	return v
}

// UpdatePeak bumps PeakValue to the current value if it is higher.
// Called once per tick, after all entries/exits for that tick have
// been processed.
func (p *Portfolio) UpdatePeak(prices map[string]float64) {
	v := p.Value(prices)
	if v > p.PeakValue {
		p.PeakValue = v
	}
}

// OpenLong executes a new LONG position sizeMultiplier
// is 1.0 normally, 0.5 under RiskState WARNING.
func (p *Portfolio) OpenLong(symbol string, price float64, atr float64, sizeMultiplier float64, now time.Time) (Fill, error) {
	if _, exists := p.Positions[symbol]; exists {
		return Fill{}, fmt.Errorf("trader: position already open for %s", symbol)
	}

	value := p.Cash * p.params.PositionSizePct * sizeMultiplier
	executionPrice := price * (1 + p.costs.SlippagePct)
	fee := value * p.costs.FeePct
	if value+fee > p.Cash {
		return Fill{}, fmt.Errorf("trader: insufficient cash to open %s LONG", symbol)
	}
	quantity := value / executionPrice

	p.Cash -= value + fee
	p.TotalFeesPaid += fee
	p.TotalTrades++

	// The wider (higher, more protective) of the two candidate stops
	// wins: it limits the loss on a LONG the most.
	stopFromPct := executionPrice * (1 - p.params.StopLossPct)
	stopFromATR := executionPrice - 2*atr
	stopLoss := stopFromPct
	if stopFromATR > stopLoss {
		stopLoss = stopFromATR
	}

	pos := &Position{
		Symbol:        symbol,
		Side:          Long,
		EntryPrice:    executionPrice,
		Quantity:      quantity,
		OpenedAt:      now,
		StopLossPrice: stopLoss,
		TakeProfitPct: p.params.TakeProfitPct,
	}
	p.Positions[symbol] = pos

	fill := Fill{
		Symbol: symbol, Side: Long, Action: "OPEN",
		Price: executionPrice, Quantity: quantity, Fee: fee,
		Slippage: executionPrice - price, Timestamp: now,
	}
	p.TradeLog = append(p.TradeLog, fill)
	return fill, nil
}

// OpenShort executes a new SHORT position
func (p *Portfolio) OpenShort(symbol string, price float64, atr float64, sizeMultiplier float64, now time.Time) (Fill, error) {
	if !p.params.AllowShort {
		return Fill{}, fmt.Errorf("trader: shorting disabled")
	}
	if _, exists := p.Positions[symbol]; exists {
		return Fill{}, fmt.Errorf("trader: position already open for %s", symbol)
	}

	value := p.Cash * p.params.PositionSizePct * sizeMultiplier
	executionPrice := price * (1 - p.costs.SlippagePct)
	fee := value * p.costs.FeePct
	if fee > p.Cash {
		return Fill{}, fmt.Errorf("trader: insufficient cash to open %s SHORT", symbol)
	}
	quantity := value / executionPrice

	// Shorts are collateralised by existing cash; only the fee debits
	// cash up front.
	p.Cash -= fee
	p.TotalFeesPaid += fee
	p.TotalTrades++

	// The tighter (lower, more protective) of the two candidate stops
	// wins: it limits the loss on a SHORT the most.
	stopFromPct := executionPrice * (1 + p.params.StopLossPct)
	stopFromATR := executionPrice + 2*atr
	stopLoss := stopFromPct
	if stopFromATR < stopLoss {
		stopLoss = stopFromATR
	}

	pos := &Position{
		Symbol:        symbol,
		Side:          Short,
		EntryPrice:    executionPrice,
		Quantity:      quantity,
		OpenedAt:      now,
		StopLossPrice: stopLoss,
		TakeProfitPct: p.params.TakeProfitPct,
	}
	p.Positions[symbol] = pos

	fill := Fill{
		Symbol: symbol, Side: Short, Action: "OPEN",
		Price: executionPrice, Quantity: quantity, Fee: fee,
		Slippage: price - executionPrice, Timestamp: now,
	}
	p.TradeLog = append(p.TradeLog, fill)
	return fill, nil
}

// Close liquidates an open position at price for the given reason,
// crediting/debiting cash and realising P&L
func (p *Portfolio) Close(symbol string, price float64, reason ExitReason, detail string, now time.Time) (Fill, error) {
	pos, ok := p.Positions[symbol]
	if !ok {
		return Fill{}, fmt.Errorf("trader: no open position for %s", symbol)
	}

	var fill Fill
	switch pos.Side {
	case Long:
		executionPrice := price * (1 - p.costs.SlippagePct)
		proceeds := pos.Quantity * executionPrice
		fee := proceeds * p.costs.FeePct
		pnl := (proceeds - fee) - pos.Quantity*pos.EntryPrice
		p.Cash += proceeds - fee
		fill = Fill{
			Symbol: symbol, Side: Long, Action: "CLOSE",
			Price: executionPrice, Quantity: pos.Quantity, Fee: fee,
			Slippage: price - executionPrice, RealizedPnL: pnl,
			Reason: closeReasonString(reason, detail), Timestamp: now,
		}
	default:
		executionPrice := price * (1 + p.costs.SlippagePct)
		cost := pos.Quantity * executionPrice
		fee := cost * p.costs.FeePct
		pnl := pos.Quantity*pos.EntryPrice - (cost + fee)
		p.Cash += pnl
		fill = Fill{
			Symbol: symbol, Side: Short, Action: "CLOSE",
			Price: executionPrice, Quantity: pos.Quantity, Fee: fee,
			Slippage: executionPrice - price, RealizedPnL: pnl,
			Reason: closeReasonString(reason, detail), Timestamp: now,
		}
	}

	p.TotalFeesPaid += fill.Fee
	p.TotalTrades++
	delete(p.Positions, symbol)
	p.TradeLog = append(p.TradeLog, fill)
	return fill, nil
}

// ForceCloseAll closes every open position immediately, used when the
// risk controller orders liquidation. Symbols with no mark price are
// skipped rather than erroring, since those feeds may be down too.
func (p *Portfolio) ForceCloseAll(prices map[string]float64, reason ExitReason, now time.Time) []Fill {
	var fills []Fill
	for symbol := range p.Positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if fill, err := p.Close(symbol, price, reason, "", now); err == nil {
			fills = append(fills, fill)
		}
	}
	return fills
}

// MaxPositions returns the configured cap on concurrently open
// positions.
func (p *Portfolio) MaxPositions() int { return p.params.MaxPositions }

// DesiredQuantity computes the base-asset quantity an entry at price
// would size to, given sizeMultiplier, using the same
// cash*PositionSizePct formula OpenLong/OpenShort apply internally.
// Exchange backends that cannot size from portfolio state themselves
// (a live venue) use this to know how much to submit.
func (p *Portfolio) DesiredQuantity(price float64, sizeMultiplier float64) float64 {
	if price <= 0 {
		return 0
	}
	value := p.Cash * p.params.PositionSizePct * sizeMultiplier
	return value / price
}

// EntryEligible reports whether a new position in symbol on the given
// side may be opened: the risk controller must be allowing new
// entries, the position cap must not be full, there must be no
// already-open position on the same side, and a SHORT must clear the
// minimum confidence floor.
func (p *Portfolio) EntryEligible(symbol string, side Side, confidence float64, allowNewEntries bool) bool {
	if !allowNewEntries {
		return false
	}
	if len(p.Positions) >= p.params.MaxPositions {
		return false
	}
	if pos, exists := p.Positions[symbol]; exists && pos.Side == side {
		return false
	}
	if side == Short && confidence < p.params.ShortMinConf {
		return false
	}
	return true
}

// Candidate is one entry-worthy signal awaiting ranking, used when
// multiple symbols have entry-worthy signals in the same tick.
type Candidate struct {
	Symbol         string
	Side           Side
	Price          float64
	ATR            float64
	Confidence     float64
	VolatilityPct  float64
	PriorMultiplier float64 // 1.0 unless the symbol carries a whitelist bonus
}

// Score computes the ranking score for a candidate.
func (c Candidate) Score() float64 {
	prior := c.PriorMultiplier
	if prior == 0 {
		prior = 1
	}
	return c.Confidence * (1 + c.VolatilityPct/100) * prior
}

// EvaluateExit runs the full priority chain for one open position
// against the current indicator/signal state. It
// returns (reason, detail, shouldClose).
func EvaluateExit(pos *Position, price float64, set indicator.Set, sig signal.Signal) (ExitReason, string, bool) {
	switch pos.Side {
	case Long:
		if price <= pos.StopLossPrice {
			return ExitStopLoss, fmt.Sprintf("price %.4f <= stop %.4f", price, pos.StopLossPrice), true
		}
		takeProfitPrice := pos.EntryPrice * (1 + pos.TakeProfitPct)
		if price >= takeProfitPrice {
			return ExitTakeProfit, fmt.Sprintf("price %.4f >= target %.4f", price, takeProfitPrice), true
		}
	case Short:
		if price >= pos.StopLossPrice {
			return ExitStopLoss, fmt.Sprintf("price %.4f >= stop %.4f", price, pos.StopLossPrice), true
		}
		takeProfitPrice := pos.EntryPrice * (1 - pos.TakeProfitPct)
		if price <= takeProfitPrice {
			return ExitTakeProfit, fmt.Sprintf("price %.4f <= target %.4f", price, takeProfitPrice), true
		}
	}

	profitPct := pos.UnrealizedPnLPct(price)

	if profitPct >= 1.0 {
		bearishCross := set.MACDLine < set.MACDSignal
		bullishCross := set.MACDLine > set.MACDSignal
		if (pos.Side == Long && bearishCross) || (pos.Side == Short && bullishCross) {
			return ExitMACDCrossover, fmt.Sprintf("profit %.2f%%, MACD crossed against position", profitPct), true
		}

		opposes := (pos.Side == Long && sig.Action == signal.Sell) || (pos.Side == Short && sig.Action == signal.Buy)
		if opposes && sig.Confidence >= 50 {
			return ExitIndicator, fmt.Sprintf("profit %.2f%%, opposing signal confidence %.1f", profitPct, sig.Confidence), true
		}
	}

	if profitPct >= 2.0 {
		opposes := (pos.Side == Long && sig.Action == signal.Sell) || (pos.Side == Short && sig.Action == signal.Buy)
		if opposes && sig.Confidence >= 35 {
			return ExitPartialProfit, fmt.Sprintf("profit %.2f%%, opposing signal confidence %.1f", profitPct, sig.Confidence), true
		}
	}

	return "", "", false
}

// ApplyTrailingStop tightens pos.StopLossPrice toward breakeven plus a
// 0.5%% buffer once profit reaches 1.5%%. The
// stop is monotonic: it never loosens.
func ApplyTrailingStop(pos *Position, price float64) {
	profitPct := pos.UnrealizedPnLPct(price)
	if profitPct < 1.5 {
		return
	}
	switch pos.Side {
	case Long:
		candidate := pos.EntryPrice * 1.005
		if candidate > pos.StopLossPrice {
			pos.StopLossPrice = candidate
			pos.TrailingActive = true
		}
	case Short:
		candidate := pos.EntryPrice * 0.995
		if candidate < pos.StopLossPrice {
			pos.StopLossPrice = candidate
			pos.TrailingActive = true
		}
	}
}
