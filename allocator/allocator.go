// Package allocator implements an optional multi-asset,
// target-weight portfolio manager running on its own weekly cadence
// alongside (or instead of) the symbol-level trader.
package allocator

import (
	"math"
	"time"
)

const (
	rebalanceCadence    = 7 * 24 * time.Hour
	deviationThreshold  = 0.05
	correlationWindow   = 30
	historyCapacity     = 100
)

// Asset is one holding in the target-weight portfolio. "USDC" (or
// whatever symbol carries IsStable) participates in weights but is
// excluded from correlation averaging.
type Asset struct {
	Symbol       string
	TargetWeight float64
	IsStable     bool

	Quantity float64
	prices   []float64 // bounded ring, oldest first
}

// RebalanceEvent records one executed rebalance.
type RebalanceEvent struct {
	Timestamp    time.Time
	Deviations   map[string]float64
	Correlations map[string]float64 // "SYM1/SYM2" -> Pearson r
}

// Manager holds the target-weight book.
type Manager struct {
	assets        map[string]*Asset
	order         []string
	lastRebalance time.Time
	events        []RebalanceEvent
}

// New builds a Manager. Weights must sum to 1 within 1e-3.
func New(assets []Asset, now time.Time) *Manager {
	m := &Manager{assets: make(map[string]*Asset, len(assets)), lastRebalance: now}
	for _, a := range assets {
		asset := a
		m.assets[asset.Symbol] = &asset
		m.order = append(m.order, asset.Symbol)
	}
	return m
}

// WeightsSumTo1 reports whether configured target weights sum to 1
// within the spec's 1e-3 tolerance.
func (m *Manager) WeightsSumTo1() bool {
	var sum float64
	for _, a := range m.assets {
		sum += a.TargetWeight
	}
	return math.Abs(sum-1) <= 1e-3
}

// UpdateValue ingests a fresh consensus price per asset, updates the
// bounded price history, and returns the current total value and
// per-asset weights.
func (m *Manager) UpdateValue(prices map[string]float64) (totalValue float64, weights map[string]float64) {
	for _, symbol := range m.order {
		asset := m.assets[symbol]
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		asset.pushPrice(price)
		totalValue += asset.Quantity * price
	}

	weights = make(map[string]float64, len(m.order))
	if totalValue == 0 {
		return totalValue, weights
	}
	for _, symbol := range m.order {
		asset := m.assets[symbol]
		price := asset.lastPrice()
		weights[symbol] = asset.Quantity * price / totalValue
	}
	return totalValue, weights
}

func (a *Asset) pushPrice(price float64) {
	a.prices = append(a.prices, price)
	if len(a.prices) > historyCapacity {
		a.prices = a.prices[len(a.prices)-historyCapacity:]
	}
}

func (a *Asset) lastPrice() float64 {
	if len(a.prices) == 0 {
		return 0
	}
	return a.prices[len(a.prices)-1]
}

// ShouldRebalance reports whether at least 7 days have elapsed since
// the last rebalance.
func (m *Manager) ShouldRebalance(now time.Time) bool {
	return now.Sub(m.lastRebalance) >= rebalanceCadence
}

// Rebalance recomputes holdings to match target weights if any
// asset's weight has drifted ≥5% absolute from its target; otherwise
// it is a no-op and lastRebalance is left untouched, so the 7-day
// cooldown keeps counting from whenever the portfolio last actually
// rebalanced.
func (m *Manager) Rebalance(now time.Time, prices map[string]float64) (RebalanceEvent, bool) {
	totalValue, weights := m.UpdateValue(prices)

	deviations := make(map[string]float64, len(m.order))
	drifted := false
	for _, symbol := range m.order {
		asset := m.assets[symbol]
		dev := weights[symbol] - asset.TargetWeight
		deviations[symbol] = dev
		if math.Abs(dev) >= deviationThreshold {
			drifted = true
		}
	}

	if !drifted {
		return RebalanceEvent{}, false
	}

	for _, symbol := range m.order {
		asset := m.assets[symbol]
		price := asset.lastPrice()
		if price == 0 {
			continue
		}
		targetValue := totalValue * asset.TargetWeight
		asset.Quantity = targetValue / price
	}
	m.lastRebalance = now

	event := RebalanceEvent{
		Timestamp:    now,
		Deviations:   deviations,
		Correlations: m.allPairwiseCorrelations(),
	}
	m.events = append(m.events, event)
	return event, true
}

// Correlation returns the Pearson correlation of simple returns for
// two assets over the last correlationWindow aligned observations.
// NaN-guarded: returns 0 when either series has no variance.
func (m *Manager) Correlation(symbolA, symbolB string) float64 {
	a, okA := m.assets[symbolA]
	b, okB := m.assets[symbolB]
	if !okA || !okB {
		return 0
	}
	return pearsonCorrelation(returnsOf(a.prices), returnsOf(b.prices))
}

func (m *Manager) allPairwiseCorrelations() map[string]float64 {
	out := make(map[string]float64)
	for i := 0; i < len(m.order); i++ {
		for j := i + 1; j < len(m.order); j++ {
			a, b := m.order[i], m.order[j]
			if m.assets[a].IsStable || m.assets[b].IsStable {
				continue
			}
			out[a+"/"+b] = m.Correlation(a, b)
		}
	}
	return out
}

// DiversificationMetrics reports the average absolute pairwise
// correlation across non-stable assets, the total absolute weight
// deviation, and days since the last rebalance.
func (m *Manager) DiversificationMetrics(now time.Time, prices map[string]float64) (avgAbsCorrelation, totalAbsDeviation, daysSinceRebalance float64) {
	_, weights := m.UpdateValue(prices)

	var sumCorr float64
	var pairCount int
	for i := 0; i < len(m.order); i++ {
		for j := i + 1; j < len(m.order); j++ {
			a, b := m.order[i], m.order[j]
			if m.assets[a].IsStable || m.assets[b].IsStable {
				continue
			}
			sumCorr += math.Abs(m.Correlation(a, b))
			pairCount++
		}
	}
	if pairCount > 0 {
		avgAbsCorrelation = sumCorr / float64(pairCount)
	}

	for _, symbol := range m.order {
		totalAbsDeviation += math.Abs(weights[symbol] - m.assets[symbol].TargetWeight)
	}

	daysSinceRebalance = now.Sub(m.lastRebalance).Hours() / 24
	return avgAbsCorrelation, totalAbsDeviation, daysSinceRebalance
}

func returnsOf(prices []float64) []float64 {
	n := len(prices)
	if n > correlationWindow+1 {
		prices = prices[n-correlationWindow-1:]
		n = len(prices)
	}
	if n < 2 {
		return nil
	}
	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	return returns
}

func pearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
