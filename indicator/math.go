package indicator

import "math"

// RSI computes Wilder's RSI over the last p deltas of closes, clamped
// to the longest valid sub-window (floor minSamples). If avg_loss == 0
// the result is 100.
func RSI(closes []float64, p int) float64 {
	n := len(closes)
	if n < minSamples+1 {
		return 50
	}
	window := clampWindow(p, n-1)
	start := n - window - 1
	if start < 0 {
		start = 0
	}
	series := closes[start:]

	var avgGain, avgLoss float64
	for i := 1; i <= window && i < len(series); i++ {
		change := series[i] - series[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(window)
	avgLoss /= float64(window)

	for i := window + 1; i < len(series); i++ {
		change := series[i] - series[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(window-1) + change) / float64(window)
			avgLoss = (avgLoss * float64(window-1)) / float64(window)
		} else {
			avgGain = (avgGain * float64(window-1)) / float64(window)
			avgLoss = (avgLoss*float64(window-1) + (-change)) / float64(window)
		}
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// EMA computes the standard recursive exponential moving average with
// smoothing 2/(p+1), seeded with the series' first element.
func EMA(closes []float64, p int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if p < 1 {
		p = 1
	}
	multiplier := 2.0 / float64(p+1)
	ema := closes[0]
	for i := 1; i < len(closes); i++ {
		ema = (closes[i]-ema)*multiplier + ema
	}
	return ema
}

// emaSeries returns the full EMA series (same length as closes) so
// MACD's signal line can be computed as an EMA of the MACD series.
func emaSeries(closes []float64, p int) []float64 {
	if len(closes) == 0 {
		return nil
	}
	if p < 1 {
		p = 1
	}
	multiplier := 2.0 / float64(p+1)
	out := make([]float64, len(closes))
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = (closes[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}

// MACD returns (macdLine, signalLine, histogram). With short histories
// the fast/slow/signal periods scale down proportionally: fast in
// [5,12], slow in [10,26], signal in [3,9].
func MACD(closes []float64) (float64, float64, float64) {
	n := len(closes)
	if n < minSamples {
		return 0, 0, 0
	}

	fast, slow, signal := 12, 26, 9
	if n < 26 {
		ratio := float64(n) / 26.0
		fast = scalePeriod(12, ratio, 5, 12)
		slow = scalePeriod(26, ratio, 10, 26)
		signal = scalePeriod(9, ratio, 3, 9)
	}

	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)
	macdSeries := make([]float64, n)
	for i := range closes {
		macdSeries[i] = fastSeries[i] - slowSeries[i]
	}
	signalSeries := emaSeries(macdSeries, signal)

	macdLine := macdSeries[n-1]
	signalLine := signalSeries[n-1]
	return macdLine, signalLine, macdLine - signalLine
}

func scalePeriod(nominal int, ratio float64, lo, hi int) int {
	p := int(math.Round(float64(nominal) * ratio))
	if p < lo {
		p = lo
	}
	if p > hi {
		p = hi
	}
	return p
}

// BollingerBands returns (upper, mid, lower) using an SMA +/- k*stdev
// over the last p samples, clamped to the available history.
func BollingerBands(closes []float64, p int, k float64) (float64, float64, float64) {
	n := len(closes)
	if n == 0 {
		return 0, 0, 0
	}
	if n < minSamples {
		last := closes[n-1]
		return last, last, last
	}
	window := clampWindow(p, n)
	series := closes[n-window:]

	mid := mean(series)
	dev := stdev(series)
	return mid + k*dev, mid, mid - k*dev
}

// ATR approximates true range from closes only (no OHLC per tick is
// available): the mean absolute close-to-close difference over the
// last p samples.
func ATR(closes []float64, p int) float64 {
	n := len(closes)
	if n < minSamples+1 {
		return 0
	}
	window := clampWindow(p, n-1)
	series := closes[n-window-1:]

	var sum float64
	for i := 1; i < len(series); i++ {
		sum += math.Abs(series[i] - series[i-1])
	}
	return sum / float64(len(series)-1)
}

// VolatilityPct is the stdev of simple returns over the last window
// samples, expressed as a percent.
func VolatilityPct(closes []float64, window int) float64 {
	n := len(closes)
	if n < minSamples+1 {
		return 0
	}
	w := clampWindow(window, n-1)
	series := closes[n-w-1:]

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			continue
		}
		returns = append(returns, (series[i]-series[i-1])/series[i-1])
	}
	return stdev(returns) * 100
}

// Momentum10Pct is (p[-1]-p[-10])/p[-10]*100 when at least 10 samples
// are available; otherwise 0.
func Momentum10Pct(closes []float64) float64 {
	n := len(closes)
	if n < 10 {
		return 0
	}
	prev := closes[n-10]
	if prev == 0 {
		return 0
	}
	return (closes[n-1] - prev) / prev * 100
}
