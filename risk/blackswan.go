package risk

import "math"

// volatilitySpikeWindow and flashCrashWindow are the minimum sample
// counts the two black-swan detectors need before they can fire: a
// spike needs 30 volatility samples, a flash crash needs 60 raw
// price points. volatilityReturnWindow is how many trailing simple
// returns each pushed volatility sample is computed from.
const (
	volatilityReturnWindow = 10
	volatilitySpikeWindow  = 30
	flashCrashWindow       = 60

	volatilitySpikeMultiple = 3.0
	flashCrashDropPct       = 15.0
)

// pushVolatilitySample appends one volatility observation (the
// standard deviation of the trailing volatilityReturnWindow simple
// returns, recomputed fresh every tick) to the bounded ring the
// volatility-spike detector reads from.
func (c *Controller) pushVolatilitySample(vol float64) {
	c.volatilitySamples = append(c.volatilitySamples, vol)
	if len(c.volatilitySamples) > maxVolatilitySamples {
		c.volatilitySamples = c.volatilitySamples[len(c.volatilitySamples)-maxVolatilitySamples:]
	}
}

// volatilitySpike reports whether the latest pushed volatility sample
// has run up to more than volatilitySpikeMultiple times the mean of
// the trailing volatilitySpikeWindow samples.
func (c *Controller) volatilitySpike() bool {
	if len(c.volatilitySamples) < volatilitySpikeWindow {
		return false
	}
	window := c.volatilitySamples[len(c.volatilitySamples)-volatilitySpikeWindow:]
	latest := window[len(window)-1]

	mean := meanOf(window)
	if mean == 0 {
		return false
	}
	return latest > volatilitySpikeMultiple*mean
}

// flashCrash reports whether price dropped more than flashCrashDropPct
// within the trailing flashCrashWindow samples.
func flashCrash(history []float64) bool {
	n := len(history)
	if n < flashCrashWindow {
		return false
	}
	window := history[n-flashCrashWindow:]
	peak := window[0]
	for _, p := range window {
		if p > peak {
			peak = p
		}
	}
	if peak == 0 {
		return false
	}
	trough := window[len(window)-1]
	drop := (peak - trough) / peak * 100
	return drop > flashCrashDropPct
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdevOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := meanOf(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// currentVolatility computes the standard deviation of the trailing
// volatilityReturnWindow simple returns in history, used to feed the
// volatility-spike ring each tick.
func currentVolatility(history []float64) float64 {
	n := len(history)
	if n < 2 {
		return 0
	}
	window := history
	if n > volatilityReturnWindow+1 {
		window = history[n-volatilityReturnWindow-1:]
	}
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	return stdevOf(returns)
}
