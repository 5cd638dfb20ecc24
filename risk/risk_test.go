package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func thresholds() Thresholds {
	return Thresholds{Warning: 0.03, Critical: 0.05, Emergency: 0.08}
}

func newTestController() *Controller {
	return NewController(thresholds(), time.Hour, 24*time.Hour, 0.08, 0.5)
}

func TestEvaluate_DrawdownJustBelowWarningStaysOK(t *testing.T) {
	c := newTestController()
	now := time.Now()

	v := c.Evaluate(Snapshot{PortfolioValue: 9700.01, Peak: 10000, InitialCapital: 10000, Now: now})

	assert.Equal(t, OK, v.Level)
	assert.True(t, v.AllowNewEntries)
}

func TestEvaluate_DrawdownExactlyAtWarningTriggers(t *testing.T) {
	c := newTestController()
	now := time.Now()

	v := c.Evaluate(Snapshot{PortfolioValue: 9700, Peak: 10000, InitialCapital: 10000, Now: now})

	assert.Equal(t, Warning, v.Level)
	assert.True(t, v.AllowNewEntries)
	assert.Equal(t, 0.5, v.PositionSizeMultiplier)
}

func TestEvaluate_DrawdownExactlyAtCriticalTripsBreaker(t *testing.T) {
	c := newTestController()
	now := time.Now()

	v := c.Evaluate(Snapshot{PortfolioValue: 9500, Peak: 10000, InitialCapital: 10000, Now: now})

	assert.Equal(t, CircuitBreakerLv, v.Level)
	assert.False(t, v.AllowNewEntries)
	assert.True(t, v.ShouldLiquidate)
	assert.NotNil(t, v.CircuitBreakerUntil)
	assert.WithinDuration(t, now.Add(time.Hour), *v.CircuitBreakerUntil, time.Second)
}

func TestEvaluate_DrawdownExactlyAtEmergencyTriggersEmergency(t *testing.T) {
	c := newTestController()
	now := time.Now()

	v := c.Evaluate(Snapshot{PortfolioValue: 9200, Peak: 10000, InitialCapital: 10000, Now: now})

	assert.Equal(t, Emergency, v.Level)
	assert.True(t, v.ShouldLiquidate)
}

func TestEvaluate_CircuitBreakerReleasesAfterCooldown(t *testing.T) {
	c := newTestController()
	now := time.Now()

	c.Evaluate(Snapshot{PortfolioValue: 9500, Peak: 10000, InitialCapital: 10000, Now: now})
	later := now.Add(2 * time.Hour)
	v := c.Evaluate(Snapshot{PortfolioValue: 9900, Peak: 10000, InitialCapital: 10000, Now: later})

	assert.Equal(t, OK, v.Level)
	assert.True(t, v.AllowNewEntries)
}

func TestVolatilitySpike_NoTriggerWhenLatestMatchesBaseline(t *testing.T) {
	c := newTestController()
	for i := 0; i < volatilitySpikeWindow; i++ {
		c.pushVolatilitySample(0.01)
	}

	assert.False(t, c.volatilitySpike())
}

func TestVolatilitySpike_TriggersWhenLatestExceedsThreeTimesMean(t *testing.T) {
	c := newTestController()
	for i := 0; i < volatilitySpikeWindow-1; i++ {
		c.pushVolatilitySample(0.01)
	}
	c.pushVolatilitySample(0.05)

	assert.True(t, c.volatilitySpike())
}

func TestVolatilitySpike_NotEnoughSamplesStaysFalse(t *testing.T) {
	c := newTestController()
	for i := 0; i < volatilitySpikeWindow-1; i++ {
		c.pushVolatilitySample(10)
	}

	assert.False(t, c.volatilitySpike())
}

func TestCurrentVolatility_StdevOfTrailingReturns(t *testing.T) {
	history := []float64{100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100}

	got := currentVolatility(history)

	assert.Greater(t, got, 0.0)
}

func TestCurrentVolatility_FlatPricesHaveZeroVolatility(t *testing.T) {
	history := make([]float64, 12)
	for i := range history {
		history[i] = 100
	}

	assert.Equal(t, 0.0, currentVolatility(history))
}

func TestEvaluate_FlashCrashFreezesRegardlessOfDrawdown(t *testing.T) {
	c := newTestController()
	now := time.Now()

	history := make([]float64, 60)
	for i := 0; i < 59; i++ {
		history[i] = 100
	}
	history[59] = 80 // 20% drop inside the trailing window

	v := c.Evaluate(Snapshot{PortfolioValue: 9999, Peak: 10000, InitialCapital: 10000, PriceHistory: history, Now: now})

	assert.Equal(t, BlackSwanFreeze, v.Level)
	assert.True(t, v.KillSwitchActive)
	assert.NotNil(t, v.BlackSwanFreezeUntil)
}

func TestEvaluate_GlobalStopLossForcesEmergencyEvenWithoutDeepDrawdown(t *testing.T) {
	c := newTestController()
	now := time.Now()

	// Peak has already fallen to 5000 before this tick, so the
	// drawdown-from-peak ratio alone would stay in OK territory. The
	// global floor (50% of initial capital) still forces EMERGENCY.
	v := c.Evaluate(Snapshot{PortfolioValue: 4999, Peak: 5000, InitialCapital: 10000, Now: now})

	assert.Equal(t, Emergency, v.Level)
}

func TestAllowTrade_DeniedDuringBreaker(t *testing.T) {
	c := newTestController()
	now := time.Now()
	c.Evaluate(Snapshot{PortfolioValue: 9500, Peak: 10000, InitialCapital: 10000, Now: now})

	assert.False(t, c.AllowTrade(now))
	assert.True(t, c.AllowTrade(now.Add(2*time.Hour)))
}

func TestClearCircuitBreaker_ReleasesEarly(t *testing.T) {
	c := newTestController()
	now := time.Now()
	c.Evaluate(Snapshot{PortfolioValue: 9500, Peak: 10000, InitialCapital: 10000, Now: now})

	c.ClearCircuitBreaker()

	assert.True(t, c.AllowTrade(now))
	assert.Equal(t, OK, c.Level())
}
