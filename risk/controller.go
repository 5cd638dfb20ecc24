package risk

import "time"

// Evaluate runs the full ordered transition chain for one tick:
//
//  1. black-swan freeze expiry / gate
//  2. black-swan detectors (volatility spike, flash crash)
//  3. circuit breaker expiry / gate
//  4. drawdown-from-peak tiers (WARNING/CRITICAL/EMERGENCY)
//  5. daily loss limit and global stop-loss floor
//  6. peak update is NOT done here — the caller updates peak last,
//     after entries/exits for this tick have been processed.
func (c *Controller) Evaluate(snap Snapshot) Verdict {
	var events []Event

	if len(snap.PriceHistory) >= 2 {
		c.pushVolatilitySample(currentVolatility(snap.PriceHistory))
	}

	frozen := c.blackSwanFreezeUntil != nil && snap.Now.Before(*c.blackSwanFreezeUntil)
	if c.blackSwanFreezeUntil != nil && !frozen {
		c.blackSwanFreezeUntil = nil
	}

	if !frozen {
		if c.volatilitySpike() {
			until := snap.Now.Add(c.freezeDuration)
			c.blackSwanFreezeUntil = &until
			c.killSwitchActive = true
			frozen = true
			events = append(events, Event{
				Timestamp:      snap.Now,
				Trigger:        TriggerBlackSwan,
				PortfolioValue: snap.PortfolioValue,
				Extra:          "volatility_spike",
			})
		} else if flashCrash(snap.PriceHistory) {
			until := snap.Now.Add(c.freezeDuration)
			c.blackSwanFreezeUntil = &until
			c.killSwitchActive = true
			frozen = true
			events = append(events, Event{
				Timestamp:      snap.Now,
				Trigger:        TriggerFlashCrash,
				PortfolioValue: snap.PortfolioValue,
				Extra:          "flash_crash",
			})
		}
	}

	breakerOpen := c.circuitBreakerUntil != nil && snap.Now.Before(*c.circuitBreakerUntil)
	if c.circuitBreakerUntil != nil && !breakerOpen {
		c.circuitBreakerUntil = nil
		c.killSwitchActive = false
	}

	drawdown := 0.0
	if snap.Peak > 0 {
		drawdown = (snap.Peak - snap.PortfolioValue) / snap.Peak
	}

	level := OK
	switch {
	case drawdown >= c.thresholds.Emergency:
		level = Emergency
	case drawdown >= c.thresholds.Critical:
		level = Critical
	case drawdown >= c.thresholds.Warning:
		level = Warning
	}

	globalStopBreached := snap.InitialCapital > 0 &&
		snap.PortfolioValue <= snap.InitialCapital*(1-c.globalStopLossPct)
	if globalStopBreached {
		level = Emergency
	}

	dailyLossBreached := c.checkDailyLoss(snap)
	if dailyLossBreached {
		level = Critical
	}

	if level == Critical || level == Emergency {
		if !breakerOpen {
			c.breaker.Execute(func() (interface{}, error) { return nil, errBreakerTripped })
			until := snap.Now.Add(c.cooldown)
			c.circuitBreakerUntil = &until
			c.killSwitchActive = true
			breakerOpen = true

			trigger := TriggerCritical
			extra := ""
			switch {
			case level == Emergency && globalStopBreached:
				trigger, extra = TriggerEmergency, "global_stop_loss"
			case level == Emergency:
				trigger = TriggerEmergency
			case dailyLossBreached:
				trigger, extra = TriggerDailyLoss, "daily_loss_limit"
			}
			events = append(events, Event{
				Timestamp:       snap.Now,
				Trigger:         trigger,
				DrawdownOrRatio: drawdown,
				PortfolioValue:  snap.PortfolioValue,
				Extra:           extra,
			})
		}
	} else if level == Warning && c.level != Warning {
		events = append(events, Event{
			Timestamp:       snap.Now,
			Trigger:         TriggerWarning,
			DrawdownOrRatio: drawdown,
			PortfolioValue:  snap.PortfolioValue,
		})
	}

	// Liquidation follows the underlying tier (or an active freeze),
	// taken before the displayed level is folded into CIRCUIT_BREAKER.
	shouldLiquidate := level == Critical || level == Emergency || frozen

	// BLACK_SWAN_FREEZE overrides every state except EMERGENCY: a
	// frozen tick still surfaces as EMERGENCY if the deeper check
	// fires, but the freeze timer keeps running underneath either way.
	switch {
	case level == Emergency:
		// leave as Emergency.
	case frozen:
		level = BlackSwanFreeze
	case breakerOpen:
		level = CircuitBreakerLv
	}

	c.level = level
	for _, e := range events {
		c.record(e)
	}

	allowEntries := level == OK || level == Warning
	sizeMultiplier := 1.0
	if level == Warning {
		sizeMultiplier = 0.5
	}
	if !allowEntries {
		sizeMultiplier = 0
	}

	return Verdict{
		Level:                  level,
		KillSwitchActive:       c.killSwitchActive,
		AllowNewEntries:        allowEntries,
		PositionSizeMultiplier: sizeMultiplier,
		ShouldLiquidate:        shouldLiquidate,
		CircuitBreakerUntil:    c.circuitBreakerUntil,
		BlackSwanFreezeUntil:   c.blackSwanFreezeUntil,
		NewEvents:              events,
	}
}

// checkDailyLoss resets the intraday anchor at each UTC calendar day
// boundary and reports whether the loss since that anchor, measured
// against initial capital, has breached the configured limit.
func (c *Controller) checkDailyLoss(snap Snapshot) bool {
	day := snap.Now.UTC().Format("2006-01-02")
	if c.dailyAnchorDate != day {
		c.dailyAnchorDate = day
		c.dailyAnchorValue = snap.PortfolioValue
		return false
	}
	if snap.InitialCapital <= 0 {
		return false
	}
	loss := (c.dailyAnchorValue - snap.PortfolioValue) / snap.InitialCapital
	return loss >= c.dailyLossLimit
}

// AllowTrade is a narrower check usable outside the tick loop (e.g.
// from the control API) to answer "can an order be placed right now".
// A kill switch set together with the circuit breaker counts as
// released once the breaker's cooldown has passed, as Evaluate
// releases it on its next tick.
func (c *Controller) AllowTrade(now time.Time) bool {
	breakerExpired := c.circuitBreakerUntil != nil && !now.Before(*c.circuitBreakerUntil)
	if c.killSwitchActive && !breakerExpired {
		return false
	}
	if c.blackSwanFreezeUntil != nil && now.Before(*c.blackSwanFreezeUntil) {
		return false
	}
	if c.circuitBreakerUntil != nil && now.Before(*c.circuitBreakerUntil) {
		return false
	}
	return true
}

// ClearCircuitBreaker is an operator override
// that releases the breaker and kill switch early. Black-swan freeze
// is left untouched — only an operator with a louder override, if any
// is ever added, should be able to lift that one.
func (c *Controller) ClearCircuitBreaker() {
	c.circuitBreakerUntil = nil
	if c.blackSwanFreezeUntil == nil {
		c.killSwitchActive = false
	}
	if c.level == CircuitBreakerLv || c.level == Critical || c.level == Emergency {
		c.level = OK
	}
}
