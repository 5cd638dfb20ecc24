// Package risk implements a stateful multi-tier drawdown kill
// switch, circuit breaker, and black-swan freeze. All mutation is
// internal to Controller; callers get a single Evaluate(snapshot)
// entry point and never touch breaker/timer state directly, which
// avoids sharing the controller's state machine across goroutines.
package risk

import (
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// Level is the controller's current risk state.
type Level string

const (
	OK               Level = "OK"
	Warning          Level = "WARNING"
	Critical         Level = "CRITICAL"
	Emergency        Level = "EMERGENCY"
	BlackSwanFreeze  Level = "BLACK_SWAN_FREEZE"
	CircuitBreakerLv Level = "CIRCUIT_BREAKER"
)

// Trigger identifies what caused a RiskEvent.
type Trigger string

const (
	TriggerWarning    Trigger = "WARNING"
	TriggerCritical   Trigger = "CRITICAL"
	TriggerEmergency  Trigger = "EMERGENCY"
	TriggerDailyLoss  Trigger = "DAILY_LOSS"
	TriggerBlackSwan  Trigger = "BLACK_SWAN"
	TriggerFlashCrash Trigger = "FLASH_CRASH"
)

// Event is a recorded risk transition.
type Event struct {
	ID              string
	Timestamp       time.Time
	Trigger         Trigger
	DrawdownOrRatio float64
	PortfolioValue  float64
	Extra           string
}

// Thresholds holds the configurable drawdown tiers.
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

// Snapshot is what the scheduler feeds into Evaluate each tick.
type Snapshot struct {
	PortfolioValue float64
	Peak           float64
	InitialCapital float64
	PriceHistory   []float64 // consensus prices, oldest first
	Now            time.Time
}

// Verdict is Evaluate's output: what the caller is allowed to do this
// tick, and anything newly logged.
type Verdict struct {
	Level                  Level
	KillSwitchActive       bool
	AllowNewEntries        bool
	PositionSizeMultiplier float64
	ShouldLiquidate        bool
	CircuitBreakerUntil    *time.Time
	BlackSwanFreezeUntil   *time.Time
	NewEvents              []Event
}

const maxVolatilitySamples = 300

// Controller is the risk engine's stateful machine.
type Controller struct {
	thresholds        Thresholds
	cooldown          time.Duration
	freezeDuration    time.Duration
	dailyLossLimit    float64
	globalStopLossPct float64

	breaker *gobreaker.CircuitBreaker

	level                Level
	killSwitchActive     bool
	circuitBreakerUntil  *time.Time
	blackSwanFreezeUntil *time.Time

	volatilitySamples []float64
	eventLog          []Event

	dailyAnchorDate  string
	dailyAnchorValue float64
}

// NewController builds a Controller starting in the OK state.
func NewController(thresholds Thresholds, cooldown, freezeDuration time.Duration, dailyLossLimit, globalStopLossPct float64) *Controller {
	c := &Controller{
		thresholds:        thresholds,
		cooldown:          cooldown,
		freezeDuration:    freezeDuration,
		dailyLossLimit:    dailyLossLimit,
		globalStopLossPct: globalStopLossPct,
		level:             OK,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "risk-circuit-breaker",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	return c
}

// Level returns the controller's current level without evaluating a
// new snapshot (used by read-only status endpoints).
func (c *Controller) Level() Level { return c.level }

// EventLog returns the full history of recorded risk events.
func (c *Controller) EventLog() []Event {
	out := make([]Event, len(c.eventLog))
	copy(out, c.eventLog)
	return out
}

func (c *Controller) record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	c.eventLog = append(c.eventLog, e)
}

var errBreakerTripped = errBreaker{}

type errBreaker struct{}

func (errBreaker) Error() string { return "risk controller tripped the circuit breaker" }
