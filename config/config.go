// Package config loads the single immutable Config value that every
// other component is constructed from. Nothing downstream reaches for
// process-wide state mid-run; everything flows in through here once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode selects whether the position engine fills orders synthetically
// (paper) or delegates to a live exchange adapter.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// TargetWeight is one leg of the multi-asset allocator's target
// allocation.
type TargetWeight struct {
	Symbol string  `yaml:"symbol"`
	Weight float64 `yaml:"weight"`
}

// Config is the full process-level configuration surface: capital and
// position sizing, risk thresholds, tick cadence, allocator and
// advisor toggles, and the API bind address.
type Config struct {
	InitialCapital float64  `yaml:"initial_capital"`
	Symbols        []string `yaml:"symbols"`

	PositionSizePct float64 `yaml:"position_size_pct"`
	MaxPositions    int     `yaml:"max_positions"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	FeePct          float64 `yaml:"fee_pct"`
	SlippagePct     float64 `yaml:"slippage_pct"`
	AllowShort      bool    `yaml:"allow_short"`

	TickIntervalSeconds int `yaml:"tick_interval_s"`
	SnapshotCadenceTicks int `yaml:"snapshot_cadence_ticks"`
	DurationSeconds     int `yaml:"duration_s"` // 0 = unbounded

	MDDWarning  float64 `yaml:"mdd_warning"`
	MDDCritical float64 `yaml:"mdd_critical"`
	MDDEmergency float64 `yaml:"mdd_emergency"`

	CircuitBreakerCooldownSeconds int     `yaml:"circuit_breaker_cooldown_s"`
	BlackSwanFreezeSeconds        int     `yaml:"black_swan_freeze_s"`
	DailyLossLimit                float64 `yaml:"daily_loss_limit"`
	GlobalStopLossPct             float64 `yaml:"global_stop_loss_pct"`

	Mode Mode `yaml:"mode"`

	TargetWeights []TargetWeight `yaml:"target_weights"`
	AllocatorEnabled bool        `yaml:"allocator_enabled"`

	SnapshotDir string `yaml:"snapshot_dir"`
	DBPath      string `yaml:"db_path"`

	APIAddr string `yaml:"api_addr"`

	AdvisorEnabled bool    `yaml:"advisor_enabled"`
	AdvisorWeight  float64 `yaml:"advisor_weight"`

	// Secrets, never read from the YAML file — only from the
	// environment / .env.
	APIOperatorPasswordHash string `yaml:"-"`
	APIJWTSecret            string `yaml:"-"`
	ExchangeAPIKey          string `yaml:"-"`
	ExchangeAPISecret       string `yaml:"-"`
}

// TickInterval is the scheduler's tick period as a time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// CircuitBreakerCooldown is the breaker cooldown as a time.Duration.
func (c *Config) CircuitBreakerCooldown() time.Duration {
	return time.Duration(c.CircuitBreakerCooldownSeconds) * time.Second
}

// BlackSwanFreeze is the black-swan freeze duration as a time.Duration.
func (c *Config) BlackSwanFreeze() time.Duration {
	return time.Duration(c.BlackSwanFreezeSeconds) * time.Second
}

// Duration is the configured run duration, or 0 for unbounded.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

func defaults() Config {
	return Config{
		PositionSizePct:               0.10,
		MaxPositions:                  3,
		StopLossPct:                   0.02,
		TakeProfitPct:                 0.03,
		FeePct:                        0.001,
		SlippagePct:                   0.0005,
		AllowShort:                    true,
		TickIntervalSeconds:           30,
		SnapshotCadenceTicks:          10,
		MDDWarning:                    0.03,
		MDDCritical:                   0.05,
		MDDEmergency:                  0.08,
		CircuitBreakerCooldownSeconds: 3600,
		BlackSwanFreezeSeconds:        86400,
		DailyLossLimit:                0.08,
		GlobalStopLossPct:             0.20,
		Mode:                          ModePaper,
		SnapshotDir:                   "./data/snapshots",
		DBPath:                        "./data/warden.db",
		APIAddr:                       ":8088",
		AdvisorEnabled:                false,
		AdvisorWeight:                 0,
	}
}

// Load reads a YAML config file, applies .env/OS-env overrides, fills
// defaults, and validates. Invalid configuration is fatal at startup —
// no partial-configuration run is returned.
func Load(path, envFile string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// .env is best-effort: absence is not an error, secrets may also
	// arrive via the real environment (e.g. a container orchestrator).
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	f64 := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = parsed
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}

	f64("WARDEN_INITIAL_CAPITAL", &cfg.InitialCapital)
	if v, ok := os.LookupEnv("WARDEN_SYMBOLS"); ok && v != "" {
		cfg.Symbols = strings.Split(v, ",")
	}
	f64("WARDEN_POSITION_SIZE_PCT", &cfg.PositionSizePct)
	integer("WARDEN_MAX_POSITIONS", &cfg.MaxPositions)
	f64("WARDEN_STOP_LOSS_PCT", &cfg.StopLossPct)
	f64("WARDEN_TAKE_PROFIT_PCT", &cfg.TakeProfitPct)
	f64("WARDEN_FEE_PCT", &cfg.FeePct)
	f64("WARDEN_SLIPPAGE_PCT", &cfg.SlippagePct)
	boolean("WARDEN_ALLOW_SHORT", &cfg.AllowShort)
	integer("WARDEN_TICK_INTERVAL_S", &cfg.TickIntervalSeconds)
	integer("WARDEN_DURATION_S", &cfg.DurationSeconds)
	f64("WARDEN_MDD_WARNING", &cfg.MDDWarning)
	f64("WARDEN_MDD_CRITICAL", &cfg.MDDCritical)
	f64("WARDEN_MDD_EMERGENCY", &cfg.MDDEmergency)
	integer("WARDEN_CIRCUIT_BREAKER_COOLDOWN_S", &cfg.CircuitBreakerCooldownSeconds)
	integer("WARDEN_BLACK_SWAN_FREEZE_S", &cfg.BlackSwanFreezeSeconds)
	f64("WARDEN_DAILY_LOSS_LIMIT", &cfg.DailyLossLimit)
	f64("WARDEN_GLOBAL_STOP_LOSS_PCT", &cfg.GlobalStopLossPct)
	boolean("WARDEN_ALLOCATOR_ENABLED", &cfg.AllocatorEnabled)
	boolean("WARDEN_ADVISOR_ENABLED", &cfg.AdvisorEnabled)
	f64("WARDEN_ADVISOR_WEIGHT", &cfg.AdvisorWeight)

	if v, ok := os.LookupEnv("WARDEN_MODE"); ok && v != "" {
		cfg.Mode = Mode(v)
	}
	str("WARDEN_SNAPSHOT_DIR", &cfg.SnapshotDir)
	str("WARDEN_DB_PATH", &cfg.DBPath)
	str("WARDEN_API_ADDR", &cfg.APIAddr)

	str("WARDEN_API_OPERATOR_PASSWORD_HASH", &cfg.APIOperatorPasswordHash)
	str("WARDEN_API_JWT_SECRET", &cfg.APIJWTSecret)
	str("WARDEN_EXCHANGE_API_KEY", &cfg.ExchangeAPIKey)
	str("WARDEN_EXCHANGE_API_SECRET", &cfg.ExchangeAPISecret)
}

// Validate checks for invalid configuration: non-positive capital, an
// empty symbol list, and conflicting thresholds are all fatal at
// startup. Every problem found is reported together.
func (c *Config) Validate() error {
	var problems []string

	if c.InitialCapital <= 0 {
		problems = append(problems, "initial_capital must be positive")
	}
	if len(c.Symbols) == 0 {
		problems = append(problems, "symbols must not be empty")
	}
	if c.MaxPositions <= 0 {
		problems = append(problems, "max_positions must be positive")
	}
	if c.PositionSizePct <= 0 || c.PositionSizePct > 1 {
		problems = append(problems, "position_size_pct must be in (0,1]")
	}
	if c.FeePct < 0 || c.SlippagePct < 0 {
		problems = append(problems, "fee_pct and slippage_pct must be non-negative")
	}
	if !(c.MDDWarning < c.MDDCritical && c.MDDCritical < c.MDDEmergency) {
		problems = append(problems, "drawdown thresholds must satisfy warning < critical < emergency")
	}
	if c.DailyLossLimit <= 0 || c.DailyLossLimit > 1 {
		problems = append(problems, "daily_loss_limit must be in (0,1]")
	}
	if c.GlobalStopLossPct <= 0 || c.GlobalStopLossPct > 1 {
		problems = append(problems, "global_stop_loss_pct must be in (0,1]")
	}
	if c.TickIntervalSeconds <= 0 {
		problems = append(problems, "tick_interval_s must be positive")
	}
	if c.Mode != ModePaper && c.Mode != ModeLive {
		problems = append(problems, "mode must be paper or live")
	}
	if c.Mode == ModeLive && (c.ExchangeAPIKey == "" || c.ExchangeAPISecret == "") {
		problems = append(problems, "live mode requires exchange API credentials")
	}
	if c.AllocatorEnabled {
		var total float64
		for _, w := range c.TargetWeights {
			total += w.Weight
		}
		if len(c.TargetWeights) > 0 && (total < 0.999 || total > 1.001) {
			problems = append(problems, fmt.Sprintf("target_weights must sum to 1 +/- 1e-3, got %f", total))
		}
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
