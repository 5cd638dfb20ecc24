// Command warden runs the trading engine: it loads configuration,
// wires every component together, and drives the scheduler until
// cancelled. Construction follows a fixed order: config, then store,
// then portfolio/exchange, then the scheduler loop itself.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"warden/advisor"
	"warden/allocator"
	"warden/api"
	"warden/config"
	"warden/indicator"
	"warden/logger"
	"warden/metrics"
	"warden/quote"
	"warden/risk"
	"warden/scheduler"
	"warden/store"
	"warden/trader"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envPath    string
		logLevel   string
		pretty     bool
	)

	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Autonomous cryptocurrency trading engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, envPath, logLevel, pretty)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to .env secrets file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "human-readable console log output")

	return cmd
}

func run(configPath, envPath, logLevel string, pretty bool) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{Level: logLevel, Pretty: pretty})
	log.Info().Str("mode", string(cfg.Mode)).Strs("symbols", cfg.Symbols).Msg("warden starting")

	st, err := store.Open(cfg.DBPath, cfg.SnapshotDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	st.SetConfigDigest(configDigest(cfg))

	portfolio := trader.NewPortfolio(cfg.InitialCapital,
		trader.Costs{FeePct: cfg.FeePct, SlippagePct: cfg.SlippagePct},
		trader.EntryParams{
			PositionSizePct: cfg.PositionSizePct,
			StopLossPct:     cfg.StopLossPct,
			TakeProfitPct:   cfg.TakeProfitPct,
			MaxPositions:    cfg.MaxPositions,
			AllowShort:      cfg.AllowShort,
			ShortMinConf:    40,
		},
	)

	resolver := quote.NewResolver(
		quote.NewCoinbaseSource(),
		quote.NewKrakenSource(),
		quote.NewCoingeckoSource(),
	)

	histories := make(map[string]*quote.History, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		histories[symbol] = quote.NewHistory(quote.DefaultHistoryCapacity)
	}

	riskCtl := risk.NewController(
		risk.Thresholds{Warning: cfg.MDDWarning, Critical: cfg.MDDCritical, Emergency: cfg.MDDEmergency},
		cfg.CircuitBreakerCooldown(),
		cfg.BlackSwanFreeze(),
		cfg.DailyLossLimit,
		cfg.GlobalStopLossPct,
	)

	exchange, err := buildExchange(cfg, portfolio, histories)
	if err != nil {
		return fmt.Errorf("build exchange: %w", err)
	}

	var alloc *allocator.Manager
	if cfg.AllocatorEnabled {
		assets := make([]allocator.Asset, 0, len(cfg.TargetWeights))
		for _, w := range cfg.TargetWeights {
			assets = append(assets, allocator.Asset{Symbol: w.Symbol, TargetWeight: w.Weight})
		}
		alloc = allocator.New(assets, time.Now())
		log.Info().Int("assets", len(assets)).Msg("multi-asset allocator enabled")
	}

	// advisor.NoOp is the only shipped implementation; cfg.AdvisorWeight
	// stays 0 so it cannot out-vote the deterministic signal generator
	// even if AdvisorEnabled is turned on without a trained advisor.
	var _ advisor.Advisor = advisor.NoOp{}
	if cfg.AdvisorEnabled {
		log.Warn().Msg("advisor_enabled is set but no trained advisor is wired; using NoOp")
	}

	hooks := scheduler.Hooks{
		OnFill: func(fill trader.Fill) {
			metrics.TradesTotal.Inc()
			metrics.FillsBySide.WithLabelValues(string(fill.Side), fill.Action).Inc()
			if fill.Action == "CLOSE" {
				metrics.ExitReasons.WithLabelValues(fill.Reason).Inc()
			}
			if err := st.RecordFill(fill); err != nil {
				log.Error().Err(err).Msg("record fill failed")
			}
		},
		OnRiskEvent: func(e risk.Event) {
			metrics.RiskEventsTotal.WithLabelValues(string(e.Trigger)).Inc()
			if err := st.RecordRiskEvent(e); err != nil {
				log.Error().Err(err).Msg("record risk event failed")
			}
		},
		OnSnapshot: func(snap scheduler.Snapshot) {
			metrics.PortfolioValue.Set(snap.PortfolioValue)
			metrics.PortfolioCash.Set(snap.Cash)
			metrics.PortfolioPnLPct.Set(snap.PnLPct)
			metrics.DrawdownPct.Set(snap.MaxDrawdownPct)
			metrics.OpenPositions.Set(float64(len(snap.Positions)))
			metrics.TotalFeesPaid.Set(snap.TotalFeesPaid)
			metrics.KillSwitchActive.Set(boolToFloat(snap.KillSwitchActive))
			metrics.SetRiskLevel(string(snap.RiskLevel))

			if snap.Iteration%int64(cfg.SnapshotCadenceTicks) == 0 {
				if err := st.WriteSnapshot(snap); err != nil {
					log.Error().Err(err).Msg("write snapshot failed")
				}
			}
		},
	}

	sched := scheduler.New(
		scheduler.Config{Mode: string(cfg.Mode), TickInterval: cfg.TickInterval(), Symbols: cfg.Symbols},
		resolver, histories, riskCtl, portfolio, exchange, hooks, log,
	)

	apiServer := api.New(api.Config{
		Addr:                 cfg.APIAddr,
		OperatorPasswordHash: cfg.APIOperatorPasswordHash,
		JWTSecret:            cfg.APIJWTSecret,
	}, sched, log)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration())
		defer cancel()
	}

	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.Run(ctx) }()
	go func() { errCh <- sched.Run(ctx) }()
	if alloc != nil {
		go runAllocator(ctx, alloc, resolver, cfg.TargetWeights, log)
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, finishing in-flight tick")

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && err != context.Canceled && err != context.DeadlineExceeded {
			log.Error().Err(err).Msg("component returned an error on shutdown")
		}
	}

	if err := st.WriteSnapshot(sched.Snapshot()); err != nil {
		log.Error().Err(err).Msg("final snapshot write failed")
	}
	return nil
}

func buildExchange(cfg *config.Config, portfolio *trader.Portfolio, histories map[string]*quote.History) (trader.Exchange, error) {
	if cfg.Mode == config.ModeLive {
		return trader.NewBinanceExchange(cfg.ExchangeAPIKey, cfg.ExchangeAPISecret), nil
	}
	prices := func(symbol string) (float64, float64) {
		history := histories[symbol]
		last, _ := history.Last()
		return last, indicator.ATR(history.Values(), 14)
	}
	return trader.NewPaperExchange(portfolio, prices), nil
}

// runAllocator drives the multi-asset allocator on its own daily
// check cadence, independent of the symbol-level scheduler's tick
// interval: the allocator only acts when ShouldRebalance says a full
// rebalancing period has elapsed.
func runAllocator(ctx context.Context, alloc *allocator.Manager, resolver *quote.Resolver, weights []config.TargetWeight, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !alloc.ShouldRebalance(now) {
				continue
			}
			prices := make(map[string]float64, len(weights))
			for _, w := range weights {
				prices[w.Symbol] = resolver.FetchConsensus(w.Symbol, 0).Price
			}
			if event, executed := alloc.Rebalance(now, prices); executed {
				log.Info().Int("deviations", len(event.Deviations)).Msg("allocator rebalanced")
			}
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// configDigest hashes the active configuration so two session
// snapshots can be compared for a threshold change without diffing
// the YAML file directly.
func configDigest(cfg *config.Config) string {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}
