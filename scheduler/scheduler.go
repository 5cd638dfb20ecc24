// Package scheduler implements the poll-driven control loop that ties
// quote ingestion, indicators, signal generation, risk evaluation, and
// the position engine together in a fixed per-tick order, built around
// a ticker-based Run() loop.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"warden/indicator"
	"warden/quote"
	"warden/risk"
	"warden/signal"
	"warden/trader"
)

// Snapshot is the externally-visible point-in-time state the control
// API and persistence layer read.
type Snapshot struct {
	Timestamp        time.Time
	Mode             string
	InitialCapital   float64
	Cash             float64
	Positions        map[string]trader.Position
	PortfolioValue   float64
	PnL              float64
	PnLPct           float64
	PeakValue        float64
	MaxDrawdownPct   float64
	TotalFeesPaid    float64
	TotalTrades      int
	RiskLevel        risk.Level
	KillSwitchActive bool
	Iteration        int64
}

// Hooks are optional side-effect callbacks the scheduler invokes as it
// works; every field may be nil. This keeps the scheduler decoupled
// from the store/metrics packages rather than importing them
// directly.
type Hooks struct {
	OnFill      func(trader.Fill)
	OnRiskEvent func(risk.Event)
	OnSnapshot  func(Snapshot)
}

// Config bundles the scheduler's tunables.
type Config struct {
	Mode         string
	TickInterval time.Duration
	Symbols      []string
}

// Scheduler drives the tick loop: resolve quotes, update indicators,
// generate signals, evaluate risk, process exits then entries, and
// publish a snapshot, once per TickInterval.
type Scheduler struct {
	cfg        Config
	resolver   *quote.Resolver
	histories  map[string]*quote.History
	risk       *risk.Controller
	portfolio  *trader.Portfolio
	exchange   trader.Exchange
	hooks      Hooks
	logger     zerolog.Logger
	snapshot   atomic.Pointer[Snapshot]
	iteration  int64
	maxDrawPct float64
	paused     atomic.Bool
}

// New builds a Scheduler. histories must already contain an entry per
// configured symbol (freshly created or warm-started from storage).
func New(cfg Config, resolver *quote.Resolver, histories map[string]*quote.History, riskCtl *risk.Controller, portfolio *trader.Portfolio, exchange trader.Exchange, hooks Hooks, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		resolver:  resolver,
		histories: histories,
		risk:      riskCtl,
		portfolio: portfolio,
		exchange:  exchange,
		hooks:     hooks,
		logger:    logger,
	}
}

// Snapshot returns the most recently published tick state. Safe to
// call from any goroutine, including the control API's handlers.
func (s *Scheduler) Snapshot() Snapshot {
	if p := s.snapshot.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// Pause stops new entries from being opened on subsequent ticks.
// Exits, risk evaluation, and liquidation continue as normal — pause
// is an operator brake on new risk, not a freeze of the whole loop.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume reverses Pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Paused reports the current operator pause state.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// ClearCircuitBreaker releases the circuit breaker and, unless a
// black-swan freeze is running, the kill switch. It does not lift a
// BLACK_SWAN_FREEZE. The control API refuses to call it while the
// level is BLACK_SWAN_FREEZE or EMERGENCY.
func (s *Scheduler) ClearCircuitBreaker() { s.risk.ClearCircuitBreaker() }

// RiskLevel returns the risk controller's current level without
// going through the published snapshot.
func (s *Scheduler) RiskLevel() risk.Level { return s.risk.Level() }

// Run blocks until ctx is cancelled, ticking every cfg.TickInterval.
// The first tick fires immediately rather than waiting a full
// interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Strs("symbols", s.cfg.Symbols).Dur("interval", s.cfg.TickInterval).Msg("scheduler starting")

	if err := s.tick(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial tick failed")
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

// tick runs exactly one pass of the pipeline: fetch quotes, risk
// evaluation, exits, entries, then peak update last. An internal
// invariant violation (panic) is recovered once here, logged, and
// re-raised after forcing a snapshot publish rather than silently
// swallowed.
func (s *Scheduler) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("tick panicked, forcing snapshot before re-raising")
			s.publishSnapshot(risk.Verdict{Level: s.risk.Level()}, time.Now())
			panic(r)
		}
	}()

	now := time.Now()
	s.iteration++

	prices := s.fetchPrices()
	for symbol, price := range prices {
		s.histories[symbol].Append(price)
	}

	sets := make(map[string]indicator.Set, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		sets[symbol] = indicator.Compute(s.histories[symbol].Values())
	}

	verdict := s.risk.Evaluate(risk.Snapshot{
		PortfolioValue: s.portfolio.Value(prices),
		Peak:           s.portfolio.PeakValue,
		InitialCapital: s.portfolio.InitialCapital,
		PriceHistory:   s.referenceHistory(),
		Now:            now,
	})
	for _, e := range verdict.NewEvents {
		if s.hooks.OnRiskEvent != nil {
			s.hooks.OnRiskEvent(e)
		}
	}

	if verdict.ShouldLiquidate {
		for _, fill := range s.portfolio.ForceCloseAll(prices, trader.ExitRiskLiquidation, now) {
			s.emitFill(fill)
		}
	} else {
		s.processExits(prices, sets, now)
		if verdict.AllowNewEntries && !s.paused.Load() {
			s.processEntries(ctx, prices, sets, verdict, now)
		}
	}

	s.portfolio.UpdatePeak(prices)
	s.publishSnapshot(verdict, now)
	return nil
}

// fetchPrices resolves a consensus quote for every configured symbol
// concurrently — each symbol's resolution is itself fanned out across
// price sources internally (quote.Resolver.FetchConsensus).
func (s *Scheduler) fetchPrices() map[string]float64 {
	type result struct {
		symbol string
		price  float64
	}
	resultCh := make(chan result, len(s.cfg.Symbols))

	var wg sync.WaitGroup
	for _, symbol := range s.cfg.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			last, _ := s.histories[symbol].Last()
			q := s.resolver.FetchConsensus(symbol, last)
			resultCh <- result{symbol: symbol, price: q.Price}
		}(symbol)
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	prices := make(map[string]float64, len(s.cfg.Symbols))
	for r := range resultCh {
		prices[r.symbol] = r.price
	}
	return prices
}

// referenceHistory is the price series the black-swan detectors read.
// In multi-symbol mode the first configured symbol stands in as the
// representative market series (documented judgment call — the spec
// describes a single-series detector, not a per-symbol one).
func (s *Scheduler) referenceHistory() []float64 {
	if len(s.cfg.Symbols) == 0 {
		return nil
	}
	return s.histories[s.cfg.Symbols[0]].Values()
}

func (s *Scheduler) processExits(prices map[string]float64, sets map[string]indicator.Set, now time.Time) {
	for symbol, pos := range s.snapshotPositions() {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		set := sets[symbol]
		sig := signal.Generate(set, price, s.histories[symbol].Len())

		trader.ApplyTrailingStop(pos, price)
		if reason, detail, closed := trader.EvaluateExit(pos, price, set, sig); closed {
			fill, err := s.portfolio.Close(symbol, price, reason, detail, now)
			if err == nil {
				s.emitFill(fill)
			}
		}
	}
}

// snapshotPositions copies the position map's pointers so exit
// processing can safely range while Close mutates the portfolio.
func (s *Scheduler) snapshotPositions() map[string]*trader.Position {
	out := make(map[string]*trader.Position, len(s.portfolio.Positions))
	for symbol, pos := range s.portfolio.Positions {
		out[symbol] = pos
	}
	return out
}

func (s *Scheduler) processEntries(ctx context.Context, prices map[string]float64, sets map[string]indicator.Set, verdict risk.Verdict, now time.Time) {
	var candidates []trader.Candidate
	for _, symbol := range s.cfg.Symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		set := sets[symbol]
		sig := signal.Generate(set, price, s.histories[symbol].Len())
		if sig.Action == signal.Hold {
			continue
		}

		side := trader.Long
		if sig.Action == signal.Sell {
			side = trader.Short
		}
		if !s.portfolio.EntryEligible(symbol, side, sig.Confidence, verdict.AllowNewEntries) {
			continue
		}

		candidates = append(candidates, trader.Candidate{
			Symbol: symbol, Side: side, Price: price, ATR: set.ATR,
			Confidence: sig.Confidence, VolatilityPct: set.VolatilityPct,
			PriorMultiplier: 1,
		})
	}

	sortCandidatesDescending(candidates)

	for _, c := range candidates {
		if len(s.portfolio.Positions) >= s.portfolio.MaxPositions() {
			break
		}
		qty := s.portfolio.DesiredQuantity(c.Price, verdict.PositionSizeMultiplier)
		fill, err := s.exchange.PlaceMarketOrder(ctx, c.Symbol, c.Side, qty, verdict.PositionSizeMultiplier)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", c.Symbol).Msg("entry order failed")
			continue
		}
		s.emitFill(fill)
	}
}

func sortCandidatesDescending(candidates []trader.Candidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Score() > candidates[j-1].Score(); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

func (s *Scheduler) emitFill(fill trader.Fill) {
	s.logger.Info().Str("symbol", fill.Symbol).Str("action", fill.Action).Float64("price", fill.Price).Msg("fill")
	if s.hooks.OnFill != nil {
		s.hooks.OnFill(fill)
	}
}

func (s *Scheduler) publishSnapshot(verdict risk.Verdict, now time.Time) {
	value := s.portfolio.Value(s.lastKnownPrices())
	pnl := value - s.portfolio.InitialCapital
	pnlPct := 0.0
	if s.portfolio.InitialCapital > 0 {
		pnlPct = pnl / s.portfolio.InitialCapital * 100
	}
	drawdown := 0.0
	if s.portfolio.PeakValue > 0 {
		drawdown = (s.portfolio.PeakValue - value) / s.portfolio.PeakValue * 100
	}
	if drawdown > s.maxDrawPct {
		s.maxDrawPct = drawdown
	}

	positions := make(map[string]trader.Position, len(s.portfolio.Positions))
	for symbol, pos := range s.portfolio.Positions {
		positions[symbol] = *pos
	}

	snap := Snapshot{
		Timestamp:        now,
		Mode:             s.cfg.Mode,
		InitialCapital:   s.portfolio.InitialCapital,
		Cash:             s.portfolio.Cash,
		Positions:        positions,
		PortfolioValue:   value,
		PnL:              pnl,
		PnLPct:           pnlPct,
		PeakValue:        s.portfolio.PeakValue,
		MaxDrawdownPct:   s.maxDrawPct,
		TotalFeesPaid:    s.portfolio.TotalFeesPaid,
		TotalTrades:      s.portfolio.TotalTrades,
		RiskLevel:        verdict.Level,
		KillSwitchActive: verdict.KillSwitchActive,
		Iteration:        s.iteration,
	}
	s.snapshot.Store(&snap)
	if s.hooks.OnSnapshot != nil {
		s.hooks.OnSnapshot(snap)
	}
}

// lastKnownPrices reconstructs a price map from each symbol's history
// tail, used only for the snapshot valuation between ticks.
func (s *Scheduler) lastKnownPrices() map[string]float64 {
	prices := make(map[string]float64, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		if last, ok := s.histories[symbol].Last(); ok {
			prices[symbol] = last
		}
	}
	return prices
}
