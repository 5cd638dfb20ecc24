package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/logger"
	"warden/quote"
	"warden/risk"
	"warden/trader"
)

type fixedSource struct {
	name  string
	price float64
}

func (f fixedSource) Name() string { return f.name }
func (f fixedSource) Fetch(symbol string) (quote.Quote, error) {
	return quote.Quote{Symbol: symbol, Price: f.price, Source: f.name, Timestamp: time.Now()}, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *trader.Portfolio) {
	t.Helper()
	resolver := quote.NewResolver(fixedSource{name: "a", price: 100})
	histories := map[string]*quote.History{"BTC": quote.NewHistory(quote.DefaultHistoryCapacity)}

	riskCtl := risk.NewController(risk.Thresholds{Warning: 0.03, Critical: 0.05, Emergency: 0.08}, time.Hour, 24*time.Hour, 0.08, 0.5)
	portfolio := trader.NewPortfolio(1000, trader.Costs{FeePct: 0.001, SlippagePct: 0.0005}, trader.EntryParams{
		PositionSizePct: 0.10, StopLossPct: 0.02, TakeProfitPct: 0.03, MaxPositions: 3, AllowShort: true, ShortMinConf: 40,
	})
	exchange := trader.NewPaperExchange(portfolio, func(symbol string) (float64, float64) { return 100, 1 })

	cfg := Config{Mode: "paper", TickInterval: 10 * time.Millisecond, Symbols: []string{"BTC"}}
	s := New(cfg, resolver, histories, riskCtl, portfolio, exchange, Hooks{}, logger.Nop())
	return s, portfolio
}

func TestTick_PublishesSnapshotAfterOneTick(t *testing.T) {
	s, portfolio := newTestScheduler(t)

	err := s.tick(context.Background())
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.Iteration)
	assert.Equal(t, portfolio.InitialCapital, snap.InitialCapital)
	assert.Equal(t, risk.OK, snap.RiskLevel)
}

func TestTick_LiquidatesOnRiskControllerVerdict(t *testing.T) {
	s, portfolio := newTestScheduler(t)
	portfolio.PeakValue = 10000 // drawdown from 1000 cash vs 10000 peak trips EMERGENCY

	err := s.tick(context.Background())
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, risk.Emergency, snap.RiskLevel)
	assert.Empty(t, portfolio.Positions)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
