// Package store implements SQLite-backed persistence for fills and
// risk events, plus write-then-rename JSON session snapshots. Uses a
// sql.DB-wrapping store type with idempotent CREATE TABLE IF NOT
// EXISTS schema setup on open.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"warden/risk"
	"warden/scheduler"
	"warden/trader"
)

// Store wraps a SQLite connection holding the fill and risk-event
// ledgers, plus the directory snapshots are written to.
type Store struct {
	db           *sql.DB
	snapshotDir  string
	runID        string
	configDigest string
}

// Open creates (or reuses) the SQLite database at dbPath and ensures
// its schema exists. snapshotDir is created if missing. A fresh run_id
// is minted and written into every snapshot file's JSON; ledger rows
// and snapshot file names do not carry it.
func Open(dbPath, snapshotDir string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	s := &Store{db: db, snapshotDir: snapshotDir, runID: uuid.NewString()}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create snapshot dir: %w", err)
	}
	return s, nil
}

// RunID is the UUID minted for this process's lifetime.
func (s *Store) RunID() string { return s.runID }

// SetConfigDigest records a hash of the active configuration so a
// reader of two snapshots can tell whether thresholds changed between
// them without diffing the full config file.
func (s *Store) SetConfigDigest(digest string) { s.configDigest = digest }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			action TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			fee REAL NOT NULL,
			slippage REAL NOT NULL,
			realized_pnl REAL NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol)`); err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			drawdown_or_ratio REAL NOT NULL,
			portfolio_value REAL NOT NULL,
			extra TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots_meta (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			portfolio_value REAL NOT NULL,
			written_at DATETIME NOT NULL
		)
	`)
	return err
}

// RecordFill appends a fill to the ledger.
func (s *Store) RecordFill(fill trader.Fill) error {
	_, err := s.db.Exec(
		`INSERT INTO fills (symbol, side, action, price, quantity, fee, slippage, realized_pnl, reason, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.Symbol, string(fill.Side), fill.Action, fill.Price, fill.Quantity,
		fill.Fee, fill.Slippage, fill.RealizedPnL, fill.Reason, fill.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("store: record fill: %w", err)
	}
	return nil
}

// RecordRiskEvent appends a risk event to the ledger.
func (s *Store) RecordRiskEvent(e risk.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO risk_events (event_id, trigger_type, drawdown_or_ratio, portfolio_value, extra, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Trigger), e.DrawdownOrRatio, e.PortfolioValue, e.Extra, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("store: record risk event: %w", err)
	}
	return nil
}

// sessionSnapshot is the JSON shape written to disk.
type sessionSnapshot struct {
	RunID            string                     `json:"run_id"`
	ConfigDigest     string                     `json:"config_digest,omitempty"`
	Timestamp        time.Time                  `json:"timestamp"`
	Mode             string                     `json:"mode"`
	InitialCapital   float64                    `json:"initial_capital"`
	Cash             float64                    `json:"cash"`
	Positions        map[string]positionSummary `json:"positions"`
	PortfolioValue   float64                    `json:"portfolio_value"`
	PnL              float64                    `json:"pnl"`
	PnLPct           float64                    `json:"pnl_pct"`
	PeakValue        float64                    `json:"peak_value"`
	MaxDrawdown      float64                    `json:"max_drawdown"`
	TotalFeesPaid    float64                    `json:"total_fees_paid"`
	TotalTrades      int                        `json:"total_trades"`
	KillSwitchActive bool                       `json:"kill_switch_active"`
	Iteration        int64                      `json:"iteration"`
}

type positionSummary struct {
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
}

// WriteSnapshot serialises snap to session_{yyyymmdd_hhmmss}.json under
// the store's snapshot directory, writing to a temp file and renaming
// into place so readers never observe a partially-written file.
func (s *Store) WriteSnapshot(snap scheduler.Snapshot) error {
	out := sessionSnapshot{
		RunID: s.runID, ConfigDigest: s.configDigest,
		Timestamp: snap.Timestamp, Mode: snap.Mode, InitialCapital: snap.InitialCapital,
		Cash: snap.Cash, PortfolioValue: snap.PortfolioValue, PnL: snap.PnL, PnLPct: snap.PnLPct,
		PeakValue: snap.PeakValue, MaxDrawdown: snap.MaxDrawdownPct, TotalFeesPaid: snap.TotalFeesPaid,
		TotalTrades: snap.TotalTrades, KillSwitchActive: snap.KillSwitchActive, Iteration: snap.Iteration,
		Positions: make(map[string]positionSummary, len(snap.Positions)),
	}
	for symbol, pos := range snap.Positions {
		takeProfit := pos.EntryPrice * (1 + pos.TakeProfitPct)
		if pos.Side == trader.Short {
			takeProfit = pos.EntryPrice * (1 - pos.TakeProfitPct)
		}
		out.Positions[symbol] = positionSummary{
			Side: string(pos.Side), Quantity: pos.Quantity, EntryPrice: pos.EntryPrice,
			EntryTime: pos.OpenedAt, StopLoss: pos.StopLossPrice,
			TakeProfit: takeProfit,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("session_%s.json", snap.Timestamp.Format("20060102_150405"))
	finalPath := filepath.Join(s.snapshotDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("store: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("store: rename snapshot into place: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO snapshots_meta (file_name, iteration, portfolio_value, written_at) VALUES (?, ?, ?, ?)`,
		name, snap.Iteration, snap.PortfolioValue, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("store: record snapshot metadata: %w", err)
	}
	return nil
}
