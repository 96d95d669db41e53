package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"quantsim/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ JobStore = (*SQLiteStore)(nil)
var _ TradeLog = (*SQLiteStore)(nil)

// SQLiteStore implements JobStore and TradeLog backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS simulation_jobs (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	trigger_source   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	total_steps      INTEGER NOT NULL DEFAULT 0,
	completed_steps  INTEGER NOT NULL DEFAULT 0,
	initial_capital  REAL NOT NULL DEFAULT 0,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	result_key       TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON simulation_jobs(created_at);

CREATE TABLE IF NOT EXISTS trade_events (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	ts                INTEGER NOT NULL,
	side              TEXT NOT NULL,
	quantity          INTEGER NOT NULL,
	price             REAL NOT NULL,
	fee               REAL NOT NULL,
	tax               REAL NOT NULL,
	amount            REAL NOT NULL,
	realized_pnl      REAL NOT NULL,
	realized_roi      REAL NOT NULL,
	unrealized_pnl    REAL NOT NULL,
	unrealized_roi    REAL NOT NULL,
	cash_after        REAL NOT NULL,
	reason_codes      TEXT NOT NULL,
	reason            TEXT NOT NULL,
	take_profit_hit   INTEGER NOT NULL,
	stop_loss_hit     INTEGER NOT NULL,
	position_quantity INTEGER NOT NULL,
	average_price     REAL NOT NULL,
	total_cost        REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_symbol ON trade_events(symbol, ts);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates
// the tables and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; SQLite locks the file anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// JobStore implementation
// ---------------------------------------------------------------------------

const jobColumns = `id, kind, trigger_source, status, total_steps, completed_steps, initial_capital,
	cancel_requested, error, result_key, created_at, updated_at`

// CreateJob inserts a new job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.SimulationJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO simulation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.Trigger, string(job.Status), job.TotalSteps, job.CompletedSteps,
		job.InitialCapital, boolInt(job.CancelRequested), job.Error, job.ResultKey,
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the job or domain.ErrJobNotFound.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*domain.SimulationJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM simulation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]domain.SimulationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM simulation_jobs
		ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.SimulationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// StartJob moves a job to RUNNING.
func (s *SQLiteStore) StartJob(ctx context.Context, id string, totalSteps int) error {
	return s.updateJob(ctx, id, `UPDATE simulation_jobs SET status = ?, total_steps = ?, updated_at = ? WHERE id = ?`,
		string(domain.JobRunning), totalSteps, nowMilli(), id)
}

// AdvanceProgress never moves completed_steps backwards.
func (s *SQLiteStore) AdvanceProgress(ctx context.Context, id string, completed int) error {
	return s.updateJob(ctx, id, `UPDATE simulation_jobs SET completed_steps = MAX(completed_steps, ?), updated_at = ? WHERE id = ?`,
		completed, nowMilli(), id)
}

// FinishJob records a terminal status.
func (s *SQLiteStore) FinishJob(ctx context.Context, id string, status domain.JobStatus, resultKey, errMsg string) error {
	return s.updateJob(ctx, id, `UPDATE simulation_jobs SET status = ?, result_key = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), resultKey, errMsg, nowMilli(), id)
}

// RequestCancel flags a job for cancellation.
func (s *SQLiteStore) RequestCancel(ctx context.Context, id string) error {
	return s.updateJob(ctx, id, `UPDATE simulation_jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		nowMilli(), id)
}

func (s *SQLiteStore) updateJob(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*domain.SimulationJob, error) {
	var (
		job              domain.SimulationJob
		kind, status     string
		cancel           int
		created, updated int64
	)
	err := r.Scan(&job.ID, &kind, &job.Trigger, &status, &job.TotalSteps, &job.CompletedSteps,
		&job.InitialCapital, &cancel, &job.Error, &job.ResultKey, &created, &updated)
	if err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	job.CancelRequested = cancel != 0
	job.CreatedAt = time.UnixMilli(created).UTC()
	job.UpdatedAt = time.UnixMilli(updated).UTC()
	return &job, nil
}

// ---------------------------------------------------------------------------
// TradeLog implementation
// ---------------------------------------------------------------------------

// RecordEvent appends a trade event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, runID string, ev domain.TradeEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO trade_events (
		run_id, symbol, ts, side, quantity, price, fee, tax, amount,
		realized_pnl, realized_roi, unrealized_pnl, unrealized_roi, cash_after,
		reason_codes, reason, take_profit_hit, stop_loss_hit,
		position_quantity, average_price, total_cost
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.Symbol, ev.Timestamp.UnixMilli(), string(ev.Side), ev.Quantity, ev.Price, ev.Fee, ev.Tax, ev.Amount,
		ev.RealizedPnL, ev.RealizedROI, ev.UnrealizedPnL, ev.UnrealizedROI, ev.CashAfter,
		strings.Join(ev.ReasonCodes, ","), ev.Reason, boolInt(ev.TakeProfitHit), boolInt(ev.StopLossHit),
		ev.PositionQuantity, ev.AveragePrice, ev.TotalCost)
	if err != nil {
		return fmt.Errorf("recording %s %s event: %w", ev.Side, ev.Symbol, err)
	}
	return nil
}

// ListEvents returns events newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, symbol string, limit int) ([]domain.TradeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT symbol, ts, side, quantity, price, fee, tax, amount,
		realized_pnl, realized_roi, unrealized_pnl, unrealized_roi, cash_after,
		reason_codes, reason, take_profit_hit, stop_loss_hit,
		position_quantity, average_price, total_cost
		FROM trade_events`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing trade events: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		var (
			ev      domain.TradeEvent
			ts      int64
			side    string
			reasons string
			tp, sl  int
		)
		if err := rows.Scan(&ev.Symbol, &ts, &side, &ev.Quantity, &ev.Price, &ev.Fee, &ev.Tax, &ev.Amount,
			&ev.RealizedPnL, &ev.RealizedROI, &ev.UnrealizedPnL, &ev.UnrealizedROI, &ev.CashAfter,
			&reasons, &ev.Reason, &tp, &sl, &ev.PositionQuantity, &ev.AveragePrice, &ev.TotalCost); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		ev.Side = domain.Side(side)
		if reasons != "" {
			ev.ReasonCodes = strings.Split(reasons, ",")
		}
		ev.TakeProfitHit = tp != 0
		ev.StopLossHit = sl != 0
		out = append(out, ev)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowMilli() int64 { return time.Now().UTC().UnixMilli() }
