// Package runledger records pipeline invocations in Postgres for
// operational visibility. It is advisory only: correctness of idempotent
// skip/rerun decisions always comes from the on-disk version/hash
// sidecars, never from a ledger row, so callers proceed without a ledger
// if Postgres is unreachable.
package runledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mumuon/demregion/internal/config"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one ensure-region invocation's ledger row.
type Run struct {
	ID            string
	RegionID      string
	TargetPixels  int
	Status        Status
	Stage         string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   sql.NullTime
}

// Ledger wraps the run bookkeeping table. A nil *Ledger is valid: the write
// methods are no-ops, StartRun still returns a fresh ID, and Get/ListRecent
// return an "unavailable" error, so callers can keep a ledger reference around
// unconditionally even when Postgres was unreachable at startup.
type Ledger struct {
	conn *sql.DB
}

// Open connects to Postgres and verifies connectivity. Callers should treat
// a non-nil error as non-fatal: log it and continue with a nil *Ledger.
func Open(cfg config.DatabaseConfig) (*Ledger, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening run ledger database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging run ledger database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("run ledger connected")
	return &Ledger{conn: db}, nil
}

// Close releases the underlying connection pool. Safe to call on a nil
// *Ledger.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.conn.Close()
}

// StartRun inserts a new pending run row and returns its generated ID. On a
// nil *Ledger it returns a freshly generated ID without touching the
// database, so callers can always thread a run ID through regardless of
// ledger availability.
func (l *Ledger) StartRun(ctx context.Context, regionID string, targetPixels int) (string, error) {
	id := uuid.NewString()
	if l == nil {
		return id, nil
	}

	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO pipeline_run (id, region_id, target_pixels, status, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, id, regionID, targetPixels, StatusPending, "")
	if err != nil {
		return id, fmt.Errorf("inserting run ledger row: %w", err)
	}
	return id, nil
}

// UpdateStage records the pipeline stage currently being executed.
func (l *Ledger) UpdateStage(ctx context.Context, runID, stage string) error {
	if l == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, `
		UPDATE pipeline_run SET status = $1, stage = $2, updated_at = NOW() WHERE id = $3
	`, StatusRunning, stage, runID)
	if err != nil {
		return fmt.Errorf("updating run ledger stage: %w", err)
	}
	return nil
}

// Succeed marks a run complete.
func (l *Ledger) Succeed(ctx context.Context, runID string) error {
	if l == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, `
		UPDATE pipeline_run SET status = $1, completed_at = NOW(), updated_at = NOW() WHERE id = $2
	`, StatusSucceeded, runID)
	if err != nil {
		return fmt.Errorf("marking run ledger succeeded: %w", err)
	}
	return nil
}

// Fail marks a run failed with the given cause.
func (l *Ledger) Fail(ctx context.Context, runID, errorMessage string) error {
	if l == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, `
		UPDATE pipeline_run SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $3
	`, StatusFailed, errorMessage, runID)
	if err != nil {
		return fmt.Errorf("marking run ledger failed: %w", err)
	}
	return nil
}

// Get retrieves a single run by ID.
func (l *Ledger) Get(ctx context.Context, runID string) (*Run, error) {
	if l == nil {
		return nil, fmt.Errorf("run ledger unavailable")
	}
	row := l.conn.QueryRowContext(ctx, `
		SELECT id, region_id, target_pixels, status, stage, error_message, created_at, updated_at, completed_at
		FROM pipeline_run WHERE id = $1
	`, runID)

	r := &Run{}
	err := row.Scan(&r.ID, &r.RegionID, &r.TargetPixels, &r.Status, &r.Stage, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run ledger: %w", err)
	}
	return r, nil
}

// ListRecent returns the most recently updated runs, most recent first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if l == nil {
		return nil, fmt.Errorf("run ledger unavailable")
	}
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, region_id, target_pixels, status, stage, error_message, created_at, updated_at, completed_at
		FROM pipeline_run ORDER BY updated_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing run ledger: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r := &Run{}
		if err := rows.Scan(&r.ID, &r.RegionID, &r.TargetPixels, &r.Status, &r.Stage, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt); err != nil {
			slog.Error("failed to scan run ledger row", "error", err)
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run ledger rows: %w", err)
	}
	return out, nil
}
