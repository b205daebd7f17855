package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known metadata keys.
const (
	MetaRecentSubjects = "recent_subjects"
	MetaLastSyncAt     = "last_sync_at"
	MetaLastSyncScope  = "last_sync_scope"
)

// GetMeta returns the value stored under key and whether it exists.
func (db *DB) GetMeta(key string) (string, bool, error) {
	return db.GetMetaContext(context.Background(), key)
}

// GetMetaContext returns a metadata value with context support.
func (db *DB) GetMetaContext(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMetaContext stores value under key, replacing any previous value.
func (db *DB) SetMetaContext(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// DeleteMetaContext removes key. Missing keys are not an error.
func (db *DB) DeleteMetaContext(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete meta %s: %w", key, err)
	}
	return nil
}

// runTimeLayout is fixed width so timestamps sort lexically.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one recorded reconciliation.
type Run struct {
	ID         string     `json:"id"`
	Scope      string     `json:"scope"`
	Full       bool       `json:"full"`
	Status     string     `json:"status"`
	Step       string     `json:"step,omitempty"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BeginRunContext records the start of a reconciliation and returns its row.
func (db *DB) BeginRunContext(ctx context.Context, scope string, full bool, status string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Scope:     scope,
		Full:      full,
		Status:    status,
		StartedAt: now(),
	}
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_runs (id, scope, full_refresh, status, progress, started_at)
	VALUES (?, ?, ?, ?, 0, ?)
	`, run.ID, run.Scope, run.Full, run.Status, run.StartedAt.Format(runTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}
	return run, nil
}

// UpdateRunContext stores the step and progress of a running reconciliation.
func (db *DB) UpdateRunContext(ctx context.Context, id, step string, progress int) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sync_runs SET step = ?, progress = ? WHERE id = ?", step, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update sync run %s: %w", id, err)
	}
	return nil
}

// FinishRunContext stores the terminal state of a reconciliation.
func (db *DB) FinishRunContext(ctx context.Context, id, status, step string, progress int, errMsg string) error {
	_, err := db.conn.ExecContext(ctx, `
	UPDATE sync_runs SET status = ?, step = ?, progress = ?, error = ?, finished_at = ?
	WHERE id = ?
	`, status, step, progress, errMsg, now().Format(runTimeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to finish sync run %s: %w", id, err)
	}
	return nil
}

// LastRunContext returns the most recently started run, or nil if none exist.
func (db *DB) LastRunContext(ctx context.Context) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString
	err := db.conn.QueryRowContext(ctx, `
	SELECT id, scope, full_refresh, status, step, progress, error, started_at, finished_at
	FROM sync_runs
	ORDER BY started_at DESC, rowid DESC
	LIMIT 1
	`).Scan(&run.ID, &run.Scope, &run.Full, &run.Status, &run.Step, &run.Progress, &run.Error, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync run: %w", err)
	}

	if t, err := time.Parse(runTimeLayout, startedAt); err == nil {
		run.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(runTimeLayout, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}
