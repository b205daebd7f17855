// Package db is the local store of the curriculum mirror.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3, no cgo) in WAL
// mode, so any number of readers can run while one writer applies a batch.
//
// Architecture:
//   - Database file: <data_dir>/satchel.db
//   - Tables: subjects, topics, lessons, assessments (mirrored kinds),
//     lesson_media (downloaded payloads), meta (small scalar values),
//     sync_runs (reconciliation history)
//   - Indexes: one per parent key, plus lessons(is_offline) and the
//     case-folded title of every kind
//
// Every bulk write runs in a single transaction, so a concurrent reader sees
// either the set before the batch or the set after it. Payloads are stored
// apart from lesson rows: wiping or replacing lessons never discards a
// download, and the is_offline flag is recomputed from lesson_media on every
// lesson write.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool of the local mirror.
type DB struct {
	conn *sql.DB
	path string

	mu          sync.RWMutex
	subscribers map[int]func(ChangeEvent)
	nextSubID   int
}

// Open creates a new database connection at the specified path.
//
// The database is created if missing. The caller must call InitSchema before
// the first read and Close when done.
//
// Example:
//
//	store, err := db.Open(filepath.Join(dataDir, "satchel.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_txlock=immediate"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=journal_mode(wal)"+
		"&_pragma=foreign_keys(1)"+
		"&_pragma=synchronous(normal)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn:        conn,
		path:        path,
		subscribers: make(map[int]func(ChangeEvent)),
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	// No foreign keys between mirrored kinds: orphans are allowed and simply
	// unreachable by traversal. lesson_media must outlive a wipe of lessons.
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		grade_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		subtext TEXT NOT NULL DEFAULT '',
		title_fold TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		subtopic TEXT NOT NULL DEFAULT '',
		title_fold TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		is_offline INTEGER NOT NULL DEFAULT 0,
		title_fold TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		lesson_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		quiz_data TEXT,
		title_fold TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS lesson_media (
		lesson_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		payload BLOB NOT NULL,
		fetched_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		full_refresh INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		step TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_subjects_grade ON subjects(grade_id);
	CREATE INDEX IF NOT EXISTS idx_topics_subject ON topics(subject_id);
	CREATE INDEX IF NOT EXISTS idx_lessons_topic ON lessons(topic_id);
	CREATE INDEX IF NOT EXISTS idx_lessons_offline ON lessons(is_offline);
	CREATE INDEX IF NOT EXISTS idx_assessments_lesson ON assessments(lesson_id);

	CREATE INDEX IF NOT EXISTS idx_subjects_fold ON subjects(title_fold);
	CREATE INDEX IF NOT EXISTS idx_topics_fold ON topics(title_fold);
	CREATE INDEX IF NOT EXISTS idx_lessons_fold ON lessons(title_fold);
	CREATE INDEX IF NOT EXISTS idx_assessments_fold ON assessments(title_fold);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// withTx runs fn inside a write transaction and commits it.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }
