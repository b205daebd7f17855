package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

// Media is a downloaded lesson payload.
type Media struct {
	LessonID    string
	SourceURL   string
	ContentType string
	Size        int64
	Payload     []byte
	FetchedAt   time.Time
}

// AttachMediaContext stores a payload for a lesson and sets its offline flag
// in one transaction.
//
// The write only happens if the lesson still exists and still points at
// m.SourceURL; otherwise it returns false and changes nothing. This covers a
// reconciliation that replaced the lesson while the download was in flight.
func (db *DB) AttachMediaContext(ctx context.Context, m *Media) (bool, error) {
	if m == nil || m.LessonID == "" || m.SourceURL == "" {
		return false, fmt.Errorf("media requires lesson_id and source_url")
	}

	fetchedAt := m.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = now()
	}

	attached := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, "SELECT media_url FROM lessons WHERE id = ?", m.LessonID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read lesson %s: %w", m.LessonID, err)
		}
		if current != m.SourceURL {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
		INSERT INTO lesson_media (lesson_id, source_url, content_type, size, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(lesson_id) DO UPDATE SET
			source_url = excluded.source_url,
			content_type = excluded.content_type,
			size = excluded.size,
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
		`, m.LessonID, m.SourceURL, m.ContentType, int64(len(m.Payload)), m.Payload, fetchedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to store media for lesson %s: %w", m.LessonID, err)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE lessons SET is_offline = 1 WHERE id = ?", m.LessonID); err != nil {
			return fmt.Errorf("failed to flag lesson %s offline: %w", m.LessonID, err)
		}
		attached = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if attached {
		db.emit(schema.KindLesson, OpMedia, 1)
	}
	return attached, nil
}

// LessonMediaContext returns the stored payload for a lesson, or nil if none.
func (db *DB) LessonMediaContext(ctx context.Context, lessonID string) (*Media, error) {
	var m Media
	var fetchedAt string
	err := db.conn.QueryRowContext(ctx, `
	SELECT lesson_id, source_url, content_type, size, payload, fetched_at
	FROM lesson_media WHERE lesson_id = ?
	`, lessonID).Scan(&m.LessonID, &m.SourceURL, &m.ContentType, &m.Size, &m.Payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media for lesson %s: %w", lessonID, err)
	}
	if t, err := time.Parse(time.RFC3339, fetchedAt); err == nil {
		m.FetchedAt = t
	}
	return &m, nil
}

// DetachMediaContext removes a lesson's payload and clears its flag together.
// It reports whether a payload was removed.
func (db *DB) DetachMediaContext(ctx context.Context, lessonID string) (bool, error) {
	var removed int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM lesson_media WHERE lesson_id = ?", lessonID)
		if err != nil {
			return fmt.Errorf("failed to delete media for lesson %s: %w", lessonID, err)
		}
		removed, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, "UPDATE lessons SET is_offline = 0 WHERE id = ?", lessonID); err != nil {
			return fmt.Errorf("failed to clear offline flag for lesson %s: %w", lessonID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed > 0 {
		db.emit(schema.KindLesson, OpMedia, int(removed))
	}
	return removed > 0, nil
}

// PruneOrphanMediaContext deletes payloads whose lesson is no longer stored
// and returns how many were removed.
func (db *DB) PruneOrphanMediaContext(ctx context.Context) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM lesson_media WHERE lesson_id NOT IN (SELECT id FROM lessons)")
	if err != nil {
		return 0, fmt.Errorf("failed to prune orphan media: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MediaStats summarizes stored payloads.
type MediaStats struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

// MediaStatsContext returns the number and total size of stored payloads.
func (db *DB) MediaStatsContext(ctx context.Context) (MediaStats, error) {
	var s MediaStats
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size), 0) FROM lesson_media").Scan(&s.Count, &s.Bytes)
	if err != nil {
		return MediaStats{}, fmt.Errorf("failed to read media stats: %w", err)
	}
	return s, nil
}
