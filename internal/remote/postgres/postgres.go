// Package postgres is the Gateway over the curriculum PostgreSQL database.
//
// Expected tables (ids are returned as text, so uuid or integer keys work):
//
//	grades(id, name, order_index)
//	subjects(id, grade_id, title, subtext)
//	topics(id, subject_id, title, subtopic)
//	lessons(id, topic_id, title, content, media_url, media_type)
//	assessments(id, lesson_id, title, quiz_data jsonb)
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/remote"
)

// DefaultTimeout bounds every query when Options.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Options configures the connection pool.
type Options struct {
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// Gateway queries the remote curriculum through a pgx pool.
type Gateway struct {
	pool    *pgxpool.Pool
	timeout time.Duration

	// keyTypes maps "table.column" to the column's SQL type. Nil until the
	// catalog has been read successfully.
	mu       sync.Mutex
	keyTypes map[string]string
}

var _ remote.Gateway = (*Gateway)(nil)

// ParseURL validates a PostgreSQL connection URL.
func ParseURL(url string) (*pgxpool.Config, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	return cfg, nil
}

// Open creates the pool and pings the server. An unreachable server yields an
// error wrapping remote.ErrOffline.
func Open(ctx context.Context, url string, opts Options) (*Gateway, error) {
	cfg, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging curriculum database: %w: %w", remote.ErrOffline, err)
	}

	return &Gateway{pool: pool, timeout: timeout}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{pool: pool, timeout: timeout}
}

// Close shuts down the connection pool.
func (g *Gateway) Close() error {
	g.pool.Close()
	return nil
}

// HealthCheck verifies the database connection is alive.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

func (g *Gateway) Grades(ctx context.Context) ([]schema.Grade, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.pool.Query(ctx,
		`SELECT id::text, COALESCE(name, ''), COALESCE(order_index, 0)
		 FROM grades
		 ORDER BY order_index ASC, id ASC`)
	if err != nil {
		return nil, offline("list grades", err)
	}
	grades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Grade, error) {
		var gr schema.Grade
		err := row.Scan(&gr.ID, &gr.Name, &gr.OrderIndex)
		return gr, err
	})
	if err != nil {
		return nil, offline("scan grades", err)
	}
	return grades, nil
}

func (g *Gateway) Grade(ctx context.Context, id string) (*schema.Grade, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var gr schema.Grade
	err := g.pool.QueryRow(ctx,
		`SELECT id::text, COALESCE(name, ''), COALESCE(order_index, 0)
		 FROM grades WHERE `+g.keyFilter(ctx, "grades", "id", false)+` LIMIT 1`, id,
	).Scan(&gr.ID, &gr.Name, &gr.OrderIndex)
	if errors.Is(err, pgx.ErrNoRows) || badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("get grade", err)
	}
	return &gr, nil
}

func (g *Gateway) Subjects(ctx context.Context, gradeID string) ([]schema.Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.pool.Query(ctx,
		`SELECT id::text, grade_id::text, COALESCE(title, ''), COALESCE(subtext, '')
		 FROM subjects
		 WHERE `+g.keyFilter(ctx, "subjects", "grade_id", false)+`
		 ORDER BY id`, gradeID)
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("list subjects", err)
	}
	subjects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Subject, error) {
		var s schema.Subject
		err := row.Scan(&s.ID, &s.GradeID, &s.Title, &s.Subtext)
		return s, err
	})
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("scan subjects", err)
	}
	return subjects, nil
}

func (g *Gateway) Topics(ctx context.Context, subjectIDs []string) ([]schema.Topic, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.pool.Query(ctx,
		`SELECT id::text, subject_id::text, COALESCE(title, ''), COALESCE(subtopic, '')
		 FROM topics
		 WHERE `+g.keyFilter(ctx, "topics", "subject_id", true)+`
		 ORDER BY id`, subjectIDs)
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("list topics", err)
	}
	topics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Topic, error) {
		var t schema.Topic
		err := row.Scan(&t.ID, &t.SubjectID, &t.Title, &t.Subtopic)
		return t, err
	})
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("scan topics", err)
	}
	return topics, nil
}

func (g *Gateway) Lessons(ctx context.Context, topicIDs []string) ([]schema.Lesson, error) {
	if len(topicIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.pool.Query(ctx,
		`SELECT id::text, topic_id::text, COALESCE(title, ''), COALESCE(content, ''),
		        COALESCE(media_url, ''), COALESCE(media_type, '')
		 FROM lessons
		 WHERE `+g.keyFilter(ctx, "lessons", "topic_id", true)+`
		 ORDER BY id`, topicIDs)
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("list lessons", err)
	}
	lessons, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Lesson, error) {
		var l schema.Lesson
		var mediaType string
		err := row.Scan(&l.ID, &l.TopicID, &l.Title, &l.Content, &l.MediaURL, &mediaType)
		l.MediaType = schema.MediaType(mediaType).Normalize()
		return l, err
	})
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("scan lessons", err)
	}
	return lessons, nil
}

func (g *Gateway) Assessments(ctx context.Context, lessonIDs []string) ([]schema.Assessment, error) {
	if len(lessonIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.pool.Query(ctx,
		`SELECT id::text, lesson_id::text, COALESCE(title, ''), quiz_data::text
		 FROM assessments
		 WHERE `+g.keyFilter(ctx, "assessments", "lesson_id", true)+`
		 ORDER BY id`, lessonIDs)
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("list assessments", err)
	}
	assessments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Assessment, error) {
		var a schema.Assessment
		var quiz *string
		err := row.Scan(&a.ID, &a.LessonID, &a.Title, &quiz)
		if quiz != nil {
			a.QuizData = []byte(*quiz)
		}
		return a, err
	})
	if badKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, offline("scan assessments", err)
	}
	return assessments, nil
}

// keyTypesSQL reads the declared types of the columns lookups filter on.
const keyTypesSQL = `
SELECT c.relname::text, a.attname::text, format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
WHERE c.oid = ANY(ARRAY[to_regclass('grades'), to_regclass('subjects'), to_regclass('topics'),
                        to_regclass('lessons'), to_regclass('assessments')])
  AND a.attname IN ('id', 'grade_id', 'subject_id', 'topic_id', 'lesson_id')
  AND a.attnum > 0 AND NOT a.attisdropped`

// keyFilter returns a predicate matching table.column against $1, a text
// value or, with many set, a text array.
func (g *Gateway) keyFilter(ctx context.Context, table, column string, many bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keyTypes == nil {
		types, err := g.readKeyTypes(ctx)
		if err != nil {
			// The lookup itself will report the connection problem.
			return keyPredicate(column, "", many)
		}
		g.keyTypes = types
	}
	return keyPredicate(column, g.keyTypes[table+"."+column], many)
}

func (g *Gateway) readKeyTypes(ctx context.Context) (map[string]string, error) {
	rows, err := g.pool.Query(ctx, keyTypesSQL)
	if err != nil {
		return nil, err
	}
	types := make(map[string]string)
	var table, column, typ string
	_, err = pgx.ForEachRow(rows, []any{&table, &column, &typ}, func() error {
		types[table+"."+column] = typ
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types, nil
}

// castableType matches the type names format_type produces for key columns,
// such as uuid, bigint, integer or character varying(36).
var castableType = regexp.MustCompile(`^[a-z][a-z0-9_ ]*(\([0-9]+(,[0-9]+)?\))?$`)

// keyPredicate compares column with its index usable: the text parameter is
// cast to the column's type rather than the column to text. An unknown or
// unusual type falls back to a text comparison.
func keyPredicate(column, typ string, many bool) string {
	switch {
	case typ == "text" || strings.HasPrefix(typ, "character varying"):
		if many {
			return column + " = ANY($1)"
		}
		return column + " = $1"
	case typ != "" && castableType.MatchString(typ):
		if many {
			return fmt.Sprintf("%s = ANY($1::text[]::%s[])", column, typ)
		}
		return fmt.Sprintf("%s = $1::text::%s", column, typ)
	default:
		if many {
			return column + "::text = ANY($1)"
		}
		return column + "::text = $1"
	}
}

// badKey reports whether err is the server rejecting an id that cannot be a
// value of the key's type. No row can match such an id.
func badKey(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "22P02", "22003": // invalid_text_representation, numeric_value_out_of_range
		return true
	}
	return false
}

// offline tags transport and server errors so callers can test for them
// with errors.Is(err, remote.ErrOffline).
func offline(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, remote.ErrOffline, err)
}
