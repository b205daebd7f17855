package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

// maxInArgs bounds the number of bound parameters per IN (...) clause.
const maxInArgs = 500

const (
	subjectColumns    = "id, grade_id, title, subtext"
	topicColumns      = "id, subject_id, title, subtopic"
	lessonColumns     = "id, topic_id, title, content, media_url, media_type, is_offline"
	assessmentColumns = "id, lesson_id, title, quiz_data"
)

// FoldTitle returns the case-folded form used for substring search.
func FoldTitle(s string) string {
	// A Caser keeps state, so build a fresh one per call.
	return cases.Fold().String(s)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(r rowScanner) (schema.Subject, error) {
	var s schema.Subject
	err := r.Scan(&s.ID, &s.GradeID, &s.Title, &s.Subtext)
	return s, err
}

func scanTopic(r rowScanner) (schema.Topic, error) {
	var t schema.Topic
	err := r.Scan(&t.ID, &t.SubjectID, &t.Title, &t.Subtopic)
	return t, err
}

func scanLesson(r rowScanner) (schema.Lesson, error) {
	var l schema.Lesson
	var mediaType string
	err := r.Scan(&l.ID, &l.TopicID, &l.Title, &l.Content, &l.MediaURL, &mediaType, &l.IsOffline)
	l.MediaType = schema.MediaType(mediaType)
	return l, err
}

func scanAssessment(r rowScanner) (schema.Assessment, error) {
	var a schema.Assessment
	var quiz sql.NullString
	err := r.Scan(&a.ID, &a.LessonID, &a.Title, &quiz)
	if quiz.Valid && quiz.String != "" {
		a.QuizData = json.RawMessage(quiz.String)
	}
	return a, err
}

// queryAll runs a query and scans every row with scan.
func queryAll[T any](ctx context.Context, conn *sql.DB, what, query string, args []any, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return out, nil
}

// queryOne fetches a single row; a missing row yields nil, nil.
func queryOne[T any](ctx context.Context, conn *sql.DB, what, query string, id string, scan func(rowScanner) (T, error)) (*T, error) {
	v, err := scan(conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", what, id, err)
	}
	return &v, nil
}

// queryIn runs query once per chunk of values, substituting the IN list for
// the %s placeholder. Results keep chunk order then table order.
func queryIn[T any](ctx context.Context, conn *sql.DB, what, query string, values []string, scan func(rowScanner) (T, error)) ([]T, error) {
	values = dedupe(values)
	var out []T
	for start := 0; start < len(values); start += maxInArgs {
		chunk := values[start:min(start+maxInArgs, len(values))]
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}
		q := fmt.Sprintf(query, placeholders(len(chunk)))
		rows, err := queryAll(ctx, conn, what, q, args, scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// BulkPutSubjects inserts or replaces subjects by id in one transaction.
func (db *DB) BulkPutSubjects(rows []schema.Subject) error {
	return db.BulkPutSubjectsContext(context.Background(), rows)
}

// BulkPutSubjectsContext inserts or replaces subjects with context support.
func (db *DB) BulkPutSubjectsContext(ctx context.Context, rows []schema.Subject) error {
	return db.putSubjects(ctx, rows, false)
}

// ReplaceSubjectsContext swaps the whole subject set for rows in one transaction.
func (db *DB) ReplaceSubjectsContext(ctx context.Context, rows []schema.Subject) error {
	return db.putSubjects(ctx, rows, true)
}

func (db *DB) putSubjects(ctx context.Context, rows []schema.Subject, replace bool) error {
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			return fmt.Errorf("invalid subject: %w", err)
		}
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM subjects"); err != nil {
				return fmt.Errorf("failed to clear subjects: %w", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO subjects (id, grade_id, title, subtext, title_fold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			grade_id = excluded.grade_id,
			title = excluded.title,
			subtext = excluded.subtext,
			title_fold = excluded.title_fold
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare subject upsert: %w", err)
		}
		defer stmt.Close()

		for _, s := range rows {
			if _, err := stmt.ExecContext(ctx, s.ID, s.GradeID, s.Title, s.Subtext, FoldTitle(s.Title)); err != nil {
				return fmt.Errorf("failed to upsert subject %s: %w", s.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.emit(schema.KindSubject, OpPut, len(rows))
	return nil
}

// BulkPutTopics inserts or replaces topics by id in one transaction.
func (db *DB) BulkPutTopics(rows []schema.Topic) error {
	return db.BulkPutTopicsContext(context.Background(), rows)
}

// BulkPutTopicsContext inserts or replaces topics with context support.
func (db *DB) BulkPutTopicsContext(ctx context.Context, rows []schema.Topic) error {
	return db.putTopics(ctx, rows, false)
}

// ReplaceTopicsContext swaps the whole topic set for rows in one transaction.
func (db *DB) ReplaceTopicsContext(ctx context.Context, rows []schema.Topic) error {
	return db.putTopics(ctx, rows, true)
}

func (db *DB) putTopics(ctx context.Context, rows []schema.Topic, replace bool) error {
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			return fmt.Errorf("invalid topic: %w", err)
		}
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM topics"); err != nil {
				return fmt.Errorf("failed to clear topics: %w", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO topics (id, subject_id, title, subtopic, title_fold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject_id = excluded.subject_id,
			title = excluded.title,
			subtopic = excluded.subtopic,
			title_fold = excluded.title_fold
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare topic upsert: %w", err)
		}
		defer stmt.Close()

		for _, t := range rows {
			if _, err := stmt.ExecContext(ctx, t.ID, t.SubjectID, t.Title, t.Subtopic, FoldTitle(t.Title)); err != nil {
				return fmt.Errorf("failed to upsert topic %s: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.emit(schema.KindTopic, OpPut, len(rows))
	return nil
}

// BulkPutLessons inserts or replaces lessons by id in one transaction.
//
// The incoming IsOffline value is ignored. A stored payload survives only if
// its source URL equals the lesson's new media URL; otherwise the payload is
// deleted and the flag cleared in the same transaction.
func (db *DB) BulkPutLessons(rows []schema.Lesson) error {
	return db.BulkPutLessonsContext(context.Background(), rows)
}

// BulkPutLessonsContext inserts or replaces lessons with context support.
func (db *DB) BulkPutLessonsContext(ctx context.Context, rows []schema.Lesson) error {
	return db.putLessons(ctx, rows, false)
}

// ReplaceLessonsContext swaps the whole lesson set for rows in one transaction.
// Payloads are kept; see BulkPutLessons for how the flag is derived.
func (db *DB) ReplaceLessonsContext(ctx context.Context, rows []schema.Lesson) error {
	return db.putLessons(ctx, rows, true)
}

func (db *DB) putLessons(ctx context.Context, rows []schema.Lesson, replace bool) error {
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			return fmt.Errorf("invalid lesson: %w", err)
		}
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM lessons"); err != nil {
				return fmt.Errorf("failed to clear lessons: %w", err)
			}
		}

		stale, err := tx.PrepareContext(ctx, `DELETE FROM lesson_media WHERE lesson_id = ? AND source_url <> ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare media check: %w", err)
		}
		defer stale.Close()

		upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO lessons (id, topic_id, title, content, media_url, media_type, title_fold, is_offline)
		VALUES (?, ?, ?, ?, ?, ?, ?,
			EXISTS(SELECT 1 FROM lesson_media m WHERE m.lesson_id = ?1 AND m.source_url = ?5 AND ?5 <> ''))
		ON CONFLICT(id) DO UPDATE SET
			topic_id = excluded.topic_id,
			title = excluded.title,
			content = excluded.content,
			media_url = excluded.media_url,
			media_type = excluded.media_type,
			title_fold = excluded.title_fold,
			is_offline = excluded.is_offline
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare lesson upsert: %w", err)
		}
		defer upsert.Close()

		for _, l := range rows {
			url := strings.TrimSpace(l.MediaURL)
			if _, err := stale.ExecContext(ctx, l.ID, url); err != nil {
				return fmt.Errorf("failed to drop stale media for lesson %s: %w", l.ID, err)
			}
			_, err := upsert.ExecContext(ctx,
				l.ID,
				l.TopicID,
				l.Title,
				l.Content,
				url,
				string(l.MediaType.Normalize()),
				FoldTitle(l.Title),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert lesson %s: %w", l.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.emit(schema.KindLesson, OpPut, len(rows))
	return nil
}

// BulkPutAssessments inserts or replaces assessments by id in one transaction.
// Every quiz payload must pass the quiz schema; one bad row rejects the batch.
func (db *DB) BulkPutAssessments(rows []schema.Assessment) error {
	return db.BulkPutAssessmentsContext(context.Background(), rows)
}

// BulkPutAssessmentsContext inserts or replaces assessments with context support.
func (db *DB) BulkPutAssessmentsContext(ctx context.Context, rows []schema.Assessment) error {
	return db.putAssessments(ctx, rows, false)
}

// ReplaceAssessmentsContext swaps the whole assessment set for rows in one transaction.
func (db *DB) ReplaceAssessmentsContext(ctx context.Context, rows []schema.Assessment) error {
	return db.putAssessments(ctx, rows, true)
}

func (db *DB) putAssessments(ctx context.Context, rows []schema.Assessment, replace bool) error {
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			return fmt.Errorf("invalid assessment: %w", err)
		}
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM assessments"); err != nil {
				return fmt.Errorf("failed to clear assessments: %w", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assessments (id, lesson_id, title, quiz_data, title_fold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lesson_id = excluded.lesson_id,
			title = excluded.title,
			quiz_data = excluded.quiz_data,
			title_fold = excluded.title_fold
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare assessment upsert: %w", err)
		}
		defer stmt.Close()

		for _, a := range rows {
			quiz := sql.NullString{String: string(a.QuizData), Valid: len(a.QuizData) > 0}
			if _, err := stmt.ExecContext(ctx, a.ID, a.LessonID, a.Title, quiz, FoldTitle(a.Title)); err != nil {
				return fmt.Errorf("failed to upsert assessment %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.emit(schema.KindAssessment, OpPut, len(rows))
	return nil
}

// GetSubject returns the subject with id, or nil if it is not stored.
func (db *DB) GetSubject(id string) (*schema.Subject, error) {
	return db.GetSubjectContext(context.Background(), id)
}

// GetSubjectContext returns a subject by id with context support.
func (db *DB) GetSubjectContext(ctx context.Context, id string) (*schema.Subject, error) {
	return queryOne(ctx, db.conn, "subject", "SELECT "+subjectColumns+" FROM subjects WHERE id = ?", id, scanSubject)
}

// GetTopicContext returns a topic by id, or nil if it is not stored.
func (db *DB) GetTopicContext(ctx context.Context, id string) (*schema.Topic, error) {
	return queryOne(ctx, db.conn, "topic", "SELECT "+topicColumns+" FROM topics WHERE id = ?", id, scanTopic)
}

// GetLesson returns the lesson with id, or nil if it is not stored.
func (db *DB) GetLesson(id string) (*schema.Lesson, error) {
	return db.GetLessonContext(context.Background(), id)
}

// GetLessonContext returns a lesson by id with context support.
func (db *DB) GetLessonContext(ctx context.Context, id string) (*schema.Lesson, error) {
	return queryOne(ctx, db.conn, "lesson", "SELECT "+lessonColumns+" FROM lessons WHERE id = ?", id, scanLesson)
}

// GetAssessmentContext returns an assessment by id, or nil if it is not stored.
func (db *DB) GetAssessmentContext(ctx context.Context, id string) (*schema.Assessment, error) {
	return queryOne(ctx, db.conn, "assessment", "SELECT "+assessmentColumns+" FROM assessments WHERE id = ?", id, scanAssessment)
}

// SubjectsByIDContext returns the stored subjects among ids. Missing ids are
// skipped.
func (db *DB) SubjectsByIDContext(ctx context.Context, ids ...string) ([]schema.Subject, error) {
	return queryIn(ctx, db.conn, "subjects",
		"SELECT "+subjectColumns+" FROM subjects WHERE id IN (%s) ORDER BY rowid", ids, scanSubject)
}

// SubjectsByGradeContext returns subjects whose grade_id is in gradeIDs.
// An empty set yields no rows.
func (db *DB) SubjectsByGradeContext(ctx context.Context, gradeIDs ...string) ([]schema.Subject, error) {
	return queryIn(ctx, db.conn, "subjects",
		"SELECT "+subjectColumns+" FROM subjects WHERE grade_id IN (%s) ORDER BY rowid", gradeIDs, scanSubject)
}

// TopicsBySubjectContext returns topics whose subject_id is in subjectIDs.
func (db *DB) TopicsBySubjectContext(ctx context.Context, subjectIDs ...string) ([]schema.Topic, error) {
	return queryIn(ctx, db.conn, "topics",
		"SELECT "+topicColumns+" FROM topics WHERE subject_id IN (%s) ORDER BY rowid", subjectIDs, scanTopic)
}

// LessonsByTopicContext returns lessons whose topic_id is in topicIDs.
func (db *DB) LessonsByTopicContext(ctx context.Context, topicIDs ...string) ([]schema.Lesson, error) {
	return queryIn(ctx, db.conn, "lessons",
		"SELECT "+lessonColumns+" FROM lessons WHERE topic_id IN (%s) ORDER BY rowid", topicIDs, scanLesson)
}

// AssessmentsByLessonContext returns assessments whose lesson_id is in lessonIDs.
func (db *DB) AssessmentsByLessonContext(ctx context.Context, lessonIDs ...string) ([]schema.Assessment, error) {
	return queryIn(ctx, db.conn, "assessments",
		"SELECT "+assessmentColumns+" FROM assessments WHERE lesson_id IN (%s) ORDER BY rowid", lessonIDs, scanAssessment)
}

// OfflineLessonsContext returns every lesson whose payload is stored locally.
func (db *DB) OfflineLessonsContext(ctx context.Context) ([]schema.Lesson, error) {
	return queryAll(ctx, db.conn, "offline lessons",
		"SELECT "+lessonColumns+" FROM lessons WHERE is_offline = 1 ORDER BY rowid", nil, scanLesson)
}

// AllSubjectsContext returns every stored subject in insertion order.
func (db *DB) AllSubjectsContext(ctx context.Context) ([]schema.Subject, error) {
	return queryAll(ctx, db.conn, "subjects", "SELECT "+subjectColumns+" FROM subjects ORDER BY rowid", nil, scanSubject)
}

// AllTopicsContext returns every stored topic in insertion order.
func (db *DB) AllTopicsContext(ctx context.Context) ([]schema.Topic, error) {
	return queryAll(ctx, db.conn, "topics", "SELECT "+topicColumns+" FROM topics ORDER BY rowid", nil, scanTopic)
}

// AllLessonsContext returns every stored lesson in insertion order.
func (db *DB) AllLessonsContext(ctx context.Context) ([]schema.Lesson, error) {
	return queryAll(ctx, db.conn, "lessons", "SELECT "+lessonColumns+" FROM lessons ORDER BY rowid", nil, scanLesson)
}

// AllAssessmentsContext returns every stored assessment in insertion order.
func (db *DB) AllAssessmentsContext(ctx context.Context) ([]schema.Assessment, error) {
	return queryAll(ctx, db.conn, "assessments", "SELECT "+assessmentColumns+" FROM assessments ORDER BY rowid", nil, scanAssessment)
}

// AssessmentDetail is an assessment with the titles of its ancestors.
type AssessmentDetail struct {
	schema.Assessment
	LessonTitle  string `json:"lesson_title"`
	TopicID      string `json:"topic_id"`
	TopicTitle   string `json:"topic_title"`
	SubjectID    string `json:"subject_id"`
	SubjectTitle string `json:"subject_title"`
}

// AssessmentsUnderSubjectsContext returns the assessments reachable from the
// given subjects through topic and lesson, enriched with ancestor titles.
// Orphaned assessments are not reachable and are not returned.
func (db *DB) AssessmentsUnderSubjectsContext(ctx context.Context, subjectIDs ...string) ([]AssessmentDetail, error) {
	query := `
	SELECT a.id, a.lesson_id, a.title, a.quiz_data,
	       l.title, t.id, t.title, s.id, s.title
	FROM assessments a
	JOIN lessons l ON l.id = a.lesson_id
	JOIN topics t ON t.id = l.topic_id
	JOIN subjects s ON s.id = t.subject_id
	WHERE t.subject_id IN (%s)
	ORDER BY s.rowid, t.rowid, l.rowid, a.rowid
	`
	return queryIn(ctx, db.conn, "assessment details", query, subjectIDs, func(r rowScanner) (AssessmentDetail, error) {
		var d AssessmentDetail
		var quiz sql.NullString
		err := r.Scan(&d.ID, &d.LessonID, &d.Title, &quiz,
			&d.LessonTitle, &d.TopicID, &d.TopicTitle, &d.SubjectID, &d.SubjectTitle)
		if quiz.Valid && quiz.String != "" {
			d.QuizData = json.RawMessage(quiz.String)
		}
		return d, err
	})
}

// Clear wipes the given kinds in one transaction. Lesson payloads are kept.
func (db *DB) Clear(kinds ...schema.Kind) error {
	return db.ClearContext(context.Background(), kinds...)
}

// ClearContext wipes the given kinds with context support.
func (db *DB) ClearContext(ctx context.Context, kinds ...schema.Kind) error {
	removed := make([]int64, len(kinds))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i, k := range kinds {
			table, err := tableFor(k)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table)
			if err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
			removed[i], _ = res.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, k := range kinds {
		db.emit(k, OpClear, int(removed[i]))
	}
	return nil
}

// ClearAllContext wipes all four mirrored kinds in one transaction.
func (db *DB) ClearAllContext(ctx context.Context) error {
	return db.ClearContext(ctx, schema.Kinds...)
}

// Count returns how many rows of kind have parentID as their parent key.
func (db *DB) Count(kind schema.Kind, parentID string) (int, error) {
	return db.CountContext(context.Background(), kind, parentID)
}

// CountContext counts rows by parent key with context support.
func (db *DB) CountContext(ctx context.Context, kind schema.Kind, parentID string) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, kind.ParentKey())
	if err := db.conn.QueryRowContext(ctx, query, parentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// CountAllContext returns the total number of stored rows of kind.
func (db *DB) CountAllContext(ctx context.Context, kind schema.Kind) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// CountOfflineLessonsContext returns the number of lessons available offline.
func (db *DB) CountOfflineLessonsContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM lessons WHERE is_offline = 1").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count offline lessons: %w", err)
	}
	return count, nil
}

// CountLessonsForSubjectContext counts lessons under a subject through its topics.
func (db *DB) CountLessonsForSubjectContext(ctx context.Context, subjectID string) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM lessons l
	JOIN topics t ON t.id = l.topic_id
	WHERE t.subject_id = ?
	`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, subjectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count lessons for subject %s: %w", subjectID, err)
	}
	return count, nil
}

// TitleHit is one row matched by SearchTitles.
type TitleHit struct {
	Kind     schema.Kind
	ID       string
	Title    string
	ParentID string
	// SubjectID is resolved through the topic for lessons; empty otherwise.
	SubjectID string
}

// SearchTitlesContext returns up to limit rows of kind whose folded title
// contains needle. needle must already be folded with FoldTitle.
func (db *DB) SearchTitlesContext(ctx context.Context, kind schema.Kind, needle string, limit int) ([]TitleHit, error) {
	pattern := "%" + escapeLike(needle) + "%"

	var query string
	switch kind {
	case schema.KindSubject:
		query = `SELECT id, title, grade_id, '' FROM subjects
		WHERE title_fold LIKE ? ESCAPE '\' ORDER BY rowid LIMIT ?`
	case schema.KindTopic:
		query = `SELECT id, title, subject_id, subject_id FROM topics
		WHERE title_fold LIKE ? ESCAPE '\' ORDER BY rowid LIMIT ?`
	case schema.KindLesson:
		query = `SELECT l.id, l.title, l.topic_id, COALESCE(t.subject_id, '')
		FROM lessons l LEFT JOIN topics t ON t.id = l.topic_id
		WHERE l.title_fold LIKE ? ESCAPE '\' ORDER BY l.rowid LIMIT ?`
	case schema.KindAssessment:
		query = `SELECT id, title, lesson_id, '' FROM assessments
		WHERE title_fold LIKE ? ESCAPE '\' ORDER BY rowid LIMIT ?`
	default:
		return nil, fmt.Errorf("unknown record kind %d", kind)
	}

	return queryAll(ctx, db.conn, kind.String()+" titles", query, []any{pattern, limit}, func(r rowScanner) (TitleHit, error) {
		h := TitleHit{Kind: kind}
		err := r.Scan(&h.ID, &h.Title, &h.ParentID, &h.SubjectID)
		return h, err
	})
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func tableFor(k schema.Kind) (string, error) {
	switch k {
	case schema.KindSubject, schema.KindTopic, schema.KindLesson, schema.KindAssessment:
		return k.String(), nil
	}
	return "", fmt.Errorf("unknown record kind %d", k)
}
