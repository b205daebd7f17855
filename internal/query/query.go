// Package query serves every read of the curriculum from the local store:
// parent-key traversal, lookups by id, counts and free-text search.
//
// Nothing here touches the network. Missing records are returned as nil with
// a nil error, and empty parent sets return empty slices.
package query

import (
	"context"
	"fmt"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/metrics"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

// Reader answers curriculum queries from the local store.
type Reader struct {
	store   *db.DB
	metrics *metrics.Metrics
}

// New returns a Reader over store. m may be nil.
func New(store *db.DB, m *metrics.Metrics) *Reader {
	return &Reader{store: store, metrics: m}
}

// SubjectsForGrade returns the subjects of a grade in remote order.
func (r *Reader) SubjectsForGrade(ctx context.Context, gradeID string) ([]schema.Subject, error) {
	return nonNil(r.store.SubjectsByGradeContext(ctx, gradeID))
}

// TopicsForSubject returns the topics of a subject.
func (r *Reader) TopicsForSubject(ctx context.Context, subjectID string) ([]schema.Topic, error) {
	return nonNil(r.store.TopicsBySubjectContext(ctx, subjectID))
}

// LessonsForTopic returns the lessons of a topic.
func (r *Reader) LessonsForTopic(ctx context.Context, topicID string) ([]schema.Lesson, error) {
	return nonNil(r.store.LessonsByTopicContext(ctx, topicID))
}

// AssessmentsForLesson returns the assessments attached to a lesson.
func (r *Reader) AssessmentsForLesson(ctx context.Context, lessonID string) ([]schema.Assessment, error) {
	return nonNil(r.store.AssessmentsByLessonContext(ctx, lessonID))
}

// AssessmentsForSubject returns every assessment reachable from a subject,
// with lesson, topic and subject titles attached.
func (r *Reader) AssessmentsForSubject(ctx context.Context, subjectID string) ([]db.AssessmentDetail, error) {
	return nonNil(r.store.AssessmentsUnderSubjectsContext(ctx, subjectID))
}

// AssessmentsForGrade returns every assessment reachable from the subjects of
// a grade.
func (r *Reader) AssessmentsForGrade(ctx context.Context, gradeID string) ([]db.AssessmentDetail, error) {
	subjects, err := r.store.SubjectsByGradeContext(ctx, gradeID)
	if err != nil {
		return nil, err
	}
	return nonNil(r.store.AssessmentsUnderSubjectsContext(ctx, schema.SubjectIDs(subjects)...))
}

// OfflineLessons returns the lessons whose payload is stored locally.
func (r *Reader) OfflineLessons(ctx context.Context) ([]schema.Lesson, error) {
	return nonNil(r.store.OfflineLessonsContext(ctx))
}

// Subject returns a subject by id, or nil.
func (r *Reader) Subject(ctx context.Context, id string) (*schema.Subject, error) {
	return r.store.GetSubjectContext(ctx, id)
}

// Topic returns a topic by id, or nil.
func (r *Reader) Topic(ctx context.Context, id string) (*schema.Topic, error) {
	return r.store.GetTopicContext(ctx, id)
}

// Lesson returns a lesson by id, or nil.
func (r *Reader) Lesson(ctx context.Context, id string) (*schema.Lesson, error) {
	return r.store.GetLessonContext(ctx, id)
}

// Assessment returns an assessment by id, or nil.
func (r *Reader) Assessment(ctx context.Context, id string) (*schema.Assessment, error) {
	return r.store.GetAssessmentContext(ctx, id)
}

// SubjectCount is a subject with the sizes shown on its card.
type SubjectCount struct {
	schema.Subject
	Topics  int `json:"topics"`
	Lessons int `json:"lessons"`
}

// SubjectCounts returns the grade's subjects with topic and lesson counts.
func (r *Reader) SubjectCounts(ctx context.Context, gradeID string) ([]SubjectCount, error) {
	subjects, err := r.store.SubjectsByGradeContext(ctx, gradeID)
	if err != nil {
		return nil, err
	}

	out := make([]SubjectCount, 0, len(subjects))
	for _, s := range subjects {
		topics, err := r.store.CountContext(ctx, schema.KindTopic, s.ID)
		if err != nil {
			return nil, err
		}
		lessons, err := r.store.CountLessonsForSubjectContext(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, SubjectCount{Subject: s, Topics: topics, Lessons: lessons})
	}
	return out, nil
}

// TopicLessonCount returns the number of lessons in a topic.
func (r *Reader) TopicLessonCount(ctx context.Context, topicID string) (int, error) {
	return r.store.CountContext(ctx, schema.KindLesson, topicID)
}

// Score grades answers against an assessment's quiz. It returns nil if the
// assessment is not stored.
func (r *Reader) Score(ctx context.Context, assessmentID string, answers map[string]string) (*schema.Score, error) {
	a, err := r.store.GetAssessmentContext(ctx, assessmentID)
	if err != nil || a == nil {
		return nil, err
	}
	quiz, err := a.Quiz()
	if err != nil {
		return nil, fmt.Errorf("assessment %s has an invalid quiz: %w", assessmentID, err)
	}
	score := quiz.Grade(answers)
	return &score, nil
}

func nonNil[T any](rows []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}
