// Package remote defines the read-only query surface over the curriculum
// source of truth.
//
// A Gateway is a thin facade: no caching, no retries. Transport failures are
// returned to the caller as errors wrapping ErrOffline so the reconciliation
// engine can fail the current step and stop. Child lookups take a set of
// parent ids; an empty set returns an empty result without a round trip.
package remote

import (
	"context"
	"errors"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

// ErrOffline reports that the remote source could not be reached or answered
// with an error.
var ErrOffline = errors.New("remote source unavailable")

// Gateway is the query surface used by reconciliation and profile flows.
type Gateway interface {
	// Grades lists the available scopes ordered by order_index.
	Grades(ctx context.Context) ([]schema.Grade, error)
	// Grade returns one scope's metadata, or nil if it does not exist.
	Grade(ctx context.Context, id string) (*schema.Grade, error)
	// Subjects returns the subjects whose grade_id equals gradeID.
	Subjects(ctx context.Context, gradeID string) ([]schema.Subject, error)
	// Topics returns the topics whose subject_id is in subjectIDs.
	Topics(ctx context.Context, subjectIDs []string) ([]schema.Topic, error)
	// Lessons returns the lessons whose topic_id is in topicIDs.
	Lessons(ctx context.Context, topicIDs []string) ([]schema.Lesson, error)
	// Assessments returns the assessments whose lesson_id is in lessonIDs.
	Assessments(ctx context.Context, lessonIDs []string) ([]schema.Assessment, error)
	// Close releases any held connections.
	Close() error
}
