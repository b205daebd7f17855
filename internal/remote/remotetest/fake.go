// Package remotetest provides a scriptable Gateway for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/remote"
)

// Fake wraps a Static dataset and can fail or block individual queries.
type Fake struct {
	*remote.Static

	mu sync.Mutex
	// fail maps a collection name ("grades", "subjects", ...) to the error
	// returned by the next calls to it.
	fail map[string]error
	// block, when set for a collection, is waited on before answering.
	block map[string]chan struct{}
	calls map[string]int
}

// New returns a Fake serving data.
func New(data remote.Dataset) *Fake {
	return &Fake{
		Static: remote.NewStatic(data),
		fail:   make(map[string]error),
		block:  make(map[string]chan struct{}),
		calls:  make(map[string]int),
	}
}

// FailOn makes every call to collection return an error wrapping remote.ErrOffline.
func (f *Fake) FailOn(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[collection] = fmt.Errorf("%s query: %w", collection, remote.ErrOffline)
}

// Heal clears every injected failure.
func (f *Fake) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]error)
}

// BlockOn makes calls to collection wait until the returned func is called.
func (f *Fake) BlockOn(collection string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block[collection] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns how many times collection was queried.
func (f *Fake) Calls(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[collection]
}

// SetData swaps the served dataset. Not safe while queries are running.
func (f *Fake) SetData(data remote.Dataset) {
	f.Static.Data = data
}

func (f *Fake) enter(ctx context.Context, collection string) error {
	f.mu.Lock()
	f.calls[collection]++
	err := f.fail[collection]
	ch := f.block[collection]
	f.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *Fake) Grades(ctx context.Context) ([]schema.Grade, error) {
	if err := f.enter(ctx, "grades"); err != nil {
		return nil, err
	}
	return f.Static.Grades(ctx)
}

func (f *Fake) Grade(ctx context.Context, id string) (*schema.Grade, error) {
	if err := f.enter(ctx, "grades"); err != nil {
		return nil, err
	}
	return f.Static.Grade(ctx, id)
}

func (f *Fake) Subjects(ctx context.Context, gradeID string) ([]schema.Subject, error) {
	if err := f.enter(ctx, "subjects"); err != nil {
		return nil, err
	}
	return f.Static.Subjects(ctx, gradeID)
}

func (f *Fake) Topics(ctx context.Context, ids []string) ([]schema.Topic, error) {
	if err := f.enter(ctx, "topics"); err != nil {
		return nil, err
	}
	return f.Static.Topics(ctx, ids)
}

func (f *Fake) Lessons(ctx context.Context, ids []string) ([]schema.Lesson, error) {
	if err := f.enter(ctx, "lessons"); err != nil {
		return nil, err
	}
	return f.Static.Lessons(ctx, ids)
}

func (f *Fake) Assessments(ctx context.Context, ids []string) ([]schema.Assessment, error) {
	if err := f.enter(ctx, "assessments"); err != nil {
		return nil, err
	}
	return f.Static.Assessments(ctx, ids)
}

// Curriculum returns a small two-grade dataset used across tests.
//
//	g1: s1 Mathematics (t1 Algebra Basics, t2 Geometry), s2 Science (t3 Cells)
//	g2: s3 History (t4 Ancient Egypt)
func Curriculum() remote.Dataset {
	quiz := []byte(`{"questions":[{"id":"q1","question_text":"1/2 + 1/4?","options":[` +
		`{"id":"a","text":"3/4","is_correct":true},{"id":"b","text":"2/6","is_correct":false}]}]}`)
	return remote.Dataset{
		Grades: []schema.Grade{
			{ID: "g2", Name: "Grade 6", OrderIndex: 2},
			{ID: "g1", Name: "Grade 5", OrderIndex: 1},
		},
		Subjects: []schema.Subject{
			{ID: "s1", GradeID: "g1", Title: "Mathematics", Subtext: "Numbers and shapes"},
			{ID: "s2", GradeID: "g1", Title: "Science"},
			{ID: "s3", GradeID: "g2", Title: "History"},
		},
		Topics: []schema.Topic{
			{ID: "t1", SubjectID: "s1", Title: "Algebra Basics"},
			{ID: "t2", SubjectID: "s1", Title: "Geometry"},
			{ID: "t3", SubjectID: "s2", Title: "Cells"},
			{ID: "t4", SubjectID: "s3", Title: "Ancient Egypt"},
		},
		Lessons: []schema.Lesson{
			{ID: "l1", TopicID: "t1", Title: "Intro to Fractions", Content: "<p>Halves</p>",
				MediaURL: "/media/l1.mp4", MediaType: schema.MediaVideo},
			{ID: "l2", TopicID: "t1", Title: "Equations"},
			{ID: "l3", TopicID: "t2", Title: "Triangles", MediaURL: "/media/l3.pdf", MediaType: schema.MediaDocument},
			{ID: "l4", TopicID: "t3", Title: "The Cell Wall"},
			{ID: "l5", TopicID: "t4", Title: "Pyramids"},
		},
		Assessments: []schema.Assessment{
			{ID: "a1", LessonID: "l1", Title: "Fractions quiz", QuizData: quiz},
			{ID: "a2", LessonID: "l3", Title: "Triangles quiz"},
			{ID: "a3", LessonID: "l5", Title: "Pyramids quiz"},
		},
	}
}
