package remote

import (
	"context"
	"sort"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

// Dataset is a complete curriculum held in memory.
type Dataset struct {
	Grades      []schema.Grade      `json:"grades,omitempty"`
	Subjects    []schema.Subject    `json:"subjects,omitempty"`
	Topics      []schema.Topic      `json:"topics,omitempty"`
	Lessons     []schema.Lesson     `json:"lessons,omitempty"`
	Assessments []schema.Assessment `json:"assessments,omitempty"`
}

// Static serves a Dataset. It backs the snapshot gateway and tests.
// A Static must not be mutated while queries are running.
type Static struct {
	Data Dataset
}

// NewStatic returns a gateway over data.
func NewStatic(data Dataset) *Static {
	return &Static{Data: data}
}

func (s *Static) Grades(ctx context.Context) ([]schema.Grade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := append([]schema.Grade(nil), s.Data.Grades...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (s *Static) Grade(ctx context.Context, id string) (*schema.Grade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, g := range s.Data.Grades {
		if g.ID == id {
			g := g
			return &g, nil
		}
	}
	return nil, nil
}

func (s *Static) Subjects(ctx context.Context, gradeID string) ([]schema.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []schema.Subject
	for _, r := range s.Data.Subjects {
		if r.GradeID == gradeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Static) Topics(ctx context.Context, subjectIDs []string) ([]schema.Topic, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := set(subjectIDs)
	var out []schema.Topic
	for _, r := range s.Data.Topics {
		if _, ok := in[r.SubjectID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Static) Lessons(ctx context.Context, topicIDs []string) ([]schema.Lesson, error) {
	if len(topicIDs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := set(topicIDs)
	var out []schema.Lesson
	for _, r := range s.Data.Lessons {
		if _, ok := in[r.TopicID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Static) Assessments(ctx context.Context, lessonIDs []string) ([]schema.Assessment, error) {
	if len(lessonIDs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := set(lessonIDs)
	var out []schema.Assessment
	for _, r := range s.Data.Assessments {
		if _, ok := in[r.LessonID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Static) Close() error { return nil }

func set(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
