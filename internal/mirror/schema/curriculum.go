package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies one of the four mirrored record kinds.
type Kind int

const (
	KindSubject Kind = iota
	KindTopic
	KindLesson
	KindAssessment
)

// Kinds lists every mirrored kind in dependency order (parents first).
var Kinds = []Kind{KindSubject, KindTopic, KindLesson, KindAssessment}

// String returns the plural collection name used by both the remote source
// and the local store ("subjects", "topics", ...).
func (k Kind) String() string {
	switch k {
	case KindSubject:
		return "subjects"
	case KindTopic:
		return "topics"
	case KindLesson:
		return "lessons"
	case KindAssessment:
		return "assessments"
	default:
		return "unknown"
	}
}

// ParentKey returns the foreign-key column that scopes this kind.
func (k Kind) ParentKey() string {
	switch k {
	case KindSubject:
		return "grade_id"
	case KindTopic:
		return "subject_id"
	case KindLesson:
		return "topic_id"
	case KindAssessment:
		return "lesson_id"
	default:
		return ""
	}
}

// ParseKind converts a collection name (singular or plural) into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "subject":
		return KindSubject, nil
	case "topic":
		return KindTopic, nil
	case "lesson":
		return KindLesson, nil
	case "assessment":
		return KindAssessment, nil
	}
	return 0, fmt.Errorf("unknown record kind %q", s)
}

// MediaType is the kind of binary attached to a lesson.
type MediaType string

const (
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "pdf"
)

// Normalize maps the loose values seen in the remote data onto the two
// supported media types. Anything that is not a video is treated as a document.
func (m MediaType) Normalize() MediaType {
	switch strings.ToLower(strings.TrimSpace(string(m))) {
	case "":
		return ""
	case "video", "mp4", "webm":
		return MediaVideo
	default:
		return MediaDocument
	}
}

// Grade is the scope metadata for a learner. Grades are never stored locally;
// only the display name is copied into the learner profile.
type Grade struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	OrderIndex int    `json:"order_index" yaml:"order_index"`
}

// DisplayName returns the grade label, falling back to a placeholder when the
// remote row carries no usable name.
func (g *Grade) DisplayName() string {
	if g == nil || strings.TrimSpace(g.Name) == "" {
		return PlaceholderGradeName
	}
	return strings.TrimSpace(g.Name)
}

// PlaceholderGradeName is shown when scope metadata cannot be resolved.
const PlaceholderGradeName = "Grade Set"

// Subject is a top-level curriculum subject within a grade.
type Subject struct {
	ID      string `json:"id" yaml:"id"`
	GradeID string `json:"grade_id" yaml:"grade_id"`
	Title   string `json:"title" yaml:"title"`
	Subtext string `json:"subtext,omitempty" yaml:"subtext,omitempty"`
}

// Topic groups lessons within a subject.
type Topic struct {
	ID        string `json:"id" yaml:"id"`
	SubjectID string `json:"subject_id" yaml:"subject_id"`
	Title     string `json:"title" yaml:"title"`
	Subtopic  string `json:"subtopic,omitempty" yaml:"subtopic,omitempty"`
}

// Lesson is a single unit of content with an optional media reference.
type Lesson struct {
	ID        string    `json:"id" yaml:"id"`
	TopicID   string    `json:"topic_id" yaml:"topic_id"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content,omitempty" yaml:"content,omitempty"`
	MediaURL  string    `json:"media_url,omitempty" yaml:"media_url,omitempty"`
	MediaType MediaType `json:"media_type,omitempty" yaml:"media_type,omitempty"`

	// IsOffline is maintained by the local store; values received from the
	// remote source are ignored.
	IsOffline bool `json:"is_offline" yaml:"is_offline"`
}

// HasMedia reports whether the lesson references a downloadable payload.
func (l *Lesson) HasMedia() bool {
	return l != nil && strings.TrimSpace(l.MediaURL) != ""
}

// Assessment is a quiz attached to a lesson.
type Assessment struct {
	ID       string          `json:"id" yaml:"id"`
	LessonID string          `json:"lesson_id" yaml:"lesson_id"`
	Title    string          `json:"title" yaml:"title"`
	QuizData json.RawMessage `json:"quiz_data,omitempty" yaml:"-"`
}

// Quiz decodes the assessment payload. An empty payload yields an empty quiz.
func (a *Assessment) Quiz() (*Quiz, error) {
	return ParseQuiz(a.QuizData)
}

// Validate checks the fields every subject must carry. A missing or dangling
// parent reference is not an error; such records are unreachable by traversal.
func (s *Subject) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Validate checks the fields every topic must carry.
func (t *Topic) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Validate checks the fields every lesson must carry.
func (l *Lesson) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Validate checks the assessment fields and the type shape of its quiz payload.
func (a *Assessment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if err := ValidateQuizData(a.QuizData); err != nil {
		return fmt.Errorf("assessment %s: %w", a.ID, err)
	}
	return nil
}

// SubjectIDs collects ids in input order.
func SubjectIDs(rows []Subject) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

// TopicIDs collects ids in input order.
func TopicIDs(rows []Topic) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

// LessonIDs collects ids in input order.
func LessonIDs(rows []Lesson) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}
