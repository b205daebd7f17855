package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestKind_StringAndParentKey(t *testing.T) {
	tests := []struct {
		kind   Kind
		name   string
		parent string
	}{
		{KindSubject, "subjects", "grade_id"},
		{KindTopic, "topics", "subject_id"},
		{KindLesson, "lessons", "topic_id"},
		{KindAssessment, "assessments", "lesson_id"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.kind.ParentKey(); got != tt.parent {
			t.Errorf("%s ParentKey() = %q, want %q", tt.name, got, tt.parent)
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"subjects", KindSubject, false},
		{"Topic", KindTopic, false},
		{" lessons ", KindLesson, false},
		{"assessment", KindAssessment, false},
		{"grades", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseKind(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKind(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMediaType_Normalize(t *testing.T) {
	tests := map[MediaType]MediaType{
		"":         "",
		"video":    MediaVideo,
		"VIDEO":    MediaVideo,
		"mp4":      MediaVideo,
		"pdf":      MediaDocument,
		"document": MediaDocument,
	}
	for in, want := range tests {
		if got := in.Normalize(); got != want {
			t.Errorf("MediaType(%q).Normalize() = %q, want %q", in, got, want)
		}
	}
}

func TestGrade_DisplayName(t *testing.T) {
	var nilGrade *Grade
	if got := nilGrade.DisplayName(); got != PlaceholderGradeName {
		t.Errorf("nil grade DisplayName() = %q, want placeholder", got)
	}
	if got := (&Grade{ID: "g1", Name: "   "}).DisplayName(); got != PlaceholderGradeName {
		t.Errorf("blank grade DisplayName() = %q, want placeholder", got)
	}
	if got := (&Grade{ID: "g1", Name: " Grade 5 "}).DisplayName(); got != "Grade 5" {
		t.Errorf("DisplayName() = %q, want %q", got, "Grade 5")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		v       interface{ Validate() error }
		wantErr bool
		errMsg  string
	}{
		{name: "valid subject", v: &Subject{ID: "s1", GradeID: "g1", Title: "Maths"}},
		{name: "subject missing id", v: &Subject{GradeID: "g1"}, wantErr: true, errMsg: "id is required"},
		{name: "orphan topic is allowed", v: &Topic{ID: "t1"}},
		{name: "lesson missing id", v: &Lesson{TopicID: "t1"}, wantErr: true, errMsg: "id is required"},
		{name: "assessment without quiz", v: &Assessment{ID: "a1", LessonID: "l1"}},
		{
			name:    "assessment with bad quiz shape",
			v:       &Assessment{ID: "a1", LessonID: "l1", QuizData: json.RawMessage(`{"questions": "nope"}`)},
			wantErr: true,
			errMsg:  "invalid shape",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate() expected error containing %q", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %q, want substring %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestIDHelpers(t *testing.T) {
	subjects := []Subject{{ID: "s2"}, {ID: "s1"}}
	if got := SubjectIDs(subjects); strings.Join(got, ",") != "s2,s1" {
		t.Errorf("SubjectIDs() = %v", got)
	}
	if got := TopicIDs(nil); len(got) != 0 {
		t.Errorf("TopicIDs(nil) = %v, want empty", got)
	}
	if got := LessonIDs([]Lesson{{ID: "l1"}}); len(got) != 1 || got[0] != "l1" {
		t.Errorf("LessonIDs() = %v", got)
	}
}

func TestLesson_HasMedia(t *testing.T) {
	if (&Lesson{ID: "l1"}).HasMedia() {
		t.Error("lesson without url reports media")
	}
	if !(&Lesson{ID: "l1", MediaURL: "https://cdn.example/a.mp4"}).HasMedia() {
		t.Error("lesson with url reports no media")
	}
}
