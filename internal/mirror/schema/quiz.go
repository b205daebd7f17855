package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// PassThreshold is the fraction of correct answers needed to pass a quiz.
const PassThreshold = 0.5

// Quiz is the decoded assessment payload.
type Quiz struct {
	Questions []Question `json:"questions"`
}

// Question is one quiz question with its ordered options.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"question_text"`
	Options []Option `json:"options"`
}

// Option is one answer choice.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// QuizSchema is the JSON Schema every stored quiz payload must satisfy.
const QuizSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "options"],
        "properties": {
          "id": {"type": ["string", "integer"]},
          "question_text": {"type": "string"},
          "options": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id"],
              "properties": {
                "id": {"type": ["string", "integer"]},
                "text": {"type": "string"},
                "is_correct": {"type": "boolean"}
              }
            }
          }
        }
      }
    }
  }
}`

var (
	quizSchemaOnce sync.Once
	quizSchema     *gojsonschema.Schema
	quizSchemaErr  error
)

func compiledQuizSchema() (*gojsonschema.Schema, error) {
	quizSchemaOnce.Do(func() {
		quizSchema, quizSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(QuizSchema))
	})
	return quizSchema, quizSchemaErr
}

// isEmptyPayload treats a missing payload and JSON null as "no quiz".
func isEmptyPayload(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ValidateQuizData checks the type shape of a raw quiz payload.
func ValidateQuizData(data json.RawMessage) error {
	if isEmptyPayload(data) {
		return nil
	}

	s, err := compiledQuizSchema()
	if err != nil {
		return fmt.Errorf("failed to compile quiz schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("quiz_data is not valid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("quiz_data has invalid shape: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ParseQuiz validates and decodes a raw quiz payload.
func ParseQuiz(data json.RawMessage) (*Quiz, error) {
	if isEmptyPayload(data) {
		return &Quiz{}, nil
	}
	if err := ValidateQuizData(data); err != nil {
		return nil, err
	}

	var q Quiz
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to decode quiz_data: %w", err)
	}
	return &q, nil
}

// flexID accepts ids encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// UnmarshalJSON decodes a question, normalizing numeric ids to strings.
func (q *Question) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID      flexID   `json:"id"`
		Text    string   `json:"question_text"`
		Options []Option `json:"options"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	q.ID, q.Text, q.Options = string(raw.ID), raw.Text, raw.Options
	return nil
}

// UnmarshalJSON decodes an option, normalizing numeric ids to strings.
func (o *Option) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID        flexID `json:"id"`
		Text      string `json:"text"`
		IsCorrect bool   `json:"is_correct"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	o.ID, o.Text, o.IsCorrect = string(raw.ID), raw.Text, raw.IsCorrect
	return nil
}

// Score is the outcome of grading a set of answers.
type Score struct {
	Correct int  `json:"correct"`
	Total   int  `json:"total"`
	Passed  bool `json:"passed"`
}

// Percent returns the share of correct answers in the range 0..100.
func (s Score) Percent() int {
	if s.Total == 0 {
		return 0
	}
	return s.Correct * 100 / s.Total
}

// Grade scores answers keyed by question id with the selected option id.
// Unanswered questions count as wrong.
func (q *Quiz) Grade(answers map[string]string) Score {
	score := Score{Total: len(q.Questions)}
	for _, question := range q.Questions {
		selected, ok := answers[question.ID]
		if !ok {
			continue
		}
		for _, opt := range question.Options {
			if opt.ID == selected && opt.IsCorrect {
				score.Correct++
				break
			}
		}
	}
	if score.Total > 0 {
		score.Passed = float64(score.Correct)/float64(score.Total) >= PassThreshold
	}
	return score
}
