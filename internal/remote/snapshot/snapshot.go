// Package snapshot reads and writes curriculum snapshots in JSONL form.
//
// A snapshot lets a device that has never been online seed its mirror from a
// file (USB stick, SD card) instead of the network. Each line is one record:
//
//	{"kind":"grade","record":{"id":"g1","name":"Grade 5","order_index":1}}
//	{"kind":"subject","record":{"id":"s1","grade_id":"g1","title":"Mathematics"}}
//	{"kind":"lesson","record":{"id":"l1","topic_id":"t1","title":"Fractions"}}
//
// Open loads a snapshot as a remote.Gateway, so reconciliation treats it
// exactly like the network source. Export writes the current local mirror in
// the same format.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/remote"
)

// Record kinds used on the wire.
const (
	KindGrade      = "grade"
	KindSubject    = "subject"
	KindTopic      = "topic"
	KindLesson     = "lesson"
	KindAssessment = "assessment"
)

// line is one JSONL entry.
type line struct {
	Kind   string          `json:"kind"`
	Record json.RawMessage `json:"record"`
}

// maxLineBytes bounds a single record; lesson content can be large.
const maxLineBytes = 16 << 20

// Read parses a snapshot stream into a Dataset.
func Read(r io.Reader) (remote.Dataset, error) {
	var data remote.Dataset
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			return remote.Dataset{}, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if err := addRecord(&data, l); err != nil {
			return remote.Dataset{}, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return remote.Dataset{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Load reads a snapshot file into a Dataset.
func Load(path string) (remote.Dataset, error) {
	// #nosec G304 - controlled path from config
	file, err := os.Open(path)
	if err != nil {
		return remote.Dataset{}, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Open loads a snapshot file and serves it as a Gateway. A missing file is
// reported as remote.ErrOffline, the same as an unreachable server.
func Open(path string) (*remote.Static, error) {
	data, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w: %w", path, remote.ErrOffline, err)
	}
	if err != nil {
		return nil, err
	}
	return remote.NewStatic(data), nil
}

// Write encodes data as JSONL in dependency order (grades first).
func Write(w io.Writer, data remote.Dataset) error {
	enc := json.NewEncoder(w)
	emit := func(kind string, v any) error {
		rec, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", kind, err)
		}
		return enc.Encode(line{Kind: kind, Record: rec})
	}

	for _, g := range data.Grades {
		if err := emit(KindGrade, g); err != nil {
			return err
		}
	}
	for _, s := range data.Subjects {
		if err := emit(KindSubject, s); err != nil {
			return err
		}
	}
	for _, t := range data.Topics {
		if err := emit(KindTopic, t); err != nil {
			return err
		}
	}
	for _, l := range data.Lessons {
		// Availability is device-local and never travels in a snapshot.
		l.IsOffline = false
		if err := emit(KindLesson, l); err != nil {
			return err
		}
	}
	for _, a := range data.Assessments {
		if err := emit(KindAssessment, a); err != nil {
			return err
		}
	}
	return nil
}

// Source is the part of the local store Export reads from.
type Source interface {
	AllSubjectsContext(ctx context.Context) ([]schema.Subject, error)
	AllTopicsContext(ctx context.Context) ([]schema.Topic, error)
	AllLessonsContext(ctx context.Context) ([]schema.Lesson, error)
	AllAssessmentsContext(ctx context.Context) ([]schema.Assessment, error)
}

// Collect reads the whole local mirror into a Dataset.
func Collect(ctx context.Context, src Source, grades []schema.Grade) (remote.Dataset, error) {
	data := remote.Dataset{Grades: grades}
	var err error
	if data.Subjects, err = src.AllSubjectsContext(ctx); err != nil {
		return remote.Dataset{}, err
	}
	if data.Topics, err = src.AllTopicsContext(ctx); err != nil {
		return remote.Dataset{}, err
	}
	if data.Lessons, err = src.AllLessonsContext(ctx); err != nil {
		return remote.Dataset{}, err
	}
	if data.Assessments, err = src.AllAssessmentsContext(ctx); err != nil {
		return remote.Dataset{}, err
	}
	return data, nil
}

// ExportResult reports what Export wrote.
type ExportResult struct {
	Path        string `json:"path"`
	Grades      int    `json:"grades"`
	Subjects    int    `json:"subjects"`
	Topics      int    `json:"topics"`
	Lessons     int    `json:"lessons"`
	Assessments int    `json:"assessments"`
}

// Export writes the local mirror to path atomically via a temp file.
func Export(ctx context.Context, src Source, grades []schema.Grade, path string) (*ExportResult, error) {
	data, err := Collect(ctx, src, grades)
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := Write(w, data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}

	return &ExportResult{
		Path:        path,
		Grades:      len(data.Grades),
		Subjects:    len(data.Subjects),
		Topics:      len(data.Topics),
		Lessons:     len(data.Lessons),
		Assessments: len(data.Assessments),
	}, nil
}

// addRecord decodes one line into the matching Dataset slice.
func addRecord(d *remote.Dataset, l line) error {
	switch l.Kind {
	case KindGrade:
		var g schema.Grade
		if err := json.Unmarshal(l.Record, &g); err != nil {
			return fmt.Errorf("invalid grade: %w", err)
		}
		d.Grades = append(d.Grades, g)
	case KindSubject:
		var s schema.Subject
		if err := json.Unmarshal(l.Record, &s); err != nil {
			return fmt.Errorf("invalid subject: %w", err)
		}
		d.Subjects = append(d.Subjects, s)
	case KindTopic:
		var t schema.Topic
		if err := json.Unmarshal(l.Record, &t); err != nil {
			return fmt.Errorf("invalid topic: %w", err)
		}
		d.Topics = append(d.Topics, t)
	case KindLesson:
		var le schema.Lesson
		if err := json.Unmarshal(l.Record, &le); err != nil {
			return fmt.Errorf("invalid lesson: %w", err)
		}
		le.IsOffline = false
		d.Lessons = append(d.Lessons, le)
	case KindAssessment:
		var a schema.Assessment
		if err := json.Unmarshal(l.Record, &a); err != nil {
			return fmt.Errorf("invalid assessment: %w", err)
		}
		d.Assessments = append(d.Assessments, a)
	default:
		return fmt.Errorf("unknown record kind %q", l.Kind)
	}
	return nil
}
