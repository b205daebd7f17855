package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/remote"
	"github.com/satchel-learn/satchel/internal/remote/remotetest"
)

func TestWriteRead_RoundTripsDataset(t *testing.T) {
	data := remotetest.Curriculum()
	data.Lessons[0].IsOffline = true

	var buf bytes.Buffer
	if err := Write(&buf, data); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := len(data.Grades) + len(data.Subjects) + len(data.Topics) + len(data.Lessons) + len(data.Assessments)
	if len(lines) != want {
		t.Fatalf("Write() produced %d lines, want %d", len(lines), want)
	}
	if !strings.HasPrefix(lines[0], `{"kind":"grade"`) {
		t.Errorf("first line = %s, want a grade", lines[0])
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(got.Subjects) != len(data.Subjects) || len(got.Assessments) != len(data.Assessments) {
		t.Errorf("Read() = %d subjects, %d assessments", len(got.Subjects), len(got.Assessments))
	}
	if got.Lessons[0].IsOffline {
		t.Error("offline flag travelled through the snapshot")
	}
	if got.Lessons[0].MediaURL != data.Lessons[0].MediaURL {
		t.Errorf("media url = %q", got.Lessons[0].MediaURL)
	}
	if _, err := got.Assessments[0].Quiz(); err != nil {
		t.Errorf("quiz payload did not survive: %v", err)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		errMsg string
	}{
		{"bad json", "{\"kind\":\"subject\"\n", "line 1"},
		{"unknown kind", `{"kind":"video","record":{}}` + "\n", `unknown record kind "video"`},
		{"bad record", `{"kind":"topic","record":[]}` + "\n", "invalid topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("Read() expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Read() error = %q, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestRead_SkipsBlankLines(t *testing.T) {
	input := "\n" + `{"kind":"subject","record":{"id":"s1","grade_id":"g1"}}` + "\n\n"
	got, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(got.Subjects) != 1 {
		t.Errorf("Read() = %d subjects, want 1", len(got.Subjects))
	}
}

func TestOpen_MissingFileIsOffline(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "none.jsonl"))
	if !errors.Is(err, remote.ErrOffline) {
		t.Errorf("Open() error = %v, want ErrOffline", err)
	}
}

func TestExport_ThenOpenAsGateway(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := db.Open(filepath.Join(dir, "mirror.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	data := remotetest.Curriculum()
	if err := store.BulkPutSubjectsContext(ctx, data.Subjects); err != nil {
		t.Fatalf("BulkPutSubjects() failed: %v", err)
	}
	if err := store.BulkPutTopicsContext(ctx, data.Topics); err != nil {
		t.Fatalf("BulkPutTopics() failed: %v", err)
	}
	if err := store.BulkPutLessonsContext(ctx, data.Lessons); err != nil {
		t.Fatalf("BulkPutLessons() failed: %v", err)
	}
	if err := store.BulkPutAssessmentsContext(ctx, data.Assessments); err != nil {
		t.Fatalf("BulkPutAssessments() failed: %v", err)
	}

	path := filepath.Join(dir, "out", "curriculum.jsonl")
	res, err := Export(ctx, store, []schema.Grade{{ID: "g1", Name: "Grade 5"}}, path)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if res.Subjects != 3 || res.Lessons != 5 || res.Grades != 1 {
		t.Errorf("Export() = %+v", res)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	gw, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	subjects, err := gw.Subjects(ctx, "g1")
	if err != nil {
		t.Fatalf("Subjects() failed: %v", err)
	}
	if len(subjects) != 2 {
		t.Errorf("Subjects(g1) = %d rows, want 2", len(subjects))
	}
	grade, err := gw.Grade(ctx, "g1")
	if err != nil || grade == nil || grade.Name != "Grade 5" {
		t.Errorf("Grade(g1) = %+v, %v", grade, err)
	}
}
