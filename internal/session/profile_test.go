package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProfile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.json")

	p := New(path, "  Ada Lovelace ", 11, "g1")
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if err := p.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.FullName != "Ada Lovelace" || got.Age != 11 || got.GradeID != "g1" {
		t.Errorf("Load() = %+v", got)
	}
	if got.Path() != path {
		t.Errorf("Path() = %q, want %q", got.Path(), path)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set on save")
	}
}

func TestProfile_SetGradePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	p := New(path, "Ada", 11, "g1")
	if err := p.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := p.SetGrade("g2", "Grade 6"); err != nil {
		t.Fatalf("SetGrade() failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.GradeID != "g2" || got.GradeName != "Grade 6" {
		t.Errorf("Load() after SetGrade = %+v", got)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.json"))
	if !errors.Is(err, ErrNoProfile) {
		t.Errorf("Load() error = %v, want ErrNoProfile", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for corrupt profile")
	}
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name   string
		p      *Profile
		errMsg string
	}{
		{"missing name", New("", " ", 10, "g1"), "full_name is required"},
		{"negative age", New("", "Ada", -1, "g1"), "age must be between"},
		{"missing grade", New("", "Ada", 10, ""), "grade_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() = %v, want %q", err, tt.errMsg)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := New(path, "Ada", 1, "g1").Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Errorf("Remove() on missing file failed: %v", err)
	}
}
