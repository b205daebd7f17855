// Package session holds the learner profile that scopes the mirror.
//
// The profile is an explicit value passed to the reconciliation engine and the
// CLI; there is no package-level current user. It is created on first login,
// rewritten on every mutation and read back at process start.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoProfile is returned by Load when no profile has been saved yet.
var ErrNoProfile = errors.New("no learner profile; run 'satchel login' first")

// Profile is the persisted learner identity.
type Profile struct {
	FullName  string    `json:"full_name" yaml:"full_name"`
	Age       int       `json:"age,omitempty" yaml:"age,omitempty"`
	GradeID   string    `json:"grade_id" yaml:"grade_id"`
	GradeName string    `json:"grade_name,omitempty" yaml:"grade_name,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	path string
}

// New returns a profile that will be saved at path.
func New(path, fullName string, age int, gradeID string) *Profile {
	return &Profile{
		FullName: strings.TrimSpace(fullName),
		Age:      age,
		GradeID:  strings.TrimSpace(gradeID),
		path:     path,
	}
}

// Path returns where the profile is persisted.
func (p *Profile) Path() string {
	return p.path
}

// Validate checks the fields needed to scope a sync.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.FullName) == "" {
		return fmt.Errorf("full_name is required")
	}
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("age must be between 0 and 150")
	}
	if strings.TrimSpace(p.GradeID) == "" {
		return fmt.Errorf("grade_id is required")
	}
	return nil
}

// Load reads the profile at path.
func Load(path string) (*Profile, error) {
	// #nosec G304 - controlled path from config
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	p.path = path
	return &p, nil
}

// Save writes the profile atomically via a temp file.
func (p *Profile) Save() error {
	if p.path == "" {
		return fmt.Errorf("profile has no path")
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	tmpPath := p.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// SetGrade switches the profile to a new scope and persists it.
func (p *Profile) SetGrade(gradeID, gradeName string) error {
	p.GradeID = strings.TrimSpace(gradeID)
	p.GradeName = gradeName
	return p.Save()
}

// Remove deletes the persisted profile. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	return nil
}
