// Package recent keeps a short most-recently-used list of subjects the learner
// opened, persisted in the store's metadata table.
package recent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

// MaxEntries bounds the list.
const MaxEntries = 6

// Tracker reads and writes the recency list.
type Tracker struct {
	store  *db.DB
	logger *log.Logger
}

// New returns a Tracker over store. A nil logger writes to stderr.
func New(store *db.DB, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.New(os.Stderr, "[recent] ", log.LstdFlags)
	}
	return &Tracker{store: store, logger: logger}
}

// Record moves subjectID to the front of the list, dropping any earlier
// occurrence and truncating to MaxEntries.
func (t *Tracker) Record(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}

	ids, err := t.IDs(ctx)
	if err != nil {
		return err
	}

	next := make([]string, 0, MaxEntries)
	next = append(next, subjectID)
	for _, id := range ids {
		if len(next) == MaxEntries {
			break
		}
		if id != subjectID {
			next = append(next, id)
		}
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal recent subjects: %w", err)
	}
	if err := t.store.SetMetaContext(ctx, db.MetaRecentSubjects, string(data)); err != nil {
		return fmt.Errorf("failed to save recent subjects: %w", err)
	}
	return nil
}

// Clear empties the list.
func (t *Tracker) Clear(ctx context.Context) error {
	if err := t.store.DeleteMetaContext(ctx, db.MetaRecentSubjects); err != nil {
		return fmt.Errorf("failed to clear recent subjects: %w", err)
	}
	return nil
}

// IDs returns the stored subject ids, most recent first. A missing or
// malformed stored value yields an empty list.
func (t *Tracker) IDs(ctx context.Context) ([]string, error) {
	raw, ok, err := t.store.GetMetaContext(ctx, db.MetaRecentSubjects)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent subjects: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		t.logger.Printf("WARNING: discarding malformed recent subjects value: %v", err)
		return []string{}, nil
	}
	if err := validIDs(ids); err != nil {
		t.logger.Printf("WARNING: discarding malformed recent subjects value: %v", err)
		return []string{}, nil
	}
	return ids, nil
}

// validIDs checks that ids could have been written by Record.
func validIDs(ids []string) error {
	if len(ids) > MaxEntries {
		return fmt.Errorf("%d entries, at most %d allowed", len(ids), MaxEntries)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("empty subject id")
		}
		if seen[id] {
			return fmt.Errorf("duplicate subject id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// List resolves the stored ids to subjects in recency order. Ids whose
// subject is no longer mirrored are skipped; the stored list is left as is.
func (t *Tracker) List(ctx context.Context) ([]schema.Subject, error) {
	ids, err := t.IDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []schema.Subject{}, nil
	}

	rows, err := t.store.SubjectsByIDContext(ctx, ids...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]schema.Subject, len(rows))
	for _, s := range rows {
		byID[s.ID] = s
	}

	out := make([]schema.Subject, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
