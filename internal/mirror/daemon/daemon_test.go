package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/satchel-learn/satchel/internal/mirror/sync"
	"github.com/satchel-learn/satchel/internal/session"
)

// recorder is a Reconciler that remembers every requested scope.
type recorder struct {
	mu     gosync.Mutex
	scopes []string
}

func (r *recorder) Reconcile(ctx context.Context, req sync.Request) (*sync.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, req.Scope)
	return &sync.Report{Scope: req.Scope, Status: sync.StatusReady}, nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scopes...)
}

// flaky fails the first fails[scope] calls for a scope with err, then
// succeeds.
type flaky struct {
	recorder
	err   error
	fails map[string]int
}

func (f *flaky) Reconcile(ctx context.Context, req sync.Request) (*sync.Report, error) {
	f.mu.Lock()
	n := f.fails[req.Scope]
	if n > 0 {
		f.fails[req.Scope] = n - 1
	}
	f.mu.Unlock()
	if n > 0 {
		return nil, f.err
	}
	return f.recorder.Reconcile(ctx, req)
}

func testConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		RetryInterval:    40 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func saveProfile(t *testing.T, path, gradeID string) {
	t.Helper()
	if err := session.New(path, "Ada", 11, gradeID).Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		engine  Reconciler
		path    string
		wantErr bool
	}{
		{"valid", &recorder{}, "profile.json", false},
		{"nil engine", nil, "profile.json", true},
		{"empty path", &recorder{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.engine, tt.path, testConfig())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				d.watcher.Stop()
			}
		})
	}
}

func TestDaemon_ReconcilesOnStartAndScopeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	saveProfile(t, path, "g1")

	rec := &recorder{}
	d, err := New(rec, path, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "initial reconcile", func() bool { return len(rec.seen()) >= 1 })
	if got := rec.seen()[0]; got != "g1" {
		t.Fatalf("first scope = %s, want g1", got)
	}

	// Rewriting with the same grade must not trigger another run.
	saveProfile(t, path, "g1")
	time.Sleep(150 * time.Millisecond)
	if n := len(rec.seen()); n != 1 {
		t.Errorf("same-grade save caused %d runs, want 1", n)
	}

	saveProfile(t, path, "g2")
	waitFor(t, "scope change reconcile", func() bool { return len(rec.seen()) >= 2 })
	if got := rec.seen()[1]; got != "g2" {
		t.Errorf("second scope = %s, want g2", got)
	}
	if d.Scope() != "g2" {
		t.Errorf("Scope() = %s, want g2", d.Scope())
	}
}

func TestDaemon_RetriesRejectedScopeChange(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"run in progress", sync.ErrSyncInProgress},
		{"transport failure", fmt.Errorf("%w: subjects: %w", sync.ErrSyncFailed, errors.New("connection refused"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "profile.json")
			saveProfile(t, path, "g1")

			rec := &flaky{err: tt.err, fails: map[string]int{"g2": 1}}
			d, err := New(rec, path, testConfig())
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			startDaemon(t, d)
			waitFor(t, "initial reconcile", func() bool { return d.Scope() == "g1" })

			saveProfile(t, path, "g2")
			waitFor(t, "g2 reconciled after rejection", func() bool {
				seen := rec.seen()
				return len(seen) >= 2 && seen[len(seen)-1] == "g2"
			})
			if d.Scope() != "g2" {
				t.Errorf("Scope() = %s, want g2", d.Scope())
			}
		})
	}
}

func TestDaemon_ScopeUnchangedUntilSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	saveProfile(t, path, "g1")

	cfg := testConfig()
	rec := &flaky{err: sync.ErrSyncFailed, fails: map[string]int{"g2": 1 << 20}}
	d, err := New(rec, path, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)
	waitFor(t, "initial reconcile", func() bool { return d.Scope() == "g1" })

	saveProfile(t, path, "g2")
	time.Sleep(200 * time.Millisecond)
	if d.Scope() != "g1" {
		t.Errorf("Scope() = %s after failed change, want g1", d.Scope())
	}
	// Retries keep going while the change is outstanding.
	rec.mu.Lock()
	left := rec.fails["g2"]
	rec.mu.Unlock()
	if tries := 1<<20 - left; tries < 2 {
		t.Errorf("g2 attempted %d times, want retries", tries)
	}
}

func TestDaemon_WaitsForLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.json")

	rec := &recorder{}
	d, err := New(rec, path, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	time.Sleep(100 * time.Millisecond)
	if n := len(rec.seen()); n != 0 {
		t.Fatalf("reconciled %d times without a profile", n)
	}

	saveProfile(t, path, "g1")
	waitFor(t, "reconcile after login", func() bool { return len(rec.seen()) >= 1 })
}

func TestDaemon_PeriodicRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	saveProfile(t, path, "g1")

	cfg := testConfig()
	cfg.RefreshInterval = 30 * time.Millisecond
	rec := &recorder{}
	d, err := New(rec, path, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "refresh runs", func() bool { return len(rec.seen()) >= 3 })
	for _, s := range rec.seen() {
		if s != "g1" {
			t.Errorf("refresh reconciled %s, want g1", s)
		}
	}
}

func TestProfileWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")

	pw, err := NewProfileWatcher()
	if err != nil {
		t.Fatalf("NewProfileWatcher() failed: %v", err)
	}
	if err := pw.Start(path); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer pw.Stop()

	if !pw.IsRunning() {
		t.Error("watcher should be running after Start()")
	}
	if err := pw.Start(path); err == nil {
		t.Error("second Start() should fail")
	}

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-pw.Events():
		if ev.Path != path || ev.Op != OpWrite {
			t.Errorf("event = %+v, want write of %s", ev, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for profile write")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-pw.Events():
			if ev.Path != path {
				t.Fatalf("event for unexpected path %s", ev.Path)
			}
			if ev.Op == OpDelete {
				return
			}
		case <-deadline:
			t.Fatal("no delete event")
		}
	}
}

func TestEventOp_String(t *testing.T) {
	if OpWrite.String() != "write" || OpDelete.String() != "delete" || EventOp(9).String() != "unknown" {
		t.Error("unexpected EventOp strings")
	}
}
