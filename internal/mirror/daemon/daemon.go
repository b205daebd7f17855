// Package daemon keeps the local mirror fresh in the background.
//
// The daemon:
// 1. Reconciles the learner's grade on start
// 2. Watches the profile file and reconciles again when the grade changes
// 3. Periodically refreshes the current grade
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/satchel-learn/satchel/internal/mirror/sync"
	"github.com/satchel-learn/satchel/internal/session"
)

// Reconciler runs one reconciliation. *sync.Engine implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, req sync.Request) (*sync.Report, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// RefreshInterval is how often the current grade is re-reconciled.
	// Zero disables periodic refresh.
	RefreshInterval time.Duration

	// DebounceInterval is how long a profile change must be quiet before it
	// is acted on. Editors and atomic saves emit several events per save.
	DebounceInterval time.Duration

	// RetryInterval is how long a failed grade change waits before it is
	// attempted again. A change rejected because a run was already in
	// progress is retried after DebounceInterval instead.
	RetryInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval:  15 * time.Minute,
		DebounceInterval: 250 * time.Millisecond,
		RetryInterval:    5 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon reconciles the mirror on profile changes and on a timer.
type Daemon struct {
	engine      Reconciler
	profilePath string
	config      *Config

	watcher *ProfileWatcher

	// scope is the grade last mirrored successfully; target is the grade
	// the profile asks for. They differ while a grade change is outstanding.
	mu      gosync.Mutex
	scope   string
	target  string
	dueAt   time.Time
	pending bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a Daemon. A nil config uses DefaultConfig.
func New(engine Reconciler, profilePath string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if profilePath == "" {
		return nil, fmt.Errorf("profilePath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultConfig().RetryInterval
	}

	watcher, err := NewProfileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		engine:      engine,
		profilePath: profilePath,
		config:      config,
		watcher:     watcher,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start reconciles the current grade, then watches for changes until ctx is
// canceled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Start(d.profilePath); err != nil {
		return fmt.Errorf("failed to watch profile: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.profilePath)

	d.loadAndReconcile(true)

	d.wg.Add(3)
	go d.watchProfileEvents()
	go d.processPending()
	go d.refreshLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. An in-flight reconciliation is
// canceled between steps.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Scope returns the grade the daemon last mirrored successfully.
func (d *Daemon) Scope() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scope
}

// schedule arms a profile check after delay.
func (d *Daemon) schedule(delay time.Duration) {
	d.mu.Lock()
	d.dueAt = time.Now().Add(delay)
	d.pending = true
	d.mu.Unlock()
}

func (d *Daemon) watchProfileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Profile event: %s %s", event.Op, event.Path)
			d.schedule(d.config.DebounceInterval)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processPending acts on a profile change once it has been quiet for the
// debounce interval, and on retries of a grade change that did not land.
func (d *Daemon) processPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.mu.Lock()
			ready := d.pending && !time.Now().Before(d.dueAt)
			if ready {
				d.pending = false
			}
			d.mu.Unlock()

			if ready {
				d.loadAndReconcile(false)
			}
		}
	}
}

func (d *Daemon) refreshLoop() {
	defer d.wg.Done()

	if d.config.RefreshInterval <= 0 {
		<-d.ctx.Done()
		return
	}

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.mu.Lock()
			target := d.target
			d.mu.Unlock()
			if target != "" {
				d.reconcile(target)
			}
		}
	}
}

// loadAndReconcile reads the profile and reconciles when its grade differs
// from the one mirrored, or unconditionally on startup.
func (d *Daemon) loadAndReconcile(initial bool) {
	profile, err := session.Load(d.profilePath)
	if errors.Is(err, session.ErrNoProfile) {
		d.mu.Lock()
		d.target = ""
		d.mu.Unlock()
		d.config.Logger.Println("No profile yet; waiting for login")
		return
	}
	if err != nil {
		d.config.Logger.Printf("Error reading profile: %v", err)
		return
	}

	d.mu.Lock()
	d.target = profile.GradeID
	changed := profile.GradeID != d.scope
	d.mu.Unlock()

	if profile.GradeID == "" {
		d.config.Logger.Println("Profile has no grade; nothing to mirror")
		return
	}
	if initial || changed {
		d.reconcile(profile.GradeID)
	}
}

// reconcile runs one reconciliation of scope. The mirrored scope only moves
// on success; a grade change that fails or is rejected is retried.
func (d *Daemon) reconcile(scope string) {
	rep, err := d.engine.Reconcile(d.ctx, sync.Request{Scope: scope})
	if err == nil {
		d.mu.Lock()
		d.scope = scope
		d.mu.Unlock()
		d.config.Logger.Printf("Reconciled %s (%s): %d subjects, %d lessons",
			scope, rep.ScopeName, rep.Subjects, rep.Lessons)
		return
	}
	if d.ctx.Err() != nil {
		return
	}

	retry := d.config.RetryInterval
	if errors.Is(err, sync.ErrSyncInProgress) {
		d.config.Logger.Printf("Reconciliation already running; deferring %s", scope)
		retry = d.config.DebounceInterval
	} else {
		d.config.Logger.Printf("Reconciliation of %s failed: %v", scope, err)
	}

	if d.Scope() != scope {
		d.schedule(retry)
	}
}
