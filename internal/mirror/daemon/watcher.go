package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of change to the profile file.
type EventOp int

const (
	// OpWrite indicates the profile was created or rewritten.
	OpWrite EventOp = iota
	// OpDelete indicates the profile was removed.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ProfileEvent is a change to the watched profile file.
type ProfileEvent struct {
	Path string
	Op   EventOp
}

// ProfileWatcher watches one profile file for changes.
//
// It watches the parent directory rather than the file, because profiles are
// saved by writing a temp file and renaming it over the old one.
type ProfileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan ProfileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	path    string
}

// NewProfileWatcher creates a watcher. It must be started with Start.
func NewProfileWatcher() (*ProfileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &ProfileWatcher{
		watcher: watcher,
		events:  make(chan ProfileEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching path. Its directory is created if missing.
func (pw *ProfileWatcher) Start(path string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve profile path: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := pw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch profile directory %s: %w", dir, err)
	}

	pw.path = abs
	pw.running = true
	pw.wg.Add(1)
	go pw.processEvents()

	return nil
}

// Stop stops watching and closes the event channels. Stopping a watcher that
// was never started releases its resources.
func (pw *ProfileWatcher) Stop() error {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return pw.watcher.Close()
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.done)
	if err := pw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	pw.wg.Wait()

	close(pw.events)
	close(pw.errors)
	return nil
}

// Events returns the channel of profile changes.
func (pw *ProfileWatcher) Events() <-chan ProfileEvent {
	return pw.events
}

// Errors returns the channel of watcher errors.
func (pw *ProfileWatcher) Errors() <-chan error {
	return pw.errors
}

// IsRunning reports whether the watcher is started.
func (pw *ProfileWatcher) IsRunning() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.running
}

func (pw *ProfileWatcher) processEvents() {
	defer pw.wg.Done()

	for {
		select {
		case <-pw.done:
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if pe, ok := pw.convertEvent(event); ok {
				select {
				case pw.events <- pe:
				case <-pw.done:
					return
				}
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case pw.errors <- err:
			case <-pw.done:
				return
			}
		}
	}
}

// convertEvent keeps events for the profile file itself; the temp file used
// by atomic saves and any other sibling are ignored.
func (pw *ProfileWatcher) convertEvent(event fsnotify.Event) (ProfileEvent, bool) {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != pw.path {
		return ProfileEvent{}, false
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		return ProfileEvent{Path: abs, Op: OpWrite}, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return ProfileEvent{Path: abs, Op: OpDelete}, true
	}
	return ProfileEvent{}, false
}
