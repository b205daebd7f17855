package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/metrics"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/remote"
	"github.com/satchel-learn/satchel/internal/session"
)

var (
	// ErrSyncFailed wraps every failure that aborted a reconciliation.
	ErrSyncFailed = errors.New("sync failed")
	// ErrSyncInProgress is returned when another reconciliation holds the run lock.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrNoScope is returned when a reconciliation is requested without a grade.
	ErrNoScope = errors.New("no grade selected")
)

// Status is the externally visible state of the engine.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusFailed      Status = "failed"
)

// Step names one stage of the reconciliation protocol.
type Step string

const (
	StepStart       Step = "start"
	StepScope       Step = "scope"
	StepWipe        Step = "wipe"
	StepSubjects    Step = "subjects"
	StepTopics      Step = "topics"
	StepLessons     Step = "lessons"
	StepAssessments Step = "assessments"
	StepDone        Step = "done"
)

// milestones maps each completed step to its progress percentage.
var milestones = map[Step]int{
	StepStart:       5,
	StepScope:       10,
	StepWipe:        20,
	StepSubjects:    50,
	StepTopics:      70,
	StepLessons:     90,
	StepAssessments: 100,
	StepDone:        100,
}

// Progress is reported after every step boundary.
type Progress struct {
	Scope   string `json:"scope"`
	Step    Step   `json:"step"`
	Percent int    `json:"percent"`
	Status  Status `json:"status"`
}

// Request describes one reconciliation.
type Request struct {
	// Scope is the grade id to mirror.
	Scope string
	// Full wipes all four kinds before repopulating. A run whose scope differs
	// from the last successful one always wipes.
	Full bool
}

// Report is the terminal outcome of a reconciliation.
type Report struct {
	RunID       string    `json:"run_id,omitempty"`
	Scope       string    `json:"scope"`
	ScopeName   string    `json:"scope_name"`
	Full        bool      `json:"full"`
	Wiped       bool      `json:"wiped"`
	Status      Status    `json:"status"`
	Step        Step      `json:"step"`
	Progress    int       `json:"progress"`
	Subjects    int       `json:"subjects"`
	Topics      int       `json:"topics"`
	Lessons     int       `json:"lessons"`
	Assessments int       `json:"assessments"`
	PrunedMedia int       `json:"pruned_media"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Options configures an Engine.
type Options struct {
	// Logger receives progress lines. Nil uses stderr with a "[sync] " prefix.
	Logger *log.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// OnProgress is called synchronously at every step boundary.
	OnProgress func(Progress)
}

// Engine mirrors one grade of the remote curriculum into the local store.
// At most one reconciliation runs at a time; a concurrent call is rejected
// with ErrSyncInProgress rather than queued.
type Engine struct {
	store      *db.DB
	gateway    remote.Gateway
	logger     *log.Logger
	metrics    *metrics.Metrics
	onProgress func(Progress)

	runMu gosync.Mutex

	stateMu gosync.RWMutex
	state   Progress
	last    *Report
}

// New creates an Engine.
//
// The database must be initialized and have its schema created before it is
// passed in.
//
// Example:
//
//	store, err := db.Open(dbPath)
//	if err != nil {
//	    return err
//	}
//	if err := store.InitSchema(); err != nil {
//	    return err
//	}
//	engine := sync.New(store, gateway, sync.Options{})
//	report, err := engine.Reconcile(ctx, sync.Request{Scope: profile.GradeID})
func New(store *db.DB, gateway remote.Gateway, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:      store,
		gateway:    gateway,
		logger:     logger,
		metrics:    opts.Metrics,
		onProgress: opts.OnProgress,
		state:      Progress{Status: StatusIdle},
	}
}

// State returns the current or last progress snapshot.
func (e *Engine) State() Progress {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// LastReport returns the report of the last finished run in this process.
func (e *Engine) LastReport() *Report {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.last
}

// Reconcile brings the local mirror for req.Scope in line with the remote
// source.
//
// Steps run strictly in order: resolve the grade name, wipe (full refresh or
// scope change), then subjects, topics, lessons and assessments, each fetched
// with the ids of the previous step and written in one transaction. A failing
// step aborts the run; steps already committed stay in the store. The returned
// Report always carries the terminal status, and on failure the error wraps
// ErrSyncFailed.
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Report, error) {
	if !e.runMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.runMu.Unlock()

	return e.run(ctx, req, nil)
}

// ChangeScope switches the learner to a new grade: it resolves the grade name,
// persists it on the profile, wipes every mirrored kind and repopulates from
// the new grade. The profile is updated even if a later step fails, so a retry
// targets the new grade.
func (e *Engine) ChangeScope(ctx context.Context, profile *session.Profile, gradeID string) (*Report, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if !e.runMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.runMu.Unlock()

	return e.run(ctx, Request{Scope: gradeID, Full: true}, func(name string) error {
		if err := profile.SetGrade(gradeID, name); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		return nil
	})
}

// run executes the protocol. The caller holds runMu.
func (e *Engine) run(ctx context.Context, req Request, onScope func(name string) error) (*Report, error) {
	if req.Scope == "" {
		return nil, ErrNoScope
	}

	// Bookkeeping must land even if ctx is canceled mid-run.
	bg := context.WithoutCancel(ctx)

	rep := &Report{
		Scope:     req.Scope,
		Full:      req.Full,
		Status:    StatusDownloading,
		StartedAt: time.Now().UTC(),
	}

	e.metrics.SyncStarted()
	if run, err := e.store.BeginRunContext(bg, req.Scope, req.Full, string(StatusDownloading)); err != nil {
		e.logger.Printf("WARNING: failed to record sync run: %v", err)
	} else {
		rep.RunID = run.ID
	}

	e.logger.Printf("Starting reconciliation scope=%s full=%v", req.Scope, req.Full)
	e.advance(bg, rep, StepStart)

	// Step 1: scope metadata, best effort.
	rep.ScopeName = e.resolveScopeName(ctx, req.Scope)
	if onScope != nil {
		if err := onScope(rep.ScopeName); err != nil {
			return e.fail(bg, rep, StepScope, err)
		}
	}
	e.advance(bg, rep, StepScope)

	// Step 2: wipe on full refresh or scope change.
	wipe, err := e.needsWipe(ctx, req)
	if err != nil {
		return e.fail(bg, rep, StepWipe, err)
	}
	if wipe {
		if err := e.timed(StepWipe, func() error { return e.store.ClearAllContext(ctx) }); err != nil {
			return e.fail(bg, rep, StepWipe, err)
		}
		rep.Wiped = true
		e.logger.Printf("Wiped local mirror")
	}
	e.advance(bg, rep, StepWipe)

	// Step 3-4: subjects.
	if err := ctx.Err(); err != nil {
		return e.fail(bg, rep, StepSubjects, err)
	}
	var subjects []schema.Subject
	err = e.timed(StepSubjects, func() error {
		var err error
		if subjects, err = e.gateway.Subjects(ctx, req.Scope); err != nil {
			return err
		}
		if wipe {
			return e.store.BulkPutSubjectsContext(ctx, subjects)
		}
		return e.store.ReplaceSubjectsContext(ctx, subjects)
	})
	if err != nil {
		return e.fail(bg, rep, StepSubjects, err)
	}
	rep.Subjects = len(subjects)
	e.metrics.AddRecords(schema.KindSubject.String(), len(subjects))
	e.logger.Printf("Synced %d subjects", len(subjects))
	e.advance(bg, rep, StepSubjects)

	if len(subjects) == 0 {
		// Nothing under this grade. Without a wipe the other kinds may still
		// hold rows from the previous run, so drop them now.
		if !wipe {
			if err := e.store.ClearContext(ctx, schema.KindTopic, schema.KindLesson, schema.KindAssessment); err != nil {
				return e.fail(bg, rep, StepSubjects, err)
			}
		}
		e.logger.Printf("No subjects for scope %s; nothing else to sync", req.Scope)
		return e.succeed(bg, rep)
	}

	// Step 5: topics.
	if err := ctx.Err(); err != nil {
		return e.fail(bg, rep, StepTopics, err)
	}
	var topics []schema.Topic
	err = e.timed(StepTopics, func() error {
		var err error
		if topics, err = e.gateway.Topics(ctx, schema.SubjectIDs(subjects)); err != nil {
			return err
		}
		if wipe {
			return e.store.BulkPutTopicsContext(ctx, topics)
		}
		return e.store.ReplaceTopicsContext(ctx, topics)
	})
	if err != nil {
		return e.fail(bg, rep, StepTopics, err)
	}
	rep.Topics = len(topics)
	e.metrics.AddRecords(schema.KindTopic.String(), len(topics))
	e.logger.Printf("Synced %d topics", len(topics))
	e.advance(bg, rep, StepTopics)

	// Step 6: lessons.
	if err := ctx.Err(); err != nil {
		return e.fail(bg, rep, StepLessons, err)
	}
	var lessons []schema.Lesson
	err = e.timed(StepLessons, func() error {
		var err error
		if lessons, err = e.gateway.Lessons(ctx, schema.TopicIDs(topics)); err != nil {
			return err
		}
		if wipe {
			return e.store.BulkPutLessonsContext(ctx, lessons)
		}
		return e.store.ReplaceLessonsContext(ctx, lessons)
	})
	if err != nil {
		return e.fail(bg, rep, StepLessons, err)
	}
	rep.Lessons = len(lessons)
	e.metrics.AddRecords(schema.KindLesson.String(), len(lessons))
	e.logger.Printf("Synced %d lessons", len(lessons))

	// Payloads of lessons that left the scope are unreachable now.
	if pruned, err := e.store.PruneOrphanMediaContext(ctx); err != nil {
		e.logger.Printf("WARNING: failed to prune orphan media: %v", err)
	} else if pruned > 0 {
		rep.PrunedMedia = pruned
		e.logger.Printf("Pruned %d orphan media payloads", pruned)
	}
	e.advance(bg, rep, StepLessons)

	// Step 7: assessments.
	if err := ctx.Err(); err != nil {
		return e.fail(bg, rep, StepAssessments, err)
	}
	var assessments []schema.Assessment
	err = e.timed(StepAssessments, func() error {
		var err error
		if assessments, err = e.gateway.Assessments(ctx, schema.LessonIDs(lessons)); err != nil {
			return err
		}
		if wipe {
			return e.store.BulkPutAssessmentsContext(ctx, assessments)
		}
		return e.store.ReplaceAssessmentsContext(ctx, assessments)
	})
	if err != nil {
		return e.fail(bg, rep, StepAssessments, err)
	}
	rep.Assessments = len(assessments)
	e.metrics.AddRecords(schema.KindAssessment.String(), len(assessments))
	e.logger.Printf("Synced %d assessments", len(assessments))
	e.advance(bg, rep, StepAssessments)

	return e.succeed(bg, rep)
}

// resolveScopeName looks up the grade label. Any failure falls back to the
// placeholder and never aborts the run.
func (e *Engine) resolveScopeName(ctx context.Context, scope string) string {
	grade, err := e.gateway.Grade(ctx, scope)
	if err != nil {
		e.logger.Printf("WARNING: failed to resolve grade %s: %v (using %q)", scope, err, schema.PlaceholderGradeName)
		return schema.PlaceholderGradeName
	}
	return grade.DisplayName()
}

// needsWipe reports whether all kinds must be cleared before repopulating.
func (e *Engine) needsWipe(ctx context.Context, req Request) (bool, error) {
	if req.Full {
		return true, nil
	}
	prev, ok, err := e.store.GetMetaContext(ctx, db.MetaLastSyncScope)
	if err != nil {
		return false, err
	}
	return !ok || prev != req.Scope, nil
}

// timed runs fn and records its duration under step.
func (e *Engine) timed(step Step, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.ObserveStep(string(step), status, time.Since(start))
	return err
}

// advance records a completed step and notifies listeners.
func (e *Engine) advance(ctx context.Context, rep *Report, step Step) {
	percent := milestones[step]
	if percent < rep.Progress {
		percent = rep.Progress
	}
	rep.Step = step
	rep.Progress = percent
	e.publish(Progress{Scope: rep.Scope, Step: step, Percent: percent, Status: rep.Status})

	if rep.RunID != "" {
		if err := e.store.UpdateRunContext(ctx, rep.RunID, string(step), percent); err != nil {
			e.logger.Printf("WARNING: failed to update sync run: %v", err)
		}
	}
}

func (e *Engine) publish(p Progress) {
	e.stateMu.Lock()
	e.state = p
	e.stateMu.Unlock()

	e.metrics.SyncProgress(p.Percent)
	if e.onProgress != nil {
		e.onProgress(p)
	}
}

func (e *Engine) succeed(ctx context.Context, rep *Report) (*Report, error) {
	rep.Status = StatusReady
	rep.FinishedAt = time.Now().UTC()
	rep.Progress = 100
	rep.Step = StepDone

	if err := e.store.SetMetaContext(ctx, db.MetaLastSyncScope, rep.Scope); err != nil {
		e.logger.Printf("WARNING: failed to record sync scope: %v", err)
	}
	if err := e.store.SetMetaContext(ctx, db.MetaLastSyncAt, rep.FinishedAt.Format(time.RFC3339)); err != nil {
		e.logger.Printf("WARNING: failed to record sync time: %v", err)
	}

	e.finish(ctx, rep)
	e.logger.Printf("Reconciliation complete: subjects=%d topics=%d lessons=%d assessments=%d (%s)",
		rep.Subjects, rep.Topics, rep.Lessons, rep.Assessments, rep.Duration().Round(time.Millisecond))
	return rep, nil
}

func (e *Engine) fail(ctx context.Context, rep *Report, step Step, cause error) (*Report, error) {
	err := fmt.Errorf("%w: %s step: %w", ErrSyncFailed, step, cause)
	rep.Status = StatusFailed
	rep.Step = step
	rep.Error = err.Error()
	rep.FinishedAt = time.Now().UTC()

	e.finish(ctx, rep)
	e.logger.Printf("Reconciliation failed at %s step: %v", step, cause)
	return rep, err
}

func (e *Engine) finish(ctx context.Context, rep *Report) {
	if rep.RunID != "" {
		if err := e.store.FinishRunContext(ctx, rep.RunID, string(rep.Status), string(rep.Step), rep.Progress, rep.Error); err != nil {
			e.logger.Printf("WARNING: failed to finish sync run: %v", err)
		}
	}
	e.metrics.SyncFinished(string(rep.Status), rep.FinishedAt)

	final := *rep
	e.stateMu.Lock()
	e.last = &final
	e.stateMu.Unlock()
	e.publish(Progress{Scope: rep.Scope, Step: rep.Step, Percent: rep.Progress, Status: rep.Status})
}
