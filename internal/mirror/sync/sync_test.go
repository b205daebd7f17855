package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/remote"
	"github.com/satchel-learn/satchel/internal/remote/remotetest"
	"github.com/satchel-learn/satchel/internal/session"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return database
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *db.DB, *remotetest.Fake) {
	t.Helper()
	store := setupTestDB(t)
	fake := remotetest.New(remotetest.Curriculum())
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return New(store, fake, opts), store, fake
}

func ids[T any](t *testing.T, rows []T, id func(T) string) map[string]bool {
	t.Helper()
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[id(r)] = true
	}
	return out
}

func assertIDs(t *testing.T, what string, got map[string]bool, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s = %v, want %v", what, got, want)
		return
	}
	for _, id := range want {
		if !got[id] {
			t.Errorf("%s missing %s (got %v)", what, id, got)
		}
	}
}

// mirrorIDs returns the ids of every row in the store, per kind.
func mirrorIDs(t *testing.T, store *db.DB) (subjects, topics, lessons, assessments map[string]bool) {
	t.Helper()
	ctx := context.Background()

	ss, err := store.AllSubjectsContext(ctx)
	if err != nil {
		t.Fatalf("AllSubjects() failed: %v", err)
	}
	ts, err := store.AllTopicsContext(ctx)
	if err != nil {
		t.Fatalf("AllTopics() failed: %v", err)
	}
	ls, err := store.AllLessonsContext(ctx)
	if err != nil {
		t.Fatalf("AllLessons() failed: %v", err)
	}
	as, err := store.AllAssessmentsContext(ctx)
	if err != nil {
		t.Fatalf("AllAssessments() failed: %v", err)
	}
	return ids(t, ss, func(s schema.Subject) string { return s.ID }),
		ids(t, ts, func(s schema.Topic) string { return s.ID }),
		ids(t, ls, func(s schema.Lesson) string { return s.ID }),
		ids(t, as, func(s schema.Assessment) string { return s.ID })
}

func TestReconcile_MirrorsScope(t *testing.T) {
	engine, store, _ := newTestEngine(t, Options{})

	rep, err := engine.Reconcile(context.Background(), Request{Scope: "g1"})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if rep.Status != StatusReady || rep.Progress != 100 || rep.Step != StepDone {
		t.Errorf("report = %+v, want ready/100/done", rep)
	}
	if rep.ScopeName != "Grade 5" {
		t.Errorf("ScopeName = %q, want Grade 5", rep.ScopeName)
	}
	if !rep.Wiped {
		t.Error("first run should wipe (no previous scope)")
	}
	if rep.Subjects != 2 || rep.Topics != 3 || rep.Lessons != 4 || rep.Assessments != 2 {
		t.Errorf("counts = %d/%d/%d/%d, want 2/3/4/2", rep.Subjects, rep.Topics, rep.Lessons, rep.Assessments)
	}

	subjects, topics, lessons, assessments := mirrorIDs(t, store)
	assertIDs(t, "subjects", subjects, "s1", "s2")
	assertIDs(t, "topics", topics, "t1", "t2", "t3")
	assertIDs(t, "lessons", lessons, "l1", "l2", "l3", "l4")
	assertIDs(t, "assessments", assessments, "a1", "a2")

	scope, ok, err := store.GetMeta(db.MetaLastSyncScope)
	if err != nil || !ok || scope != "g1" {
		t.Errorf("last_sync_scope = %q, %v, %v; want g1", scope, ok, err)
	}
	if _, ok, _ := store.GetMeta(db.MetaLastSyncAt); !ok {
		t.Error("last_sync_at not recorded")
	}

	run, err := store.LastRunContext(context.Background())
	if err != nil {
		t.Fatalf("LastRun() failed: %v", err)
	}
	if run == nil || run.ID != rep.RunID || run.Status != string(StatusReady) || run.Progress != 100 {
		t.Errorf("LastRun() = %+v, want finished run %s", run, rep.RunID)
	}
	if got := engine.State(); got.Status != StatusReady || got.Percent != 100 {
		t.Errorf("State() = %+v", got)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	engine, store, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx, Request{Scope: "g1"}); err != nil {
		t.Fatalf("first Reconcile() failed: %v", err)
	}
	s1, t1, l1, a1 := mirrorIDs(t, store)

	rep, err := engine.Reconcile(ctx, Request{Scope: "g1"})
	if err != nil {
		t.Fatalf("second Reconcile() failed: %v", err)
	}
	if rep.Wiped {
		t.Error("same-scope non-full run should not wipe")
	}
	s2, t2, l2, a2 := mirrorIDs(t, store)

	for _, pair := range []struct {
		name string
		a, b map[string]bool
	}{{"subjects", s1, s2}, {"topics", t1, t2}, {"lessons", l1, l2}, {"assessments", a1, a2}} {
		if len(pair.a) != len(pair.b) {
			t.Errorf("%s changed between runs: %v -> %v", pair.name, pair.a, pair.b)
		}
		for id := range pair.a {
			if !pair.b[id] {
				t.Errorf("%s lost %s on rerun", pair.name, id)
			}
		}
	}
}

func TestReconcile_LessonsFailureLeavesPrefix(t *testing.T) {
	engine, store, fake := newTestEngine(t, Options{})
	fake.FailOn("lessons")

	rep, err := engine.Reconcile(context.Background(), Request{Scope: "g1", Full: true})
	if !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrSyncFailed", err)
	}
	if !errors.Is(err, remote.ErrOffline) {
		t.Errorf("Reconcile() error = %v, want to wrap ErrOffline", err)
	}
	if rep == nil || rep.Status != StatusFailed || rep.Step != StepLessons {
		t.Fatalf("report = %+v, want failed at lessons", rep)
	}

	subjects, topics, lessons, assessments := mirrorIDs(t, store)
	assertIDs(t, "subjects", subjects, "s1", "s2")
	assertIDs(t, "topics", topics, "t1", "t2", "t3")
	assertIDs(t, "lessons", lessons)
	assertIDs(t, "assessments", assessments)

	if fake.Calls("assessments") != 0 {
		t.Error("assessments queried after lessons failed")
	}
	if _, ok, _ := store.GetMeta(db.MetaLastSyncScope); ok {
		t.Error("failed run recorded last_sync_scope")
	}
	run, _ := store.LastRunContext(context.Background())
	if run == nil || run.Status != string(StatusFailed) || run.Step != string(StepLessons) || run.Error == "" {
		t.Errorf("LastRun() = %+v, want failed at lessons with error", run)
	}

	// A retry after the source recovers completes the mirror.
	fake.Heal()
	if _, err := engine.Reconcile(context.Background(), Request{Scope: "g1"}); err != nil {
		t.Fatalf("retry Reconcile() failed: %v", err)
	}
	_, _, lessons, assessments = mirrorIDs(t, store)
	assertIDs(t, "lessons after retry", lessons, "l1", "l2", "l3", "l4")
	assertIDs(t, "assessments after retry", assessments, "a1", "a2")
}

func TestReconcile_ScopeChangeIsolation(t *testing.T) {
	engine, store, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx, Request{Scope: "g1"}); err != nil {
		t.Fatalf("Reconcile(g1) failed: %v", err)
	}
	rep, err := engine.Reconcile(ctx, Request{Scope: "g2"})
	if err != nil {
		t.Fatalf("Reconcile(g2) failed: %v", err)
	}
	if !rep.Wiped {
		t.Error("scope change should wipe")
	}

	subjects, topics, lessons, assessments := mirrorIDs(t, store)
	assertIDs(t, "subjects", subjects, "s3")
	assertIDs(t, "topics", topics, "t4")
	assertIDs(t, "lessons", lessons, "l5")
	assertIDs(t, "assessments", assessments, "a3")
}

func TestReconcile_EmptyScope(t *testing.T) {
	engine, store, fake := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx, Request{Scope: "g1"}); err != nil {
		t.Fatalf("Reconcile(g1) failed: %v", err)
	}

	// Remove every subject from g1 remotely; the same-scope run must still
	// leave nothing behind.
	data := remotetest.Curriculum()
	data.Subjects = data.Subjects[2:]
	fake.SetData(data)

	rep, err := engine.Reconcile(ctx, Request{Scope: "g1"})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if rep.Status != StatusReady || rep.Subjects != 0 {
		t.Errorf("report = %+v, want ready with no subjects", rep)
	}
	if fake.Calls("topics") != 1 {
		t.Errorf("topics queried %d times, want only by the first run", fake.Calls("topics"))
	}

	subjects, topics, lessons, assessments := mirrorIDs(t, store)
	for name, got := range map[string]map[string]bool{
		"subjects": subjects, "topics": topics, "lessons": lessons, "assessments": assessments,
	} {
		if len(got) != 0 {
			t.Errorf("%s = %v, want empty", name, got)
		}
	}
}

func TestReconcile_UnknownGradeUsesPlaceholder(t *testing.T) {
	engine, _, fake := newTestEngine(t, Options{})
	fake.FailOn("grades")

	rep, err := engine.Reconcile(context.Background(), Request{Scope: "g1"})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if rep.ScopeName != schema.PlaceholderGradeName {
		t.Errorf("ScopeName = %q, want %q", rep.ScopeName, schema.PlaceholderGradeName)
	}

	fake.Heal()
	rep, err = engine.Reconcile(context.Background(), Request{Scope: "g-missing"})
	if err != nil {
		t.Fatalf("Reconcile(missing) failed: %v", err)
	}
	if rep.ScopeName != schema.PlaceholderGradeName {
		t.Errorf("ScopeName for missing grade = %q", rep.ScopeName)
	}
}

func TestReconcile_NoScope(t *testing.T) {
	engine, _, _ := newTestEngine(t, Options{})
	if _, err := engine.Reconcile(context.Background(), Request{}); !errors.Is(err, ErrNoScope) {
		t.Errorf("Reconcile() error = %v, want ErrNoScope", err)
	}
}

func TestReconcile_RejectsConcurrentRun(t *testing.T) {
	engine, _, fake := newTestEngine(t, Options{})
	release := fake.BlockOn("subjects")
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := engine.Reconcile(context.Background(), Request{Scope: "g1"})
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for fake.Calls("subjects") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first run never reached the subjects step")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := engine.Reconcile(context.Background(), Request{Scope: "g1"}); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second Reconcile() error = %v, want ErrSyncInProgress", err)
	}
	profile := session.New(filepath.Join(t.TempDir(), "profile.json"), "Ada", 11, "g1")
	if _, err := engine.ChangeScope(context.Background(), profile, "g2"); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("ChangeScope() error = %v, want ErrSyncInProgress", err)
	}
	if profile.GradeID != "g1" {
		t.Error("rejected ChangeScope mutated the profile")
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("first Reconcile() failed: %v", err)
	}
}

func TestReconcile_ProgressMonotonic(t *testing.T) {
	var (
		mu   gosync.Mutex
		seen []Progress
	)
	engine, _, _ := newTestEngine(t, Options{OnProgress: func(p Progress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	}})

	if _, err := engine.Reconcile(context.Background(), Request{Scope: "g1"}); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no progress reported")
	}
	want := []int{5, 10, 20, 50, 70, 90, 100}
	var percents []int
	for i, p := range seen {
		if i > 0 && p.Percent < seen[i-1].Percent {
			t.Errorf("progress went backwards: %d -> %d", seen[i-1].Percent, p.Percent)
		}
		if len(percents) == 0 || percents[len(percents)-1] != p.Percent {
			percents = append(percents, p.Percent)
		}
	}
	if len(percents) != len(want) {
		t.Fatalf("milestones = %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Errorf("milestones = %v, want %v", percents, want)
			break
		}
	}
	if last := seen[len(seen)-1]; last.Status != StatusReady {
		t.Errorf("last progress status = %s, want ready", last.Status)
	}
}

func TestReconcile_CanceledContext(t *testing.T) {
	engine, store, _ := newTestEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := engine.Reconcile(ctx, Request{Scope: "g1"})
	if !errors.Is(err, ErrSyncFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Reconcile() error = %v, want ErrSyncFailed wrapping context.Canceled", err)
	}
	if rep.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", rep.Status)
	}
	run, _ := store.LastRunContext(context.Background())
	if run == nil || run.Status != string(StatusFailed) {
		t.Errorf("canceled run not recorded as failed: %+v", run)
	}
}

func TestReconcile_PayloadSurvivesFullResync(t *testing.T) {
	engine, store, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx, Request{Scope: "g1"}); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	ok, err := store.AttachMediaContext(ctx, &db.Media{
		LessonID: "l1", SourceURL: "/media/l1.mp4", ContentType: "video/mp4", Payload: []byte("frames"),
	})
	if err != nil || !ok {
		t.Fatalf("AttachMedia() = %v, %v", ok, err)
	}

	rep, err := engine.Reconcile(ctx, Request{Scope: "g1", Full: true})
	if err != nil {
		t.Fatalf("full Reconcile() failed: %v", err)
	}
	if rep.PrunedMedia != 0 {
		t.Errorf("PrunedMedia = %d, want 0", rep.PrunedMedia)
	}
	lesson, err := store.GetLesson("l1")
	if err != nil || lesson == nil {
		t.Fatalf("GetLesson() = %v, %v", lesson, err)
	}
	if !lesson.IsOffline {
		t.Error("l1 lost its offline flag across a full resync")
	}
}

func TestChangeScope(t *testing.T) {
	engine, store, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx, Request{Scope: "g1"}); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if ok, err := store.AttachMediaContext(ctx, &db.Media{LessonID: "l3", SourceURL: "/media/l3.pdf", Payload: []byte("%PDF")}); err != nil || !ok {
		t.Fatalf("AttachMedia() = %v, %v", ok, err)
	}

	path := filepath.Join(t.TempDir(), "profile.json")
	profile := session.New(path, "Ada", 11, "g1")
	rep, err := engine.ChangeScope(ctx, profile, "g2")
	if err != nil {
		t.Fatalf("ChangeScope() failed: %v", err)
	}
	if !rep.Wiped || rep.ScopeName != "Grade 6" {
		t.Errorf("report = %+v, want wiped with Grade 6", rep)
	}
	if rep.PrunedMedia != 1 {
		t.Errorf("PrunedMedia = %d, want 1", rep.PrunedMedia)
	}

	saved, err := session.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if saved.GradeID != "g2" || saved.GradeName != "Grade 6" {
		t.Errorf("saved profile = %+v, want g2/Grade 6", saved)
	}

	subjects, _, lessons, _ := mirrorIDs(t, store)
	assertIDs(t, "subjects", subjects, "s3")
	assertIDs(t, "lessons", lessons, "l5")

	stats, err := store.MediaStatsContext(ctx)
	if err != nil {
		t.Fatalf("MediaStats() failed: %v", err)
	}
	if stats.Count != 0 {
		t.Errorf("media count = %d, want 0 after scope change", stats.Count)
	}
}

func TestChangeScope_ProfileUpdatedOnFailure(t *testing.T) {
	engine, _, fake := newTestEngine(t, Options{})
	fake.FailOn("topics")

	path := filepath.Join(t.TempDir(), "profile.json")
	profile := session.New(path, "Ada", 11, "g1")
	if _, err := engine.ChangeScope(context.Background(), profile, "g2"); !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("ChangeScope() error = %v, want ErrSyncFailed", err)
	}
	saved, err := session.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if saved.GradeID != "g2" {
		t.Errorf("GradeID = %q, want g2 after failed sync", saved.GradeID)
	}
}
