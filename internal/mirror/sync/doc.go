// Package sync mirrors one grade of the remote curriculum into the local store.
//
// Overview
//
// The engine implements a fixed, ordered reconciliation protocol. Each step
// fetches the children of the ids produced by the previous step and writes
// them in a single transaction, so readers never observe a half-written kind.
//
// Architecture
//
//	Remote gateway (Postgres, snapshot file, ...)
//	     │
//	     ├── Grade(scope)              → grade name (best effort, "Grade Set")
//	     ├── Subjects(scope)           → subjects   (empty: done)
//	     ├── Topics(subject ids)       → topics
//	     ├── Lessons(topic ids)        → lessons    (then prune orphan media)
//	     └── Assessments(lesson ids)   → assessments
//	                                        ↓
//	                                      Engine
//	                                        ↓
//	                                  local SQLite mirror
//
// A full refresh, or a scope different from the last successful one, clears
// all four kinds before step 3. Otherwise every step replaces its kind
// atomically, which keeps the previous rows visible until the new ones land.
//
// Progress milestones are 5, 10, 20, 50, 70, 90 and 100 percent, reported
// through Options.OnProgress and recorded in the sync_runs table.
//
// Usage
//
//	store, err := db.Open(dbPath)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.InitSchema(); err != nil {
//	    return err
//	}
//
//	engine := sync.New(store, gateway, sync.Options{Metrics: metrics.Default()})
//	report, err := engine.Reconcile(ctx, sync.Request{Scope: profile.GradeID})
//	if errors.Is(err, sync.ErrSyncInProgress) {
//	    // another run holds the lock
//	}
//
// Error Handling
//
// The first failing step aborts the run:
//
//   - Steps already committed stay in the store
//   - The report carries StatusFailed and the failing step
//   - The returned error wraps ErrSyncFailed and the cause
//   - A failed grade lookup never aborts; the placeholder name is used
//
// Concurrency
//
// One run at a time per Engine. A second Reconcile or ChangeScope while a run
// is active returns ErrSyncInProgress immediately.
package sync
