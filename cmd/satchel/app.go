package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/satchel-learn/satchel/internal/config"
	"github.com/satchel-learn/satchel/internal/media"
	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/metrics"
	"github.com/satchel-learn/satchel/internal/mirror/sync"
	"github.com/satchel-learn/satchel/internal/query"
	"github.com/satchel-learn/satchel/internal/recent"
	"github.com/satchel-learn/satchel/internal/remote"
	"github.com/satchel-learn/satchel/internal/remote/postgres"
	"github.com/satchel-learn/satchel/internal/remote/snapshot"
	"github.com/satchel-learn/satchel/internal/session"
)

// openStore opens the local mirror and makes sure its schema exists.
func openStore() *db.DB {
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		fatal("failed to open mirror: %v", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		fatal("failed to initialize mirror: %v", err)
	}
	return store
}

// openGateway connects to the configured curriculum source.
func openGateway(ctx context.Context) remote.Gateway {
	if err := cfg.RequireRemote(); err != nil {
		fatal("%v", err)
	}

	switch cfg.Remote.Driver {
	case config.DriverSnapshot:
		gw, err := snapshot.Open(cfg.Remote.Snapshot)
		if err != nil {
			fatal("failed to open snapshot: %v", err)
		}
		return gw
	default:
		gw, err := postgres.Open(ctx, cfg.Remote.URL, postgres.Options{
			MaxConns: int(cfg.Remote.MaxConns),
			Timeout:  cfg.Remote.Timeout,
		})
		if err != nil {
			if errors.Is(err, remote.ErrOffline) {
				fatal("curriculum server unreachable; your mirror is still available offline: %v", err)
			}
			fatal("%v", err)
		}
		return gw
	}
}

// newEngine builds a reconciliation engine that draws a progress bar on a
// terminal.
func newEngine(store *db.DB, gw remote.Gateway) *sync.Engine {
	opts := sync.Options{
		Logger:  logger("sync"),
		Metrics: metrics.Default(),
	}
	if !structured() && isTerminal(os.Stdout) {
		opts.OnProgress = func(p sync.Progress) {
			fmt.Printf("\r%s %3d%% %-12s", progressBar(p.Percent, 30), p.Percent, p.Step)
			if p.Status != sync.StatusDownloading {
				fmt.Println()
			}
		}
	}
	return sync.New(store, gw, opts)
}

func newFetcher(store *db.DB) *media.Fetcher {
	f, err := media.New(store, media.Options{
		BaseURL:  cfg.Media.BaseURL,
		Timeout:  cfg.Media.Timeout,
		MaxBytes: cfg.Media.MaxBytes,
		Logger:   logger("media"),
		Metrics:  metrics.Default(),
	})
	if err != nil {
		fatal("%v", err)
	}
	return f
}

func newReader(store *db.DB) *query.Reader {
	return query.New(store, metrics.Default())
}

func newTracker(store *db.DB) *recent.Tracker {
	return recent.New(store, logger("recent"))
}

// loadProfile returns the saved profile or exits asking for a login.
func loadProfile() *session.Profile {
	profile, err := session.Load(cfg.ProfilePath)
	if err != nil {
		fatal("%v", err)
	}
	return profile
}

// commandContext bounds one-shot commands.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Minute)
}

// printReport prints a reconciliation outcome.
func printReport(rep *sync.Report) {
	printResult(rep, func() {
		if rep.Status == sync.StatusReady {
			fmt.Printf("%s Mirrored %s in %v\n", renderPass("✓"), renderTitle(rep.ScopeName),
				rep.Duration().Round(time.Millisecond))
		} else {
			fmt.Printf("%s Sync of %s stopped at %s (%d%%)\n", renderFail("✗"), renderTitle(rep.ScopeName),
				rep.Step, rep.Progress)
		}
		fmt.Printf("   Subjects: %d\n", rep.Subjects)
		fmt.Printf("   Topics: %d\n", rep.Topics)
		fmt.Printf("   Lessons: %d\n", rep.Lessons)
		fmt.Printf("   Assessments: %d\n", rep.Assessments)
		if rep.Wiped {
			fmt.Printf("   %s\n", renderMuted("previous mirror replaced"))
		}
		if rep.PrunedMedia > 0 {
			fmt.Printf("   Removed %d downloads outside this grade\n", rep.PrunedMedia)
		}
	})
}
