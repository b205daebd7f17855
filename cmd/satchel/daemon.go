package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/mirror/daemon"
	"github.com/satchel-learn/satchel/internal/mirror/metrics"
	"github.com/satchel-learn/satchel/internal/mirror/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "mirror",
	Short:   "Keep the mirror fresh in the foreground",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Reconcile your grade on start
  2. Watch the profile file and switch grades when it changes
  3. Reconcile again every daemon.refresh_interval

Stop it with Ctrl+C; an in-flight reconciliation stops between steps.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		gw := openGateway(ctx)
		defer gw.Close()
		store := openStore()
		defer store.Close()

		engine := sync.New(store, gw, sync.Options{Logger: logger("sync"), Metrics: metrics.Default()})
		d := newDaemon(engine)

		fmt.Printf("%s Starting sync daemon...\n", renderAccent("🚀"))
		fmt.Printf("   Profile: %s\n", cfg.ProfilePath)
		fmt.Printf("   Mirror: %s\n", cfg.DBPath)
		fmt.Printf("   Refresh: every %v\n", cfg.Daemon.RefreshInterval)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fatal("daemon stopped: %v", err)
		}
	},
}

func newDaemon(r daemon.Reconciler) *daemon.Daemon {
	d, err := daemon.New(r, cfg.ProfilePath, &daemon.Config{
		RefreshInterval:  cfg.Daemon.RefreshInterval,
		DebounceInterval: cfg.Daemon.Debounce,
		Logger:           logger("daemon"),
	})
	if err != nil {
		fatal("failed to create daemon: %v", err)
	}
	return d
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
