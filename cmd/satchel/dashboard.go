package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/mirror/dashboard"
	"github.com/satchel-learn/satchel/internal/mirror/metrics"
	"github.com/satchel-learn/satchel/internal/mirror/sync"
	"github.com/satchel-learn/satchel/internal/query"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time WebSocket dashboard",
	Long: `Start a WebSocket server that streams mirror activity.

Messages sent on /ws:
- change: a kind was written, cleared or a lesson's media changed
- sync_progress: a reconciliation crossed a step boundary
- sync_complete: a reconciliation finished
- stats: mirror totals
- search_results: answer to {"type":"search","query":"..."} sent by the client

With --sync the dashboard also runs the sync daemon, so progress is streamed
as it happens.

Examples:
  satchel dashboard              # listen on dashboard.port
  satchel dashboard -p 9000
  satchel dashboard --sync       # also keep the mirror fresh`,
	Run: func(cmd *cobra.Command, args []string) {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		withSync, _ := cmd.Flags().GetBool("sync")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		store := openStore()
		defer store.Close()

		var handler *dashboard.Handler
		server := dashboard.NewServer(&dashboard.Config{
			Port:     port,
			Searcher: newReader(store),
			Stats: func(ctx context.Context) (*dashboard.StatsData, error) {
				return handler.Stats(ctx)
			},
			Gatherer:       prometheus.DefaultGatherer,
			SearchDebounce: query.DefaultDebounce,
			Logger:         logger("dashboard"),
		})
		handler = dashboard.NewHandler(server, store, logger("dashboard"))
		detach := handler.Attach()
		defer detach()

		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		addr := server.GetAddr()
		fmt.Printf("%s Dashboard listening on %s\n", renderPass("✓"), renderAccent(addr))
		fmt.Printf("   ws://%s/ws\n", addr)
		fmt.Printf("   http://%s/health\n", addr)
		fmt.Printf("   http://%s/metrics\n", addr)
		fmt.Println(renderMuted("\nCtrl+C stops the dashboard"))

		daemonDone := make(chan struct{})
		if withSync {
			gw := openGateway(ctx)
			defer gw.Close()

			engine := sync.New(store, gw, sync.Options{
				Logger:     logger("sync"),
				Metrics:    metrics.Default(),
				OnProgress: handler.OnProgress,
			})
			d := newDaemon(reportingReconciler{engine, handler.OnSyncComplete})
			go func() {
				defer close(daemonDone)
				if err := d.Start(ctx); err != nil {
					logger("daemon").Printf("Daemon stopped: %v", err)
				}
			}()
		} else {
			close(daemonDone)
		}

		<-ctx.Done()
		<-daemonDone

		if err := server.Stop(); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("\n%s Dashboard stopped\n", renderMuted("-"))
	},
}

// reportingReconciler forwards every finished run to done.
type reportingReconciler struct {
	*sync.Engine
	done func(*sync.Report)
}

func (r reportingReconciler) Reconcile(ctx context.Context, req sync.Request) (*sync.Report, error) {
	rep, err := r.Engine.Reconcile(ctx, req)
	if rep != nil {
		r.done(rep)
	}
	return rep, err
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides dashboard.port)")
	dashboardCmd.Flags().Bool("sync", false, "Also run the sync daemon")

	rootCmd.AddCommand(dashboardCmd)
}
