package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/mirror/loadtest"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure mirror read latency under concurrent load",
	Long: `Build a synthetic curriculum in a scratch database and measure how the
mirror answers many concurrent readers.

The first phase runs --readers readers doing --queries page loads each. The
second phase keeps readers busy for --duration while reconciliations rewrite
the mirror, and checks that no reader ever sees a half-written subject list.

Examples:
  satchel loadtest
  satchel loadtest --readers 200 --subjects 12 --duration 10s`,
	Run: func(cmd *cobra.Command, args []string) {
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		subjects, _ := cmd.Flags().GetInt("subjects")
		duration, _ := cmd.Flags().GetDuration("duration")

		if readers <= 0 {
			fatal("--readers must be positive")
		}
		if queries <= 0 {
			fatal("--queries must be positive")
		}
		if subjects <= 0 {
			fatal("--subjects must be positive")
		}

		dir, err := os.MkdirTemp("", "satchel-loadtest-")
		if err != nil {
			fatal("failed to create scratch directory: %v", err)
		}
		defer os.RemoveAll(dir)

		shape := loadtest.DefaultShape()
		shape.SubjectsPerGrade = subjects
		data := loadtest.GenerateDataset(shape)

		ctx := context.Background()
		h, err := loadtest.NewHarness(ctx, filepath.Join(dir, "load.db"), data, data.Grades[0].ID)
		if err != nil {
			fatal("%v", err)
		}
		defer h.Close()

		if !structured() {
			fmt.Printf("Mirrored %d subjects, %d lessons\n\n", h.SubjectsInScope, len(data.Lessons)/shape.Grades)
			fmt.Printf("Running %d readers x %d page loads...\n", readers, queries)
		}
		start := time.Now()
		stats, err := h.RunConcurrentQueries(ctx, readers, queries)
		if err != nil {
			fatal("%v", err)
		}
		elapsed := time.Since(start)

		if !structured() {
			stats.Fprint(os.Stdout)
			fmt.Printf("  Throughput:    %.0f page loads/s\n\n", float64(stats.TotalQueries)/elapsed.Seconds())
			fmt.Printf("Reading for %v while reconciling...\n", duration)
		}
		mixed, err := h.ReadDuringSync(ctx, readers, duration)
		if err != nil {
			fatal("%v", err)
		}

		if structured() {
			stats.Durations, mixed.Reads.Durations = nil, nil
			printStructured(map[string]any{"reads": stats, "reads_during_sync": mixed})
		} else {
			mixed.Reads.Fprint(os.Stdout)
			fmt.Printf("  Reconciliations: %d (%d failed)\n", mixed.Syncs, mixed.SyncErrors)
			if mixed.Torn == 0 {
				fmt.Printf("\n%s No reader saw a partial step\n", renderPass("✓"))
			}
		}
		if mixed.Torn > 0 {
			fatal("%d reads saw a partial subject list", mixed.Torn)
		}
	},
}

func init() {
	loadtestCmd.Flags().Int("readers", 100, "Number of concurrent readers")
	loadtestCmd.Flags().Int("queries", 10, "Page loads per reader")
	loadtestCmd.Flags().Int("subjects", 8, "Subjects per grade in the synthetic curriculum")
	loadtestCmd.Flags().Duration("duration", 3*time.Second, "How long to read while reconciling")

	rootCmd.AddCommand(loadtestCmd)
}
