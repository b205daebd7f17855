package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/media"
)

var downloadCmd = &cobra.Command{
	Use:     "download <lesson-id>...",
	GroupID: "media",
	Short:   "Keep lesson media available offline",
	Long: `Download the video or PDF of one or more lessons into the mirror.

A lesson that is already offline is left alone unless --force is given.
Lessons without media are skipped. A failed download leaves the lesson as it
was.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		ctx, cancel := commandContext()
		defer cancel()

		store := openStore()
		defer store.Close()
		fetcher := newFetcher(store)

		var results []*media.Result
		failed := 0
		for _, id := range args {
			res, err := fetcher.Fetch(ctx, id, media.FetchOptions{Force: force})
			if err != nil {
				failed++
				if !structured() {
					fmt.Printf("%s %s: %v\n", renderFail("✗"), id, err)
				}
				continue
			}
			results = append(results, res)
			if !structured() {
				printFetch(res)
			}
		}
		if structured() {
			printStructured(results)
		}
		if failed > 0 {
			fatal("%d of %d downloads failed", failed, len(args))
		}
	},
}

func printFetch(res *media.Result) {
	switch res.Status {
	case media.StatusDownloaded:
		fmt.Printf("%s %s downloaded (%s)\n", renderPass("✓"), res.LessonID, formatBytes(res.Bytes))
	case media.StatusAlreadyAvailable:
		fmt.Printf("%s %s already offline\n", renderPass("✓"), res.LessonID)
	default:
		fmt.Printf("%s %s skipped: %s\n", renderWarn("⚠"), res.LessonID, res.Reason)
	}
}

var mediaCmd = &cobra.Command{
	Use:     "media",
	GroupID: "media",
	Short:   "Manage downloaded lesson media",
}

var mediaRmCmd = &cobra.Command{
	Use:   "rm <lesson-id>...",
	Short: "Remove downloaded media to free space",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()
		fetcher := newFetcher(store)

		removed := make(map[string]bool, len(args))
		for _, id := range args {
			ok, err := fetcher.Remove(cmd.Context(), id)
			if err != nil {
				fatal("%v", err)
			}
			removed[id] = ok
		}
		printResult(removed, func() {
			for _, id := range args {
				if removed[id] {
					fmt.Printf("%s %s removed\n", renderPass("✓"), id)
				} else {
					fmt.Printf("%s %s had no download\n", renderMuted("-"), id)
				}
			}
		})
	},
}

var mediaLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List lessons available offline",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		lessons, err := newReader(store).OfflineLessons(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		stats, err := store.MediaStatsContext(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		printResult(lessons, func() {
			for _, l := range lessons {
				fmt.Printf("%-14s %s %s\n", l.ID, l.Title, lessonBadge(l))
			}
			fmt.Printf("\n%d lessons, %s\n", len(lessons), formatBytes(stats.Bytes))
		})
	},
}

var mediaSaveCmd = &cobra.Command{
	Use:   "save <lesson-id> <file>",
	Short: "Write a downloaded lesson's media to a file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		m, err := newFetcher(store).Payload(cmd.Context(), args[0])
		if err != nil {
			fatal("%v", err)
		}
		if m == nil {
			fatal("lesson %s has no download; run 'satchel download %s' first", args[0], args[0])
		}
		if err := os.WriteFile(args[1], m.Payload, 0644); err != nil {
			fatal("failed to write %s: %v", args[1], err)
		}
		if !structured() {
			fmt.Printf("%s Wrote %s (%s, %s)\n", renderPass("✓"), args[1], m.ContentType, formatBytes(m.Size))
		}
	},
}

func init() {
	downloadCmd.Flags().BoolP("force", "f", false, "Download again even if already offline")

	mediaCmd.AddCommand(mediaRmCmd, mediaLsCmd, mediaSaveCmd)
	rootCmd.AddCommand(downloadCmd, mediaCmd)
}
