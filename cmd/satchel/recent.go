package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recentCmd = &cobra.Command{
	Use:     "recent",
	GroupID: "browse",
	Short:   "List recently viewed subjects",
	Long: `List the subjects you opened most recently, newest first. Subjects that
are no longer in the mirror are not shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		subjects, err := newTracker(store).List(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		printResult(subjects, func() {
			if len(subjects) == 0 {
				fmt.Println("No recently viewed subjects")
				return
			}
			for _, s := range subjects {
				fmt.Printf("%-14s %s\n", s.ID, s.Title)
			}
		})
	},
}

var recentRecordCmd = &cobra.Command{
	Use:   "record <subject-id>",
	Short: "Mark a subject as viewed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		if err := newTracker(store).Record(cmd.Context(), args[0]); err != nil {
			fatal("%v", err)
		}
	},
}

var recentClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget recently viewed subjects",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		if err := newTracker(store).Clear(cmd.Context()); err != nil {
			fatal("%v", err)
		}
		if !structured() {
			fmt.Printf("%s Cleared recently viewed subjects\n", renderPass("✓"))
		}
	},
}

func init() {
	recentCmd.AddCommand(recentRecordCmd, recentClearCmd)
	rootCmd.AddCommand(recentCmd)
}
