package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/remote/snapshot"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "advanced",
	Short:   "Write the mirror as a snapshot file",
	Long: `Write the local mirror to a JSONL snapshot file.

Another device can seed its mirror from the file without a connection:
  SATCHEL_REMOTE_DRIVER=snapshot SATCHEL_REMOTE_SNAPSHOT=/media/usb/grade5.jsonl satchel login

Media payloads are not included; download them again on the other device.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		// The mirror holds one grade; carry its name so the snapshot can
		// resolve it.
		var grades []schema.Grade
		if profile := loadProfile(); profile.GradeID != "" {
			grades = append(grades, schema.Grade{ID: profile.GradeID, Name: profile.GradeName})
		}

		res, err := snapshot.Export(cmd.Context(), store, grades, args[0])
		if err != nil {
			fatal("%v", err)
		}
		printResult(res, func() {
			fmt.Printf("%s Exported to %s\n", renderPass("✓"), res.Path)
			fmt.Printf("   Subjects: %d\n", res.Subjects)
			fmt.Printf("   Topics: %d\n", res.Topics)
			fmt.Printf("   Lessons: %d\n", res.Lessons)
			fmt.Printf("   Assessments: %d\n", res.Assessments)
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
