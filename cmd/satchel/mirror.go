package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/mirror/sync"
	"github.com/satchel-learn/satchel/internal/session"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "mirror",
	Short:   "Create your learner profile and mirror your grade",
	Long: `Create or replace the learner profile and mirror the chosen grade.

Without flags an interactive form asks for your name, age and grade. The grade
list comes from the curriculum source, so the first login needs a connection
(or a snapshot file).

Examples:
  satchel login
  satchel login --name "Ada Obi" --age 11 --grade g5`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		age, _ := cmd.Flags().GetInt("age")
		grade, _ := cmd.Flags().GetString("grade")

		ctx, cancel := commandContext()
		defer cancel()

		gw := openGateway(ctx)
		defer gw.Close()

		grades, err := gw.Grades(ctx)
		if err != nil {
			fatal("failed to list grades: %v", err)
		}
		if len(grades) == 0 {
			fatal("the curriculum source has no grades")
		}

		if name == "" || grade == "" {
			if !isTerminal(os.Stdin) {
				fatal("--name and --grade are required when not running in a terminal")
			}
			name, age, grade = loginForm(name, age, grade, grades)
		}

		profile := session.New(cfg.ProfilePath, name, age, grade)
		if err := profile.Validate(); err != nil {
			fatal("%v", err)
		}

		store := openStore()
		defer store.Close()

		rep, err := newEngine(store, gw).ChangeScope(ctx, profile, profile.GradeID)
		if rep != nil {
			printReport(rep)
		}
		if err != nil {
			fatal("%v", err)
		}
		if !structured() {
			fmt.Printf("\nWelcome, %s!\n", renderTitle(profile.FullName))
		}
	},
}

// loginForm asks for the fields not given as flags.
func loginForm(name string, age int, grade string, grades []schema.Grade) (string, int, string) {
	ageText := ""
	if age > 0 {
		ageText = strconv.Itoa(age)
	}

	options := make([]huh.Option[string], 0, len(grades))
	for _, g := range grades {
		options = append(options, huh.NewOption(g.DisplayName(), g.ID))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Full name").
				Value(&name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Age").
				Value(&ageText).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 0 || n > 150 {
						return errors.New("enter a number between 0 and 150")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Grade").
				Options(options...).
				Value(&grade),
		),
	)
	if err := form.Run(); err != nil {
		fatal("login canceled: %v", err)
	}

	age, _ = strconv.Atoi(strings.TrimSpace(ageText))
	return name, age, grade
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "mirror",
	Short:   "Reconcile the mirror with the curriculum source",
	Long: `Reconcile the local mirror with the learner's grade.

Each kind is replaced in one transaction, so lessons you are reading stay
available until their new version lands. Downloaded media survive unless the
lesson's media reference changed. With --full every kind is wiped first.

If a step fails the steps before it stay committed; run sync again to finish.`,
	Run: func(cmd *cobra.Command, args []string) {
		full, _ := cmd.Flags().GetBool("full")
		profile := loadProfile()

		ctx, cancel := commandContext()
		defer cancel()

		gw := openGateway(ctx)
		defer gw.Close()
		store := openStore()
		defer store.Close()

		rep, err := newEngine(store, gw).Reconcile(ctx, sync.Request{Scope: profile.GradeID, Full: full})
		if rep != nil {
			printReport(rep)
		}
		if err != nil {
			fatal("%v", err)
		}
	},
}

var scopeCmd = &cobra.Command{
	Use:     "scope <grade-id>",
	GroupID: "mirror",
	Short:   "Switch to another grade",
	Long: `Switch the learner profile to another grade.

The mirror is wiped and repopulated from the new grade, and downloads that
belong to lessons outside it are removed. The profile is updated as soon as
the grade is resolved, so an interrupted switch is finished by 'satchel sync'.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		profile := loadProfile()

		ctx, cancel := commandContext()
		defer cancel()

		gw := openGateway(ctx)
		defer gw.Close()
		store := openStore()
		defer store.Close()

		rep, err := newEngine(store, gw).ChangeScope(ctx, profile, args[0])
		if rep != nil {
			printReport(rep)
		}
		if err != nil {
			fatal("%v", err)
		}
	},
}

// statusView is the status command's structured output.
type statusView struct {
	Profile        *session.Profile `json:"profile,omitempty"`
	Database       string           `json:"database"`
	Size           int64            `json:"size"`
	Subjects       int              `json:"subjects"`
	Topics         int              `json:"topics"`
	Lessons        int              `json:"lessons"`
	Assessments    int              `json:"assessments"`
	OfflineLessons int              `json:"offline_lessons"`
	MediaBytes     int64            `json:"media_bytes"`
	LastSyncAt     string           `json:"last_sync_at,omitempty"`
	LastSyncScope  string           `json:"last_sync_scope,omitempty"`
	LastRun        *db.Run          `json:"last_run,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "mirror",
	Short:   "Show the profile and mirror status",
	Run: func(cmd *cobra.Command, args []string) {
		view := statusView{Database: cfg.DBPath}

		profile, err := session.Load(cfg.ProfilePath)
		switch {
		case errors.Is(err, session.ErrNoProfile):
		case err != nil:
			fatal("%v", err)
		default:
			view.Profile = profile
		}

		info, err := os.Stat(cfg.DBPath)
		if os.IsNotExist(err) {
			if structured() {
				printStructured(view)
				return
			}
			fmt.Printf("\n%s Mirror not initialized\n", renderWarn("⚠"))
			fmt.Printf("   Run 'satchel login' to create it\n\n")
			return
		}
		if err != nil {
			fatal("failed to check mirror: %v", err)
		}
		view.Size = info.Size()

		store := openStore()
		defer store.Close()
		ctx := cmd.Context()

		counts := map[schema.Kind]*int{
			schema.KindSubject:    &view.Subjects,
			schema.KindTopic:      &view.Topics,
			schema.KindLesson:     &view.Lessons,
			schema.KindAssessment: &view.Assessments,
		}
		for kind, dst := range counts {
			if *dst, err = store.CountAllContext(ctx, kind); err != nil {
				fatal("failed to count %s: %v", kind, err)
			}
		}
		if view.OfflineLessons, err = store.CountOfflineLessonsContext(ctx); err != nil {
			fatal("failed to count offline lessons: %v", err)
		}
		mediaStats, err := store.MediaStatsContext(ctx)
		if err != nil {
			fatal("failed to read media stats: %v", err)
		}
		view.MediaBytes = mediaStats.Bytes
		view.LastSyncAt, _, _ = store.GetMetaContext(ctx, db.MetaLastSyncAt)
		view.LastSyncScope, _, _ = store.GetMetaContext(ctx, db.MetaLastSyncScope)
		if view.LastRun, err = store.LastRunContext(ctx); err != nil {
			fatal("failed to read last run: %v", err)
		}

		printResult(view, func() { printStatus(view) })
	},
}

func printStatus(v statusView) {
	fmt.Printf("\n%s Satchel Status\n\n", renderAccent("📚"))
	if v.Profile != nil {
		fmt.Printf("Learner: %s\n", v.Profile.FullName)
		fmt.Printf("Grade: %s (%s)\n", v.Profile.GradeName, v.Profile.GradeID)
	} else {
		fmt.Printf("Learner: %s\n", renderMuted("not logged in"))
	}
	fmt.Printf("Location: %s\n", v.Database)
	fmt.Printf("Size: %s\n", formatBytes(v.Size))
	fmt.Printf("Subjects: %d\n", v.Subjects)
	fmt.Printf("Topics: %d\n", v.Topics)
	fmt.Printf("Lessons: %d (%d offline, %s)\n", v.Lessons, v.OfflineLessons, formatBytes(v.MediaBytes))
	fmt.Printf("Assessments: %d\n", v.Assessments)

	if v.LastSyncAt != "" {
		when := v.LastSyncAt
		if t, err := time.Parse(time.RFC3339, v.LastSyncAt); err == nil {
			when = t.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("Last sync: %s (grade %s)\n", when, v.LastSyncScope)
	}
	if v.LastRun != nil && v.LastRun.Status == string(sync.StatusFailed) {
		fmt.Printf("%s Last run failed at %s: %s\n", renderFail("✗"), v.LastRun.Step, v.LastRun.Error)
		fmt.Printf("   Run 'satchel sync' to finish\n")
	}
	fmt.Println()
}

func init() {
	loginCmd.Flags().String("name", "", "Learner's full name")
	loginCmd.Flags().Int("age", 0, "Learner's age")
	loginCmd.Flags().String("grade", "", "Grade id to mirror")

	syncCmd.Flags().Bool("full", false, "Wipe the mirror before repopulating")

	rootCmd.AddCommand(loginCmd, syncCmd, scopeCmd, statusCmd)
}
