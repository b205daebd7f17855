package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/query"
)

var gradesCmd = &cobra.Command{
	Use:     "grades",
	GroupID: "browse",
	Short:   "List the grades offered by the curriculum source",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		gw := openGateway(ctx)
		defer gw.Close()

		grades, err := gw.Grades(ctx)
		if err != nil {
			fatal("failed to list grades: %v", err)
		}
		printResult(grades, func() {
			for _, g := range grades {
				fmt.Printf("%-12s %s\n", g.ID, g.DisplayName())
			}
		})
	},
}

var subjectsCmd = &cobra.Command{
	Use:     "subjects",
	GroupID: "browse",
	Short:   "List the subjects of your grade",
	Run: func(cmd *cobra.Command, args []string) {
		profile := loadProfile()
		store := openStore()
		defer store.Close()

		counts, err := newReader(store).SubjectCounts(cmd.Context(), profile.GradeID)
		if err != nil {
			fatal("%v", err)
		}
		printResult(counts, func() {
			if len(counts) == 0 {
				fmt.Printf("No subjects mirrored for %s. Run 'satchel sync'.\n", profile.GradeName)
				return
			}
			fmt.Printf("%s\n\n", renderTitle(profile.GradeName))
			for _, c := range counts {
				fmt.Printf("%-14s %s %s\n", c.ID, c.Title,
					renderMuted(fmt.Sprintf("(%d topics, %d lessons)", c.Topics, c.Lessons)))
				if c.Subtext != "" {
					fmt.Printf("%-14s %s\n", "", renderMuted(c.Subtext))
				}
			}
		})
	},
}

// topicView is a topic with its lesson count.
type topicView struct {
	schema.Topic
	Lessons int `json:"lessons"`
}

var topicsCmd = &cobra.Command{
	Use:     "topics <subject-id>",
	GroupID: "browse",
	Short:   "List a subject's topics",
	Long: `List a subject's topics. Opening a subject also records it in your
recently viewed list.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()
		ctx := cmd.Context()
		reader := newReader(store)

		subject, err := reader.Subject(ctx, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if subject == nil {
			fatal("subject %s is not in the mirror", args[0])
		}
		if err := newTracker(store).Record(ctx, subject.ID); err != nil {
			logger("recent").Printf("WARNING: failed to record recent subject: %v", err)
		}

		topics, err := reader.TopicsForSubject(ctx, subject.ID)
		if err != nil {
			fatal("%v", err)
		}
		views := make([]topicView, 0, len(topics))
		for _, t := range topics {
			n, err := reader.TopicLessonCount(ctx, t.ID)
			if err != nil {
				fatal("%v", err)
			}
			views = append(views, topicView{Topic: t, Lessons: n})
		}

		printResult(views, func() {
			fmt.Printf("%s\n\n", renderTitle(subject.Title))
			for _, v := range views {
				fmt.Printf("%-14s %s %s\n", v.ID, v.Title, renderMuted(fmt.Sprintf("(%d lessons)", v.Lessons)))
			}
		})
	},
}

var lessonsCmd = &cobra.Command{
	Use:     "lessons <topic-id>",
	GroupID: "browse",
	Short:   "List a topic's lessons",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		lessons, err := newReader(store).LessonsForTopic(cmd.Context(), args[0])
		if err != nil {
			fatal("%v", err)
		}
		printResult(lessons, func() {
			for _, l := range lessons {
				fmt.Printf("%-14s %s %s\n", l.ID, l.Title, lessonBadge(l))
			}
		})
	},
}

// lessonBadge describes a lesson's media availability.
func lessonBadge(l schema.Lesson) string {
	switch {
	case !l.HasMedia():
		return ""
	case l.IsOffline:
		return renderPass("[" + string(l.MediaType.Normalize()) + " offline]")
	default:
		return renderMuted("[" + string(l.MediaType.Normalize()) + "]")
	}
}

var lessonCmd = &cobra.Command{
	Use:     "lesson <lesson-id>",
	GroupID: "browse",
	Short:   "Show a lesson",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()
		ctx := cmd.Context()
		reader := newReader(store)

		lesson, err := reader.Lesson(ctx, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if lesson == nil {
			fatal("lesson %s is not in the mirror", args[0])
		}
		assessments, err := reader.AssessmentsForLesson(ctx, lesson.ID)
		if err != nil {
			fatal("%v", err)
		}

		view := struct {
			*schema.Lesson
			Assessments []schema.Assessment `json:"assessments"`
		}{lesson, assessments}

		printResult(view, func() {
			fmt.Printf("%s %s\n\n", renderTitle(lesson.Title), lessonBadge(*lesson))
			if lesson.Content != "" {
				fmt.Println(lesson.Content)
				fmt.Println()
			}
			if lesson.HasMedia() {
				fmt.Printf("Media: %s\n", lesson.MediaURL)
				if !lesson.IsOffline {
					fmt.Printf("   Run 'satchel download %s' to keep it offline\n", lesson.ID)
				}
			}
			for _, a := range assessments {
				fmt.Printf("Assessment: %s (%s)\n", a.Title, a.ID)
			}
		})
	},
}

var assessmentsCmd = &cobra.Command{
	Use:     "assessments",
	GroupID: "browse",
	Short:   "List assessments for your grade or one subject",
	Run: func(cmd *cobra.Command, args []string) {
		subjectID, _ := cmd.Flags().GetString("subject")
		store := openStore()
		defer store.Close()
		reader := newReader(store)

		var (
			rows []db.AssessmentDetail
			err  error
		)
		if subjectID != "" {
			rows, err = reader.AssessmentsForSubject(cmd.Context(), subjectID)
		} else {
			rows, err = reader.AssessmentsForGrade(cmd.Context(), loadProfile().GradeID)
		}
		if err != nil {
			fatal("%v", err)
		}

		printResult(rows, func() {
			for _, a := range rows {
				fmt.Printf("%-14s %s %s\n", a.ID, a.Title,
					renderMuted(a.SubjectTitle+" › "+a.TopicTitle+" › "+a.LessonTitle))
			}
		})
	},
}

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	GroupID: "browse",
	Short:   "Search subject, topic and lesson titles",
	Long: fmt.Sprintf(`Search the mirror by title. Matching is case-insensitive and needs at
least %d characters; results are ordered subjects, topics, lessons and capped
at %d.`, query.MinSearchLength, query.MaxSearchResults),
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		hits, err := newReader(store).Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			fatal("%v", err)
		}
		printResult(hits, func() {
			if len(hits) == 0 {
				fmt.Println("No matches")
				return
			}
			for _, h := range hits {
				fmt.Printf("%-8s %-30s %s\n", h.Type, h.Label, renderMuted(h.Link))
			}
		})
	},
}

var scoreCmd = &cobra.Command{
	Use:     "score <assessment-id> <question=option>...",
	GroupID: "browse",
	Short:   "Score answers to an assessment",
	Long: `Score answers to an assessment's quiz. Each answer pairs a question id with
the chosen option id. Unanswered questions count as wrong; 50% passes.

Example:
  satchel score a1 q1=a q2=c`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		answers := make(map[string]string, len(args)-1)
		for _, arg := range args[1:] {
			question, option, ok := strings.Cut(arg, "=")
			if !ok || question == "" || option == "" {
				fatal("answer %q must look like question=option", arg)
			}
			answers[question] = option
		}

		store := openStore()
		defer store.Close()

		score, err := newReader(store).Score(cmd.Context(), args[0], answers)
		if err != nil {
			fatal("%v", err)
		}
		if score == nil {
			fatal("assessment %s is not in the mirror", args[0])
		}
		printResult(score, func() {
			mark := renderFail("✗")
			if score.Passed {
				mark = renderPass("✓")
			}
			fmt.Printf("%s %d/%d correct (%d%%)\n", mark, score.Correct, score.Total, score.Percent())
		})
	},
}

func init() {
	assessmentsCmd.Flags().String("subject", "", "Only list assessments under this subject")

	rootCmd.AddCommand(gradesCmd, subjectsCmd, topicsCmd, lessonsCmd, lessonCmd, assessmentsCmd, searchCmd, scoreCmd)
}
