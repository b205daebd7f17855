// Package loadtest exercises the local mirror under concurrent access.
//
// It builds a synthetic curriculum, mirrors it through the reconciliation
// engine and then runs many readers against the query layer, optionally while
// reconciliations keep rewriting the store. Readers must never observe a
// half-applied step: a grade's subject list is either empty (before the first
// run) or complete.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	gosync "sync"
	"time"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/mirror/sync"
	"github.com/satchel-learn/satchel/internal/query"
	"github.com/satchel-learn/satchel/internal/remote"
)

// Shape sizes a generated curriculum.
type Shape struct {
	Grades           int
	SubjectsPerGrade int
	TopicsPerSubject int
	LessonsPerTopic  int
	AssessmentEvery  int // one assessment per N lessons; 0 disables
}

// DefaultShape is roughly one school year per grade.
func DefaultShape() Shape {
	return Shape{
		Grades:           3,
		SubjectsPerGrade: 8,
		TopicsPerSubject: 10,
		LessonsPerTopic:  6,
		AssessmentEvery:  2,
	}
}

// Harness is a populated mirror ready for load testing.
type Harness struct {
	Store  *db.DB
	Engine *sync.Engine
	Reader *query.Reader
	Data   remote.Dataset
	Scope  string

	// SubjectsInScope is how many subjects a complete mirror of Scope holds.
	SubjectsInScope int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration   `json:"min"`
	Max          time.Duration   `json:"max"`
	Mean         time.Duration   `json:"mean"`
	P50          time.Duration   `json:"p50"` // Median
	P95          time.Duration   `json:"p95"`
	P99          time.Duration   `json:"p99"`
	TotalQueries int             `json:"total_queries"`
	Errors       int             `json:"errors"`
	Durations    []time.Duration `json:"durations,omitempty"`
}

// MixedResult reports readers running alongside reconciliations.
type MixedResult struct {
	Reads      *LatencyStats `json:"reads"`
	Syncs      int           `json:"syncs"`
	SyncErrors int           `json:"sync_errors"`
	// Torn counts reads that saw a partial subject list.
	Torn int `json:"torn"`
}

// GenerateDataset builds a deterministic curriculum of the given shape.
func GenerateDataset(shape Shape) remote.Dataset {
	quiz := []byte(`{"questions":[{"id":"q1","question_text":"Pick A","options":[` +
		`{"id":"a","text":"A","is_correct":true},{"id":"b","text":"B","is_correct":false}]}]}`)
	titles := []string{"Mathematics", "Science", "History", "Geography", "Reading", "Art", "Music", "Health"}

	var data remote.Dataset
	lessonN := 0
	for g := 0; g < shape.Grades; g++ {
		gradeID := fmt.Sprintf("g%02d", g)
		data.Grades = append(data.Grades, schema.Grade{
			ID: gradeID, Name: fmt.Sprintf("Grade %d", g+1), OrderIndex: g,
		})

		for s := 0; s < shape.SubjectsPerGrade; s++ {
			subjectID := fmt.Sprintf("%s-s%02d", gradeID, s)
			data.Subjects = append(data.Subjects, schema.Subject{
				ID: subjectID, GradeID: gradeID,
				Title: fmt.Sprintf("%s %d", titles[s%len(titles)], g+1),
			})

			for t := 0; t < shape.TopicsPerSubject; t++ {
				topicID := fmt.Sprintf("%s-t%02d", subjectID, t)
				data.Topics = append(data.Topics, schema.Topic{
					ID: topicID, SubjectID: subjectID, Title: fmt.Sprintf("Unit %d", t+1),
				})

				for l := 0; l < shape.LessonsPerTopic; l++ {
					lessonID := fmt.Sprintf("%s-l%02d", topicID, l)
					lesson := schema.Lesson{
						ID: lessonID, TopicID: topicID,
						Title:   fmt.Sprintf("Lesson %d.%d", t+1, l+1),
						Content: "<p>Generated lesson body</p>",
					}
					if l%3 == 0 {
						lesson.MediaURL = "/media/" + lessonID + ".mp4"
						lesson.MediaType = schema.MediaVideo
					}
					data.Lessons = append(data.Lessons, lesson)

					if shape.AssessmentEvery > 0 && lessonN%shape.AssessmentEvery == 0 {
						data.Assessments = append(data.Assessments, schema.Assessment{
							ID: "a-" + lessonID, LessonID: lessonID,
							Title: "Check " + lesson.Title, QuizData: quiz,
						})
					}
					lessonN++
				}
			}
		}
	}
	return data
}

// NewHarness opens a store at dbPath and mirrors scope from data.
func NewHarness(ctx context.Context, dbPath string, data remote.Dataset, scope string) (*Harness, error) {
	store, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Readers and the writer each hold a connection.
	store.RawDB().SetMaxOpenConns(150)
	store.RawDB().SetMaxIdleConns(50)
	store.RawDB().SetConnMaxLifetime(10 * time.Minute)

	if err := store.InitSchemaContext(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	engine := sync.New(store, remote.NewStatic(data), sync.Options{
		Logger: log.New(io.Discard, "", 0),
	})
	if _, err := engine.Reconcile(ctx, sync.Request{Scope: scope, Full: true}); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to mirror %s: %w", scope, err)
	}

	h := &Harness{
		Store:  store,
		Engine: engine,
		Reader: query.New(store, nil),
		Data:   data,
		Scope:  scope,
	}
	for _, s := range data.Subjects {
		if s.GradeID == scope {
			h.SubjectsInScope++
		}
	}
	return h, nil
}

// Close closes the harness store.
func (h *Harness) Close() error {
	if h.Store != nil {
		return h.Store.Close()
	}
	return nil
}

// read performs one representative page load: the grade's subjects, one
// subject's topics and a search. It returns the subject count seen.
func (h *Harness) read(ctx context.Context, n int) (int, error) {
	subjects, err := h.Reader.SubjectsForGrade(ctx, h.Scope)
	if err != nil {
		return 0, err
	}
	if len(subjects) > 0 {
		s := subjects[n%len(subjects)]
		if _, err := h.Reader.TopicsForSubject(ctx, s.ID); err != nil {
			return 0, err
		}
	}
	if _, err := h.Reader.Search(ctx, "lesson"); err != nil {
		return 0, err
	}
	return len(subjects), nil
}

// RunConcurrentQueries runs numReaders readers, each doing queriesPerReader
// reads, and returns aggregated latency statistics.
func (h *Harness) RunConcurrentQueries(ctx context.Context, numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg gosync.WaitGroup
	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, queriesPerReader)
			for j := 0; j < queriesPerReader; j++ {
				start := time.Now()
				_, err := h.read(ctx, readerID+j)
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					break
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errs []error
	for err := range errorsChan {
		errs = append(errs, err)
	}
	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, errors.Join(append([]error{errors.New("no queries completed")}, errs...)...)
	}

	stats := computeLatencyStats(all)
	stats.Errors = len(errs)
	return stats, nil
}

// ReadDuringSync runs numReaders readers for duration while reconciliations
// of the harness scope run back to back. Overlapping runs are rejected by the
// engine's run lock and are not counted as errors.
func (h *Harness) ReadDuringSync(ctx context.Context, numReaders int, duration time.Duration) (*MixedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var (
		wg        gosync.WaitGroup
		mu        gosync.Mutex
		durations []time.Duration
		readErrs  int
		torn      int
		syncs     int
		syncErrs  int
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			_, err := h.Engine.Reconcile(ctx, sync.Request{Scope: h.Scope})
			mu.Lock()
			switch {
			case err == nil:
				syncs++
			case errors.Is(err, sync.ErrSyncInProgress), ctx.Err() != nil:
			default:
				syncErrs++
			}
			mu.Unlock()
		}
	}()

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()
			for n := 0; ctx.Err() == nil; n++ {
				start := time.Now()
				count, err := h.read(ctx, readerID+n)
				elapsed := time.Since(start)

				mu.Lock()
				switch {
				case err != nil && ctx.Err() == nil:
					readErrs++
				case err == nil:
					durations = append(durations, elapsed)
					if count != 0 && count != h.SubjectsInScope {
						torn++
					}
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	if len(durations) == 0 {
		return nil, fmt.Errorf("no reads completed")
	}
	stats := computeLatencyStats(durations)
	stats.Errors = readErrs
	return &MixedResult{Reads: stats, Syncs: syncs, SyncErrors: syncErrs, Torn: torn}, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// Fprint writes the statistics in a human-readable block.
func (s *LatencyStats) Fprint(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
