package query

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

const (
	// MinSearchLength is the shortest trimmed query that is searched.
	MinSearchLength = 2
	// MaxSearchResults caps the combined result list.
	MaxSearchResults = 10
	// DefaultDebounce is the quiet period callers wait after a keystroke.
	DefaultDebounce = 300 * time.Millisecond
)

// Hit is one search result.
type Hit struct {
	Kind  schema.Kind `json:"-"`
	Type  string      `json:"type"`
	ID    string      `json:"id"`
	Label string      `json:"label"`
	// Link navigates to the hit, scoped by kind.
	Link string `json:"link"`
}

// searchKinds are searched in this order and results keep it.
var searchKinds = []schema.Kind{schema.KindSubject, schema.KindTopic, schema.KindLesson}

// Search matches q as a case-insensitive substring of subject, topic and
// lesson titles. Results are ordered subjects, topics, lessons and capped at
// MaxSearchResults. Queries shorter than MinSearchLength return no results.
func (r *Reader) Search(ctx context.Context, q string) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < MinSearchLength {
		return []Hit{}, nil
	}

	start := time.Now()
	defer func() { r.metrics.ObserveSearch(time.Since(start)) }()

	needle := db.FoldTitle(q)
	results := make([][]db.TitleHit, len(searchKinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range searchKinds {
		g.Go(func() error {
			hits, err := r.store.SearchTitlesContext(gctx, kind, needle, MaxSearchResults)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Hit, 0, MaxSearchResults)
	for _, hits := range results {
		for _, h := range hits {
			if len(out) == MaxSearchResults {
				return out, nil
			}
			out = append(out, Hit{
				Kind:  h.Kind,
				Type:  singular(h.Kind),
				ID:    h.ID,
				Label: h.Title,
				Link:  linkFor(h),
			})
		}
	}
	return out, nil
}

func singular(k schema.Kind) string {
	return strings.TrimSuffix(k.String(), "s")
}

func linkFor(h db.TitleHit) string {
	switch h.Kind {
	case schema.KindSubject:
		return "/topics?" + url.Values{"id": {h.ID}}.Encode()
	case schema.KindTopic:
		return "/Lessons?" + url.Values{"topicId": {h.ID}}.Encode()
	case schema.KindLesson:
		// Encode sorts keys; keep lessonId first.
		return "/LessonView?lessonId=" + url.QueryEscape(h.ID) + "&subjectId=" + url.QueryEscape(h.SubjectID)
	}
	return ""
}

// Debouncer runs only the last of a burst of calls, once the burst has been
// quiet for the configured delay.
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer returns a Debouncer. A non-positive delay uses DefaultDebounce.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay}
}

// Do schedules fn, replacing any call still waiting.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels a pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
