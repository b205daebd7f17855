// Package media downloads lesson payloads into the local store so lessons can
// be opened without a connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/metrics"
)

// ErrDownloadFailed wraps every transport, status or size failure. Nothing is
// written to the store when it is returned.
var ErrDownloadFailed = errors.New("media download failed")

const (
	// DefaultMaxBytes caps a single payload.
	DefaultMaxBytes int64 = 256 << 20
	// DefaultTimeout bounds one download, including reading the body.
	DefaultTimeout = 5 * time.Minute
)

// Status is the outcome of a Fetch call.
type Status string

const (
	StatusDownloaded       Status = "downloaded"
	StatusAlreadyAvailable Status = "already_available"
	StatusSkipped          Status = "skipped"
)

// Result describes what Fetch did.
type Result struct {
	LessonID    string `json:"lesson_id"`
	Status      Status `json:"status"`
	SourceURL   string `json:"source_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`
	// Shared is true when the download was performed by a concurrent caller.
	Shared bool `json:"shared,omitempty"`
}

// Options configures a Fetcher.
type Options struct {
	// BaseURL resolves relative media references. Absolute references are
	// fetched as is.
	BaseURL string
	// Client defaults to an http.Client with Timeout.
	Client *http.Client
	// Timeout applies when Client is nil.
	Timeout time.Duration
	// MaxBytes defaults to DefaultMaxBytes.
	MaxBytes int64
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// FetchOptions tunes one Fetch call.
type FetchOptions struct {
	// Force downloads even when the lesson is already available offline.
	Force bool
}

// Fetcher downloads lesson payloads. Concurrent calls for the same lesson share
// one download; different lessons download in parallel.
type Fetcher struct {
	store    *db.DB
	client   *http.Client
	base     *url.URL
	maxBytes int64
	logger   *log.Logger
	metrics  *metrics.Metrics

	group singleflight.Group
}

// New creates a Fetcher over store.
func New(store *db.DB, opts Options) (*Fetcher, error) {
	f := &Fetcher{
		store:    store,
		client:   opts.Client,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if f.logger == nil {
		f.logger = log.New(os.Stderr, "[media] ", log.LstdFlags)
	}
	if f.maxBytes <= 0 {
		f.maxBytes = DefaultMaxBytes
	}
	if f.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		f.client = &http.Client{Timeout: timeout}
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid media base url: %w", err)
		}
		if !base.IsAbs() {
			return nil, fmt.Errorf("media base url must be absolute: %s", opts.BaseURL)
		}
		f.base = base
	}
	return f, nil
}

// Fetch makes a lesson's payload available offline.
//
// A missing lesson or one without a media reference is skipped. A lesson that
// is already available is left alone unless opts.Force is set. If the lesson
// is replaced by a reconciliation while the download is in flight, the payload
// is discarded and the result is skipped.
func (f *Fetcher) Fetch(ctx context.Context, lessonID string, opts FetchOptions) (*Result, error) {
	lesson, err := f.store.GetLessonContext(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson %s: %w", lessonID, err)
	}
	if lesson == nil {
		f.metrics.MediaFetch(string(StatusSkipped), 0, 0)
		return &Result{LessonID: lessonID, Status: StatusSkipped, Reason: "lesson not found"}, nil
	}
	if !lesson.HasMedia() {
		f.metrics.MediaFetch(string(StatusSkipped), 0, 0)
		return &Result{LessonID: lessonID, Status: StatusSkipped, Reason: "lesson has no media"}, nil
	}
	if lesson.IsOffline && !opts.Force {
		f.metrics.MediaFetch(string(StatusAlreadyAvailable), 0, 0)
		return &Result{LessonID: lessonID, Status: StatusAlreadyAvailable, SourceURL: lesson.MediaURL}, nil
	}

	sourceURL := lesson.MediaURL
	ch := f.group.DoChan(lessonID+"\x00"+sourceURL, func() (any, error) {
		// The shared download outlives any single caller's cancellation.
		return f.download(context.WithoutCancel(ctx), lessonID, sourceURL)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Result)
		out.Shared = res.Shared
		return &out, nil
	}
}

func (f *Fetcher) download(ctx context.Context, lessonID, sourceURL string) (*Result, error) {
	start := time.Now()

	target, err := f.resolve(sourceURL)
	if err != nil {
		f.metrics.MediaFetch("failed", 0, 0)
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	payload, contentType, err := f.get(ctx, target)
	if err != nil {
		f.metrics.MediaFetch("failed", 0, time.Since(start))
		f.logger.Printf("WARNING: download of lesson %s failed: %v", lessonID, err)
		return nil, fmt.Errorf("%w: lesson %s: %w", ErrDownloadFailed, lessonID, err)
	}

	attached, err := f.store.AttachMediaContext(ctx, &db.Media{
		LessonID:    lessonID,
		SourceURL:   sourceURL,
		ContentType: contentType,
		Size:        int64(len(payload)),
		Payload:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store media for lesson %s: %w", lessonID, err)
	}
	if !attached {
		f.metrics.MediaFetch(string(StatusSkipped), 0, time.Since(start))
		return &Result{
			LessonID:  lessonID,
			Status:    StatusSkipped,
			SourceURL: sourceURL,
			Reason:    "lesson changed during download",
		}, nil
	}

	f.metrics.MediaFetch(string(StatusDownloaded), int64(len(payload)), time.Since(start))
	f.logger.Printf("Downloaded %d bytes for lesson %s", len(payload), lessonID)
	return &Result{
		LessonID:    lessonID,
		Status:      StatusDownloaded,
		SourceURL:   sourceURL,
		ContentType: contentType,
		Bytes:       int64(len(payload)),
	}, nil
}

// resolve turns a media reference into an absolute URL.
func (f *Fetcher) resolve(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid media url %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if f.base == nil {
		return "", fmt.Errorf("relative media url %q and no base url configured", ref)
	}
	return f.base.ResolveReference(u).String(), nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, "", fmt.Errorf("payload of %d bytes exceeds limit of %d", resp.ContentLength, f.maxBytes)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(payload)) > f.maxBytes {
		return nil, "", fmt.Errorf("payload exceeds limit of %d bytes", f.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(payload)
	}
	return payload, contentType, nil
}

// Remove drops a lesson's payload and clears its offline flag. It reports
// whether a payload was present.
func (f *Fetcher) Remove(ctx context.Context, lessonID string) (bool, error) {
	removed, err := f.store.DetachMediaContext(ctx, lessonID)
	if err != nil {
		return false, fmt.Errorf("failed to remove media for lesson %s: %w", lessonID, err)
	}
	return removed, nil
}

// Payload returns the stored payload for a lesson, or nil if none is stored.
func (f *Fetcher) Payload(ctx context.Context, lessonID string) (*db.Media, error) {
	return f.store.LessonMediaContext(ctx, lessonID)
}
