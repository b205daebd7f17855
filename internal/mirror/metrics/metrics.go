// Package metrics exposes Prometheus collectors for reconciliation, media
// downloads and search. Every method is safe on a nil *Metrics, so callers
// that don't care about metrics can pass nil.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "satchel"

// Metrics holds the mirror's Prometheus collectors.
type Metrics struct {
	syncRuns       *prometheus.CounterVec
	syncStep       *prometheus.HistogramVec
	syncRecords    *prometheus.CounterVec
	syncActive     prometheus.Gauge
	syncProgress   prometheus.Gauge
	syncLastOK     prometheus.Gauge
	mediaDownloads *prometheus.CounterVec
	mediaBytes     prometheus.Counter
	mediaDuration  prometheus.Histogram
	searchDuration prometheus.Histogram
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew builds the collectors and registers them with reg. A collector that
// is already registered is reused; any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Metrics{
		syncRuns: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "runs_total",
			Help: "Reconciliation runs by terminal status.",
		}, []string{"status"})),
		syncStep: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "step_duration_seconds",
			Help:    "Time spent in each reconciliation step.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "status"})),
		syncRecords: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "records_total",
			Help: "Records written to the local mirror by kind.",
		}, []string{"kind"})),
		syncActive: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "in_progress",
			Help: "1 while a reconciliation holds the run lock.",
		})),
		syncProgress: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "progress_percent",
			Help: "Progress of the current or last reconciliation.",
		})),
		syncLastOK: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful reconciliation.",
		})),
		mediaDownloads: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "media", Name: "fetches_total",
			Help: "Media fetch calls by result.",
		}, []string{"result"})),
		mediaBytes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "media", Name: "downloaded_bytes_total",
			Help: "Payload bytes stored by the media fetcher.",
		})),
		mediaDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "media", Name: "download_duration_seconds",
			Help:    "Time spent downloading a lesson payload.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		})),
		searchDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "search_duration_seconds",
			Help:    "Latency of free-text searches against the local store.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// SyncStarted marks a run as holding the lock.
func (m *Metrics) SyncStarted() {
	if m == nil {
		return
	}
	m.syncActive.Set(1)
	m.syncProgress.Set(0)
}

// SyncProgress records the latest progress milestone.
func (m *Metrics) SyncProgress(percent int) {
	if m == nil {
		return
	}
	m.syncProgress.Set(float64(percent))
}

// SyncFinished records a run's terminal status.
func (m *Metrics) SyncFinished(status string, at time.Time) {
	if m == nil {
		return
	}
	m.syncActive.Set(0)
	m.syncRuns.WithLabelValues(status).Inc()
	if status == "ready" {
		m.syncLastOK.Set(float64(at.Unix()))
	}
}

// ObserveStep records the duration of one reconciliation step.
func (m *Metrics) ObserveStep(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncStep.WithLabelValues(step, status).Observe(d.Seconds())
}

// AddRecords counts records written for kind.
func (m *Metrics) AddRecords(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncRecords.WithLabelValues(kind).Add(float64(n))
}

// MediaFetch counts one fetch call by result and, for downloads, its size and duration.
func (m *Metrics) MediaFetch(result string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.mediaDownloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.mediaBytes.Add(float64(bytes))
	}
	if d > 0 {
		m.mediaDuration.Observe(d.Seconds())
	}
}

// ObserveSearch records the latency of one search.
func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(d.Seconds())
}
