package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/satchel-learn/satchel/internal/mirror/db"
	"github.com/satchel-learn/satchel/internal/mirror/schema"
	"github.com/satchel-learn/satchel/internal/mirror/sync"
)

// SyncCompleteData summarizes a finished reconciliation
type SyncCompleteData struct {
	Scope       string        `json:"scope"`
	ScopeName   string        `json:"scope_name"`
	Status      sync.Status   `json:"status"`
	Step        sync.Step     `json:"step"`
	Subjects    int           `json:"subjects"`
	Topics      int           `json:"topics"`
	Lessons     int           `json:"lessons"`
	Assessments int           `json:"assessments"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// StatsData contains mirror totals
type StatsData struct {
	Subjects       int    `json:"subjects"`
	Topics         int    `json:"topics"`
	Lessons        int    `json:"lessons"`
	Assessments    int    `json:"assessments"`
	OfflineLessons int    `json:"offline_lessons"`
	MediaBytes     int64  `json:"media_bytes"`
	LastSyncAt     string `json:"last_sync_at,omitempty"`
	LastSyncScope  string `json:"last_sync_scope,omitempty"`
}

// Handler turns store and engine events into dashboard messages.
type Handler struct {
	server *Server
	store  *db.DB
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, store *db.DB, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, store: store, logger: logger}
}

// Attach subscribes to store changes. The returned func unsubscribes.
func (h *Handler) Attach() (cancel func()) {
	return h.store.Subscribe(h.OnChange)
}

// OnChange handles a committed store write
func (h *Handler) OnChange(ev db.ChangeEvent) {
	h.publish(MessageTypeChange, ev)
}

// OnProgress handles a reconciliation step boundary
func (h *Handler) OnProgress(p sync.Progress) {
	h.publish(MessageTypeSyncProgress, p)
}

// OnSyncComplete handles a finished reconciliation and refreshes stats
func (h *Handler) OnSyncComplete(rep *sync.Report) {
	if rep == nil {
		return
	}
	h.logger.Printf("Sync %s: %d subjects, %d topics, %d lessons, %d assessments in %v",
		rep.Status, rep.Subjects, rep.Topics, rep.Lessons, rep.Assessments, rep.Duration())

	h.publish(MessageTypeSyncComplete, SyncCompleteData{
		Scope:       rep.Scope,
		ScopeName:   rep.ScopeName,
		Status:      rep.Status,
		Step:        rep.Step,
		Subjects:    rep.Subjects,
		Topics:      rep.Topics,
		Lessons:     rep.Lessons,
		Assessments: rep.Assessments,
		Error:       rep.Error,
		Duration:    rep.Duration(),
	})
	h.broadcastStats()
}

// Stats computes the current mirror totals
func (h *Handler) Stats(ctx context.Context) (*StatsData, error) {
	var stats StatsData
	counts := map[schema.Kind]*int{
		schema.KindSubject:    &stats.Subjects,
		schema.KindTopic:      &stats.Topics,
		schema.KindLesson:     &stats.Lessons,
		schema.KindAssessment: &stats.Assessments,
	}
	for kind, dst := range counts {
		n, err := h.store.CountAllContext(ctx, kind)
		if err != nil {
			return nil, err
		}
		*dst = n
	}

	offline, err := h.store.CountOfflineLessonsContext(ctx)
	if err != nil {
		return nil, err
	}
	stats.OfflineLessons = offline

	media, err := h.store.MediaStatsContext(ctx)
	if err != nil {
		return nil, err
	}
	stats.MediaBytes = media.Bytes

	if v, ok, err := h.store.GetMetaContext(ctx, db.MetaLastSyncAt); err == nil && ok {
		stats.LastSyncAt = v
	}
	if v, ok, err := h.store.GetMetaContext(ctx, db.MetaLastSyncScope); err == nil && ok {
		stats.LastSyncScope = v
	}
	return &stats, nil
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	stats, err := h.Stats(context.Background())
	if err != nil {
		h.logger.Printf("Failed to compute stats: %v", err)
		return
	}
	h.publish(MessageTypeStats, stats)
}

func (h *Handler) publish(typ MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
