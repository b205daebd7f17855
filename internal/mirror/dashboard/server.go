// Package dashboard provides a real-time WebSocket server for watching the
// local mirror.
//
// The dashboard broadcasts store changes and reconciliation progress to
// connected clients and answers free-text searches sent over the socket.
// Each client has its own outbound queue, so a slow reader only drops its own
// messages.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satchel-learn/satchel/internal/query"
)

// MessageType names a dashboard message.
type MessageType string

const (
	MessageTypeChange        MessageType = "change"
	MessageTypeSyncProgress  MessageType = "sync_progress"
	MessageTypeSyncComplete  MessageType = "sync_complete"
	MessageTypeSearchResults MessageType = "search_results"
	MessageTypeStats         MessageType = "stats"
)

// Message is one server-to-client frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is a request sent by a WebSocket client. The only request
// understood is {"type":"search","query":"..."}.
type ClientMessage struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// SearchResultsData answers one search request.
type SearchResultsData struct {
	Query string      `json:"query"`
	Hits  []query.Hit `json:"hits"`
	Error string      `json:"error,omitempty"`
}

// Searcher runs free-text searches. *query.Reader implements it.
type Searcher interface {
	Search(ctx context.Context, q string) ([]query.Hit, error)
}

const (
	clientQueue  = 64
	writeTimeout = 5 * time.Second
)

// client is one connected socket with its outbound queue and search debouncer.
type client struct {
	conn   *websocket.Conn
	out    chan Message
	search *query.Debouncer
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.search.Stop()
	})
}

// Server accepts dashboard clients and fans messages out to them.
type Server struct {
	addr     string
	listener net.Listener
	srv      *http.Server

	searcher Searcher
	stats    func(context.Context) (*StatsData, error)
	gatherer prometheus.Gatherer
	debounce time.Duration
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server settings.
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port int

	// Searcher answers client search requests. Nil disables search.
	Searcher Searcher

	// Stats computes the totals sent to new clients. Nil sends an empty
	// stats frame.
	Stats func(context.Context) (*StatsData, error)

	// Gatherer backs /metrics (default prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// SearchDebounce is the quiet period before a client's search runs.
	SearchDebounce time.Duration

	Logger *log.Logger
}

// DefaultConfig returns the settings used when NewServer gets nil.
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		Gatherer:       prometheus.DefaultGatherer,
		SearchDebounce: query.DefaultDebounce,
	}
}

// NewServer creates a dashboard server. Call Start to begin listening.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     fmt.Sprintf(":%d", config.Port),
		searcher: config.Searcher,
		stats:    config.Stats,
		gatherer: gatherer,
		debounce: config.SearchDebounce,
		logger:   logger,
		clients:  make(map[*client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

// Handler returns the dashboard routes: /ws, /health, /metrics and an index.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", s.handleIndex)
	return mux
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for c := range s.clients {
		c.close()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, c)
	}
	s.mu.Unlock()

	var err error
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.srv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast queues msg for every connected client. A client whose queue is
// full misses the message.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		s.enqueue(c, msg)
	}
}

func (s *Server) enqueue(c *client, msg Message) {
	select {
	case c.out <- msg:
	case <-c.done:
	default:
		s.logger.Printf("WARNING: client queue full, dropping %s message", msg.Type)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		out:    make(chan Message, clientQueue),
		search: query.NewDebouncer(s.debounce),
		done:   make(chan struct{}),
	}

	// The welcome frame goes first so a client can render totals before any
	// change arrives.
	c.out <- s.welcome(r.Context())

	// Registration and wg.Add happen under mu so Stop, which cancels and
	// then drains clients under mu, never misses a late connection.
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		c.close()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Printf("Client connected (total: %d)", total)

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) welcome(ctx context.Context) Message {
	msg := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	if s.stats == nil {
		return msg
	}
	stats, err := s.stats(ctx)
	if err != nil {
		s.logger.Printf("Failed to compute stats: %v", err)
		return msg
	}
	if data, err := json.Marshal(stats); err == nil {
		msg.Data = data
	}
	return msg
}

// writeLoop drains a client's queue onto its socket.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-s.ctx.Done():
			return
		case msg := <-c.out:
			if err := s.write(c.conn, msg); err != nil {
				s.drop(c)
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop handles client requests until the socket closes.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.drop(c)

	for {
		_, data, err := c.conn.Read(s.ctx)
		if err != nil {
			return
		}
		var req ClientMessage
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Printf("Ignoring malformed client message: %v", err)
			continue
		}
		if req.Type == "search" && s.searcher != nil {
			q := strings.TrimSpace(req.Query)
			c.search.Do(func() { s.runSearch(c, q) })
		}
	}
}

// runSearch answers the client's latest query once typing pauses.
func (s *Server) runSearch(c *client, q string) {
	result := SearchResultsData{Query: q, Hits: []query.Hit{}}
	if hits, err := s.searcher.Search(s.ctx, q); err != nil {
		result.Error = err.Error()
	} else {
		result.Hits = hits
	}
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Printf("Failed to marshal search results: %v", err)
		return
	}
	s.enqueue(c, Message{Type: MessageTypeSearchResults, Timestamp: time.Now(), Data: data})
}

// drop forgets a client and closes its socket. Safe to call twice.
func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", total)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{"ok", s.ClientCount()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "satchel dashboard\n\n"+
		"  ws://%[1]s/ws       change, sync_progress, sync_complete, search_results\n"+
		"  http://%[1]s/health\n"+
		"  http://%[1]s/metrics\n\n"+
		"Send {\"type\":\"search\",\"query\":\"...\"} over the socket to search the mirror.\n", r.Host)
}

// GetAddr returns the listening address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
