// Package ingestmock provides a controllable mock ingestion endpoint for
// tests and local development. It records delivered envelopes and can be
// told to fail, stall, or reject upcoming requests.
package ingestmock

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/pulsewire/event"
	"github.com/bc-dunia/pulsewire/transport"
)

// Config configures the mock server.
type Config struct {
	// Addr is the listen address. Default: 127.0.0.1:0.
	Addr string

	// APIKey, when non-empty, is required in the X-API-Key header;
	// mismatches are rejected with 401.
	APIKey string
}

// DefaultConfig returns defaults suitable for tests.
func DefaultConfig() *Config {
	return &Config{Addr: "127.0.0.1:0"}
}

// Server is the mock ingestion server.
type Server struct {
	cfg        *Config
	httpServer *http.Server
	listener   net.Listener
	addr       string

	requestCount atomic.Int64

	mu         sync.Mutex
	events     []event.TelemetryEvent
	failNext   int
	stallNext  int
	stallDelay time.Duration
}

// New creates a mock server. cfg may be nil.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	return &Server{cfg: cfg}
}

// Start binds the listener and begins serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{Handler: mux}
	go func() {
		_ = s.httpServer.Serve(ln)
	}()

	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
}

// URL returns the ingestion endpoint URL.
func (s *Server) URL() string {
	return "http://" + s.addr + "/ingest"
}

// FailNext makes the next n ingestion requests respond 500.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// StallNext makes the next n ingestion requests hold the response for delay
// (or until the client gives up), to exercise transport timeouts.
func (s *Server) StallNext(n int, delay time.Duration) {
	s.mu.Lock()
	s.stallNext = n
	s.stallDelay = delay
	s.mu.Unlock()
}

// Events returns a copy of all events accepted so far.
func (s *Server) Events() []event.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.TelemetryEvent, len(s.events))
	copy(out, s.events)
	return out
}

// RequestCount returns the number of ingestion requests received, including
// failed and stalled ones.
func (s *Server) RequestCount() int64 {
	return s.requestCount.Load()
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	s.requestCount.Add(1)

	if s.cfg.APIKey != "" && r.Header.Get(transport.APIKeyHeader) != s.cfg.APIKey {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.stallNext > 0 {
		s.stallNext--
		delay := s.stallDelay
		s.mu.Unlock()
		select {
		case <-r.Context().Done():
		case <-time.After(delay):
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		http.Error(w, `{"error":"ingestion unavailable"}`, http.StatusInternalServerError)
		return
	}
	s.mu.Unlock()

	var env transport.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, `{"error":"malformed envelope"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.events = append(s.events, env.Events...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"accepted": len(env.Events)})
}

// StartTestServer starts a server with defaults and returns cleanup.
func StartTestServer() (*Server, func()) {
	srv := New(DefaultConfig())
	if err := srv.Start(); err != nil {
		return srv, func() {}
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
	return srv, cleanup
}
