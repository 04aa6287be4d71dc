package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"
	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// Paths served by an agent.
const (
	PathLoad    = "/v1/load"
	PathResults = "/v1/results"
	PathHealth  = "/healthz"
	PathMetrics = "/metrics"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// maxLoadBody caps the size of a load request.
const maxLoadBody = 1 << 20

// Response is the body of every agent reply except /metrics.
type Response struct {
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Busy    bool     `json:"busy,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

// Server exposes a Runner over HTTP so a coordinator can drive it.
//
// A server runs at most one load at a time; a second POST /v1/load while
// one is running is rejected with 409 Conflict.
type Server struct {
	runner  *Runner
	schema  *jsonschema.Schema
	metrics *agentMetrics
	log     *log.Entry
	server  *http.Server

	mu      sync.Mutex
	running bool
	last    *Response
}

// NewServer creates an agent server listening on addr. opts configure the
// runner it creates; the server adds its own metrics observer.
func NewServer(addr string, opts ...RunnerOption) (*Server, error) {
	schema, err := compileLoadSchema()
	if err != nil {
		return nil, err
	}

	m := newAgentMetrics()
	s := &Server{
		schema:  schema,
		metrics: m,
	}
	s.runner = NewRunner(append(opts, WithObserver(m))...)
	s.log = s.runner.log.WithField("component", "agent")

	if addr == "" {
		addr = ":8089"
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler of the agent.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathLoad, s.handleLoad)
	mux.HandleFunc(PathResults, s.handleResults)
	mux.HandleFunc(PathHealth, s.handleHealth)
	mux.Handle(PathMetrics, promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return s.withLogging(s.withRecovery(mux))
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("agent listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones, including a
// running load, until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Status: StatusError, Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxLoadBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: err.Error()})
		return
	}
	if err := validateLoad(s.schema, body); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: err.Error()})
		return
	}

	var options fleet.DispatchOptions
	if err := json.Unmarshal(body, &options); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: err.Error()})
		return
	}

	if !s.acquire() {
		writeJSON(w, http.StatusConflict, Response{Status: StatusError, Error: "a load is already running", Busy: true})
		return
	}

	code, response := s.run(r.Context(), options)
	writeJSON(w, code, response)
}

// run applies options and releases the server even if the runner panics.
func (s *Server) run(ctx context.Context, options fleet.DispatchOptions) (code int, response Response) {
	code, response = http.StatusInternalServerError, Response{Status: StatusError, Error: "load aborted"}
	defer func() {
		s.release(&response)
	}()

	summary, err := s.runner.Run(ctx, options)
	if err != nil {
		s.log.WithError(err).Error("load failed")
		return http.StatusInternalServerError, Response{Status: StatusError, Error: err.Error(), Summary: summary}
	}
	return http.StatusOK, Response{Status: StatusOK, Summary: summary}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Status: StatusError, Error: "method not allowed"})
		return
	}

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		writeJSON(w, http.StatusNotFound, Response{Status: StatusError, Error: "no load has been run yet"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	busy := s.running
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, Response{Status: StatusOK, Busy: busy})
}

func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.running = true
	s.metrics.setBusy(true)
	return true
}

func (s *Server) release(response *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := *response
	s.running = false
	s.last = &last
	s.metrics.setBusy(false)
	s.metrics.recordRun(response.Status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("request served")
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("panic", rec).Error("handler panicked")
				writeJSON(w, http.StatusInternalServerError, Response{Status: StatusError, Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
