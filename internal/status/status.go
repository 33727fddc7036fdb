// Package status serves a small local HTTP API for checking on and poking
// a running pagekeeper.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagekeeper/event"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

// Scheduler is what the API reads and triggers.
type Scheduler interface {
	Snapshot() reconcile.Status
	TriggerAll(ctx context.Context, reason reconcile.Reason)
}

// RunLister serves run history. Optional.
type RunLister interface {
	Recent(ctx context.Context, ruleID string, limit int) ([]event.Run, error)
}

// Config configures the status server.
type Config struct {
	// Addr to listen on. Default: "127.0.0.1:7878".
	Addr   string
	Logger *slog.Logger
}

// Server is the status API.
type Server struct {
	addr   string
	sched  Scheduler
	runs   RunLister
	logger *slog.Logger
	start  time.Time

	mu   sync.Mutex
	base context.Context
}

// New creates a Server. runs may be nil.
func New(cfg Config, sched Scheduler, runs RunLister) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7878"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:   cfg.Addr,
		sched:  sched,
		runs:   runs,
		logger: cfg.Logger,
		start:  time.Now(),
		base:   context.Background(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(headToGet)
	r.Use(noStore)
	r.Use(maxBody(4 << 10))

	r.Get("/healthz", s.handleHealth)
	r.Get("/rules", s.handleRules)
	r.Post("/trigger", s.handleTrigger)
	r.Get("/runs", s.handleRuns)
	return r
}

// Serve listens until ctx is cancelled. Manual triggers run under ctx,
// not under the request that asked for them.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info("status: listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status: serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.sched.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
		"url":    st.URL,
		"epoch":  st.Epoch,
		"rules":  len(st.Rules),
	})
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

func (s *Server) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()

	s.sched.TriggerAll(ctx, reconcile.ReasonManual)
	s.logger.Info("status: manual trigger")
	writeJSON(w, http.StatusAccepted, map[string]string{"reason": string(reconcile.ReasonManual)})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	runs, err := s.runs.Recent(r.Context(), r.URL.Query().Get("rule"), limit)
	if err != nil {
		s.logger.Warn("status: list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	if runs == nil {
		runs = []event.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
