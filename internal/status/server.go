// Package status serves the health, status and metrics HTTP endpoints.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rewired-gh/spikewatch/internal/logger"
	"github.com/rewired-gh/spikewatch/internal/models"
)

const shutdownTimeout = 5 * time.Second

// Source reports scanner state.
type Source interface {
	Status() models.Status
}

// Response is the JSON body of GET /status.
type Response struct {
	State string `json:"status"`
	models.Status
	Uptime string `json:"uptime"`
}

type Server struct {
	srv     *http.Server
	source  Source
	started time.Time
	now     func() time.Time
	log     *logger.Logger
}

// New builds a server on addr. metrics may be nil to omit /metrics.
func New(addr string, source Source, metrics http.Handler) *Server {
	s := &Server{
		source:  source,
		started: time.Now(),
		now:     time.Now,
		log:     logger.With("status"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Serving status on %s", ln.Addr())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	s.log.Info("Status server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.source.Status()
	resp := Response{
		State:  health(st),
		Status: st,
		Uptime: s.now().Sub(s.started).Truncate(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("Failed to encode status: %v", err)
	}
}

func health(st models.Status) string {
	switch {
	case st.LastRefresh.IsZero():
		return "starting"
	case st.LastRefreshError != "":
		return "degraded"
	default:
		return "running"
	}
}
