// Package server exposes the chatlens HTTP API. Reports stream
// progress over server-sent events; everything else is plain JSON.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesm/chatlens/internal/config"
	"github.com/wesm/chatlens/internal/report"
	"github.com/wesm/chatlens/internal/store"
)

var log = logrus.WithField("component", "server")

// Server serves the chatlens API over HTTP.
type Server struct {
	cfg     config.Config
	store   *store.Store
	source  report.Source
	runner  *report.Runner
	events  *eventHub
	version string

	httpServer *http.Server
}

// New creates a Server around an opened store.
func New(cfg config.Config, st *store.Store, version string) *Server {
	src := report.NewSource(st)
	return &Server{
		cfg:     cfg,
		store:   st,
		source:  src,
		runner:  report.NewRunner(src),
		events:  newEventHub(),
		version: version,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/version", s.handleVersion)
	mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}/timeline", s.handleTimeline)

	// SSE endpoints manage their own deadlines and must not sit
	// behind the timeout handler.
	sse := http.NewServeMux()
	sse.HandleFunc("GET /api/v1/report/annual", s.handleAnnualReport)
	sse.HandleFunc("GET /api/v1/sessions/{id}/report", s.handleDualReport)
	sse.HandleFunc("GET /api/v1/events", s.handleEvents)

	root := http.NewServeMux()
	root.Handle("/api/v1/report/", sse)
	root.Handle("/api/v1/events", sse)
	root.Handle("/api/v1/sessions/{id}/report", sse)
	root.Handle("/", withTimeout(mux, s.cfg.WriteTimeout))

	return corsMiddleware(logMiddleware(root))
}

// ListenAndServe starts the HTTP server and blocks until ctx is
// canceled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if watcher, err := store.NewWatcher(s.cfg.StorePath, s.cfg.WatchDebounce, s.events.StoreChanged); err != nil {
		log.WithError(err).Warn("store watcher unavailable")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown drains in-flight requests with a short grace period.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.events.Close()
	return s.httpServer.Shutdown(ctx)
}

// FindAvailablePort probes ports starting at start and returns the
// first one that can be bound.
func FindAvailablePort(host string, start int) (int, error) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no available port in range %d-%d", start, start+99)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
