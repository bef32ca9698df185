package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"deskbot/internal/config"
	"deskbot/internal/metrics"
	"deskbot/internal/reducer"
)

// snapshotInterval is how often the hub pushes a fresh snapshot to
// WebSocket subscribers while the server is running.
const snapshotInterval = 2 * time.Second

// Server runs the observability HTTP/WebSocket surface: /health, /metrics,
// /api/snapshot, and /ws. It never mutates state; it only reads the live
// reducer.State the driver owns.
type Server struct {
	cfg      config.DashboardConfig
	state    *reducer.State
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the mux and hub. gatherer is typically the same
// prometheus.Registerer passed to metrics.NewRegistry at startup.
func NewServer(cfg config.DashboardConfig, state *reducer.State, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(state, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.Handle("/metrics", metrics.Handler(gatherer))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		state:    state,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "httpapi-server"),
	}
}

// Run starts the hub, the periodic snapshot broadcaster, and the HTTP
// server, blocking until ctx is cancelled or the server errors.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()
	go s.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("observability server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("httpapi: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.BroadcastSnapshot(BuildSnapshot(s.state))
		}
	}
}
