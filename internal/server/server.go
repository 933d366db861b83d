// Package server wires the relay behind an HTTP listener: the participant
// WebSocket endpoint plus an optional admin endpoint for metrics and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Pugazh0602/shoadowchat/internal/config"
	"github.com/Pugazh0602/shoadowchat/internal/identity"
	"github.com/Pugazh0602/shoadowchat/internal/relay"
	"github.com/Pugazh0602/shoadowchat/internal/room"
)

// WSPath is the participant WebSocket endpoint.
const WSPath = "/ws"

// Server hosts the relay and its admin surface.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	registry room.Registry
	presence identity.Registry

	relay      *relay.Service
	httpServer *http.Server
	adminHTTP  *http.Server
	upgrader   websocket.Upgrader
	ready      atomic.Bool
}

// NewServer constructs a server with its dependencies.
func NewServer(cfg config.Config, logger *zap.Logger, reg room.Registry, presence identity.Registry) *Server {
	if reg == nil {
		reg = room.NewInMemory()
	}
	return &Server{
		cfg:      cfg,
		log:      logger,
		registry: reg,
		presence: presence,
		upgrader: websocket.Upgrader{
			// Room knowledge is the only admission control; origins are not.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start boots the relay server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(promReg)
	s.startAdminServer(promReg)

	s.relay = relay.NewService(s.log, s.registry, relay.Options{
		Metrics:            metrics,
		Presence:           s.presence,
		SendBuffer:         s.cfg.Relay.SendBuffer,
		SessionIdleTimeout: s.cfg.Relay.SessionIdleTimeout,
		SweepInterval:      s.cfg.Relay.SweepInterval,
	})
	s.relay.StartHousekeeping(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, s.handleWS)

	s.httpServer = &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("relay listening", zap.String("address", s.cfg.ListenAddress))
	s.ready.Store(true)
	err = s.httpServer.Serve(lis)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.relay.HandleConnection(r.Context(), conn, label)
}

func (s *Server) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.Admin.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// presenceView is the admin JSON shape for a connected participant. Labels
// are opaque strings straight from the identity provider.
type presenceView struct {
	SessionID   string    `json:"session_id"`
	Label       string    `json:"label,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// handleSessions lists connected participants, or a single one when
// session_id is given. Debug surface only; it exposes no room membership and
// no message state, because neither survives anywhere to expose.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		http.Error(w, "presence tracking disabled", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if id := r.URL.Query().Get("session_id"); id != "" {
		p, ok := s.presence.Lookup(id)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(presenceView{
			SessionID:   p.SessionID,
			Label:       p.Label,
			ConnectedAt: p.ConnectedAt,
		})
		return
	}

	list := s.presence.List()
	out := make([]presenceView, 0, len(list))
	for _, p := range list {
		out = append(out, presenceView{
			SessionID:   p.SessionID,
			Label:       p.Label,
			ConnectedAt: p.ConnectedAt,
		})
	}
	_ = json.NewEncoder(w).Encode(out)
}

// Shutdown attempts a graceful stop before forcing termination.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown timed out; forcing stop", zap.Error(err))
		_ = s.httpServer.Close()
		return
	}
	s.log.Info("relay server stopped")
}
