// Package statusd serves the operator endpoints: health, a JSON status
// snapshot, Prometheus metrics and a websocket feed of bot events.
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Snapshot is the body of GET /status.
type Snapshot struct {
	Me          string        `json:"me"`
	Instance    string        `json:"instance,omitempty"`
	ActiveGames []string      `json:"active_games"`
	Pending     int           `json:"pending_challenges"`
	Results     session.Tally `json:"results"`
	BookMode    string        `json:"book_mode"`
	EnginePath  string        `json:"engine_path"`
	Tournament  bool          `json:"tournament_mode"`
	Uptime      string        `json:"uptime"`
	Subscribers int           `json:"event_subscribers"`
}

// SnapshotFunc assembles the current status.
type SnapshotFunc func() Snapshot

type Server struct {
	addr     string
	hub      *Hub
	snapshot SnapshotFunc
	started  time.Time
	router   chi.Router
}

func New(addr string, hub *Hub, snapshot SnapshotFunc) *Server {
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{addr: addr, hub: hub, snapshot: snapshot, started: time.Now()}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/events", s.hub)
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var snap Snapshot
	if s.snapshot != nil {
		snap = s.snapshot()
	}
	if snap.ActiveGames == nil {
		snap.ActiveGames = []string{}
	}
	snap.Uptime = time.Since(s.started).Truncate(time.Second).String()
	snap.Subscribers = s.hub.Subscribers()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		obslog.L().Warn("status_encode_failed", zap.Error(err))
	}
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	obslog.L().Info("status_server_listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		obslog.L().Warn("status_server_shutdown", zap.Error(err))
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
