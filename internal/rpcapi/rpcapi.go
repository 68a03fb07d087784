// Package rpcapi implements the gateway's downstream surface: a JSON-RPC
// 2.0 method table reachable over WebSocket and raw TCP, plus /healthz,
// /readyz, and /metrics. The WebSocket handshake's auth-token check and
// rate limiting are injected interfaces the server consults, not a
// concrete policy implementation, so callers can plug in their own.
package rpcapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"i3gateway/internal/packet"
	"i3gateway/internal/services"
	"i3gateway/internal/state"
)

// Sender forwards a packet upstream. internal/upstream.ConnectionManager
// satisfies this directly.
type Sender interface {
	SendPacket(p *packet.Packet) error
}

// ConnectionStater reports the upstream session's current reachability,
// for /readyz. internal/upstream.ConnectionManager satisfies this.
type ConnectionStater interface {
	IsConnected() bool
}

// Reconnector drives a forced upstream reconnect cycle for the `reconnect`
// method. internal/upstream.ConnectionManager satisfies this.
type Reconnector interface {
	Disconnect()
	Connect(ctx context.Context) bool
}

// Authenticator validates a downstream connection's credentials. This is
// an injected interface the server consults; NoAuth accepts everything.
type Authenticator interface {
	Authenticate(token string) bool
}

// NoAuth is an Authenticator that accepts every token.
type NoAuth struct{}

// Authenticate always returns true.
func (NoAuth) Authenticate(string) bool { return true }

// RateLimiter admits or rejects a downstream call. This is an injected
// interface; NoLimit never rejects.
type RateLimiter interface {
	Allow(clientID string) bool
}

// NoLimit is a RateLimiter that always allows.
type NoLimit struct{}

// Allow always returns true.
func (NoLimit) Allow(string) bool { return true }

// Config bundles the collaborators Server needs to answer downstream
// JSON-RPC calls and emit upward events.
type Config struct {
	SelfMud string
	Store   *state.Store
	Sender  Sender

	Who    *services.WhoHandler
	Finger *services.FingerHandler
	Locate *services.LocateHandler

	Conn       ConnectionStater
	Reconnect  Reconnector
	Auth       Authenticator
	Limiter    RateLimiter
	Metrics    http.Handler // promhttp handler, mounted at /metrics if set
	StartedAt  time.Time
	Log        logrus.FieldLogger
}

// Server is the downstream JSON-RPC surface: a chi HTTP mux serving
// WebSocket upgrades plus health/metrics, and a symmetrical raw-TCP
// listener. It also owns the EventBus that pushes upward events to every
// connected client.
type Server struct {
	cfg     Config
	log     logrus.FieldLogger
	methods map[string]methodFunc
	bus     *EventBus
}

// New constructs a Server and its method table from cfg.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Auth == nil {
		cfg.Auth = NoAuth{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NoLimit{}
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	s := &Server{cfg: cfg, log: cfg.Log, bus: NewEventBus()}
	s.methods = s.buildMethodTable()
	return s
}

// Events returns the server's EventBus, for wiring upstream state-change
// and inbound-packet callbacks to the downstream notification surface.
func (s *Server) Events() *EventBus { return s.bus }

// Router builds the chi mux serving /healthz, /readyz, /ws, and /metrics
// (when cfg.Metrics is set).
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Get("/ws", s.handleWebSocket)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics)
	}
	return r
}

// requestLogger is a chi middleware logging each request's method, path,
// and duration.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("downstream http request")
		})
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "alive",
		"uptime_seconds": time.Since(s.cfg.StartedAt).Seconds(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := s.cfg.Conn == nil || s.cfg.Conn.IsConnected()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
