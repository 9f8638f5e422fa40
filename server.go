package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alertory/monitor/internal/config"
	"github.com/alertory/monitor/internal/server"
	"github.com/alertory/monitor/internal/types"
	"github.com/alertory/monitor/internal/util"
)

// WebSocket push intervals.
const (
	levelsInterval = 100 * time.Millisecond // 10 fps for level meters
	statusInterval = time.Second
)

// LiveMonitor is what the HTTP surface needs from the monitor.
type LiveMonitor interface {
	server.Monitor
	Levels() types.LevelSnapshot
	Threshold() int
}

// Server is the HTTP server that exposes the monitor state and commands.
type Server struct {
	config   *config.Config
	monitor  LiveMonitor
	commands *server.CommandHandler
	origins  server.OriginPolicy
	version  *VersionChecker
	metrics  http.Handler
}

// NewServer returns a Server for mon. metrics may be nil when metrics are disabled.
func NewServer(ctx context.Context, cfg *config.Config, mon LiveMonitor, version *VersionChecker, metrics http.Handler) *Server {
	snap := cfg.Snapshot()
	logPath := func() string { return cfg.Snapshot().LogPath }

	return &Server{
		config:   cfg,
		monitor:  mon,
		commands: server.NewCommandHandler(ctx, mon, cfg, logPath),
		origins:  server.OriginPolicy{Allowed: snap.AllowedOrigins},
		version:  version,
		metrics:  metrics,
	}
}

// handleWebSocket streams live levels and status and accepts commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.origins.Upgrade(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection
// until the reader goes away. send is never closed because asynchronous
// command results may still arrive after the client disconnects.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes levels and status until the reader exits.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(levelsInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-levelsTicker.C:
			if !trySend(types.WSLevelsResponse{Type: "levels", Levels: s.monitor.Levels()}) {
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				return
			}
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:      "status",
		Monitor:   s.monitor.State(),
		Threshold: s.monitor.Threshold(),
		Version:   s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	// API key routes
	mux.HandleFunc("/api/monitor", s.apiKeyAuth(s.handleAPIMonitor))
	mux.HandleFunc("/api/monitor/start", s.apiKeyAuth(s.handleAPIMonitorStart))
	mux.HandleFunc("/api/monitor/stop", s.apiKeyAuth(s.handleAPIMonitorStop))
	mux.HandleFunc("/api/devices", s.apiKeyAuth(s.handleAPIDevices))
	mux.HandleFunc("/api/settings", s.apiKeyAuth(s.handleAPISettings))
	mux.HandleFunc("/api/log", s.apiKeyAuth(s.handleAPILog))
	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. Browsers cannot
// set headers on WebSocket handshakes, so /ws also accepts the api_key query
// parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			s.writeError(w, http.StatusServiceUnavailable, "API key not configured")
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" && r.URL.Path == "/ws" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// Start listens on the configured port and serves in the background.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() (*http.Server, error) {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, util.WrapError("listen on "+addr, err)
	}
	return s.Serve(ln), nil
}

// Serve serves the application routes on ln in the background.
func (s *Server) Serve(ln net.Listener) *http.Server {
	slog.Info("starting web server", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
