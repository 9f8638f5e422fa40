package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket connection limits.
const (
	// MaxMessageBytes bounds incoming command frames.
	MaxMessageBytes = 64 << 10
	// WriteTimeout bounds a single frame write.
	WriteTimeout = 5 * time.Second
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// OriginPolicy decides which browser origins may open the live stream.
// Same-host, loopback and private-network origins are always accepted;
// Allowed lists additional hostnames (for a dashboard on another host).
type OriginPolicy struct {
	Allowed []string
}

// Check reports whether the WebSocket connection origin is allowed.
func (p OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests and non-browser clients omit the Origin header.
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		slog.Warn("rejected WebSocket connection: invalid origin", "origin", origin)
		return false
	}
	host := u.Hostname()

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}

	switch {
	case host == "localhost", host == requestHost, slices.Contains(p.Allowed, host):
		return true
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// Upgrade upgrades an HTTP connection to a WebSocket under the policy.
func (p OriginPolicy) Upgrade(w http.ResponseWriter, r *http.Request) (WebSocketConn, error) {
	upgrader := websocket.Upgrader{CheckOrigin: p.Check}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(MaxMessageBytes)
	return &deadlineConn{Conn: conn}, nil
}

// deadlineConn applies WriteTimeout to every JSON write.
type deadlineConn struct {
	*websocket.Conn
}

func (c *deadlineConn) WriteJSON(v any) error {
	if err := c.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	return c.Conn.WriteJSON(v)
}
