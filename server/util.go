package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// localOrigins are allowed when no origins are configured
var localOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// upgrader creates a WebSocket upgrader that checks origins against the
// server's allow-list
func (s *BulkServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the Origin header against the allowed origins.
// Requests with no Origin (CLI clients, tests) are allowed.
func (s *BulkServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	s.originsMu.RLock()
	allowed := s.allowedOrigins
	s.originsMu.RUnlock()
	if len(allowed) == 0 {
		allowed = localOrigins
	}

	for _, candidate := range allowed {
		if candidate == "*" || originMatches(origin, candidate) {
			return true
		}
	}
	return false
}

// originMatches allows any port on an allowed scheme and host, so
// "http://localhost" admits "http://localhost:5173" but not
// "http://localhost.evil.com"
func originMatches(origin, allowed string) bool {
	if origin == allowed {
		return true
	}
	if !strings.HasPrefix(origin, allowed) {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	base, err := url.Parse(allowed)
	if err != nil {
		return false
	}
	return u.Scheme == base.Scheme && u.Hostname() == base.Hostname() && base.Port() == ""
}
