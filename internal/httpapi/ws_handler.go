package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// closeAuthFailed and closeOverLimit are the §6.8 non-standard close codes.
const (
	closeAuthFailed = 4001
	closeOverLimit  = 4002
)

// handleStream implements WS /v1/stream?token=<key> (§4.6, §6.8).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.rejectUpgrade(w, r, closeAuthFailed, "missing token")
		return
	}

	p, err := s.Auth.AuthenticateAPIKey(r.Context(), token)
	if err != nil {
		s.rejectUpgrade(w, r, closeAuthFailed, "authentication failed")
		return
	}

	if s.QueryLimiter != nil && !s.QueryLimiter.Allow(p.KeyID) {
		s.rejectUpgrade(w, r, closeOverLimit, "rate limit exceeded")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.Hub.Accept(conn, p.TenantID)
}

// rejectUpgrade completes the WebSocket handshake just far enough to send a
// close frame with a specific code, then tears the connection down — the
// client sees the §6.8 close code rather than a raw HTTP error.
func (s *Server) rejectUpgrade(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}
