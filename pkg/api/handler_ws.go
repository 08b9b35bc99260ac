package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to ConnectionManager.
func (s *Server) wsHandler(c *gin.Context) {
	if s.connManager == nil {
		abortWithError(c, &HTTPError{Code: http.StatusServiceUnavailable, Message: "WebSocket not available"})
		return
	}

	identity := extractIdentity(c)
	if identity.UserID == "" {
		abortWithError(c, &HTTPError{Code: http.StatusUnauthorized, Message: "user identity is required"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, acceptOptions(s.cfg.AllowedOrigins))
	if err != nil {
		// Accept has already written the HTTP error response.
		slog.Warn("WebSocket upgrade failed", "user_id", identity.UserID, "error", err)
		c.Abort()
		return
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request.Context(), conn, identity)
}

// acceptOptions turns allowed browser origins into coder/websocket origin
// host patterns. "*" disables the origin check.
func acceptOptions(origins []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range origins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		} else {
			opts.OriginPatterns = append(opts.OriginPatterns, origin)
		}
	}
	return opts
}
