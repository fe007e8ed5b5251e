package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// PeerStateKey is the gin context key under which handlers store the state of
// the peer a request targets.
const PeerStateKey = "peer_state"

// RequestLogger logs one event per request. Requests against a peer carry its
// id and, when a handler recorded it, the peer's state.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		if id := c.Param("id"); id != "" {
			event = event.Str("peer_id", id)
		}
		if state := c.GetString(PeerStateKey); state != "" {
			event = event.Str("peer_state", state)
		}

		event.
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

// RequestMetricsMiddleware records every request and, for the /peers routes,
// the peer operation it performed.
func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := routePath(c)
		status := c.Writer.Status()
		RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))

		if op := PeerOperation(c.Request.Method, path); op != "" {
			state := c.GetString(PeerStateKey)
			if state == "" {
				state = "none"
			}
			RecordPeerOperation(op, state, outcome(status))
		}
	}
}

// PeerOperation names the admin operation behind a matched route, or "".
func PeerOperation(method, path string) string {
	switch method + " " + path {
	case "GET /peers":
		return "list"
	case "POST /peers":
		return "start"
	case "GET /peers/:id":
		return "info"
	case "DELETE /peers/:id":
		return "stop"
	case "POST /peers/:id/send":
		return "send"
	case "GET /peers/:id/next":
		return "next"
	}
	return ""
}

func outcome(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusGatewayTimeout:
		return "timeout"
	case status >= 400:
		return "error"
	}
	return "ok"
}

func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
