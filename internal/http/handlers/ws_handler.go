// Realtime HTTP handler.
//
//   - GET /ws   (upgrade to a WebSocket receiving tenant change events)
//
// Capacity is checked before the upgrade so a full deployment answers with a
// plain 503 capacity_exceeded. A race lost after the upgrade closes the
// socket with code 1013 (try again later).
package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
)

func (h *Handlers) upgrader() *websocket.Upgrader {
	allowed := h.deps.AllowedOrigins
	return &websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowed)
		},
	}
}

// originAllowed accepts same-host and non-browser clients, any origin when
// the allow list is empty or "*", and otherwise exact matches.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}

// Realtime godoc
// @ID          realtime
// @Summary     Realtime dashboard channel
// @Description Upgrades to a WebSocket. The first frame is connection.ready; afterwards request.created, request.updated and call.summarized events for the tenant follow in order.
// @Description Clients answer pings or send {"type":"heartbeat"}; two missed heartbeats close the connection.
// @Tags        Realtime
//
// @Param       access_token  query  string  false "Bearer token (browsers cannot set headers on the handshake)"
//
// @Success     101  "Switching Protocols"
// @Failure     503  {object}  handlers.ErrorResponse  "Capacity exceeded"
// @Router      /ws [get]
func (h *Handlers) Realtime(c *gin.Context) {
	tenantID := middleware.TenantFrom(c)
	rt := h.deps.Realtime
	if !rt.HasCapacity(tenantID) {
		c.Header("Retry-After", "5")
		fail(c, http.StatusServiceUnavailable, ErrCodeCapacityExceeded, "realtime capacity reached, retry later")
		return
	}

	ws, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := realtime.NewWSConn(ws)

	handle, err := rt.Subscribe(tenantID, conn)
	if err != nil {
		switch {
		case errors.Is(err, realtime.ErrCapacityExceeded):
			_ = conn.Close(realtime.CloseTryAgainLater, ErrCodeCapacityExceeded)
		case errors.Is(err, realtime.ErrHandshakeFailed):
			// Subscribe closed the socket.
		default:
			_ = conn.Close(realtime.CloseGoingAway, "unavailable")
		}
		middleware.LoggerFrom(c).Info().Err(err).Msg("realtime subscription refused")
		return
	}
	defer rt.Unsubscribe(handle)

	lg := middleware.LoggerFrom(c)
	lg.Info().Str("handle", handle).Msg("realtime connection open")
	err = conn.ReadLoop(func() { rt.Touch(handle) })
	lg.Info().Str("handle", handle).AnErr("reason", err).Msg("realtime connection closed")
}
