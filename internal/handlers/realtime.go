package handlers

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

// Realtime upgrades an authenticated request to a WebSocket served by the hub.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		h.Error(w, http.StatusServiceUnavailable, "realtime not configured")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	h.hub.Serve(r.Context(), conn, userID)
}

// checkOrigin allows non-browser clients and any configured origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 || slices.Contains(h.origins, "*") {
		return true
	}
	return slices.Contains(h.origins, origin)
}
