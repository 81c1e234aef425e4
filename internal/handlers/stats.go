package handlers

import (
	"net/http"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers   int64  `json:"totalUsers"`
	TotalServers int64  `json:"totalServers"`
	OnlineUsers  int64  `json:"onlineUsers"`
	Timestamp    string `json:"timestamp"`
}

// Stats returns platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The directory is optional; without it the user count is omitted as zero.
	var totalUsers int64
	if h.directory != nil {
		n, err := h.directory.CountUsers(ctx)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to count users")
			return
		}
		totalUsers = n
	}

	totalServers, err := h.redis.CountServers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count servers")
		return
	}

	online, err := h.presence.OnlineCount(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count online users")
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:   totalUsers,
		TotalServers: totalServers,
		OnlineUsers:  online,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}
