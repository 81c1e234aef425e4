package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/presence"
)

// BatchStatusRequest is the body of POST /api/user/status/batch.
type BatchStatusRequest struct {
	UserIDs []string `json:"userIds"`
}

// BatchStatusResponse maps user IDs to presence.
type BatchStatusResponse struct {
	Statuses map[string]models.Presence `json:"statuses"`
}

// UserStatus returns the presence of ?userId=. It is public.
func (h *Handler) UserStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		h.Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	p, err := h.presence.Status(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get status")
		return
	}
	h.JSON(w, http.StatusOK, p)
}

// SetOnline marks the caller online.
func (h *Handler) SetOnline(w http.ResponseWriter, r *http.Request) {
	h.updatePresence(w, r, h.presence.SetOnline)
}

// SetOffline marks the caller offline.
func (h *Handler) SetOffline(w http.ResponseWriter, r *http.Request) {
	h.updatePresence(w, r, h.presence.SetOffline)
}

// Heartbeat refreshes the caller's heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.updatePresence(w, r, h.presence.Heartbeat)
}

func (h *Handler) updatePresence(w http.ResponseWriter, r *http.Request, update func(context.Context, string) (models.Presence, error)) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	p, err := update(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("presence update failed")
		h.Error(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	h.JSON(w, http.StatusOK, p)
}

// BatchStatus returns the presence of several users and pushes the same map
// to the caller's friend_online_list channel.
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req BatchStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	statuses, err := h.presence.BatchStatus(r.Context(), userID, req.UserIDs)
	if errors.Is(err, presence.ErrBatchSize) {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get status")
		return
	}

	h.JSON(w, http.StatusOK, BatchStatusResponse{Statuses: statuses})
}
