package handlers

import (
	"net/http"
	"strings"

	"github.com/eldtechnologies/thomas/internal/ids"
	"github.com/eldtechnologies/thomas/internal/metrics"
	"github.com/eldtechnologies/thomas/internal/models"
)

// SendServerMessageRequest is the body of POST /api/messages/server/send.
type SendServerMessageRequest struct {
	Text     string `json:"text"`
	ServerID string `json:"serverId"`
	ClientID string `json:"clientId,omitempty"`
}

// LoadMoreServerRequest pages backwards through a server.
type LoadMoreServerRequest struct {
	ServerID string `json:"serverId"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

// ServerMessageResponse returns a stored server message.
type ServerMessageResponse struct {
	Message models.GroupMessage `json:"message"`
}

// ServerMessagesResponse is one page of server history.
type ServerMessagesResponse struct {
	Messages []models.GroupMessage `json:"messages"`
	HasMore  bool                  `json:"hasMore"`
}

// SendServerMessage stores a message in a server, broadcasts it on the
// server channel and nudges every other member's server list.
func (h *Handler) SendServerMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req SendServerMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" || req.ServerID == "" {
		h.Error(w, http.StatusBadRequest, "text and serverId are required")
		return
	}
	if len([]rune(text)) > maxMessageLength {
		h.Error(w, http.StatusBadRequest, "message too long (max 2000 chars)")
		return
	}

	ctx := r.Context()
	if !h.requireMember(w, r, userID, req.ServerID) {
		return
	}

	sender, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}

	msg := models.GroupMessage{
		ID:        ids.NewMessageID(),
		Text:      text,
		Timestamp: h.nowMillis(),
		Sender:    *sender,
		ClientID:  req.ClientID,
	}
	if err := h.redis.AddServerMessage(ctx, req.ServerID, &msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	msg.ServerID = req.ServerID
	h.trigger(ctx, serverMessagesChannel(req.ServerID), EventServerNewMessage, msg)

	members, err := h.redis.MemberIDs(ctx, req.ServerID)
	if err != nil {
		h.logger.Warn().Err(err).Str("server_id", req.ServerID).Msg("failed to list members")
	}
	for _, memberID := range members {
		if memberID != userID {
			h.trigger(ctx, userServersChannel(memberID), EventNewServerMessage, msg)
		}
	}
	metrics.MessagesSent.WithLabelValues("server").Inc()

	h.JSON(w, http.StatusOK, ServerMessageResponse{Message: msg})
}

// LoadMoreServerMessages returns older server messages in chronological order.
func (h *Handler) LoadMoreServerMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req LoadMoreServerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ServerID == "" {
		h.Error(w, http.StatusBadRequest, "serverId is required")
		return
	}
	if !h.requireMember(w, r, userID, req.ServerID) {
		return
	}
	offset, limit := page(req.Offset, req.Limit)

	messages, err := h.redis.GetServerMessages(r.Context(), req.ServerID, offset, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	h.JSON(w, http.StatusOK, ServerMessagesResponse{
		Messages: messages,
		HasMore:  len(messages) == limit,
	})
}
