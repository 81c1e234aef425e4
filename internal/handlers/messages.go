package handlers

import (
	"net/http"
	"strings"

	"github.com/eldtechnologies/thomas/internal/ids"
	"github.com/eldtechnologies/thomas/internal/metrics"
	"github.com/eldtechnologies/thomas/internal/models"
)

// SendMessageRequest is the body of POST /api/messages/send.
type SendMessageRequest struct {
	Text     string `json:"text"`
	ChatID   string `json:"chatId"`
	ClientID string `json:"clientId,omitempty"`
}

// LoadMoreRequest pages backwards through a direct chat.
type LoadMoreRequest struct {
	ChatID string `json:"chatId"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// ChatRequest names a direct chat.
type ChatRequest struct {
	ChatID string `json:"chatId"`
}

// MessageResponse returns a stored direct message.
type MessageResponse struct {
	Message models.Message `json:"message"`
}

// MessagesResponse is one page of direct chat history.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// SendMessage stores a direct message and fans it out to the chat and to
// the receiver's chat list.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if len([]rune(text)) > maxMessageLength {
		h.Error(w, http.StatusBadRequest, "message too long (max 2000 chars)")
		return
	}

	chat, ok := h.participantChat(w, req.ChatID, userID)
	if !ok {
		return
	}
	friendID := chat.Partner(userID)

	ctx := r.Context()
	isFriend, err := h.redis.IsFriend(ctx, userID, friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check friends")
		return
	}
	if !isFriend {
		h.Error(w, http.StatusForbidden, "you can only message friends")
		return
	}

	sender, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}

	msg := models.Message{
		ID:         ids.NewMessageID(),
		SenderID:   userID,
		ReceiverID: friendID,
		Text:       text,
		Timestamp:  h.nowMillis(),
		ClientID:   req.ClientID,
	}
	if err := h.redis.AddChatMessage(ctx, chat, &msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	h.trigger(ctx, chatChannel(chat), EventIncomingMessage, msg)
	h.trigger(ctx, userChatsChannel(friendID), EventNewMessage, models.MessageNotification{
		Message: msg,
		Sender:  sender.AsSender(),
	})
	metrics.MessagesSent.WithLabelValues("direct").Inc()

	h.JSON(w, http.StatusOK, MessageResponse{Message: msg})
}

// LoadMoreMessages returns older direct messages in chronological order,
// hiding anything the caller cleared.
func (h *Handler) LoadMoreMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req LoadMoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	chat, ok := h.participantChat(w, req.ChatID, userID)
	if !ok {
		return
	}
	offset, limit := page(req.Offset, req.Limit)

	ctx := r.Context()
	clearedAt, err := h.redis.ChatClearedAt(ctx, chat, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	messages, err := h.redis.GetChatMessages(ctx, chat, offset, limit, clearedAt)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	h.JSON(w, http.StatusOK, MessagesResponse{
		Messages: messages,
		HasMore:  len(messages) == limit,
	})
}

// DeleteChat clears a direct chat for the caller only.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	chat, ok := h.participantChat(w, req.ChatID, userID)
	if !ok {
		return
	}

	if err := h.redis.ClearChat(r.Context(), chat, userID, h.nowMillis()); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "Chat deleted"})
}

// participantChat parses chatID and checks the caller takes part in it.
func (h *Handler) participantChat(w http.ResponseWriter, chatID, userID string) (models.ChatID, bool) {
	if chatID == "" {
		h.Error(w, http.StatusBadRequest, "chatId is required")
		return models.ChatID{}, false
	}
	chat, err := models.ParseChatID(chatID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid chat ID")
		return models.ChatID{}, false
	}
	if !chat.Has(userID) {
		h.Error(w, http.StatusForbidden, "you are not a participant in this chat")
		return models.ChatID{}, false
	}
	return chat, true
}
