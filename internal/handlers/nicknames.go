package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/eldtechnologies/thomas/internal/ids"
	"github.com/eldtechnologies/thomas/internal/models"
)

const maxNicknameLength = 50

// SetNicknameRequest is the body of POST /api/chats/setting/nickname.
type SetNicknameRequest struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	ChatID   string `json:"chatId"`
}

// NicknameChanged is the payload of nicknameChanged.
type NicknameChanged struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// SetNicknameResponse returns the notification stored in the chat.
type SetNicknameResponse struct {
	Message  models.Message `json:"message"`
	UserID   string         `json:"userId"`
	Nickname string         `json:"nickname"`
}

// NicknamesResponse maps user IDs to nicknames within a chat.
type NicknamesResponse struct {
	Nicknames map[string]string `json:"nicknames"`
}

// SetNickname sets a chat-local nickname for either participant and posts a
// notification message into the chat.
func (h *Handler) SetNickname(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req SetNicknameRequest
	if !h.decode(w, r, &req) {
		return
	}

	chat, ok := h.participantChat(w, req.ChatID, userID)
	if !ok {
		return
	}

	nickname := sanitizeName(req.Nickname)
	if req.UserID == "" || nickname == "" {
		h.Error(w, http.StatusBadRequest, "userId and nickname are required")
		return
	}
	if len([]rune(nickname)) > maxNicknameLength {
		h.Error(w, http.StatusBadRequest, "nickname too long (max 50 chars)")
		return
	}
	if !chat.Has(req.UserID) {
		h.Error(w, http.StatusBadRequest, "userId is not a participant in this chat")
		return
	}

	ctx := r.Context()
	me, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}

	if err := h.redis.SetNickname(ctx, chat, req.UserID, nickname); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to set nickname")
		return
	}

	friendID := chat.Partner(userID)
	whose := "their"
	if req.UserID == friendID {
		whose = "your"
	}

	msg := models.Message{
		ID:             ids.NewMessageID(),
		SenderID:       userID,
		ReceiverID:     friendID,
		Text:           fmt.Sprintf("%s set %s nickname to %s.", me.DisplayName(), whose, nickname),
		Timestamp:      h.nowMillis(),
		IsNotification: true,
	}
	if err := h.redis.AddChatMessage(ctx, chat, &msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	changed := NicknameChanged{UserID: req.UserID, Nickname: nickname}
	notification := models.MessageNotification{Message: msg, Sender: me.AsSender()}

	h.trigger(ctx, chatChannel(chat), EventIncomingMessage, msg)
	h.trigger(ctx, nicknamesChannel(chat, userID), EventNicknameChanged, changed)
	h.trigger(ctx, nicknamesChannel(chat, friendID), EventNicknameChanged, changed)
	h.trigger(ctx, userChatsChannel(friendID), EventNewMessage, notification)
	h.trigger(ctx, userChatsChannel(userID), EventNewMessage, notification)

	h.JSON(w, http.StatusOK, SetNicknameResponse{Message: msg, UserID: req.UserID, Nickname: nickname})
}

// GetNicknames returns every nickname set in ?chatId=.
func (h *Handler) GetNicknames(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	chat, ok := h.participantChat(w, strings.TrimSpace(r.URL.Query().Get("chatId")), userID)
	if !ok {
		return
	}

	nicknames, err := h.redis.GetNicknames(r.Context(), chat)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load nicknames")
		return
	}

	h.JSON(w, http.StatusOK, NicknamesResponse{Nicknames: nicknames})
}
