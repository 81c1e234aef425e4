package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/thomas/internal/ids"
	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/store"
)

const (
	welcomeServerText = "Welcome to the server! Start chatting."
	minJoinKeyLength  = 8
)

// CreateServerRequest is the body of POST /api/servers/create.
type CreateServerRequest struct {
	ServerName string `json:"serverName"`
	ImageURL   string `json:"imageUrl"`
	JoinKey    string `json:"joinKey,omitempty"` // Optional shared secret required to join
}

// ServerURLResponse points the client at a server page.
type ServerURLResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// JoinServerRequest is the body of POST /api/servers/join.
// InviteLink is a server ID or a link ending in /servers/{id}.
type JoinServerRequest struct {
	InviteLink string `json:"inviteLink"`
	JoinKey    string `json:"joinKey,omitempty"`
}

// ServerRequest names a server.
type ServerRequest struct {
	ServerID string `json:"serverId"`
}

// RenameServerRequest is the body of POST /api/servers/{serverId}/rename.
type RenameServerRequest struct {
	NewName string `json:"newName"`
}

// NewServerEvent is the payload of new-server.
type NewServerEvent struct {
	Server models.ServerWithLatestMessage `json:"server"`
}

// ServerRenamedEvent is the payload of server-renamed.
type ServerRenamedEvent struct {
	ServerID string `json:"serverId"`
	NewName  string `json:"newName"`
}

// ServersResponse lists the caller's servers.
type ServersResponse struct {
	Servers []models.ServerWithLatestMessage `json:"servers"`
}

// ListServers returns the caller's servers, each with its newest message.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	servers, err := h.redis.GetServersForUser(ctx, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list servers")
		return
	}

	result := make([]models.ServerWithLatestMessage, 0, len(servers))
	for _, s := range servers {
		latest := models.GroupMessage{Text: welcomeServerText}
		msgs, err := h.redis.GetServerMessages(ctx, s.ID, 0, 1)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to load server messages")
			return
		}
		if len(msgs) > 0 {
			latest = msgs[0]
		}
		result = append(result, models.ServerWithLatestMessage{Server: s, LatestMessage: latest})
	}

	h.JSON(w, http.StatusOK, ServersResponse{Servers: result})
}

// CreateServer creates a group server owned by the caller.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req CreateServerRequest
	if !h.decode(w, r, &req) {
		return
	}

	name := sanitizeName(req.ServerName)
	imageURL := strings.TrimSpace(req.ImageURL)
	if name == "" || imageURL == "" {
		h.Error(w, http.StatusBadRequest, "serverName and imageUrl are required")
		return
	}

	var keyHash string
	if req.JoinKey != "" {
		if len(req.JoinKey) < minJoinKeyLength {
			h.Error(w, http.StatusBadRequest, "joinKey must be at least 8 characters")
			return
		}
		// Hash the key before storing
		hash, err := bcrypt.GenerateFromPassword([]byte(req.JoinKey), bcrypt.DefaultCost)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to hash join key")
			return
		}
		keyHash = string(hash)
	}

	ctx := r.Context()
	owner, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}

	now := h.nowMillis()
	server := models.Server{
		ID:          ids.NewServerID(),
		ServerName:  name,
		ServerImage: imageURL,
		OwnerID:     userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.redis.CreateServer(ctx, &server, keyHash); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create server")
		return
	}

	h.trigger(ctx, userServersChannel(userID), EventNewServer, NewServerEvent{
		Server: models.ServerWithLatestMessage{
			Server:        server,
			LatestMessage: models.GroupMessage{Text: welcomeServerText, Sender: *owner},
		},
	})

	h.JSON(w, http.StatusCreated, ServerURLResponse{ID: server.ID, URL: "/servers/" + server.ID})
}

// JoinServer adds the caller to a server and announces it to the members.
func (h *Handler) JoinServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req JoinServerRequest
	if !h.decode(w, r, &req) {
		return
	}

	serverID := serverIDFromInvite(req.InviteLink)
	if serverID == "" {
		h.Error(w, http.StatusBadRequest, "inviteLink is required")
		return
	}

	ctx := r.Context()
	server, err := h.redis.GetServer(ctx, serverID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "Server not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load server")
		return
	}

	isMember, err := h.redis.IsMember(ctx, userID, serverID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if isMember {
		h.Error(w, http.StatusBadRequest, "Already a member of this server")
		return
	}

	keyHash, err := h.redis.ServerKeyHash(ctx, serverID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check join key")
		return
	}
	if keyHash != "" {
		if req.JoinKey == "" {
			h.Error(w, http.StatusForbidden, "this server requires a join key")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(req.JoinKey)) != nil {
			h.Error(w, http.StatusForbidden, "invalid join key")
			return
		}
	}

	user, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}

	msg := h.notification(*user, fmt.Sprintf("%s just joined the server", user.DisplayName()))
	if err := h.redis.AddServerMessage(ctx, serverID, &msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	if err := h.redis.AddMember(ctx, serverID, userID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to join server")
		return
	}

	h.trigger(ctx, userServersChannel(userID), EventNewServer, NewServerEvent{
		Server: models.ServerWithLatestMessage{Server: *server, LatestMessage: msg},
	})
	msg.ServerID = serverID
	h.trigger(ctx, serverMessagesChannel(serverID), EventServerNewMessage, msg)

	h.JSON(w, http.StatusOK, ServerURLResponse{ID: serverID, URL: "/servers/" + serverID})
}

// LeaveServer removes the caller from a server.
func (h *Handler) LeaveServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req ServerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ServerID == "" {
		h.Error(w, http.StatusBadRequest, "serverId is required")
		return
	}

	ctx := r.Context()
	if !h.requireMember(w, r, userID, req.ServerID) {
		return
	}

	user, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}

	msg := h.notification(*user, fmt.Sprintf("%s just left the server", user.DisplayName()))
	if err := h.redis.AddServerMessage(ctx, req.ServerID, &msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	if err := h.redis.RemoveMember(ctx, req.ServerID, userID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to leave server")
		return
	}

	msg.ServerID = req.ServerID
	h.trigger(ctx, serverMessagesChannel(req.ServerID), EventServerNewMessage, msg)
	h.trigger(ctx, serverChannel(req.ServerID), EventUserOutServer, req.ServerID)

	h.JSON(w, http.StatusOK, map[string]string{"message": "Successfully left the server"})
}

// RenameServer changes a server's name. Any member may rename.
func (h *Handler) RenameServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	serverID := chi.URLParam(r, "serverId")

	var req RenameServerRequest
	if !h.decode(w, r, &req) {
		return
	}
	newName := sanitizeName(req.NewName)
	if newName == "" || len([]rune(strings.TrimSpace(req.NewName))) > maxNameLength {
		h.Error(w, http.StatusBadRequest, "newName must be 1-100 characters")
		return
	}

	ctx := r.Context()
	if !h.requireMember(w, r, userID, serverID) {
		return
	}

	sender, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}

	server, err := h.redis.GetServer(ctx, serverID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "Server not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load server")
		return
	}

	msg := h.notification(*sender, fmt.Sprintf("%s changed the server name to %s", sender.DisplayName(), newName))
	if err := h.redis.AddServerMessage(ctx, serverID, &msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	server.ServerName = newName
	server.UpdatedAt = h.nowMillis()
	if err := h.redis.SaveServer(ctx, server); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to rename server")
		return
	}

	h.trigger(ctx, serverChannel(serverID), EventServerRenamed, ServerRenamedEvent{ServerID: serverID, NewName: newName})
	msg.ServerID = serverID
	h.trigger(ctx, serverMessagesChannel(serverID), EventServerNewMessage, msg)

	h.JSON(w, http.StatusOK, map[string]string{
		"message":    "Server name updated successfully",
		"serverName": newName,
	})
}

// requireMember writes a 403 unless userID belongs to serverID.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, userID, serverID string) bool {
	isMember, err := h.redis.IsMember(r.Context(), userID, serverID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if !isMember {
		h.Error(w, http.StatusForbidden, "You are not a member of this server")
		return false
	}
	return true
}

// notification builds a system message attributed to user.
func (h *Handler) notification(user models.User, text string) models.GroupMessage {
	return models.GroupMessage{
		ID:             ids.NewMessageID(),
		Text:           text,
		Timestamp:      h.nowMillis(),
		Sender:         user,
		IsNotification: true,
	}
}

// serverIDFromInvite accepts a bare server ID or a link ending in one.
func serverIDFromInvite(invite string) string {
	invite = strings.TrimRight(strings.TrimSpace(invite), "/")
	if invite == "" {
		return ""
	}
	return path.Base(invite)
}
