package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/eldtechnologies/thomas/internal/metrics"
	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/store"
)

const welcomeFriendText = "You are now friends! Let's chat together."

// AddFriendRequest is the body of POST /api/friends/add.
type AddFriendRequest struct {
	Email string `json:"email"`
}

// FriendActionRequest is the body of accept, deny and unfriend.
type FriendActionRequest struct {
	FriendID string `json:"friendId"`
}

// FriendsResponse lists a user's friends.
type FriendsResponse struct {
	Friends []models.User `json:"friends"`
}

// FriendRequestInfo is a pending request with the friends both users share.
type FriendRequestInfo struct {
	RequestUser   models.User   `json:"requestUser"`
	MutualFriends []models.User `json:"mutualFriends"`
	MutualCount   int           `json:"mutualCount"`
}

// FriendRequestsResponse lists pending incoming requests.
type FriendRequestsResponse struct {
	Requests []FriendRequestInfo `json:"requests"`
}

// MutualFriendsResponse lists friends shared with another user.
type MutualFriendsResponse struct {
	MutualFriends []models.User `json:"mutualFriends"`
	MutualCount   int           `json:"mutualCount"`
}

// AddFriend sends a friend request by email.
func (h *Handler) AddFriend(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req AddFriendRequest
	if !h.decode(w, r, &req) {
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		h.Error(w, http.StatusBadRequest, "email is required")
		return
	}
	if !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	ctx := r.Context()
	friendID, err := h.redis.UserIDByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "This person does not exist.")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to look up user")
		return
	}

	if friendID == userID {
		h.Error(w, http.StatusBadRequest, "You cannot add yourself as a friend")
		return
	}

	pending, err := h.redis.HasIncomingRequest(ctx, friendID, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check friend requests")
		return
	}
	if pending {
		h.Error(w, http.StatusBadRequest, "Friend already added")
		return
	}

	isFriend, err := h.redis.IsFriend(ctx, userID, friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check friends")
		return
	}
	if isFriend {
		h.Error(w, http.StatusBadRequest, "Already friends with this user")
		return
	}

	sender, err := h.redis.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	if err := h.redis.AddIncomingRequest(ctx, friendID, userID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to send friend request")
		return
	}

	h.trigger(ctx, incomingRequestsChannel(friendID), EventIncomingFriendRequest, sender)
	metrics.FriendRequests.WithLabelValues("add").Inc()

	h.JSON(w, http.StatusOK, map[string]string{"message": "Friend request sent"})
}

// AcceptFriend accepts a pending request and tells both users.
func (h *Handler) AcceptFriend(w http.ResponseWriter, r *http.Request) {
	userID, friendID, ok := h.friendAction(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	isFriend, err := h.redis.IsFriend(ctx, userID, friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check friends")
		return
	}
	if isFriend {
		h.Error(w, http.StatusBadRequest, "Already friends with this user")
		return
	}

	pending, err := h.redis.HasIncomingRequest(ctx, userID, friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check friend requests")
		return
	}
	if !pending {
		h.Error(w, http.StatusNotFound, "Friend request not found")
		return
	}

	me, err := h.redis.GetUser(ctx, userID)
	if err != nil {
		h.userError(w, err)
		return
	}
	friend, err := h.redis.GetUser(ctx, friendID)
	if err != nil {
		h.userError(w, err)
		return
	}

	if err := h.redis.AcceptFriend(ctx, userID, friendID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to accept friend request")
		return
	}

	welcome := models.Message{Text: welcomeFriendText}
	h.trigger(ctx, friendsChannel(friendID), EventNewFriend, models.FriendWithLastMessage{User: *me, LastMessage: welcome})
	h.trigger(ctx, friendsChannel(userID), EventNewFriend, models.FriendWithLastMessage{User: *friend, LastMessage: welcome})
	metrics.FriendRequests.WithLabelValues("accept").Inc()

	h.JSON(w, http.StatusOK, map[string]string{"message": "Friend request accepted"})
}

// DenyFriend drops a pending request.
func (h *Handler) DenyFriend(w http.ResponseWriter, r *http.Request) {
	userID, friendID, ok := h.friendAction(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	pending, err := h.redis.HasIncomingRequest(ctx, userID, friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check friend requests")
		return
	}
	if !pending {
		h.Error(w, http.StatusNotFound, "Friend request not found")
		return
	}

	// The requester may have been deleted since asking.
	denied := models.User{ID: friendID}
	friend, err := h.redis.GetUser(ctx, friendID)
	switch {
	case err == nil:
		denied = *friend
	case !errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	if err := h.redis.RemoveIncomingRequest(ctx, userID, friendID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to deny friend request")
		return
	}

	h.trigger(ctx, deniedChannel(userID), EventFriendRequestDenied, denied)
	metrics.FriendRequests.WithLabelValues("deny").Inc()

	h.JSON(w, http.StatusOK, map[string]string{"message": "Friend request denied"})
}

// Unfriend removes a friendship in both directions.
func (h *Handler) Unfriend(w http.ResponseWriter, r *http.Request) {
	userID, friendID, ok := h.friendAction(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	isFriend, err := h.redis.IsFriend(ctx, userID, friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check friends")
		return
	}
	if !isFriend {
		h.Error(w, http.StatusBadRequest, "You are not friends with this user")
		return
	}

	if err := h.redis.Unfriend(ctx, userID, friendID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to unfriend")
		return
	}

	h.trigger(ctx, unfriendedChannel(friendID), EventFriendUnfriended, userID)
	h.trigger(ctx, unfriendedChannel(userID), EventFriendUnfriended, friendID)
	metrics.FriendRequests.WithLabelValues("unfriend").Inc()

	h.JSON(w, http.StatusOK, map[string]string{"message": "Unfriended successfully"})
}

// GetFriends lists the current user's friends. A userId query parameter is
// accepted for compatibility but must name the current user.
func (h *Handler) GetFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if q := r.URL.Query().Get("userId"); q != "" && q != userID {
		h.Error(w, http.StatusForbidden, "cannot list another user's friends")
		return
	}

	ctx := r.Context()
	ids, err := h.redis.FriendIDs(ctx, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list friends")
		return
	}
	friends, err := h.redis.GetUsers(ctx, ids)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load friends")
		return
	}

	h.JSON(w, http.StatusOK, FriendsResponse{Friends: friends})
}

// FriendRequests lists pending incoming requests with mutual friends.
func (h *Handler) FriendRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	ids, err := h.redis.IncomingRequestIDs(ctx, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list friend requests")
		return
	}
	requesters, err := h.redis.GetUsers(ctx, ids)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load friend requests")
		return
	}

	requests := make([]FriendRequestInfo, 0, len(requesters))
	for _, u := range requesters {
		mutual, err := h.mutualFriends(r, userID, u.ID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to load mutual friends")
			return
		}
		requests = append(requests, FriendRequestInfo{
			RequestUser:   u,
			MutualFriends: mutual,
			MutualCount:   len(mutual),
		})
	}

	h.JSON(w, http.StatusOK, FriendRequestsResponse{Requests: requests})
}

// MutualFriends lists friends shared with ?userId=.
func (h *Handler) MutualFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	otherID := r.URL.Query().Get("userId")
	if otherID == "" {
		h.Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	mutual, err := h.mutualFriends(r, userID, otherID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load mutual friends")
		return
	}

	h.JSON(w, http.StatusOK, MutualFriendsResponse{MutualFriends: mutual, MutualCount: len(mutual)})
}

func (h *Handler) mutualFriends(r *http.Request, userID, otherID string) ([]models.User, error) {
	ids, err := h.redis.MutualFriendIDs(r.Context(), userID, otherID)
	if err != nil {
		return nil, err
	}
	return h.redis.GetUsers(r.Context(), ids)
}

// friendAction decodes a FriendActionRequest and rejects missing or
// self-targeted IDs.
func (h *Handler) friendAction(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return "", "", false
	}

	var req FriendActionRequest
	if !h.decode(w, r, &req) {
		return "", "", false
	}

	friendID := strings.TrimSpace(req.FriendID)
	if friendID == "" {
		h.Error(w, http.StatusBadRequest, "friendId is required")
		return "", "", false
	}
	if friendID == userID {
		h.Error(w, http.StatusBadRequest, "You cannot perform this action on yourself")
		return "", "", false
	}
	return userID, friendID, true
}

// userError maps a profile lookup failure to a response.
func (h *Handler) userError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}
	h.Error(w, http.StatusInternalServerError, "failed to load user")
}
