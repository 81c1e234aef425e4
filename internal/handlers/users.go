package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/store"
)

const (
	defaultSuggestions = 5
	maxSuggestions     = 20
	minPatternLength   = 2
)

// UserResponse is a profile with its current presence.
type UserResponse struct {
	models.User
	Presence models.Presence `json:"presence"`
}

// SearchUserResponse is the result of an exact email lookup.
type SearchUserResponse struct {
	User  *models.User `json:"user"`
	Found bool         `json:"found"`
}

// SuggestionsResponse lists users whose email matches a pattern.
type SuggestionsResponse struct {
	Users []models.User `json:"users"`
}

// GetUser handles profile lookup by ID.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.Error(w, http.StatusBadRequest, "user ID is required")
		return
	}

	ctx := r.Context()
	user, err := h.redis.GetUser(ctx, id)
	if err != nil {
		h.userError(w, err)
		return
	}

	p, err := h.presence.Status(ctx, id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load presence")
		return
	}

	h.JSON(w, http.StatusOK, UserResponse{User: *user, Presence: p})
}

// SearchUser looks up a user by exact email. A miss is not an error.
func (h *Handler) SearchUser(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		h.Error(w, http.StatusBadRequest, "Email parameter is required")
		return
	}

	ctx := r.Context()
	id, err := h.redis.UserIDByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		h.JSON(w, http.StatusOK, SearchUserResponse{})
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	user, err := h.redis.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.JSON(w, http.StatusOK, SearchUserResponse{})
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	h.JSON(w, http.StatusOK, SearchUserResponse{User: user, Found: true})
}

// Suggestions returns users whose email contains ?pattern=, excluding the
// caller and their friends.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	pattern := strings.TrimSpace(r.URL.Query().Get("pattern"))
	if len(pattern) < minPatternLength || h.directory == nil {
		h.JSON(w, http.StatusOK, SuggestionsResponse{Users: []models.User{}})
		return
	}

	limit := defaultSuggestions
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxSuggestions {
		limit = maxSuggestions
	}

	ctx := r.Context()
	friendIDs, err := h.redis.FriendIDs(ctx, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list friends")
		return
	}
	exclude := make(map[string]bool, len(friendIDs)+1)
	exclude[userID] = true
	for _, id := range friendIDs {
		exclude[id] = true
	}

	// Over-fetch so exclusions do not starve the result.
	candidates, err := h.directory.SearchUsersByEmail(ctx, pattern, limit+len(exclude))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	users := make([]models.User, 0, limit)
	for _, u := range candidates {
		if exclude[u.ID] {
			continue
		}
		users = append(users, u)
		if len(users) == limit {
			break
		}
	}

	h.JSON(w, http.StatusOK, SuggestionsResponse{Users: users})
}
