package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/store"
)

const maxSearchTokens = 5

// SearchResponse represents the server message search response.
type SearchResponse struct {
	Query    string                `json:"query"`
	ServerID string                `json:"serverId"`
	Results  []models.GroupMessage `json:"results"`
	Total    int                   `json:"total"`
}

// SearchServer finds messages in a server containing every word of ?q=.
func (h *Handler) SearchServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	serverID := chi.URLParam(r, "serverId")

	// Parse query
	query := r.URL.Query().Get("q")
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	if len(query) > 100 {
		h.Error(w, http.StatusBadRequest, "query too long (max 100 chars)")
		return
	}

	// Parse limit
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	if !h.requireMember(w, r, userID, serverID) {
		return
	}

	tokens := store.Tokenize(query)
	if len(tokens) > maxSearchTokens {
		tokens = tokens[:maxSearchTokens]
	}
	if len(tokens) == 0 {
		h.JSON(w, http.StatusOK, SearchResponse{
			Query:    query,
			ServerID: serverID,
			Results:  []models.GroupMessage{},
		})
		return
	}

	messages, err := h.redis.SearchServerMessages(r.Context(), serverID, tokens, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	h.JSON(w, http.StatusOK, SearchResponse{
		Query:    query,
		ServerID: serverID,
		Results:  messages,
		Total:    len(messages),
	})
}
