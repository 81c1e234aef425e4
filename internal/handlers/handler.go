package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/eldtechnologies/thomas/internal/api/middleware"
	"github.com/eldtechnologies/thomas/internal/presence"
	"github.com/eldtechnologies/thomas/internal/realtime"
	"github.com/eldtechnologies/thomas/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	maxMessageLength = 2000
	maxNameLength    = 100
	defaultPageSize  = 20
	maxPageSize      = 100
)

// Config holds the dependencies shared by all HTTP handlers.
type Config struct {
	Redis     *store.RedisStore
	Directory store.DataStore // optional
	Presence  *presence.Tracker
	Publisher realtime.Publisher
	Hub       *realtime.Hub
	Webhook   *svix.Webhook // nil disables the webhook endpoint
	Logger    zerolog.Logger

	// AllowedOrigins restricts WebSocket upgrades; "*" allows any origin.
	AllowedOrigins []string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	redis     *store.RedisStore
	directory store.DataStore
	presence  *presence.Tracker
	publisher realtime.Publisher
	hub       *realtime.Hub
	webhook   *svix.Webhook
	logger    zerolog.Logger
	origins   []string
	now       func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		redis:     cfg.Redis,
		directory: cfg.Directory,
		presence:  cfg.Presence,
		publisher: cfg.Publisher,
		hub:       cfg.Hub,
		webhook:   cfg.Webhook,
		logger:    cfg.Logger,
		origins:   cfg.AllowedOrigins,
		now:       time.Now,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// currentUser returns the authenticated user ID, writing a 401 when absent.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// trigger publishes a realtime event. The write it reports on has already
// happened, so failures are logged only.
func (h *Handler) trigger(ctx context.Context, channel, event string, data interface{}) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Trigger(ctx, channel, event, data); err != nil {
		h.logger.Warn().
			Err(err).
			Str("channel", channel).
			Str("event", event).
			Msg("realtime trigger failed")
	}
}

func (h *Handler) nowMillis() int64 {
	return h.now().UnixMilli()
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// page clamps a client-supplied offset and limit.
func page(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return offset, limit
}
