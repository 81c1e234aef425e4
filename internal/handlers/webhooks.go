package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/thomas/internal/metrics"
	"github.com/eldtechnologies/thomas/internal/models"
)

// clerkEmail is one entry of a Clerk user's email_addresses.
type clerkEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// clerkUser is the data object of user.* webhook events.
type clerkUser struct {
	ID                    string       `json:"id"`
	EmailAddresses        []clerkEmail `json:"email_addresses"`
	PrimaryEmailAddressID string       `json:"primary_email_address_id"`
	FirstName             string       `json:"first_name"`
	LastName              string       `json:"last_name"`
	ImageURL              string       `json:"image_url"`
	Username              string       `json:"username"`
	CreatedAt             int64        `json:"created_at"` // Unix ms
}

// clerkEvent is a Clerk webhook envelope.
type clerkEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// primaryEmail returns the primary address, or the first one listed.
func (u clerkUser) primaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID != "" && e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (u clerkUser) toUser(now time.Time) models.User {
	created := now
	if u.CreatedAt > 0 {
		created = time.UnixMilli(u.CreatedAt)
	}
	return models.User{
		ID:        u.ID,
		Email:     strings.ToLower(strings.TrimSpace(u.primaryEmail())),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		ImageURL:  u.ImageURL,
		Username:  u.Username,
		CreatedAt: created.UTC().Format(time.RFC3339),
	}
}

// Webhook handles signed Clerk user lifecycle events.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		h.Error(w, http.StatusServiceUnavailable, "webhooks not configured")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.webhook.Verify(payload, r.Header); err != nil {
		h.logger.Warn().Err(err).Msg("webhook verification failed")
		h.Error(w, http.StatusBadRequest, "Error verifying webhook")
		return
	}

	var event clerkEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	var data clerkUser
	if strings.HasPrefix(event.Type, "user.") {
		if err := json.Unmarshal(event.Data, &data); err != nil || data.ID == "" {
			h.Error(w, http.StatusBadRequest, "invalid user payload")
			return
		}
	}

	ctx := r.Context()
	switch event.Type {
	case "user.created", "user.updated":
		user := data.toUser(h.now())
		if user.Email == "" {
			h.Error(w, http.StatusBadRequest, "user email is required")
			return
		}
		if err := h.provisionUser(ctx, &user, event.Type == "user.created"); err != nil {
			h.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to provision user")
			h.Error(w, http.StatusInternalServerError, "failed to store user")
			return
		}
		metrics.UsersProvisioned.WithLabelValues(strings.TrimPrefix(event.Type, "user.")).Inc()
		h.logger.Info().Str("user_id", user.ID).Str("event", event.Type).Msg("user provisioned")

	case "user.deleted":
		if err := h.removeUser(ctx, data.ID); err != nil {
			h.logger.Error().Err(err).Str("user_id", data.ID).Msg("failed to delete user")
			h.Error(w, http.StatusInternalServerError, "failed to delete user")
			return
		}
		metrics.UsersProvisioned.WithLabelValues("deleted").Inc()
		h.logger.Info().Str("user_id", data.ID).Msg("user deleted")
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "Webhook received"})
}

func (h *Handler) provisionUser(ctx context.Context, user *models.User, created bool) error {
	if err := h.redis.SaveUser(ctx, user); err != nil {
		return err
	}
	if created {
		if err := h.presence.Provision(ctx, user.ID); err != nil {
			return err
		}
	}
	if h.directory != nil {
		if err := h.directory.UpsertUser(ctx, user); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) removeUser(ctx context.Context, userID string) error {
	if err := h.redis.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if h.directory != nil {
		return h.directory.DeleteUser(ctx, userID)
	}
	return nil
}
