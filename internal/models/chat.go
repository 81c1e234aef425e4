package models

import (
	"errors"
	"strings"
)

const chatSeparator = "--"

// ErrInvalidChatID is returned for chat IDs that are not two distinct user IDs.
var ErrInvalidChatID = errors.New("invalid chat ID")

// ChatID identifies a direct conversation between two users.
// The canonical form is both user IDs sorted and joined by "--".
type ChatID struct {
	A, B string
}

// NewChatID builds the canonical chat ID for two users.
func NewChatID(user1, user2 string) ChatID {
	if user2 < user1 {
		user1, user2 = user2, user1
	}
	return ChatID{A: user1, B: user2}
}

// ParseChatID parses "a--b" into its canonical form.
func ParseChatID(s string) (ChatID, error) {
	a, b, ok := strings.Cut(s, chatSeparator)
	if !ok || a == "" || b == "" || a == b || strings.Contains(b, chatSeparator) {
		return ChatID{}, ErrInvalidChatID
	}
	return NewChatID(a, b), nil
}

// String returns the canonical form.
func (c ChatID) String() string {
	return c.A + chatSeparator + c.B
}

// Has reports whether userID participates in the chat.
func (c ChatID) Has(userID string) bool {
	return userID != "" && (c.A == userID || c.B == userID)
}

// Partner returns the other participant.
func (c ChatID) Partner(userID string) string {
	if c.A == userID {
		return c.B
	}
	return c.A
}

// Participants returns both user IDs.
func (c ChatID) Participants() []string {
	return []string{c.A, c.B}
}
