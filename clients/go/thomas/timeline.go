package thomas

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/thomas/internal/models"
)

// TempPrefix marks the ID of a message that the server has not confirmed.
const TempPrefix = "temp-"

// MatchWindow is how far apart a pending message and its confirmed copy may
// be timestamped when they are matched by content instead of client ID.
const MatchWindow = 5 * time.Second

// Entry is a message shown in a timeline.
type Entry struct {
	models.Message
	Pending bool `json:"pending,omitempty"`
}

// Timeline holds one conversation, oldest first, and reconciles messages
// shown before the server confirmed them with their authoritative copies.
// It is safe for concurrent use by an HTTP sender and a stream reader.
type Timeline struct {
	mu      sync.Mutex
	self    string
	entries []Entry
	now     func() time.Time
}

// NewTimeline creates a timeline for the user with ID self.
func NewTimeline(self string) *Timeline {
	return &Timeline{self: self, now: time.Now}
}

// AddPending shows text immediately and returns the pending entry. Its
// ClientID should be sent with the message so the server echoes it back.
func (t *Timeline) AddPending(text string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	clientID := uuid.NewString()
	e := Entry{
		Message: models.Message{
			ID:        TempPrefix + clientID,
			SenderID:  t.self,
			Text:      text,
			Timestamp: t.now().UnixMilli(),
			ClientID:  clientID,
		},
		Pending: true,
	}
	t.entries = append(t.entries, e)
	return e
}

// Confirm applies the server's response to the pending message clientID.
// It reports false when the realtime copy already replaced it.
func (t *Timeline) Confirm(clientID, id string, ts int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.pendingIndex(clientID)
	if i < 0 {
		return false
	}
	if t.indexOf(id) >= 0 {
		t.entries = slices.Delete(t.entries, i, i+1)
		return false
	}

	t.entries[i].ID = id
	t.entries[i].Timestamp = ts
	t.entries[i].Pending = false
	return true
}

// Receive merges a message delivered over the realtime stream. A matching
// pending message is replaced in place, a message already present is
// ignored, anything else is appended. It reports whether the timeline changed.
func (t *Timeline) Receive(msg models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexOf(msg.ID) >= 0 {
		return false
	}

	if i := t.matchPending(msg); i >= 0 {
		t.entries[i] = Entry{Message: msg}
		return true
	}

	t.entries = append(t.entries, Entry{Message: msg})
	return true
}

// Fail removes the pending message clientID and returns its text for retry.
func (t *Timeline) Fail(clientID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.pendingIndex(clientID)
	if i < 0 {
		return "", false
	}
	text := t.entries[i].Text
	t.entries = slices.Delete(t.entries, i, i+1)
	return text, true
}

// Prepend merges a page of older history in any order, skipping messages
// already present. It returns the number of messages added.
func (t *Timeline) Prepend(batch []models.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	older := make([]Entry, 0, len(batch))
	for _, msg := range batch {
		if t.indexOf(msg.ID) >= 0 || slices.ContainsFunc(older, func(e Entry) bool { return e.ID == msg.ID }) {
			continue
		}
		older = append(older, Entry{Message: msg})
	}
	slices.SortStableFunc(older, func(a, b Entry) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	t.entries = append(older, t.entries...)
	return len(older)
}

// Entries returns a copy of the timeline, oldest first.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

// Pending returns the entries still awaiting confirmation.
func (t *Timeline) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.entries {
		if e.Pending {
			out = append(out, e)
		}
	}
	return out
}

func (t *Timeline) indexOf(id string) int {
	if !confirmedID(id) {
		return -1
	}
	return slices.IndexFunc(t.entries, func(e Entry) bool { return e.ID == id })
}

func (t *Timeline) pendingIndex(clientID string) int {
	return slices.IndexFunc(t.entries, func(e Entry) bool {
		return e.Pending && e.ClientID == clientID
	})
}

func (t *Timeline) matchPending(msg models.Message) int {
	if msg.ClientID != "" {
		if i := t.pendingIndex(msg.ClientID); i >= 0 {
			return i
		}
	}

	return slices.IndexFunc(t.entries, func(e Entry) bool {
		return e.Pending && e.SenderID == msg.SenderID && e.Text == msg.Text && withinWindow(e.Timestamp, msg.Timestamp)
	})
}

func withinWindow(a, b int64) bool {
	d := a - b
	window := MatchWindow.Milliseconds()
	return d > -window && d < window
}

func confirmedID(id string) bool {
	return id != "" && !strings.HasPrefix(id, TempPrefix)
}
