package thomas

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/thomas/internal/models"
)

// ServerEntry is a group message shown in a server timeline.
type ServerEntry struct {
	models.GroupMessage
	Pending bool `json:"pending,omitempty"`
}

// ServerTimeline is the group chat counterpart of Timeline. Pending messages
// are matched by client ID first, then by sender, text and MatchWindow.
type ServerTimeline struct {
	mu       sync.Mutex
	self     models.User
	serverID string
	entries  []ServerEntry
	now      func() time.Time
}

// NewServerTimeline creates a timeline of serverID as seen by self.
func NewServerTimeline(serverID string, self models.User) *ServerTimeline {
	return &ServerTimeline{self: self, serverID: serverID, now: time.Now}
}

// AddPending shows text immediately and returns the pending entry.
func (t *ServerTimeline) AddPending(text string) ServerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	clientID := uuid.NewString()
	e := ServerEntry{
		GroupMessage: models.GroupMessage{
			ID:        TempPrefix + clientID,
			Text:      text,
			Timestamp: t.now().UnixMilli(),
			Sender:    t.self,
			ServerID:  t.serverID,
			ClientID:  clientID,
		},
		Pending: true,
	}
	t.entries = append(t.entries, e)
	return e
}

// Confirm applies the server's response to the pending message clientID.
// It reports false when the realtime copy already replaced it.
func (t *ServerTimeline) Confirm(clientID, id string, ts int64) bool {
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

// Receive merges a server-new-message event. Messages for other servers are
// ignored. It reports whether the timeline changed.
func (t *ServerTimeline) Receive(msg models.GroupMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ServerID != "" && msg.ServerID != t.serverID {
		return false
	}
	if t.indexOf(msg.ID) >= 0 {
		return false
	}

	if i := t.matchPending(msg); i >= 0 {
		t.entries[i] = ServerEntry{GroupMessage: msg}
		return true
	}

	t.entries = append(t.entries, ServerEntry{GroupMessage: msg})
	return true
}

// Fail removes the pending message clientID and returns its text for retry.
func (t *ServerTimeline) Fail(clientID string) (string, bool) {
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

// Prepend merges a page of older history, skipping messages already present.
func (t *ServerTimeline) Prepend(batch []models.GroupMessage) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	older := make([]ServerEntry, 0, len(batch))
	for _, msg := range batch {
		if t.indexOf(msg.ID) >= 0 || slices.ContainsFunc(older, func(e ServerEntry) bool { return e.ID == msg.ID }) {
			continue
		}
		older = append(older, ServerEntry{GroupMessage: msg})
	}
	slices.SortStableFunc(older, func(a, b ServerEntry) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	t.entries = append(older, t.entries...)
	return len(older)
}

// Entries returns a copy of the timeline, oldest first.
func (t *ServerTimeline) Entries() []ServerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

// Pending returns the entries still awaiting confirmation.
func (t *ServerTimeline) Pending() []ServerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []ServerEntry
	for _, e := range t.entries {
		if e.Pending {
			out = append(out, e)
		}
	}
	return out
}

func (t *ServerTimeline) indexOf(id string) int {
	if !confirmedID(id) {
		return -1
	}
	return slices.IndexFunc(t.entries, func(e ServerEntry) bool { return e.ID == id })
}

func (t *ServerTimeline) pendingIndex(clientID string) int {
	return slices.IndexFunc(t.entries, func(e ServerEntry) bool {
		return e.Pending && e.ClientID == clientID
	})
}

func (t *ServerTimeline) matchPending(msg models.GroupMessage) int {
	if msg.ClientID != "" {
		if i := t.pendingIndex(msg.ClientID); i >= 0 {
			return i
		}
	}

	return slices.IndexFunc(t.entries, func(e ServerEntry) bool {
		return e.Pending && e.Sender.ID == msg.Sender.ID && e.Text == msg.Text && withinWindow(e.Timestamp, msg.Timestamp)
	})
}
