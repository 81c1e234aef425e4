package models

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Presence is a user's online state as reported to clients.
type Presence struct {
	Status   string `json:"status"`
	LastSeen *int64 `json:"lastSeen"` // Unix ms, null when never seen
}

// Online reports whether the presence is online.
func (p Presence) Online() bool {
	return p.Status == StatusOnline
}
