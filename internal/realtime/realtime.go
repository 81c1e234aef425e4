// Package realtime fans out named events on named channels to connected
// clients, either through the built-in WebSocket hub (relayed between
// instances over Redis pub/sub) or through Pusher.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
)

// Publisher triggers an event on a channel. Channel names are logical
// ("user:{id}:friends"); implementations map them to wire names with Key.
type Publisher interface {
	Trigger(ctx context.Context, channel, event string, data any) error
}

// Event is the envelope delivered to WebSocket subscribers and relayed between instances.
type Event struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Key maps a logical channel name to its wire name. Pusher does not allow
// ':' in channel names.
func Key(channel string) string {
	return strings.ReplaceAll(channel, ":", "__")
}

// Channel is the inverse of Key for keys produced from names whose IDs do
// not put '_' next to a ':'. Use ParseKey for keys a client sends.
func Channel(key string) string {
	return strings.ReplaceAll(key, "__", ":")
}

// ParseKey decodes a wire key received from a client. A run of three or more
// underscores decodes to more than one logical name ("user:a_:chats" and
// "user:a:_chats" share a key), so such keys are rejected.
func ParseKey(key string) (string, bool) {
	if key == "" || strings.Contains(key, "___") {
		return "", false
	}
	return Channel(key), true
}

func newEvent(channel, event string, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Channel: Key(channel), Event: event, Data: payload}, nil
}
