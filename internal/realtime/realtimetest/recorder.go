// Package realtimetest provides an in-memory realtime.Publisher for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"sync"
)

// Recorded is one triggered event.
type Recorded struct {
	Channel string
	Event   string
	Data    any
}

// Decode round-trips the payload through JSON into v.
func (r Recorded) Decode(v any) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Recorder captures every triggered event.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	Err    error // returned from Trigger when set
}

// Trigger records the event.
func (r *Recorder) Trigger(_ context.Context, channel, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Channel: channel, Event: event, Data: data})
	return r.Err
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Find returns the first event matching channel and event.
func (r *Recorder) Find(channel, event string) (Recorded, bool) {
	for _, e := range r.Events() {
		if e.Channel == channel && e.Event == event {
			return e, true
		}
	}
	return Recorded{}, false
}

// Count returns how many times event was triggered on any channel.
func (r *Recorder) Count(event string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
