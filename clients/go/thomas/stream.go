package thomas

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/thomas/internal/realtime"
)

// Stream is a realtime WebSocket connection. Events for every subscribed
// channel arrive on Events, including the server's acknowledgements.
type Stream struct {
	conn   *websocket.Conn
	events chan realtime.Event

	writeMu sync.Mutex

	mu  sync.Mutex
	err error
}

type streamMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// Dial opens the realtime stream using the client's session token.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	endpoint := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/realtime"

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: "realtime connection refused"}
		}
		return nil, err
	}

	s := &Stream{
		conn:   conn,
		events: make(chan realtime.Event, 64),
	}
	go s.readLoop()
	return s, nil
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		var ev realtime.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		ev.Channel = realtime.Channel(ev.Channel)
		s.events <- ev
	}
}

// Events yields events with logical channel names. It is closed when the
// connection drops; Err then reports why.
func (s *Stream) Events() <-chan realtime.Event {
	return s.events
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if websocket.IsCloseError(s.err, websocket.CloseNormalClosure) {
		return nil
	}
	return s.err
}

// Subscribe requests events for a logical channel such as "user:{id}:chats".
// The server answers with subscription_succeeded or subscription_error.
func (s *Stream) Subscribe(channel string) error {
	return s.send(streamMessage{Type: "subscribe", Channel: realtime.Key(channel)})
}

// Unsubscribe stops events for channel.
func (s *Stream) Unsubscribe(channel string) error {
	return s.send(streamMessage{Type: "unsubscribe", Channel: realtime.Key(channel)})
}

// Ping asks the server for a pong event.
func (s *Stream) Ping() error {
	return s.send(streamMessage{Type: "ping"})
}

func (s *Stream) send(msg streamMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Close closes the connection.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
