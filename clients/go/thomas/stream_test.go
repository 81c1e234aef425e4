package thomas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/thomas/internal/realtime"
)

func TestStreamSubscribeAndReceive(t *testing.T) {
	hub := realtime.NewHub(zerolog.Nop(), func(_ context.Context, userID, channel string) bool {
		return strings.HasPrefix(channel, "user:"+userID+":")
	})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(context.Background(), conn, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL, "alice").Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	next := func() realtime.Event {
		t.Helper()
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatalf("stream closed: %v", stream.Err())
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
		return realtime.Event{}
	}

	if err := stream.Subscribe("user:bob:chats"); err != nil {
		t.Fatal(err)
	}
	if ev := next(); ev.Event != "subscription_error" || ev.Channel != "user:bob:chats" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := stream.Subscribe("user:alice:chats"); err != nil {
		t.Fatal(err)
	}
	if ev := next(); ev.Event != "subscription_succeeded" {
		t.Fatalf("unexpected event %+v", ev)
	}

	hub.Trigger(context.Background(), "user:alice:chats", "new_message", map[string]string{"text": "hi"})
	ev := next()
	if ev.Channel != "user:alice:chats" || ev.Event != "new_message" || !strings.Contains(string(ev.Data), `"hi"`) {
		t.Fatalf("unexpected event %+v", ev)
	}
}
