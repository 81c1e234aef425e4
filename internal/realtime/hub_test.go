package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func ownChannels(_ context.Context, userID, channel string) bool {
	return strings.HasPrefix(channel, "user:"+userID+":")
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop(), ownChannels)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(context.Background(), conn, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ, channel string) {
	t.Helper()
	if err := conn.WriteJSON(clientMessage{Type: typ, Channel: channel}); err != nil {
		t.Fatal(err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestKeyRoundTrip(t *testing.T) {
	if got := Key("chat:a--b:nicknames:a"); got != "chat__a--b__nicknames__a" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Channel(Key("user:u1:friends")); got != "user:u1:friends" {
		t.Fatalf("unexpected channel %q", got)
	}
}

func TestHubSubscribeAndDeliver(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "u1")

	send(t, conn, "subscribe", Key("user:u1:friends"))
	ev := readEvent(t, conn)
	if ev.Event != "subscription_succeeded" || ev.Channel != "user__u1__friends" {
		t.Fatalf("unexpected ack %+v", ev)
	}

	if err := hub.Trigger(context.Background(), "user:u1:friends", "new_friend", map[string]string{"id": "u2"}); err != nil {
		t.Fatal(err)
	}

	ev = readEvent(t, conn)
	if ev.Event != "new_friend" {
		t.Fatalf("expected new_friend, got %+v", ev)
	}
	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["id"] != "u2" {
		t.Fatalf("unexpected payload %v", data)
	}
}

func TestHubRejectsForeignChannel(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "u1")

	send(t, conn, "subscribe", Key("user:u2:friends"))
	ev := readEvent(t, conn)
	if ev.Event != "subscription_error" {
		t.Fatalf("expected subscription_error, got %+v", ev)
	}
	if hub.Subscribers("user__u2__friends") != 0 {
		t.Fatal("forbidden subscription must not register")
	}
}

func TestParseKeyRejectsAmbiguousKeys(t *testing.T) {
	if got, ok := ParseKey("user__u1__chats"); !ok || got != "user:u1:chats" {
		t.Fatalf("unexpected decode %q %v", got, ok)
	}
	if got, ok := ParseKey("server-abc_def-messages"); !ok || got != "server-abc_def-messages" {
		t.Fatalf("single underscores are literal, got %q %v", got, ok)
	}
	for _, key := range []string{"", "user__a___chats", "user___a__chats", "user__a____chats"} {
		if _, ok := ParseKey(key); ok {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}

func TestHubRejectsKeyOfLookalikeUser(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "a")

	// Key("user:a_:chats") also decodes to "user:a:_chats", which "a" owns.
	victim := Key("user:a_:chats")
	send(t, conn, "subscribe", victim)
	if ev := readEvent(t, conn); ev.Event != "subscription_error" {
		t.Fatalf("expected subscription_error, got %+v", ev)
	}
	if hub.Subscribers(victim) != 0 {
		t.Fatal("lookalike subscription must not register")
	}

	hub.Trigger(context.Background(), "user:a_:chats", "new_message", map[string]string{"text": "secret"})
	send(t, conn, "ping", "")
	if ev := readEvent(t, conn); ev.Event != "pong" {
		t.Fatalf("expected only pong, got %+v", ev)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "u1")

	send(t, conn, "subscribe", Key("user:u1:chats"))
	readEvent(t, conn)
	if hub.Subscribers("user__u1__chats") != 1 {
		t.Fatal("expected one subscriber")
	}

	send(t, conn, "unsubscribe", Key("user:u1:chats"))
	send(t, conn, "ping", "")
	if ev := readEvent(t, conn); ev.Event != "pong" {
		t.Fatalf("expected pong, got %+v", ev)
	}
	if hub.Subscribers("user__u1__chats") != 0 {
		t.Fatal("expected no subscribers after unsubscribe")
	}
}

func TestHubRemovesClosedClients(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "u1")

	send(t, conn, "subscribe", Key("user:u1:chats"))
	readEvent(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("user__u1__chats") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
