package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/thomas/internal/api/middleware"
	"github.com/eldtechnologies/thomas/internal/handlers"
	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/presence"
	"github.com/eldtechnologies/thomas/internal/realtime"
	"github.com/eldtechnologies/thomas/internal/store"
)

type testServer struct {
	srv   *httptest.Server
	key   *rsa.PrivateKey
	redis *store.RedisStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rs := store.NewRedisStoreWithClient(client)

	dir, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(dir.Close)

	logger := zerolog.Nop()
	hub := realtime.NewHub(logger, handlers.ChannelAuthorizer(rs))
	tracker := presence.NewTracker(client, rs, hub, logger, time.Hour, time.Hour)

	auth, err := middleware.NewAuthMiddleware(logger, middleware.AuthConfig{PublicKeyPEM: string(pubPEM)})
	if err != nil {
		t.Fatal(err)
	}

	h := handlers.NewHandler(handlers.Config{
		Redis:     rs,
		Directory: dir,
		Presence:  tracker,
		Publisher: hub,
		Hub:       hub,
		Logger:    logger,
	})

	srv := httptest.NewServer(NewRouter(logger, h, auth, rs, RouterConfig{}))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, key: key, redis: rs}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.IssueSessionToken(s.key, userID, "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (s *testServer) call(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/api", "/metrics", "/api/user/status?userId=alice"} {
		resp := s.call(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp := s.call(t, http.MethodGet, "/api", "", nil)
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/friends/add"},
		{http.MethodGet, "/api/friends/getFriends"},
		{http.MethodPost, "/api/messages/send"},
		{http.MethodDelete, "/api/chats"},
		{http.MethodGet, "/api/servers"},
		{http.MethodPost, "/api/user/heartbeat"},
		{http.MethodGet, "/realtime"},
	}
	for _, rt := range routes {
		resp := s.call(t, rt.method, rt.path, "", map[string]string{})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", rt.method, rt.path, resp.StatusCode)
		}
	}

	resp := s.call(t, http.MethodGet, "/api/friends/getFriends", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a session, got %d", resp.StatusCode)
	}
}

func TestRejectsNonJSONBody(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/friends/add", strings.NewReader("email=a@b.co"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.token(t, "alice"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}
}

func TestMessageReachesRealtimeSubscriber(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"alice", "bob"} {
		u := models.User{ID: id, Email: id + "@example.com", Username: id}
		if err := s.redis.SaveUser(ctx, &u); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.redis.AcceptFriend(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token(t, "bob"))
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	readEvent := func() realtime.Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev realtime.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatal(err)
		}
		return ev
	}

	conn.WriteJSON(map[string]string{"type": "subscribe", "channel": realtime.Key("user:alice:chats")})
	if ev := readEvent(); ev.Event != "subscription_error" {
		t.Fatalf("bob must not subscribe to alice's channel, got %+v", ev)
	}

	conn.WriteJSON(map[string]string{"type": "subscribe", "channel": realtime.Key("user:bob:chats")})
	if ev := readEvent(); ev.Event != "subscription_succeeded" {
		t.Fatalf("unexpected ack %+v", ev)
	}

	resp := s.call(t, http.MethodPost, "/api/messages/send", "alice", handlers.SendMessageRequest{Text: "hi bob", ChatID: "alice--bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ev := readEvent()
	if ev.Event != handlers.EventNewMessage || ev.Channel != "user__bob__chats" {
		t.Fatalf("unexpected event %+v", ev)
	}
	var note models.MessageNotification
	if err := json.Unmarshal(ev.Data, &note); err != nil {
		t.Fatal(err)
	}
	if note.Text != "hi bob" || note.Sender.Username != "alice" {
		t.Fatalf("unexpected notification %+v", note)
	}
}
