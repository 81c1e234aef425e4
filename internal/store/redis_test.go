package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/thomas/internal/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client), mr
}

func TestUserRoundTripAndEmailIndex(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	u := &models.User{ID: "user_1", Email: "Alice@Example.com", Username: "alice"}
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	id, err := s.UserIDByEmail(ctx, "alice@example.com")
	if err != nil || id != "user_1" {
		t.Fatalf("expected user_1, got %q (%v)", id, err)
	}

	u.Email = "alice@new.example"
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("user:email:alice@example.com") {
		t.Fatal("old email index should be removed")
	}

	got, err := s.GetUser(ctx, "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "alice" || got.Email != "alice@new.example" {
		t.Fatalf("unexpected user %+v", got)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUsersSkipsMissing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.SaveUser(ctx, &models.User{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	users, err := s.GetUsers(ctx, []string{"a", "missing", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].ID != "a" || users[1].ID != "b" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestAcceptAndUnfriend(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// b asked a, and a asked b
	if err := s.AddIncomingRequest(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddIncomingRequest(ctx, "b", "a"); err != nil {
		t.Fatal(err)
	}

	if err := s.AcceptFriend(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}

	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		ok, err := s.IsFriend(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("expected %s to be friends with %s", pair[0], pair[1])
		}
		pending, _ := s.HasIncomingRequest(ctx, pair[0], pair[1])
		if pending {
			t.Fatalf("request %s<-%s should be cleared", pair[0], pair[1])
		}
	}

	if err := s.Unfriend(ctx, "b", "a"); err != nil {
		t.Fatal(err)
	}
	ok, _ := s.IsFriend(ctx, "a", "b")
	if ok {
		t.Fatal("expected friendship removed")
	}
}

func TestMutualFriends(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, f := range []string{"c", "d"} {
		s.AcceptFriend(ctx, "a", f)
	}
	for _, f := range []string{"d", "c", "e"} {
		s.AcceptFriend(ctx, "b", f)
	}

	ids, err := s.MutualFriendIDs(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "c" || ids[1] != "d" {
		t.Fatalf("unexpected mutual friends %v", ids)
	}
}

func TestChatPagingAndClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	chat := models.NewChatID("b", "a")

	for i := int64(1); i <= 5; i++ {
		msg := &models.Message{ID: string(rune('0' + i)), SenderID: "a", Text: "hi", Timestamp: i * 1000}
		if err := s.AddChatMessage(ctx, chat, msg); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.GetChatMessages(ctx, chat, 0, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Timestamp != 4000 || page[1].Timestamp != 5000 {
		t.Fatalf("expected newest two in order, got %+v", page)
	}

	page, _ = s.GetChatMessages(ctx, chat, 2, 2, 0)
	if len(page) != 2 || page[0].Timestamp != 2000 {
		t.Fatalf("unexpected second page %+v", page)
	}

	if err := s.ClearChat(ctx, chat, "a", 3000); err != nil {
		t.Fatal(err)
	}
	at, _ := s.ChatClearedAt(ctx, chat, "a")
	if at != 3000 {
		t.Fatalf("expected cleared at 3000, got %d", at)
	}

	page, _ = s.GetChatMessages(ctx, chat, 0, 10, at)
	if len(page) != 2 || page[0].Timestamp != 4000 {
		t.Fatalf("expected messages after clear, got %+v", page)
	}

	other, _ := s.ChatClearedAt(ctx, chat, "b")
	if other != 0 {
		t.Fatal("clear must be one-sided")
	}
}

func TestNicknames(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	chat := models.NewChatID("a", "b")

	if err := s.SetNickname(ctx, chat, "b", "Bobby"); err != nil {
		t.Fatal(err)
	}
	if mr.HGet("chat:a--b:nicknames", "b") != "Bobby" {
		t.Fatal("nickname not stored under canonical chat key")
	}

	names, err := s.GetNicknames(ctx, chat)
	if err != nil || names["b"] != "Bobby" {
		t.Fatalf("unexpected nicknames %v (%v)", names, err)
	}
}

func TestServerMembership(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	server := &models.Server{ID: "srv", ServerName: "Go", OwnerID: "owner", CreatedAt: 1, UpdatedAt: 1}
	if err := s.CreateServer(ctx, server, "hash"); err != nil {
		t.Fatal(err)
	}

	ok, _ := s.IsMember(ctx, "owner", "srv")
	if !ok {
		t.Fatal("owner should be a member")
	}
	hash, _ := s.ServerKeyHash(ctx, "srv")
	if hash != "hash" {
		t.Fatalf("expected key hash, got %q", hash)
	}

	if err := s.AddMember(ctx, "srv", "guest"); err != nil {
		t.Fatal(err)
	}
	members, _ := s.MemberIDs(ctx, "srv")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}

	servers, err := s.GetServersForUser(ctx, "guest")
	if err != nil || len(servers) != 1 || servers[0].ServerName != "Go" {
		t.Fatalf("unexpected servers %+v (%v)", servers, err)
	}

	if err := s.RemoveMember(ctx, "srv", "guest"); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.IsMember(ctx, "guest", "srv")
	if ok {
		t.Fatal("guest should have left")
	}

	count, _ := s.CountServers(ctx)
	if count != 1 {
		t.Fatalf("expected 1 server, got %d", count)
	}

	if _, err := s.GetServer(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServerMessagesAndSearch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sender := models.User{ID: "a", Username: "alice"}

	msgs := []models.GroupMessage{
		{ID: "m1", Text: "deploy the gateway today", Timestamp: 1000, Sender: sender, ServerID: "srv"},
		{ID: "m2", Text: "gateway metrics look fine", Timestamp: 2000, Sender: sender, ServerID: "srv"},
		{ID: "m3", Text: "alice just joined the server", Timestamp: 3000, Sender: sender, ServerID: "srv", IsNotification: true},
	}
	for i := range msgs {
		if err := s.AddServerMessage(ctx, "srv", &msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.GetServerMessages(ctx, "srv", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "m2" || page[1].ID != "m3" {
		t.Fatalf("unexpected page %+v", page)
	}

	found, err := s.SearchServerMessages(ctx, "srv", []string{"gateway"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].ID != "m2" {
		t.Fatalf("expected newest match first, got %+v", found)
	}

	found, _ = s.SearchServerMessages(ctx, "srv", []string{"gateway", "deploy"}, 10)
	if len(found) != 1 || found[0].ID != "m1" {
		t.Fatalf("expected intersection, got %+v", found)
	}

	found, _ = s.SearchServerMessages(ctx, "srv", []string{"joined"}, 10)
	if len(found) != 0 {
		t.Fatal("notifications should not be indexed")
	}

	found, _ = s.SearchServerMessages(ctx, "other", []string{"gateway"}, 10)
	if len(found) != 0 {
		t.Fatal("search must be scoped to the server")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The Gateway, the GATEWAY and a metric!")
	want := []string{"gateway", "metric"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDeleteUserCleansUp(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	s.SaveUser(ctx, &models.User{ID: "a", Email: "a@example.com"})
	s.AcceptFriend(ctx, "a", "b")
	mr.Set(StatusKey("a"), models.StatusOnline)

	if err := s.DeleteUser(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("user:a") || mr.Exists("user:email:a@example.com") || mr.Exists(StatusKey("a")) {
		t.Fatal("user keys should be removed")
	}
	ok, _ := s.IsFriend(ctx, "b", "a")
	if ok {
		t.Fatal("friend sets should drop the deleted user")
	}
}

func TestDeleteUserDropsRequestsAndMemberships(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	s.SaveUser(ctx, &models.User{ID: "a", Email: "a@example.com"})
	s.AddIncomingRequest(ctx, "b", "a")
	s.AddIncomingRequest(ctx, "c", "a")
	s.AddIncomingRequest(ctx, "c", "d")
	s.CreateServer(ctx, &models.Server{ID: "s1", OwnerID: "b", ServerName: "one"}, "")
	s.AddMember(ctx, "s1", "a")

	if err := s.DeleteUser(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	for _, userID := range []string{"b", "c"} {
		if ok, _ := s.HasIncomingRequest(ctx, userID, "a"); ok {
			t.Fatalf("%s still has a request from the deleted user", userID)
		}
	}
	if ids, _ := s.IncomingRequestIDs(ctx, "c"); len(ids) != 1 || ids[0] != "d" {
		t.Fatalf("unrelated requests should survive, got %v", ids)
	}

	members, err := s.MemberIDs(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "b" {
		t.Fatalf("expected only the owner to remain, got %v", members)
	}
	if mr.Exists("user:a:servers") {
		t.Fatal("the deleted user's server index should be removed")
	}
}
