package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/realtime/realtimetest"
	"github.com/eldtechnologies/thomas/internal/store"
)

type staticFriends map[string][]string

func (f staticFriends) FriendIDs(_ context.Context, userID string) ([]string, error) {
	return f[userID], nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis, *realtimetest.Recorder, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rec := &realtimetest.Recorder{}
	clk := &clock{t: time.UnixMilli(1_700_000_000_000)}
	friends := staticFriends{"alice": {"bob", "carol"}}

	tr := NewTracker(client, friends, rec, zerolog.Nop(), time.Hour, time.Hour, WithClock(clk.now))
	return tr, mr, rec, clk
}

func TestSetOnlineNotifiesFriends(t *testing.T) {
	tr, mr, rec, clk := newTestTracker(t)
	ctx := context.Background()

	p, err := tr.SetOnline(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Online() || *p.LastSeen != clk.t.UnixMilli() {
		t.Fatalf("unexpected presence %+v", p)
	}

	if mr.TTL(store.HeartbeatKey("alice")) != time.Hour {
		t.Fatal("heartbeat should carry the TTL")
	}

	for _, friend := range []string{"bob", "carol"} {
		ev, ok := rec.Find(FriendListChannel(friend), EventOnlineList)
		if !ok {
			t.Fatalf("expected notification for %s", friend)
		}
		var payload map[string]models.Presence
		if err := ev.Decode(&payload); err != nil {
			t.Fatal(err)
		}
		if payload["alice"].Status != models.StatusOnline {
			t.Fatalf("unexpected payload %+v", payload)
		}
	}
}

func TestHeartbeatNotifiesOnlyOnTransition(t *testing.T) {
	tr, _, rec, clk := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.Heartbeat(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if rec.Count(EventOnlineList) != 2 {
		t.Fatalf("first heartbeat should notify 2 friends, got %d", rec.Count(EventOnlineList))
	}

	rec.Reset()
	clk.advance(time.Minute)
	if _, err := tr.Heartbeat(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if rec.Count(EventOnlineList) != 0 {
		t.Fatal("repeat heartbeat should not notify")
	}
}

func TestSetOfflineKeepsLastSeen(t *testing.T) {
	tr, mr, _, clk := newTestTracker(t)
	ctx := context.Background()

	tr.SetOnline(ctx, "alice")
	clk.advance(5 * time.Minute)

	if _, err := tr.SetOffline(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if mr.TTL(store.HeartbeatKey("alice")) != 0 {
		t.Fatal("last-seen heartbeat should not expire")
	}

	p, err := tr.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Online() || p.LastSeen == nil || *p.LastSeen != clk.t.UnixMilli() {
		t.Fatalf("unexpected presence %+v", p)
	}
}

func TestStatusWritesBackStale(t *testing.T) {
	tr, mr, _, clk := newTestTracker(t)
	ctx := context.Background()

	tr.SetOnline(ctx, "alice")
	seen := clk.t.UnixMilli()
	clk.advance(2 * time.Hour)

	p, err := tr.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Online() || *p.LastSeen != seen {
		t.Fatalf("expected stale offline with last seen, got %+v", p)
	}
	if got, _ := mr.Get(store.StatusKey("alice")); got != models.StatusOffline {
		t.Fatalf("expected status written back, got %q", got)
	}
}

func TestStatusExpiredHeartbeat(t *testing.T) {
	tr, mr, _, _ := newTestTracker(t)
	ctx := context.Background()

	tr.SetOnline(ctx, "alice")
	mr.FastForward(2 * time.Hour)

	p, err := tr.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Online() || p.LastSeen != nil {
		t.Fatalf("expected offline with no last seen, got %+v", p)
	}
}

func TestStatusUnknownUser(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)

	p, err := tr.Status(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.StatusOffline || p.LastSeen != nil {
		t.Fatalf("unexpected presence %+v", p)
	}
}

func TestBatchStatus(t *testing.T) {
	tr, _, rec, clk := newTestTracker(t)
	ctx := context.Background()

	tr.SetOnline(ctx, "alice")
	tr.SetOnline(ctx, "bob")
	clk.advance(90 * time.Minute)
	tr.SetOnline(ctx, "carol")
	rec.Reset()

	statuses, err := tr.BatchStatus(ctx, "dave", []string{"alice", "bob", "carol", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if statuses["carol"].Status != models.StatusOnline {
		t.Fatal("carol should be online")
	}
	if statuses["alice"].Status != models.StatusOffline || statuses["alice"].LastSeen == nil {
		t.Fatal("alice should be stale offline with last seen")
	}
	if statuses["ghost"].LastSeen != nil {
		t.Fatal("ghost should have no last seen")
	}

	ev, ok := rec.Find(FriendListChannel("dave"), EventOnlineList)
	if !ok {
		t.Fatal("expected batch published to requester")
	}
	var payload map[string]models.Presence
	ev.Decode(&payload)
	if len(payload) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(payload))
	}

	if _, err := tr.BatchStatus(ctx, "dave", nil); !errors.Is(err, ErrBatchSize) {
		t.Fatalf("expected ErrBatchSize, got %v", err)
	}
	if _, err := tr.BatchStatus(ctx, "dave", make([]string, MaxBatch+1)); !errors.Is(err, ErrBatchSize) {
		t.Fatalf("expected ErrBatchSize, got %v", err)
	}
}

func TestReapAndOnlineCount(t *testing.T) {
	tr, mr, rec, clk := newTestTracker(t)
	ctx := context.Background()

	tr.SetOnline(ctx, "alice")
	clk.advance(30 * time.Minute)
	tr.SetOnline(ctx, "bob")

	if n, _ := tr.OnlineCount(ctx); n != 2 {
		t.Fatalf("expected 2 online, got %d", n)
	}

	clk.advance(45 * time.Minute)
	rec.Reset()

	n, err := tr.Reap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if got, _ := mr.Get(store.StatusKey("alice")); got != models.StatusOffline {
		t.Fatal("alice should be offline")
	}
	if rec.Count(EventOnlineList) != 2 {
		t.Fatalf("alice's friends should be notified, got %d", rec.Count(EventOnlineList))
	}

	if n, _ := tr.OnlineCount(ctx); n != 1 {
		t.Fatalf("expected 1 online, got %d", n)
	}
}

// heartbeatAfterScan runs a heartbeat for userID right after the first
// ZRANGEBYSCORE, between the reaper's read and its write.
type heartbeatAfterScan struct {
	tracker *Tracker
	userID  string
	fired   bool
}

func (h *heartbeatAfterScan) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *heartbeatAfterScan) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if !h.fired && cmd.Name() == "zrangebyscore" {
			h.fired = true
			if _, hbErr := h.tracker.Heartbeat(ctx, h.userID); hbErr != nil {
				return hbErr
			}
		}
		return err
	}
}

func (h *heartbeatAfterScan) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestReapSkipsUserWithFreshHeartbeat(t *testing.T) {
	tr, mr, rec, clk := newTestTracker(t)
	ctx := context.Background()

	tr.SetOnline(ctx, "alice")
	clk.advance(2 * time.Hour)
	rec.Reset()

	tr.client.AddHook(&heartbeatAfterScan{tracker: tr, userID: "alice"})

	n, err := tr.Reap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected nothing reaped, got %d", n)
	}
	if got, _ := mr.Get(store.StatusKey("alice")); got != models.StatusOnline {
		t.Fatalf("expected alice to stay online, got %q", got)
	}
	if score, err := mr.ZScore(store.OnlineSetKey, "alice"); err != nil || int64(score) != clk.t.UnixMilli() {
		t.Fatalf("expected fresh online score, got %v %v", score, err)
	}

	for _, ev := range rec.Events() {
		var payload map[string]models.Presence
		if err := ev.Decode(&payload); err != nil {
			t.Fatal(err)
		}
		if p, ok := payload["alice"]; ok && !p.Online() {
			t.Fatalf("friends told alice is offline: %+v on %s", p, ev.Channel)
		}
	}
}

func TestProvisionStartsOffline(t *testing.T) {
	tr, mr, rec, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Provision(ctx, "dave"); err != nil {
		t.Fatal(err)
	}
	if got, _ := mr.Get(store.StatusKey("dave")); got != models.StatusOffline {
		t.Fatalf("expected offline status, got %q", got)
	}

	p, err := tr.Status(ctx, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if p.Online() || p.LastSeen != nil {
		t.Fatalf("unexpected presence %+v", p)
	}
	if len(rec.Events()) != 0 {
		t.Fatal("provisioning should not notify anyone")
	}
}
