// Package presence tracks whether users are online from a TTL'd heartbeat
// and tells their friends when that changes.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/thomas/internal/metrics"
	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/realtime"
	"github.com/eldtechnologies/thomas/internal/store"
)

// MaxBatch is the largest number of users a batch status query may ask for.
const MaxBatch = 200

const (
	// EventOnlineList is triggered on user:{id}:friend_online_list.
	EventOnlineList = "friend_online_list"

	notifyConcurrency = 16
)

// ErrBatchSize is returned for an empty or oversized batch.
var ErrBatchSize = fmt.Errorf("batch must contain 1 to %d user IDs", MaxBatch)

// FriendLister lists the users who should hear about presence changes.
type FriendLister interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// Tracker reads and writes presence state in Redis.
type Tracker struct {
	client     *redis.Client
	friends    FriendLister
	publisher  realtime.Publisher
	logger     zerolog.Logger
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a presence tracker.
func NewTracker(client *redis.Client, friends FriendLister, publisher realtime.Publisher, logger zerolog.Logger, ttl, staleAfter time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		client:     client,
		friends:    friends,
		publisher:  publisher,
		logger:     logger,
		ttl:        ttl,
		staleAfter: staleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FriendListChannel is the channel a user watches for friends' presence.
func FriendListChannel(userID string) string {
	return fmt.Sprintf("user:%s:friend_online_list", userID)
}

// SetOnline marks a user online and notifies every friend.
func (t *Tracker) SetOnline(ctx context.Context, userID string) (models.Presence, error) {
	p, err := t.markOnline(ctx, userID)
	if err != nil {
		return models.Presence{}, err
	}
	metrics.PresenceTransitions.WithLabelValues(models.StatusOnline, "online").Inc()
	t.notifyFriends(ctx, userID, p)
	return p, nil
}

// Heartbeat refreshes a user's heartbeat. Friends are notified only when the
// user was not already online.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) (models.Presence, error) {
	before, err := t.Status(ctx, userID)
	if err != nil {
		return models.Presence{}, err
	}

	p, err := t.markOnline(ctx, userID)
	if err != nil {
		return models.Presence{}, err
	}

	if !before.Online() {
		metrics.PresenceTransitions.WithLabelValues(models.StatusOnline, "heartbeat").Inc()
		t.notifyFriends(ctx, userID, p)
	}
	return p, nil
}

// SetOffline marks a user offline, keeping the heartbeat as last seen.
func (t *Tracker) SetOffline(ctx context.Context, userID string) (models.Presence, error) {
	now := t.now().UnixMilli()

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, store.StatusKey(userID), models.StatusOffline, 0)
		pipe.Set(ctx, store.HeartbeatKey(userID), strconv.FormatInt(now, 10), 0)
		pipe.ZRem(ctx, store.OnlineSetKey, userID)
		return nil
	})
	if err != nil {
		return models.Presence{}, err
	}

	p := models.Presence{Status: models.StatusOffline, LastSeen: &now}
	metrics.PresenceTransitions.WithLabelValues(models.StatusOffline, "offline").Inc()
	t.notifyFriends(ctx, userID, p)
	return p, nil
}

// Status returns a user's presence. An online status whose heartbeat is
// missing or stale is reported, and written back, as offline.
func (t *Tracker) Status(ctx context.Context, userID string) (models.Presence, error) {
	pipe := t.client.Pipeline()
	statusCmd := pipe.Get(ctx, store.StatusKey(userID))
	heartbeatCmd := pipe.Get(ctx, store.HeartbeatKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.Presence{}, err
	}

	p, stale := t.evaluate(statusCmd, heartbeatCmd)
	if stale {
		if _, err := t.markStale(ctx, userID); err != nil {
			return models.Presence{}, err
		}
	}
	return p, nil
}

// Provision records a newly created user as offline without a last-seen time.
func (t *Tracker) Provision(ctx context.Context, userID string) error {
	return t.client.Set(ctx, store.StatusKey(userID), models.StatusOffline, 0).Err()
}

// BatchStatus returns the presence of every requested user and pushes the
// same map to the requester's friend_online_list channel.
func (t *Tracker) BatchStatus(ctx context.Context, requesterID string, userIDs []string) (map[string]models.Presence, error) {
	if len(userIDs) == 0 || len(userIDs) > MaxBatch {
		return nil, ErrBatchSize
	}

	type cmds struct {
		status, heartbeat *redis.StringCmd
	}

	pipe := t.client.Pipeline()
	results := make([]cmds, len(userIDs))
	for i, id := range userIDs {
		results[i] = cmds{
			status:    pipe.Get(ctx, store.StatusKey(id)),
			heartbeat: pipe.Get(ctx, store.HeartbeatKey(id)),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	statuses := make(map[string]models.Presence, len(userIDs))
	var stale []string
	for i, id := range userIDs {
		p, isStale := t.evaluate(results[i].status, results[i].heartbeat)
		statuses[id] = p
		if isStale {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		if _, err := t.markStale(ctx, id); err != nil {
			t.logger.Warn().Err(err).Str("user_id", id).Msg("failed to write back stale presence")
		}
	}

	if err := t.publisher.Trigger(ctx, FriendListChannel(requesterID), EventOnlineList, statuses); err != nil {
		t.logger.Warn().Err(err).Str("user_id", requesterID).Msg("failed to publish batch presence")
	}

	return statuses, nil
}

// OnlineCount returns how many users have a fresh heartbeat.
func (t *Tracker) OnlineCount(ctx context.Context) (int64, error) {
	cutoff := t.now().Add(-t.staleAfter).UnixMilli()
	return t.client.ZCount(ctx, store.OnlineSetKey, strconv.FormatInt(cutoff, 10), "+inf").Result()
}

// Reap marks every user whose last heartbeat is older than the stale
// threshold offline and notifies their friends. It returns how many users
// were marked.
func (t *Tracker) Reap(ctx context.Context) (int, error) {
	cutoff := t.now().Add(-t.staleAfter).UnixMilli()

	expired, err := t.client.ZRangeByScoreWithScores(ctx, store.OnlineSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, z := range expired {
		userID, _ := z.Member.(string)
		marked, err := t.markStale(ctx, userID)
		if err != nil {
			return reaped, err
		}
		if !marked {
			continue
		}
		reaped++

		lastSeen := int64(z.Score)
		metrics.PresenceTransitions.WithLabelValues(models.StatusOffline, "reaper").Inc()
		t.notifyFriends(ctx, userID, models.Presence{Status: models.StatusOffline, LastSeen: &lastSeen})
	}

	return reaped, nil
}

// RunReaper calls Reap every interval until ctx is cancelled.
func (t *Tracker) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.Reap(ctx)
			if err != nil {
				t.logger.Error().Err(err).Msg("presence reaper failed")
				continue
			}
			if n > 0 {
				t.logger.Info().Int("count", n).Msg("marked stale users offline")
			}
		}
	}
}

func (t *Tracker) markOnline(ctx context.Context, userID string) (models.Presence, error) {
	now := t.now().UnixMilli()

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, store.StatusKey(userID), models.StatusOnline, 0)
		pipe.Set(ctx, store.HeartbeatKey(userID), strconv.FormatInt(now, 10), t.ttl)
		pipe.ZAdd(ctx, store.OnlineSetKey, redis.Z{Score: float64(now), Member: userID})
		return nil
	})
	if err != nil {
		return models.Presence{}, err
	}
	return models.Presence{Status: models.StatusOnline, LastSeen: &now}, nil
}

// markStale writes userID back as offline unless a fresh heartbeat arrived
// since the caller's read. The status and heartbeat are re-read under WATCH,
// so a heartbeat landing mid-way aborts the write. It reports whether an
// online status was replaced.
func (t *Tracker) markStale(ctx context.Context, userID string) (bool, error) {
	statusKey, heartbeatKey := store.StatusKey(userID), store.HeartbeatKey(userID)

	marked := false
	err := t.client.Watch(ctx, func(tx *redis.Tx) error {
		statusCmd := tx.Get(ctx, statusKey)
		if err := statusCmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		heartbeatCmd := tx.Get(ctx, heartbeatKey)
		if err := heartbeatCmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		p, stale := t.evaluate(statusCmd, heartbeatCmd)
		if p.Online() {
			return nil
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, statusKey, models.StatusOffline, 0)
			pipe.ZRem(ctx, store.OnlineSetKey, userID)
			return nil
		})
		marked = err == nil && stale
		return err
	}, statusKey, heartbeatKey)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return marked, err
}

// evaluate applies the presence rule to a status and heartbeat read. The
// second result reports whether a stored online status must be corrected.
func (t *Tracker) evaluate(statusCmd, heartbeatCmd *redis.StringCmd) (models.Presence, bool) {
	status, _ := statusCmd.Result()

	var lastSeen *int64
	if raw, err := heartbeatCmd.Result(); err == nil {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastSeen = &ms
		}
	}

	if status != models.StatusOnline {
		return models.Presence{Status: models.StatusOffline, LastSeen: lastSeen}, false
	}

	if lastSeen == nil || t.now().UnixMilli()-*lastSeen > t.staleAfter.Milliseconds() {
		return models.Presence{Status: models.StatusOffline, LastSeen: lastSeen}, true
	}

	return models.Presence{Status: models.StatusOnline, LastSeen: lastSeen}, false
}

// notifyFriends pushes a single-entry presence map to every friend. Failures
// are logged and never returned.
func (t *Tracker) notifyFriends(ctx context.Context, userID string, p models.Presence) {
	friends, err := t.friends.FriendIDs(ctx, userID)
	if err != nil {
		t.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to list friends for presence")
		return
	}

	payload := map[string]models.Presence{userID: p}

	var g errgroup.Group
	g.SetLimit(notifyConcurrency)
	for _, friendID := range friends {
		friendID := friendID
		g.Go(func() error {
			if err := t.publisher.Trigger(ctx, FriendListChannel(friendID), EventOnlineList, payload); err != nil {
				t.logger.Warn().Err(err).Str("friend_id", friendID).Msg("failed to publish presence")
			}
			return nil
		})
	}
	g.Wait()
}
