package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/thomas/internal/metrics"
	"github.com/eldtechnologies/thomas/internal/models"
)

const (
	searchTTL = 7 * 24 * time.Hour
	tempTTL   = 10 * time.Second
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RedisStore handles Redis operations for users, friendships, chats and servers.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	client.AddHook(latencyHook{})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for presence, rate limiting and pub/sub.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// latencyHook records command latency.
type latencyHook struct{}

func (latencyHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (latencyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
		return err
	}
}

func (latencyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
		return err
	}
}

// Key helpers. The layout is shared with the presence tracker.

func userKey(id string) string { return "user:" + id }

func userEmailKey(email string) string { return "user:email:" + normalizeEmail(email) }

func friendsKey(id string) string { return fmt.Sprintf("user:%s:friends", id) }

func incomingRequestsKey(id string) string {
	return fmt.Sprintf("user:%s:incoming_friend_requests", id)
}

func userServersKey(id string) string { return fmt.Sprintf("user:%s:servers", id) }

func chatMessagesKey(c models.ChatID) string { return fmt.Sprintf("chat:%s:messages", c) }

func chatNicknamesKey(c models.ChatID) string { return fmt.Sprintf("chat:%s:nicknames", c) }

func chatClearedKey(c models.ChatID) string { return fmt.Sprintf("chat:%s:cleared", c) }

func serverKey(id string) string { return "servers:" + id }

func serverMembersKey(id string) string { return fmt.Sprintf("servers:%s:members", id) }

func serverMessagesKey(id string) string { return fmt.Sprintf("servers:%s:messages", id) }

func serverKeyHashKey(id string) string { return fmt.Sprintf("servers:%s:key_hash", id) }

func serverSearchKey(id, word string) string {
	return fmt.Sprintf("servers:%s:search:%s", id, word)
}

const allServersKey = "servers:all"

// StatusKey holds "online" or "offline" for a user.
func StatusKey(userID string) string { return fmt.Sprintf("user:%s:status", userID) }

// HeartbeatKey holds the last heartbeat in Unix ms.
func HeartbeatKey(userID string) string { return fmt.Sprintf("user:%s:heartbeat", userID) }

// OnlineSetKey is the sorted set of online users scored by last heartbeat.
const OnlineSetKey = "presence:online"

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SaveUser stores a user profile and its email index.
func (s *RedisStore) SaveUser(ctx context.Context, u *models.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	previous, err := s.GetUser(ctx, u.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.Email != "" && normalizeEmail(previous.Email) != normalizeEmail(u.Email) {
			pipe.Del(ctx, userEmailKey(previous.Email))
		}
		pipe.Set(ctx, userKey(u.ID), data, 0)
		if u.Email != "" {
			pipe.Set(ctx, userEmailKey(u.Email), u.ID, 0)
		}
		return nil
	})
	return err
}

// GetUser retrieves a user profile.
func (s *RedisStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	data, err := s.client.Get(ctx, userKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var u models.User
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &u, nil
}

// GetUsers retrieves several profiles, skipping missing ones.
func (s *RedisStore) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var u models.User
		if err := json.Unmarshal([]byte(str), &u); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// UserIDByEmail resolves an email address to a user ID.
func (s *RedisStore) UserIDByEmail(ctx context.Context, email string) (string, error) {
	id, err := s.client.Get(ctx, userEmailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return id, err
}

// DeleteUser removes a profile with its presence keys, friendships, pending
// requests and server memberships.
func (s *RedisStore) DeleteUser(ctx context.Context, id string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	friends, err := s.client.SMembers(ctx, friendsKey(id)).Result()
	if err != nil {
		return err
	}
	servers, err := s.client.SMembers(ctx, userServersKey(id)).Result()
	if err != nil {
		return err
	}
	// Outgoing requests are not indexed, so find the sets that may hold one.
	var requestSets []string
	iter := s.client.Scan(ctx, 0, incomingRequestsKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		requestSets = append(requestSets, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if u != nil && u.Email != "" {
			pipe.Del(ctx, userEmailKey(u.Email))
		}
		for _, f := range friends {
			pipe.SRem(ctx, friendsKey(f), id)
		}
		for _, srv := range servers {
			pipe.SRem(ctx, serverMembersKey(srv), id)
		}
		for _, key := range requestSets {
			pipe.SRem(ctx, key, id)
		}
		pipe.Del(ctx, userKey(id), StatusKey(id), HeartbeatKey(id), friendsKey(id), incomingRequestsKey(id), userServersKey(id))
		pipe.ZRem(ctx, OnlineSetKey, id)
		return nil
	})
	return err
}

// IsFriend reports whether friendID is in userID's friend set.
func (s *RedisStore) IsFriend(ctx context.Context, userID, friendID string) (bool, error) {
	return s.client.SIsMember(ctx, friendsKey(userID), friendID).Result()
}

// FriendIDs lists a user's friends in stable order.
func (s *RedisStore) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, friendsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// MutualFriendIDs returns the intersection of two friend sets.
func (s *RedisStore) MutualFriendIDs(ctx context.Context, userID1, userID2 string) ([]string, error) {
	ids, err := s.client.SInter(ctx, friendsKey(userID1), friendsKey(userID2)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// HasIncomingRequest reports whether fromID has a pending request to userID.
func (s *RedisStore) HasIncomingRequest(ctx context.Context, userID, fromID string) (bool, error) {
	return s.client.SIsMember(ctx, incomingRequestsKey(userID), fromID).Result()
}

// IncomingRequestIDs lists users with a pending request to userID.
func (s *RedisStore) IncomingRequestIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, incomingRequestsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// AddIncomingRequest records a friend request from fromID to userID.
func (s *RedisStore) AddIncomingRequest(ctx context.Context, userID, fromID string) error {
	return s.client.SAdd(ctx, incomingRequestsKey(userID), fromID).Err()
}

// RemoveIncomingRequest drops a pending request from fromID to userID.
func (s *RedisStore) RemoveIncomingRequest(ctx context.Context, userID, fromID string) error {
	return s.client.SRem(ctx, incomingRequestsKey(userID), fromID).Err()
}

// AcceptFriend makes two users friends and clears requests in both directions.
func (s *RedisStore) AcceptFriend(ctx context.Context, userID, friendID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, friendsKey(userID), friendID)
		pipe.SAdd(ctx, friendsKey(friendID), userID)
		pipe.SRem(ctx, incomingRequestsKey(friendID), userID)
		pipe.SRem(ctx, incomingRequestsKey(userID), friendID)
		return nil
	})
	return err
}

// Unfriend removes a friendship in both directions.
func (s *RedisStore) Unfriend(ctx context.Context, userID, friendID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, friendsKey(userID), friendID)
		pipe.SRem(ctx, friendsKey(friendID), userID)
		return nil
	})
	return err
}

// AddChatMessage appends a message to a direct chat.
func (s *RedisStore) AddChatMessage(ctx context.Context, chat models.ChatID, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, chatMessagesKey(chat), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	}).Err()
}

// GetChatMessages pages backwards from the newest message. Messages at or
// before clearedAt are hidden. The result is in chronological order.
func (s *RedisStore) GetChatMessages(ctx context.Context, chat models.ChatID, offset, limit int, clearedAt int64) ([]models.Message, error) {
	minScore := "-inf"
	if clearedAt > 0 {
		minScore = "(" + strconv.FormatInt(clearedAt, 10) // exclusive
	}

	results, err := s.client.ZRevRangeByScore(ctx, chatMessagesKey(chat), &redis.ZRangeBy{
		Min:    minScore,
		Max:    "+inf",
		Offset: int64(offset),
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ClearChat hides the chat history before at for one participant.
func (s *RedisStore) ClearChat(ctx context.Context, chat models.ChatID, userID string, at int64) error {
	return s.client.HSet(ctx, chatClearedKey(chat), userID, at).Err()
}

// ChatClearedAt returns when userID last cleared the chat, or 0.
func (s *RedisStore) ChatClearedAt(ctx context.Context, chat models.ChatID, userID string) (int64, error) {
	at, err := s.client.HGet(ctx, chatClearedKey(chat), userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return at, err
}

// SetNickname stores a nickname for userID within a chat.
func (s *RedisStore) SetNickname(ctx context.Context, chat models.ChatID, userID, nickname string) error {
	return s.client.HSet(ctx, chatNicknamesKey(chat), userID, nickname).Err()
}

// GetNicknames returns all nicknames set within a chat.
func (s *RedisStore) GetNicknames(ctx context.Context, chat models.ChatID) (map[string]string, error) {
	return s.client.HGetAll(ctx, chatNicknamesKey(chat)).Result()
}

// CreateServer stores a new server with its owner as the first member.
func (s *RedisStore) CreateServer(ctx context.Context, server *models.Server, keyHash string) error {
	data, err := json.Marshal(server)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, serverKey(server.ID), data, 0)
		pipe.SAdd(ctx, allServersKey, server.ID)
		pipe.SAdd(ctx, serverMembersKey(server.ID), server.OwnerID)
		pipe.SAdd(ctx, userServersKey(server.OwnerID), server.ID)
		if keyHash != "" {
			pipe.Set(ctx, serverKeyHashKey(server.ID), keyHash, 0)
		}
		return nil
	})
	return err
}

// SaveServer overwrites a server record.
func (s *RedisStore) SaveServer(ctx context.Context, server *models.Server) error {
	data, err := json.Marshal(server)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, serverKey(server.ID), data, 0).Err()
}

// GetServer retrieves a server record.
func (s *RedisStore) GetServer(ctx context.Context, id string) (*models.Server, error) {
	data, err := s.client.Get(ctx, serverKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var server models.Server
	if err := json.Unmarshal([]byte(data), &server); err != nil {
		return nil, fmt.Errorf("decode server %s: %w", id, err)
	}
	server.ID = id
	return &server, nil
}

// GetServersForUser lists the servers a user belongs to.
func (s *RedisStore) GetServersForUser(ctx context.Context, userID string) ([]models.Server, error) {
	ids, err := s.client.SMembers(ctx, userServersKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)

	servers := make([]models.Server, 0, len(ids))
	for _, id := range ids {
		server, err := s.GetServer(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		servers = append(servers, *server)
	}
	return servers, nil
}

// ServerKeyHash returns the bcrypt hash guarding a server, or "" if open.
func (s *RedisStore) ServerKeyHash(ctx context.Context, serverID string) (string, error) {
	hash, err := s.client.Get(ctx, serverKeyHashKey(serverID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return hash, err
}

// IsMember reports whether userID belongs to serverID.
func (s *RedisStore) IsMember(ctx context.Context, userID, serverID string) (bool, error) {
	return s.client.SIsMember(ctx, userServersKey(userID), serverID).Result()
}

// AddMember links a user and a server in both directions.
func (s *RedisStore) AddMember(ctx context.Context, serverID, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, serverMembersKey(serverID), userID)
		pipe.SAdd(ctx, userServersKey(userID), serverID)
		return nil
	})
	return err
}

// RemoveMember unlinks a user and a server in both directions.
func (s *RedisStore) RemoveMember(ctx context.Context, serverID, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, serverMembersKey(serverID), userID)
		pipe.SRem(ctx, userServersKey(userID), serverID)
		return nil
	})
	return err
}

// MemberIDs lists a server's members in stable order.
func (s *RedisStore) MemberIDs(ctx context.Context, serverID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, serverMembersKey(serverID)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// CountServers returns the number of servers ever created and not removed.
func (s *RedisStore) CountServers(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, allServersKey).Result()
}

// AddServerMessage appends a message to a server and indexes it for search.
func (s *RedisStore) AddServerMessage(ctx context.Context, serverID string, msg *models.GroupMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	err = s.client.ZAdd(ctx, serverMessagesKey(serverID), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	if msg.IsNotification {
		return nil
	}

	// Search indexing is best-effort
	_ = s.indexServerMessage(ctx, serverID, msg)
	return nil
}

// GetServerMessages pages backwards from the newest message, returned in chronological order.
func (s *RedisStore) GetServerMessages(ctx context.Context, serverID string, offset, limit int) ([]models.GroupMessage, error) {
	results, err := s.client.ZRevRange(ctx, serverMessagesKey(serverID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.GroupMessage, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.GroupMessage
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// wordRegex matches word characters for search indexing.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopWords are common words excluded from the index.
var stopWords = map[string]bool{
	"the": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"it": true, "that": true, "this": true, "with": true, "at": true,
}

// Tokenize extracts distinct searchable words from text.
func Tokenize(text string) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]bool)
	result := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || seen[w] || stopWords[w] {
			continue
		}
		seen[w] = true
		result = append(result, w)
	}
	return result
}

func (s *RedisStore) indexServerMessage(ctx context.Context, serverID string, msg *models.GroupMessage) error {
	pipe := s.client.Pipeline()
	for _, word := range Tokenize(msg.Text) {
		key := serverSearchKey(serverID, word)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(msg.Timestamp), Member: msg.ID})
		pipe.Expire(ctx, key, searchTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// SearchServerMessages returns the newest messages in a server containing every token.
func (s *RedisStore) SearchServerMessages(ctx context.Context, serverID string, tokens []string, limit int) ([]models.GroupMessage, error) {
	if len(tokens) == 0 {
		return []models.GroupMessage{}, nil
	}

	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = serverSearchKey(serverID, t)
	}

	source := keys[0]
	if len(keys) > 1 {
		source = fmt.Sprintf("servers:%s:search:tmp:%d", serverID, time.Now().UnixNano())
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZInterStore(ctx, source, &redis.ZStore{Keys: keys, Aggregate: "MIN"})
			pipe.Expire(ctx, source, tempTTL)
			return nil
		})
		if err != nil {
			return nil, err
		}
		defer s.client.Del(ctx, source)
	}

	refs, err := s.client.ZRevRangeByScoreWithScores(ctx, source, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.GroupMessage, 0, len(refs))
	for _, ref := range refs {
		id, _ := ref.Member.(string)
		msg, err := s.serverMessageAt(ctx, serverID, id, int64(ref.Score))
		if err != nil {
			return nil, err
		}
		if msg != nil {
			messages = append(messages, *msg)
		}
	}
	return messages, nil
}

// serverMessageAt looks up a message by ID among those sharing its timestamp.
func (s *RedisStore) serverMessageAt(ctx context.Context, serverID, msgID string, ts int64) (*models.GroupMessage, error) {
	score := strconv.FormatInt(ts, 10)
	results, err := s.client.ZRangeByScore(ctx, serverMessagesKey(serverID), &redis.ZRangeBy{
		Min: score,
		Max: score,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, data := range results {
		var msg models.GroupMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.ID == msgID {
			return &msg, nil
		}
	}
	return nil, nil
}
