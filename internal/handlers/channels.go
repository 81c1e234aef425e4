package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/eldtechnologies/thomas/internal/models"
	"github.com/eldtechnologies/thomas/internal/realtime"
	"github.com/eldtechnologies/thomas/internal/store"
)

// Realtime event names.
const (
	EventIncomingFriendRequest = "incoming_friend_requests"
	EventNewFriend             = "new_friend"
	EventFriendRequestDenied   = "friend_request_denied"
	EventFriendUnfriended      = "friend_unfriended"
	EventIncomingMessage       = "incoming_message"
	EventNewMessage            = "new_message"
	EventNicknameChanged       = "nicknameChanged"
	EventNewServer             = "new-server"
	EventServerNewMessage      = "server-new-message"
	EventNewServerMessage      = "new_server_message"
	EventServerRenamed         = "server-renamed"
	EventUserOutServer         = "user-out-server"
)

func incomingRequestsChannel(userID string) string {
	return fmt.Sprintf("user:%s:incoming_friend_requests", userID)
}

func friendsChannel(userID string) string { return fmt.Sprintf("user:%s:friends", userID) }

func deniedChannel(userID string) string {
	return fmt.Sprintf("user:%s:friend_request_denied", userID)
}

func unfriendedChannel(userID string) string { return fmt.Sprintf("user:%s:unfriended", userID) }

func userChatsChannel(userID string) string { return fmt.Sprintf("user:%s:chats", userID) }

func userServersChannel(userID string) string { return fmt.Sprintf("user:%s:servers", userID) }

func chatChannel(chat models.ChatID) string { return "chat:" + chat.String() }

func nicknamesChannel(chat models.ChatID, userID string) string {
	return fmt.Sprintf("chat:%s:nicknames:%s", chat, userID)
}

func serverChannel(serverID string) string { return "server-" + serverID }

func serverMessagesChannel(serverID string) string { return "server-" + serverID + "-messages" }

// userTopics are the per-user channels, user:{id}:{topic}.
var userTopics = map[string]bool{
	"incoming_friend_requests": true,
	"friends":                  true,
	"friend_request_denied":    true,
	"unfriended":               true,
	"chats":                    true,
	"servers":                  true,
	"friend_online_list":       true,
}

// ChannelAuthorizer decides which realtime channels a user may subscribe to:
// their own user:{id}:* channels, chats they take part in and servers they
// belong to.
func ChannelAuthorizer(redis *store.RedisStore) realtime.Authorizer {
	return func(ctx context.Context, userID, channel string) bool {
		switch {
		case strings.HasPrefix(channel, "user:"):
			owner, topic, ok := strings.Cut(strings.TrimPrefix(channel, "user:"), ":")
			return ok && owner == userID && userTopics[topic]

		case strings.HasPrefix(channel, "chat:"):
			id, rest, nested := strings.Cut(strings.TrimPrefix(channel, "chat:"), ":")
			chat, err := models.ParseChatID(id)
			if err != nil || !chat.Has(userID) {
				return false
			}
			if !nested {
				return true
			}
			target, ok := strings.CutPrefix(rest, "nicknames:")
			return ok && chat.Has(target)

		case strings.HasPrefix(channel, "server-"):
			serverID := strings.TrimSuffix(strings.TrimPrefix(channel, "server-"), "-messages")
			if serverID == "" {
				return false
			}
			ok, err := redis.IsMember(ctx, userID, serverID)
			return err == nil && ok
		}
		return false
	}
}
