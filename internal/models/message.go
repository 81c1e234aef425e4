package models

// Message is a direct chat message stored in chat:{chatId}:messages.
type Message struct {
	ID             string `json:"id"` // ULID
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId,omitempty"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"` // Unix ms
	IsNotification bool   `json:"isNotification,omitempty"`
	ClientID       string `json:"clientId,omitempty"` // Echoed back for optimistic reconciliation
}

// MessageNotification is the payload of new_message on user:{id}:chats.
type MessageNotification struct {
	Message
	Sender Sender `json:"sender"`
}

// FriendWithLastMessage is the payload of new_friend.
type FriendWithLastMessage struct {
	User
	LastMessage Message `json:"lastMessage"`
}

// GroupMessage is a server chat message stored in servers:{id}:messages.
type GroupMessage struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
	Sender         User   `json:"sender"`
	IsNotification bool   `json:"isNotification,omitempty"`
	ServerID       string `json:"serverId,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
}
