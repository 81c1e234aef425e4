package models

// Server is a group chat entity stored at servers:{id}.
type Server struct {
	ID          string `json:"id"`
	ServerName  string `json:"serverName"`
	ServerImage string `json:"serverImage"`
	OwnerID     string `json:"ownerId"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// ServerWithLatestMessage is the payload of new-server.
type ServerWithLatestMessage struct {
	Server
	LatestMessage GroupMessage `json:"latestMessage"`
}
