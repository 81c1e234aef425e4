// Package thomas provides a client for the Thomas chat API.
package thomas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eldtechnologies/thomas/internal/models"
)

// DefaultURL is used when no base URL is configured.
const DefaultURL = "http://localhost:8080"

// Client is a Thomas API client.
type Client struct {
	BaseURL    string
	Token      string // session JWT sent as a bearer token
	UserID     string // subject of Token, used for timelines and chat IDs
	HTTPClient *http.Client
}

// NewClient creates a new client. The token falls back to THOMAS_TOKEN.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if token == "" {
		token = os.Getenv("THOMAS_TOKEN")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	c.UserID, _ = SubjectOf(token)
	return c
}

// SubjectOf returns the user ID carried by a session token without
// verifying it. The server verifies every request.
func SubjectOf(token string) (string, error) {
	if token == "" {
		return "", errors.New("no session token")
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	return claims.Subject, nil
}

// APIError is returned for responses with a status of 400 or above.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("thomas error %d: %s", e.Status, e.Message)
}

// do performs a request and decodes the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                     `json:"status"`
	Version   string                     `json:"version"`
	Checks    map[string]json.RawMessage `json:"checks"`
	Timestamp string                     `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserResponse is a profile with its presence.
type UserResponse struct {
	models.User
	Presence models.Presence `json:"presence"`
}

// GetUser fetches a user profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	var resp UserResponse
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchUser looks a user up by exact email. A miss returns nil without error.
func (c *Client) SearchUser(ctx context.Context, email string) (*models.User, error) {
	var resp struct {
		User  *models.User `json:"user"`
		Found bool         `json:"found"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/search/user?email="+url.QueryEscape(email), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.User, nil
}

// AddFriend sends a friend request by email.
func (c *Client) AddFriend(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/add", map[string]string{"email": email}, nil)
}

// AcceptFriend accepts a pending request from friendID.
func (c *Client) AcceptFriend(ctx context.Context, friendID string) error {
	return c.friendAction(ctx, "accept", friendID)
}

// DenyFriend denies a pending request from friendID.
func (c *Client) DenyFriend(ctx context.Context, friendID string) error {
	return c.friendAction(ctx, "deny", friendID)
}

// Unfriend removes a friendship.
func (c *Client) Unfriend(ctx context.Context, friendID string) error {
	return c.friendAction(ctx, "unfriend", friendID)
}

func (c *Client) friendAction(ctx context.Context, action, friendID string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/"+action, map[string]string{"friendId": friendID}, nil)
}

// Friends lists the caller's friends.
func (c *Client) Friends(ctx context.Context) ([]models.User, error) {
	var resp struct {
		Friends []models.User `json:"friends"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/friends/getFriends", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Friends, nil
}

// FriendRequest is a pending incoming request.
type FriendRequest struct {
	RequestUser   models.User   `json:"requestUser"`
	MutualFriends []models.User `json:"mutualFriends"`
	MutualCount   int           `json:"mutualCount"`
}

// FriendRequests lists pending incoming requests.
func (c *Client) FriendRequests(ctx context.Context) ([]FriendRequest, error) {
	var resp struct {
		Requests []FriendRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/friends/requests", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// SendMessage sends a direct message. clientID is echoed back for reconciliation.
func (c *Client) SendMessage(ctx context.Context, chatID, text, clientID string) (*models.Message, error) {
	req := map[string]string{"chatId": chatID, "text": text, "clientId": clientID}
	var resp struct {
		Message models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// MessagesPage is a page of direct messages, newest first.
type MessagesPage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// LoadMore fetches older messages of a chat.
func (c *Client) LoadMore(ctx context.Context, chatID string, offset, limit int) (*MessagesPage, error) {
	req := map[string]any{"chatId": chatID, "offset": offset, "limit": limit}
	var resp MessagesPage
	if err := c.do(ctx, http.MethodPost, "/api/messages/load-more", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteChat clears a chat for the caller.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chats", map[string]string{"chatId": chatID}, nil)
}

// SetNickname sets the nickname of a chat participant.
func (c *Client) SetNickname(ctx context.Context, chatID, userID, nickname string) error {
	req := map[string]string{"chatId": chatID, "userId": userID, "nickname": nickname}
	return c.do(ctx, http.MethodPost, "/api/chats/setting/nickname", req, nil)
}

// Servers lists the caller's servers with their latest message.
func (c *Client) Servers(ctx context.Context) ([]models.ServerWithLatestMessage, error) {
	var resp struct {
		Servers []models.ServerWithLatestMessage `json:"servers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/servers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// ServerURL identifies a created or joined server.
type ServerURL struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateServer creates a server. An empty joinKey leaves it open.
func (c *Client) CreateServer(ctx context.Context, name, imageURL, joinKey string) (*ServerURL, error) {
	req := map[string]string{"serverName": name, "imageUrl": imageURL, "joinKey": joinKey}
	var resp ServerURL
	if err := c.do(ctx, http.MethodPost, "/api/servers/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinServer joins a server by invite link or ID.
func (c *Client) JoinServer(ctx context.Context, inviteLink, joinKey string) (*ServerURL, error) {
	req := map[string]string{"inviteLink": inviteLink, "joinKey": joinKey}
	var resp ServerURL
	if err := c.do(ctx, http.MethodPost, "/api/servers/join", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LeaveServer leaves a server.
func (c *Client) LeaveServer(ctx context.Context, serverID string) error {
	return c.do(ctx, http.MethodPost, "/api/servers/out", map[string]string{"serverId": serverID}, nil)
}

// SendServerMessage posts to a server.
func (c *Client) SendServerMessage(ctx context.Context, serverID, text, clientID string) (*models.GroupMessage, error) {
	req := map[string]string{"serverId": serverID, "text": text, "clientId": clientID}
	var resp struct {
		Message models.GroupMessage `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages/server/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// Status returns a user's presence. It needs no session.
func (c *Client) Status(ctx context.Context, userID string) (*models.Presence, error) {
	var resp models.Presence
	if err := c.do(ctx, http.MethodGet, "/api/user/status?userId="+url.QueryEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat refreshes the caller's online status.
func (c *Client) Heartbeat(ctx context.Context) (*models.Presence, error) {
	var resp models.Presence
	if err := c.do(ctx, http.MethodPost, "/api/user/heartbeat", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetOffline marks the caller offline.
func (c *Client) SetOffline(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/user/status/offline", nil, nil)
}

// BatchStatus returns the presence of several friends.
func (c *Client) BatchStatus(ctx context.Context, userIDs []string) (map[string]models.Presence, error) {
	var resp struct {
		Statuses map[string]models.Presence `json:"statuses"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/user/status/batch", map[string][]string{"userIds": userIDs}, &resp); err != nil {
		return nil, err
	}
	return resp.Statuses, nil
}

// SetOnline marks the caller online.
func (c *Client) SetOnline(ctx context.Context) (*models.Presence, error) {
	var resp models.Presence
	if err := c.do(ctx, http.MethodPost, "/api/user/status/online", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MutualFriends lists friends shared with userID.
func (c *Client) MutualFriends(ctx context.Context, userID string) ([]models.User, error) {
	var resp struct {
		MutualFriends []models.User `json:"mutualFriends"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/friends/mutual?userId="+url.QueryEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.MutualFriends, nil
}

// Suggestions lists users whose email contains pattern, excluding the caller and friends.
func (c *Client) Suggestions(ctx context.Context, pattern string, limit int) ([]models.User, error) {
	q := url.Values{"pattern": {pattern}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Users []models.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/search/users/suggestions?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Nicknames returns the nicknames set in a chat, keyed by user ID.
func (c *Client) Nicknames(ctx context.Context, chatID string) (map[string]string, error) {
	var resp struct {
		Nicknames map[string]string `json:"nicknames"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chats/setting/nickname?chatId="+url.QueryEscape(chatID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nicknames, nil
}

// RenameServer renames a server the caller belongs to.
func (c *Client) RenameServer(ctx context.Context, serverID, newName string) error {
	return c.do(ctx, http.MethodPost, "/api/servers/"+url.PathEscape(serverID)+"/rename", map[string]string{"newName": newName}, nil)
}

// ServerMessagesPage is a page of server messages, newest first.
type ServerMessagesPage struct {
	Messages []models.GroupMessage `json:"messages"`
	HasMore  bool                  `json:"hasMore"`
}

// LoadMoreServer fetches older messages of a server.
func (c *Client) LoadMoreServer(ctx context.Context, serverID string, offset, limit int) (*ServerMessagesPage, error) {
	req := map[string]any{"serverId": serverID, "offset": offset, "limit": limit}
	var resp ServerMessagesPage
	if err := c.do(ctx, http.MethodPost, "/api/messages/server/load-more", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchServer finds server messages containing every word of query.
func (c *Client) SearchServer(ctx context.Context, serverID, query string) ([]models.GroupMessage, error) {
	var resp struct {
		Results []models.GroupMessage `json:"results"`
	}
	path := "/api/servers/" + url.PathEscape(serverID) + "/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Stats is the platform summary.
type Stats struct {
	TotalUsers   int64  `json:"totalUsers"`
	TotalServers int64  `json:"totalServers"`
	OnlineUsers  int64  `json:"onlineUsers"`
	Timestamp    string `json:"timestamp"`
}

// Stats returns platform statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
