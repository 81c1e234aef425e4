package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/thomas/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Authorizer decides whether userID may subscribe to a logical channel.
type Authorizer func(ctx context.Context, userID, channel string) bool

// clientMessage is a control frame sent by a WebSocket client.
type clientMessage struct {
	Type    string `json:"type"` // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel"`
}

// Hub tracks WebSocket clients and their channel subscriptions on this instance.
type Hub struct {
	logger    zerolog.Logger
	authorize Authorizer

	mu       sync.RWMutex
	clients  map[*client]struct{}
	channels map[string]map[*client]struct{}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	subs   map[string]struct{} // guarded by hub.mu
}

// NewHub creates a hub that checks every subscription with authorize.
func NewHub(logger zerolog.Logger, authorize Authorizer) *Hub {
	return &Hub{
		logger:    logger,
		authorize: authorize,
		clients:   make(map[*client]struct{}),
		channels:  make(map[string]map[*client]struct{}),
	}
}

// Trigger delivers an event to subscribers connected to this instance only.
func (h *Hub) Trigger(_ context.Context, channel, event string, data any) error {
	ev, err := newEvent(channel, event, data)
	if err != nil {
		return err
	}
	h.Deliver(ev)
	return nil
}

// Deliver sends an already encoded event to every local subscriber of its channel.
// Clients whose send buffer is full are disconnected.
func (h *Hub) Deliver(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.channels[ev.Channel] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("user_id", c.userID).Msg("dropping slow realtime client")
		h.remove(c)
	}
}

// Subscribers returns the number of local subscribers on a wire channel.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[key])
}

// Serve runs a connection until it closes. It blocks.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID string) {
	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		subs:   make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnections.Inc()

	go c.writePump()
	c.readPump(ctx)
}

func (h *Hub) subscribe(c *client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.channels[key]
	if !ok {
		subs = make(map[*client]struct{})
		h.channels[key] = subs
	}
	subs[c] = struct{}{}
	c.subs[key] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, key)
}

func (h *Hub) unsubscribeLocked(c *client, key string) {
	delete(c.subs, key)
	if subs, ok := h.channels[key]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, key)
		}
	}
}

// remove unregisters a client and closes its send channel once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	for key := range c.subs {
		h.unsubscribeLocked(c, key)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.RealtimeConnections.Dec()
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("user_id", c.userID).Msg("realtime read error")
			}
			return
		}

		switch msg.Type {
		case "subscribe":
			logical, ok := ParseKey(msg.Channel)
			if !ok || !c.hub.authorize(ctx, c.userID, logical) {
				c.reply(msg.Channel, "subscription_error", map[string]string{"error": "forbidden"})
				continue
			}
			// Subscribe under the key events for the authorized name are delivered on.
			key := Key(logical)
			c.hub.subscribe(c, key)
			c.reply(key, "subscription_succeeded", nil)
		case "unsubscribe":
			c.hub.unsubscribe(c, msg.Channel)
		case "ping":
			c.reply("", "pong", nil)
		default:
			c.reply("", "error", map[string]string{"error": "unknown message type"})
		}
	}
}

// reply queues a control event for this client only.
func (c *client) reply(key, event string, data any) {
	ev := Event{Channel: key, Event: event}
	if data != nil {
		ev.Data, _ = json.Marshal(data)
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
