package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const brokerPrefix = "realtime:"

// RedisBroker relays events between server instances over Redis pub/sub so
// every instance's hub reaches its own WebSocket clients.
type RedisBroker struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger
}

// NewRedisBroker creates a broker delivering into hub.
func NewRedisBroker(client *redis.Client, hub *Hub, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, hub: hub, logger: logger}
}

// Trigger publishes an event to all instances, including this one.
func (b *RedisBroker) Trigger(ctx context.Context, channel, event string, data any) error {
	ev, err := newEvent(channel, event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, brokerPrefix+ev.Channel, payload).Err()
}

// Run relays published events into the local hub until ctx is cancelled.
// ready, if non-nil, is closed once the subscription is active.
func (b *RedisBroker) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.PSubscribe(ctx, brokerPrefix+"*")
	defer sub.Close()

	// Wait for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	b.logger.Info().Msg("realtime broker subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("invalid realtime envelope")
				continue
			}
			if ev.Channel == "" {
				ev.Channel = strings.TrimPrefix(msg.Channel, brokerPrefix)
			}
			b.hub.Deliver(ev)
		}
	}
}
