package realtime

import (
	"context"

	"github.com/pusher/pusher-http-go/v5"
)

// PusherPublisher triggers events through the Pusher Channels HTTP API.
type PusherPublisher struct {
	client *pusher.Client
}

// NewPusherPublisher creates a publisher for a Pusher app.
func NewPusherPublisher(appID, key, secret, cluster string) *PusherPublisher {
	return &PusherPublisher{
		client: &pusher.Client{
			AppID:   appID,
			Key:     key,
			Secret:  secret,
			Cluster: cluster,
			Secure:  true,
		},
	}
}

// Trigger sends an event on the wire form of channel.
func (p *PusherPublisher) Trigger(_ context.Context, channel, event string, data any) error {
	return p.client.Trigger(Key(channel), event, data)
}
