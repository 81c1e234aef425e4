package realtime

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestBrokerRelaysToHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	hub, srv := newTestHub(t)
	broker := NewRedisBroker(client, hub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx, ready) }()
	<-ready

	conn := dial(t, srv, "u1")
	send(t, conn, "subscribe", Key("user:u1:servers"))
	readEvent(t, conn)

	if err := broker.Trigger(ctx, "user:u1:servers", "new-server", map[string]string{"id": "s1"}); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if ev.Event != "new-server" || ev.Channel != "user__u1__servers" {
		t.Fatalf("unexpected event %+v", ev)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("broker exited with %v", err)
	}
}
