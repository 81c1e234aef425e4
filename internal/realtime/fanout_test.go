package realtime_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/eldtechnologies/thomas/internal/realtime"
	"github.com/eldtechnologies/thomas/internal/realtime/realtimetest"
)

func TestFanoutTriggersEveryBackend(t *testing.T) {
	ok := &realtimetest.Recorder{}
	failing := &realtimetest.Recorder{Err: errors.New("boom")}

	f := realtime.NewFanout(
		realtime.Backend{Name: "hub", Publisher: ok},
		realtime.Backend{Name: "pusher", Publisher: failing},
	)

	err := f.Trigger(context.Background(), "chat:a--b", "incoming_message", map[string]string{"text": "hi"})
	if err == nil || !strings.Contains(err.Error(), "pusher: boom") {
		t.Fatalf("expected joined pusher error, got %v", err)
	}

	if _, found := ok.Find("chat:a--b", "incoming_message"); !found {
		t.Fatal("healthy backend should still receive the event")
	}
	if failing.Count("incoming_message") != 1 {
		t.Fatal("failing backend should have been attempted")
	}
}
