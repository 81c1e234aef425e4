package thomas

import (
	"testing"
	"time"

	"github.com/eldtechnologies/thomas/internal/models"
)

var alice = models.User{ID: "alice", Username: "alice"}

func newTestServerTimeline(now time.Time) *ServerTimeline {
	tl := NewServerTimeline("s1", alice)
	tl.now = func() time.Time { return now }
	return tl
}

func TestServerAddPending(t *testing.T) {
	tl := newTestServerTimeline(time.UnixMilli(1000))

	e := tl.AddPending("hello")
	if !e.Pending || e.ID != TempPrefix+e.ClientID || e.ServerID != "s1" {
		t.Fatalf("unexpected pending entry %+v", e)
	}
	if e.Sender.ID != "alice" || e.Timestamp != 1000 {
		t.Fatalf("unexpected sender or timestamp %+v", e)
	}
}

func TestServerReceiveMatchesByClientID(t *testing.T) {
	tl := newTestServerTimeline(time.UnixMilli(1000))
	e := tl.AddPending("hello")

	msg := models.GroupMessage{ID: "01A", Text: "hello", Timestamp: 60000, Sender: alice, ServerID: "s1", ClientID: e.ClientID}
	if !tl.Receive(msg) {
		t.Fatal("expected timeline to change")
	}

	entries := tl.Entries()
	if len(entries) != 1 || entries[0].ID != "01A" || entries[0].Pending {
		t.Fatalf("pending entry not replaced: %+v", entries)
	}
}

func TestServerReceiveMatchesByContent(t *testing.T) {
	tl := newTestServerTimeline(time.UnixMilli(10000))
	tl.AddPending("hello")

	tl.Receive(models.GroupMessage{ID: "01A", Text: "hello", Timestamp: 13000, Sender: alice, ServerID: "s1"})

	entries := tl.Entries()
	if len(entries) != 1 || entries[0].ID != "01A" || entries[0].Pending {
		t.Fatalf("expected content match, got %+v", entries)
	}
}

func TestServerReceiveOutsideWindowAppends(t *testing.T) {
	tl := newTestServerTimeline(time.UnixMilli(10000))
	tl.AddPending("hello")

	tl.Receive(models.GroupMessage{ID: "01A", Text: "hello", Timestamp: 15000, Sender: alice, ServerID: "s1"})
	tl.Receive(models.GroupMessage{ID: "01B", Text: "hello", Timestamp: 10001, Sender: models.User{ID: "bob"}, ServerID: "s1"})

	entries := tl.Entries()
	if len(entries) != 3 || !entries[0].Pending {
		t.Fatalf("pending entry should not match, got %+v", entries)
	}
}

func TestServerReceiveIgnoresDuplicates(t *testing.T) {
	tl := newTestServerTimeline(time.UnixMilli(1000))

	msg := models.GroupMessage{ID: "01A", Text: "hi", Timestamp: 1000, Sender: models.User{ID: "bob"}, ServerID: "s1"}
	if !tl.Receive(msg) {
		t.Fatal("first delivery should change the timeline")
	}
	if tl.Receive(msg) {
		t.Fatal("duplicate delivery should be ignored")
	}
	if tl.Receive(models.GroupMessage{ID: "01B", Text: "hi", Sender: models.User{ID: "bob"}, ServerID: "s2"}) {
		t.Fatal("messages for another server should be ignored")
	}
	if n := len(tl.Entries()); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
}

func TestServerConfirmAfterRealtimeCopy(t *testing.T) {
	tl := newTestServerTimeline(time.UnixMilli(1000))
	e := tl.AddPending("hello")

	// The realtime copy carries no client ID and arrives first.
	tl.Receive(models.GroupMessage{ID: "01A", Text: "hello", Timestamp: 1200, Sender: alice, ServerID: "s1"})
	if tl.Confirm(e.ClientID, "01A", 1200) {
		t.Fatal("confirm should report the entry was already replaced")
	}
	if entries := tl.Entries(); len(entries) != 1 || entries[0].ID != "01A" {
		t.Fatalf("expected a single confirmed entry, got %+v", entries)
	}
}

func TestServerPrependAndFail(t *testing.T) {
	tl := newTestServerTimeline(time.UnixMilli(5000))
	e := tl.AddPending("later")

	added := tl.Prepend([]models.GroupMessage{
		{ID: "02", Text: "b", Timestamp: 2000, Sender: alice},
		{ID: "01", Text: "a", Timestamp: 1000, Sender: alice},
		{ID: "01", Text: "a", Timestamp: 1000, Sender: alice},
	})
	if added != 2 {
		t.Fatalf("expected 2 added, got %d", added)
	}
	entries := tl.Entries()
	if entries[0].ID != "01" || entries[1].ID != "02" || !entries[2].Pending {
		t.Fatalf("unexpected order %+v", entries)
	}

	text, ok := tl.Fail(e.ClientID)
	if !ok || text != "later" || len(tl.Pending()) != 0 {
		t.Fatalf("fail should remove the pending entry, got %q %v", text, ok)
	}
}
