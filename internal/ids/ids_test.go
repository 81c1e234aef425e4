package ids

import "testing"

func TestMessageIDsSortByCreation(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	if len(a) != 26 {
		t.Fatalf("expected 26 char ULID, got %q", a)
	}
	if a == b {
		t.Fatal("expected unique IDs")
	}
	if b < a {
		t.Fatalf("expected %s to sort after %s", b, a)
	}
}

func TestServerIDIsUUIDv7(t *testing.T) {
	id := NewUUIDv7()
	if id.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id.Version())
	}
	if len(NewServerID()) != 36 {
		t.Fatal("expected canonical UUID string")
	}
}
