package models

import "testing"

func TestParseChatIDCanonical(t *testing.T) {
	c, err := ParseChatID("user_b--user_a")
	if err != nil {
		t.Fatal(err)
	}
	if c.String() != "user_a--user_b" {
		t.Fatalf("expected sorted chat ID, got %q", c.String())
	}
	if !c.Has("user_b") || c.Has("user_c") || c.Has("") {
		t.Fatal("unexpected membership result")
	}
	if c.Partner("user_a") != "user_b" || c.Partner("user_b") != "user_a" {
		t.Fatal("unexpected partner")
	}
}

func TestParseChatIDRejects(t *testing.T) {
	for _, s := range []string{"", "abc", "--b", "a--", "a--a", "a--b--c"} {
		if _, err := ParseChatID(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestNewChatIDMatchesParse(t *testing.T) {
	if NewChatID("z", "a") != NewChatID("a", "z") {
		t.Fatal("chat ID should not depend on argument order")
	}
}
