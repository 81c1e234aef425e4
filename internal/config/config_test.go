package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StaleAfter != time.Hour {
		t.Fatalf("expected stale-after 1h, got %s", cfg.StaleAfter)
	}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Fatal("expected development mode")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadLists(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1,192.168.0.0/16")
	t.Setenv("CLERK_AUTHORIZED_PARTIES", "https://app.example.com")
	t.Setenv("PRESENCE_STALE_AFTER", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.RateLimitWhitelist) != 2 {
		t.Fatalf("expected 2 whitelist entries, got %v", cfg.RateLimitWhitelist)
	}
	if cfg.ClerkAuthorizedParties[0] != "https://app.example.com" {
		t.Fatalf("unexpected parties %v", cfg.ClerkAuthorizedParties)
	}
	if cfg.StaleAfter != 30*time.Minute {
		t.Fatalf("expected 30m, got %s", cfg.StaleAfter)
	}
}

func TestProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CLERK_JWT_KEY", "")
	t.Setenv("CLERK_WEBHOOK_SIGNING_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing production secrets")
	}

	t.Setenv("CLERK_JWT_KEY", "pem")
	t.Setenv("CLERK_WEBHOOK_SIGNING_SECRET", "whsec_abc")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsProduction() {
		t.Fatal("expected production mode")
	}
}

func TestPusherEnabled(t *testing.T) {
	cfg := &Config{PusherAppID: "1", PusherKey: "k"}
	if cfg.PusherEnabled() {
		t.Fatal("pusher should need a secret")
	}
	cfg.PusherSecret = "s"
	if !cfg.PusherEnabled() {
		t.Fatal("pusher should be enabled")
	}
}
