package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, zerolog.Nop(), cfg)
}

func TestFindLimitPrefersLongestPattern(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/friends/add", nil)
	pattern, limit := rl.findLimit(req)
	if pattern != "POST /api/friends/add" || limit.Requests != 20 {
		t.Fatalf("unexpected match %q %+v", pattern, limit)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/servers/abc/rename", nil)
	pattern, _ = rl.findLimit(req)
	if pattern != "POST /api/servers/" {
		t.Fatalf("unexpected match %q", pattern)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	if _, limit := rl.findLimit(req); limit != nil {
		t.Fatal("health should not be limited")
	}
}

func TestRateLimitExceeded(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var last int
	for i := 0; i < 21; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/friends/add", nil)
		req.Header.Set("Authorization", "Bearer token-a")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 20 requests, got %d", last)
	}

	// A different session has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/api/friends/add", nil)
	req.Header.Set("Authorization", "Bearer token-b")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected other session allowed, got %d", rec.Code)
	}
}

func TestWhitelist(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{Whitelist: []string{"10.0.0.1", "192.168.0.0/16"}})

	if !rl.isWhitelisted("10.0.0.1") || !rl.isWhitelisted("192.168.4.20") {
		t.Fatal("expected whitelisted")
	}
	if rl.isWhitelisted("8.8.8.8") {
		t.Fatal("unexpected whitelist match")
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if TokenFromRequest(req) != "" {
		t.Fatal("expected empty token")
	}
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-token"})
	if TokenFromRequest(req) != "cookie-token" {
		t.Fatal("expected cookie token")
	}
	req.Header.Set("Authorization", "Bearer header-token")
	if TokenFromRequest(req) != "header-token" {
		t.Fatal("header should win over cookie")
	}
}
