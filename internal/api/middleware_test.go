package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/redis"
	"github.com/lalithlochan/stratus/internal/session"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return redis.Wrap(rdb, zap.NewNop())
}

func TestRateLimitDisabledWithoutRedis(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		rr := env.do(env.alice, http.MethodGet, "/v1/contacts", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
		if rr.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatal("no rate limit headers expected without a limiter")
		}
	}
}

func TestRateLimitPerOrganization(t *testing.T) {
	env := newTestEnv(t)
	env.handler.limiter = redis.NewRateLimiter(newTestRedis(t), zap.NewNop(), redis.RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
	})
	env.router = env.handler.Routes()

	for i := 0; i < 2; i++ {
		rr := env.do(env.alice, http.MethodGet, "/v1/contacts", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
		if got, want := rr.Header().Get("X-RateLimit-Remaining"), strconv.Itoa(1-i); got != want {
			t.Errorf("request %d: remaining %q, want %q", i, got, want)
		}
	}

	// Colleagues share the organization budget.
	rr := env.do(env.bob, http.MethodGet, "/v1/contacts", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
	if secs, err := strconv.Atoi(rr.Header().Get("Retry-After")); err != nil || secs < 1 || secs > 60 {
		t.Errorf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}

	other := env.seedOrg("globex")
	outsider := env.seedUser(other.ID, "owner@globex.test", "admin")
	if rr := env.do(outsider, http.MethodGet, "/v1/contacts", nil); rr.Code != http.StatusOK {
		t.Errorf("other organization should have its own budget, got %d", rr.Code)
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{-time.Second, 1},
		{200 * time.Millisecond, 1},
		{1500 * time.Millisecond, 2},
		{59500 * time.Millisecond, 60},
	}
	for _, tt := range tests {
		if got := retryAfter(time.Now().Add(tt.in)); got != tt.want {
			t.Errorf("retryAfter(+%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIdempotentReplaysCreate(t *testing.T) {
	env := newTestEnv(t)
	env.handler.idempotency = redis.NewReplayCache(newTestRedis(t), zap.NewNop())
	env.router = env.handler.Routes()

	post := func(key string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/v1/contacts", jsonBody(t, map[string]any{"firstName": "Once"}))
		token, err := env.issuer.Issue(session.Session{UserID: env.alice.ID, OrganizationID: env.org.ID, Role: env.alice.Role})
		if err != nil {
			t.Fatalf("issuing token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", key)
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	first := post("create-once")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}

	second := post("create-once")
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("expected replay header")
	}

	a := decodeBody[db.Contact](t, first)
	b := decodeBody[db.Contact](t, second)
	if a.ID != b.ID {
		t.Errorf("replay returned a different contact: %s vs %s", a.ID, b.ID)
	}

	contacts, err := env.store.ListContacts(context.Background(), db.ContactFilter{Scope: readScope(env.alice), Page: db.Page{Limit: 10}})
	if err != nil {
		t.Fatalf("listing contacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Errorf("expected exactly 1 contact, got %d", len(contacts))
	}

	if third := post("another-key"); third.Header().Get("X-Idempotency-Replayed") != "" {
		t.Error("a new key must not replay")
	}
}

func TestIdempotencyKeysArePerUser(t *testing.T) {
	env := newTestEnv(t)
	env.handler.idempotency = redis.NewReplayCache(newTestRedis(t), zap.NewNop())
	env.router = env.handler.Routes()

	post := func(u *db.User) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/v1/contacts", jsonBody(t, map[string]any{"firstName": "Shared"}))
		token, err := env.issuer.Issue(session.Session{UserID: u.ID, OrganizationID: env.org.ID, Role: u.Role})
		if err != nil {
			t.Fatalf("issuing token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "shared-key")
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	first := post(env.alice)
	second := post(env.bob)
	for _, rr := range []*httptest.ResponseRecorder{first, second} {
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
	}
	if second.Header().Get("X-Idempotency-Replayed") != "" {
		t.Error("another user's key must not replay")
	}
	a := decodeBody[db.Contact](t, first)
	b := decodeBody[db.Contact](t, second)
	if a.ID == b.ID {
		t.Error("each user should get their own contact")
	}
	if b.OwnerID != env.bob.ID {
		t.Errorf("expected bob to own the second contact, got %s", b.OwnerID)
	}
}

func TestIdempotentRejectsReusedKey(t *testing.T) {
	env := newTestEnv(t)
	env.handler.idempotency = redis.NewReplayCache(newTestRedis(t), zap.NewNop())
	env.router = env.handler.Routes()

	post := func(firstName string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/v1/contacts", jsonBody(t, map[string]any{"firstName": firstName}))
		token, err := env.issuer.Issue(session.Session{UserID: env.alice.ID, OrganizationID: env.org.ID, Role: env.alice.Role})
		if err != nil {
			t.Fatalf("issuing token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "same-key")
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	if rr := post("Ada"); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := post("Grace"); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a reused key, got %d: %s", rr.Code, rr.Body.String())
	}

	// A failed create frees the key for a corrected retry.
	req := httptest.NewRequest(http.MethodPost, "/v1/contacts", jsonBody(t, map[string]any{"firstName": ""}))
	token, _ := env.issuer.Issue(session.Session{UserID: env.alice.ID, OrganizationID: env.org.ID, Role: env.alice.Role})
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "retry-key")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty name, got %d", rr.Code)
	}
	req = httptest.NewRequest(http.MethodPost, "/v1/contacts", jsonBody(t, map[string]any{"firstName": "Fixed"}))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "retry-key")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("retry after failure: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}
