package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

type fakeWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{counts: make(map[string]int64)}
}

func (f *fakeWindowStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, 0, f.err
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func callerRequest(role enums.Role, base, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers", nil)
	req.RemoteAddr = remote
	return req.WithContext(WithCaller(req.Context(), authz.Caller{Role: role, HomeBase: base}))
}

func TestRateLimitLocalBucket(t *testing.T) {
	limiter := NewRateLimiter(RateLimitPolicy{RequestsPerSecond: 0.001, Burst: 2}, nil, nil)
	handler := limiter.Handler(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, callerRequest(enums.RoleLogistics, "Base Alpha", "10.0.0.1:1234"))
		switch {
		case i < 2 && rec.Code != http.StatusOK:
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		case i == 2:
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			var payload struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
				t.Fatalf("unexpected code: %s", payload.Error.Code)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, callerRequest(enums.RoleLogistics, "Base Bravo", "10.0.0.1:1234"))
	if rec.Code != http.StatusOK {
		t.Fatalf("other caller should have its own bucket, got %d", rec.Code)
	}
}

func TestRateLimitSharedWindow(t *testing.T) {
	store := newFakeWindowStore()
	handler := NewRateLimiter(RateLimitPolicy{RequestsPerSecond: 5, Burst: 1}, store, nil).Handler(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, callerRequest(enums.RoleAdmin, "", "10.0.0.2:1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, callerRequest(enums.RoleAdmin, "", "10.0.0.2:1"))

	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %d then %d", first.Code, second.Code)
	}
}

func TestRateLimitStoreFailure(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	handler := NewRateLimiter(RateLimitPolicy{RequestsPerSecond: 5, Burst: 5}, store, nil).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, callerRequest(enums.RoleAdmin, "", "10.0.0.3:1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimitDisabledPolicy(t *testing.T) {
	handler := NewRateLimiter(RateLimitPolicy{}, nil, nil).Handler(okHandler())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, callerRequest(enums.RoleAdmin, "", "10.0.0.4:1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected forwarded ip, got %q", got)
	}
}
