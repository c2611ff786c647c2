package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/armory-ledger/api/responses"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

const maxTrackedLimiters = 10000

// windowStore is a fixed-window counter shared by every replica.
type windowStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy defines the per-client throttle.
type RateLimitPolicy struct {
	RequestsPerSecond float64
	Burst             int
}

func (p RateLimitPolicy) enabled() bool {
	return p.RequestsPerSecond > 0 && p.Burst > 0
}

// RateLimiter throttles requests per client. With a shared store it counts in a
// one-second fixed window across replicas; otherwise each process keeps a token
// bucket per client.
type RateLimiter struct {
	policy RateLimitPolicy
	store  windowStore
	logg   *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter. store may be nil.
func NewRateLimiter(policy RateLimitPolicy, store windowStore, logg *logger.Logger) *RateLimiter {
	return &RateLimiter{
		policy:   policy,
		store:    store,
		logg:     logg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handler returns the rate limiting middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	if rl == nil || !rl.policy.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := clientKey(r)

		allowed, err := rl.allow(ctx, key)
		if err != nil {
			responses.WriteError(ctx, rl.logg, w, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "rate limiting"))
			return
		}
		if !allowed {
			if rl.logg != nil {
				logCtx := rl.logg.WithFields(ctx, map[string]any{
					"client": key,
					"rps":    rl.policy.RequestsPerSecond,
					"burst":  rl.policy.Burst,
				})
				rl.logg.Warn(logCtx, "rate_limit.blocked")
			}
			w.Header().Set("Retry-After", "1")
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	if rl.store != nil {
		allowed, _, err := rl.store.FixedWindowAllow(ctx, key, int64(rl.policy.Burst), time.Second)
		return allowed, err
	}
	return rl.limiter(key).Allow(), nil
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxTrackedLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rate.Limit(rl.policy.RequestsPerSecond), rl.policy.Burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// clientKey identifies the caller by role and base when known, and by address
// otherwise.
func clientKey(r *http.Request) string {
	ip := clientIP(r)
	if caller, ok := CallerFromContext(r.Context()); ok {
		return fmt.Sprintf("%s:%s:%s", caller.Role, strings.ToLower(caller.HomeBase), ip)
	}
	return ip
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
