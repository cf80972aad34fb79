package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/log"

	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterStaleThreshold  = 10 * time.Minute
)

// rateLimiter implements per-user rate limiting using golang.org/x/time/rate.
// Cleanup of stale entries happens inline during allow() calls.
type rateLimiter struct {
	mu          sync.Mutex
	users       map[string]*userBucket
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a per-user limiter allowing perMinute requests per
// minute, with a burst of the same size.
func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		users:       make(map[string]*userBucket),
		limit:       rate.Limit(float64(perMinute) / 60.0),
		burst:       perMinute,
		lastCleanup: time.Now(),
	}
}

// allow checks if a request from the given user is allowed.
func (rl *rateLimiter) allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	if now.Sub(rl.lastCleanup) > rateLimiterCleanupInterval {
		for k, u := range rl.users {
			if now.Sub(u.lastSeen) > rateLimiterStaleThreshold {
				delete(rl.users, k)
			}
		}
		rl.lastCleanup = now
	}

	u, exists := rl.users[userID]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.users[userID] = &userBucket{limiter: limiter, lastSeen: now}
		limiter.Allow()
		return true
	}

	u.lastSeen = now
	return u.limiter.Allow()
}

// rateLimitMiddleware limits generation requests per user. It runs after
// userMiddleware, so the identity is always in context.
func rateLimitMiddleware(rl *rateLimiter, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := userIDFromContext(r.Context())
			if !rl.allow(userID) {
				logger.Warn("rate limit exceeded",
					"user", userID,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
