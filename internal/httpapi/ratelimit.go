package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/erauner12/tablebridge/internal/auth"
)

// RateLimitInfo configures one limiter: MaxRequests per WindowSeconds
// with bursts up to Burst.
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"`
	MaxRequests   int `json:"maxRequests"`
	Burst         int `json:"burst"`
}

// TriggerRateLimit paces manual runs. A run moves whole tables, so the
// budget is deliberately tight: three back to back, then one every
// five seconds.
var TriggerRateLimit = RateLimitInfo{
	WindowSeconds: 60,
	MaxRequests:   12,
	Burst:         3,
}

// userLimiter pairs the bucket with its last use for idle pruning
type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-user token buckets. In-memory: each instance
// of the server enforces its own budget.
type RateLimiter struct {
	mu     sync.Mutex
	users  map[string]*userLimiter
	limit  rate.Limit
	burst  int
	config RateLimitInfo
}

// NewRateLimiter creates a rate limiter with the given configuration
func NewRateLimiter(config RateLimitInfo) *RateLimiter {
	rl := &RateLimiter{
		users:  make(map[string]*userLimiter),
		limit:  rate.Limit(float64(config.MaxRequests) / float64(config.WindowSeconds)),
		burst:  config.Burst,
		config: config,
	}
	go rl.cleanupLoop()
	return rl
}

// getLimiter retrieves or creates the user's bucket
func (rl *RateLimiter) getLimiter(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.users[userID]
	if !ok {
		u = &userLimiter{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.users[userID] = u
	}
	u.lastSeen = time.Now()
	return u.lim
}

// cleanupLoop prunes buckets idle for over an hour so the map doesn't
// grow with every user that ever triggered a run
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for userID, u := range rl.users {
			if time.Since(u.lastSeen) > time.Hour {
				delete(rl.users, userID)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the budget per authenticated user. Routes mounted
// with the same RateLimiter share one budget.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == "" {
			// Unauthenticated requests never reach a budgeted route;
			// auth rejects them first.
			next.ServeHTTP(w, r)
			return
		}

		lim := rl.getLimiter(userID)
		allowed := lim.Allow()
		remaining := int(lim.Tokens())
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.MaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Burst", strconv.Itoa(rl.config.Burst))

		if !allowed {
			// Peek at the wait for one token without consuming it
			res := lim.Reserve()
			delay := res.Delay()
			res.Cancel()

			retryAfter := int(math.Ceil(delay.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			log.Ctx(r.Context()).Warn().
				Str("userId", userID).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")

			writeError(w, r, http.StatusTooManyRequests,
				"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
