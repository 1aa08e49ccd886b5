package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

type attempt struct {
	count      int
	windowEnds time.Time
}

// IPRateLimiter is a fixed-window limiter keyed by client IP.
type IPRateLimiter struct {
	inner *keyedRateLimiter
}

// OwnerRateLimiter is a fixed-window limiter keyed by the authenticated
// owner. Requests without an actor fall back to the client IP.
type OwnerRateLimiter struct {
	inner *keyedRateLimiter
}

type keyedRateLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	now        func() time.Time
	attempts   map[string]attempt
}

// NewIPRateLimiterWithMaxEntries bounds the number of tracked clients.
func NewIPRateLimiterWithMaxEntries(limit int, window time.Duration, maxEntries int) *IPRateLimiter {
	return &IPRateLimiter{inner: newKeyedRateLimiter(limit, window, maxEntries)}
}

func NewOwnerRateLimiter(limit int, window time.Duration, maxEntries int) *OwnerRateLimiter {
	return &OwnerRateLimiter{inner: newKeyedRateLimiter(limit, window, maxEntries)}
}

func newKeyedRateLimiter(limit int, window time.Duration, maxEntries int) *keyedRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &keyedRateLimiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
		attempts:   map[string]attempt{},
	}
}

func (rl *IPRateLimiter) Middleware(message string) func(http.Handler) http.Handler {
	return rl.inner.middleware(message, func(r *http.Request) string {
		return clientIP(r.RemoteAddr)
	})
}

func (rl *OwnerRateLimiter) Middleware(message string) func(http.Handler) http.Handler {
	return rl.inner.middleware(message, func(r *http.Request) string {
		if actor, ok := ActorFromContext(r.Context()); ok {
			return "owner:" + actor.OwnerID.String()
		}
		return "ip:" + clientIP(r.RemoteAddr)
	})
}

func (rl *keyedRateLimiter) middleware(message string, keyOf func(*http.Request) string) func(http.Handler) http.Handler {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyOf(r)
			if key == "" {
				key = "unknown"
			}
			if !rl.allow(key) {
				w.Header().Set("Retry-After", "60")
				writeError(w, r, http.StatusTooManyRequests, codeRateLimited, message, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *keyedRateLimiter) allow(key string) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, tracked := rl.attempts[key]
	if !tracked && len(rl.attempts) >= rl.maxEntries {
		rl.evictExpired(now)
		if len(rl.attempts) >= rl.maxEntries {
			return false
		}
	}
	if entry.windowEnds.Before(now) {
		entry = attempt{windowEnds: now.Add(rl.window)}
	}
	entry.count++
	rl.attempts[key] = entry
	return entry.count <= rl.limit
}

func (rl *keyedRateLimiter) evictExpired(now time.Time) {
	for key, entry := range rl.attempts {
		if entry.windowEnds.Before(now) {
			delete(rl.attempts, key)
		}
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
