package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/casedesk/internal/httputil"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleTTL       = 3 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (l *ipLimiter) touch(now time.Time) {
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
}

func (l *ipLimiter) idleSince(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastSeen)
}

// rateLimiterStore manages per-IP token buckets and evicts idle ones.
type rateLimiterStore struct {
	limiters sync.Map
	rps      float64
	burst    int
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	s := &rateLimiterStore{rps: rps, burst: burst}
	go s.sweep()
	return s
}

func (s *rateLimiterStore) getLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if v, ok := s.limiters.Load(ip); ok {
		entry := v.(*ipLimiter)
		entry.touch(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst), lastSeen: now}
	actual, loaded := s.limiters.LoadOrStore(ip, entry)
	if loaded {
		existing := actual.(*ipLimiter)
		existing.touch(now)
		return existing.limiter
	}
	return entry.limiter
}

func (s *rateLimiterStore) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for now := range ticker.C {
		s.limiters.Range(func(key, value any) bool {
			if value.(*ipLimiter).idleSince(now) > limiterIdleTTL {
				s.limiters.Delete(key)
			}
			return true
		})
	}
}

// clientIP uses the connection's remote address. X-Forwarded-For is ignored
// because any client can set it.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func limit(store *rateLimiterStore) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.getLimiter(clientIP(r)).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware enforces a per-IP token bucket: rps sustained requests
// per second with bursts of up to burst.
func RateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	return limit(newRateLimiterStore(rps, burst))
}

// StrictRateLimitMiddleware is RateLimitMiddleware with its own bucket store,
// for endpoints such as login that need limits independent of the API's.
func StrictRateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	return limit(newRateLimiterStore(rps, burst))
}
