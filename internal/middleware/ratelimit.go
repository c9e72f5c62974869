package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tidb-datatables/internal/observability"
)

// RateLimitConfig configures request rate limiting.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
	// PerClient keys a separate bucket on each client address instead of
	// sharing one bucket across all requests.
	PerClient bool
	// ClientTTL evicts per-client buckets idle for longer than this.
	ClientTTL time.Duration
	Metrics   *observability.TrafficMetrics
}

const defaultClientTTL = 15 * time.Minute

// RateLimitMiddleware rejects requests beyond the configured rate with 429.
// A non-positive RPS or burst leaves requests unlimited.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiters := newLimiterSet(rate.Limit(cfg.RPS), cfg.Burst, cfg.ClientTTL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if cfg.PerClient {
				key = clientAddr(r)
			}

			if !limiters.get(key).Allow() {
				cfg.Metrics.RecordRateLimited(r.Context(), r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one limiter per key and sweeps idle keys lazily.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterSet(limit rate.Limit, burst int, ttl time.Duration) *limiterSet {
	if ttl <= 0 {
		ttl = defaultClientTTL
	}
	return &limiterSet{
		limit:     limit,
		burst:     burst,
		ttl:       ttl,
		entries:   make(map[string]*limiterEntry),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.ttl {
		for k, entry := range s.entries {
			if now.Sub(entry.lastSeen) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.lastSweep = now
	}

	entry, ok := s.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
