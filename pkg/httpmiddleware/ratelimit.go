package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc extracts the rate limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests, e.g. processor webhooks.
	Skip func(*http.Request) bool
	// Store holds the counters. Defaults to an in-process MemoryStore.
	Store RateStore
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateStore counts requests per key. Implementations use the sliding window
// approximation: the previous window's count weighted by its overlap with
// the sliding window, plus the current window's count.
type RateStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// SlidingCount returns the weighted request count at now for a window
// starting at currStart.
func SlidingCount(prev, curr float64, currStart time.Time, window time.Duration, now time.Time) float64 {
	overlap := 1 - now.Sub(currStart).Seconds()/window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	return prev*overlap + curr
}

// Decide turns a weighted count (excluding the request being checked) into
// a Decision.
func Decide(count float64, limit int, resetAt time.Time) Decision {
	if count >= float64(limit) {
		return Decision{ResetAt: resetAt}
	}
	return Decision{
		Allowed:   true,
		Remaining: max(0, int(float64(limit)-count-1)),
		ResetAt:   resetAt,
	}
}

type window struct {
	prev, curr float64
	start      time.Time
}

// MemoryStore keeps counters in process memory. Limits are per instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Take implements RateStore.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, size time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{start: now.Truncate(size)}
		s.windows[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= size {
		w.prev, w.curr = w.curr, 0
		if elapsed >= 2*size {
			w.prev = 0
		}
		w.start = now.Truncate(size)
	}

	d := Decide(SlidingCount(w.prev, w.curr, w.start, size, now), limit, w.start.Add(size))
	if d.Allowed {
		w.curr++
	}
	return d, nil
}

// Evict drops keys idle for two windows.
func (s *MemoryStore) Evict(size time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if now.Sub(w.start) >= 2*size {
			delete(s.windows, key)
		}
	}
}

// RateLimit enforces cfg. Rejected requests get 429 with Retry-After and the
// API error body. Store failures let the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			d, err := cfg.Store.Take(r.Context(), cfg.KeyFunc(r), cfg.Max, cfg.Window, time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retry := max(0, time.Until(d.ResetAt))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":      http.StatusTooManyRequests,
				"kind":      "RateLimited",
				"message":   "rate limit exceeded",
				"retryable": true,
			})
		})
	}
}

// RateLimitWithCleanup is RateLimit with a MemoryStore evicted every two
// windows until ctx ends. A configured Store is used as is.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Store == nil {
		mem := NewMemoryStore()
		cfg.Store = mem
		go func() {
			ticker := time.NewTicker(2 * cfg.Window)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					mem.Evict(cfg.Window, now)
				}
			}
		}()
	}
	return RateLimit(cfg)
}

// ClientIP keys requests by the first X-Forwarded-For hop, then X-Real-IP,
// then the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
