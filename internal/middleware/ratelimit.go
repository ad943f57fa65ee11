package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type counter struct {
	count    int
	windowAt time.Time
}

// RateLimiter ограничивает количество запросов с одного адреса за окно.
// Счётчики живут только в пределах окна и вычищаются при его смене.
type RateLimiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	limit    int
	window   time.Duration
}

// NewRateLimiter создаёт ограничитель: limit запросов за window с одного адреса.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		counters: make(map[string]*counter),
		limit:    limit,
		window:   window,
	}
	return rl
}

// Middleware отклоняет запросы сверх лимита со статусом 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.allow(key) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.counters[key]
	if !ok || now.Sub(c.windowAt) >= rl.window {
		rl.counters[key] = &counter{count: 1, windowAt: now}
		rl.cleanupLocked(now)
		return true
	}

	if c.count >= rl.limit {
		return false
	}

	c.count++
	return true
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for key, c := range rl.counters {
		if now.Sub(c.windowAt) >= rl.window {
			delete(rl.counters, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
