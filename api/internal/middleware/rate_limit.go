package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"predictive-maintenance-engine/shared/httpx"
)

// RateLimitMiddleware rejects requests from clients that exceed their token
// budget. A nil Limiter disables limiting.
type RateLimitMiddleware struct {
	Limiter *IPRateLimiter
	Skip    func(*http.Request) bool
}

func (m RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) || m.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !m.Limiter.Allow(clientAddr(r)) {
			httpx.WriteError(w, r, http.StatusTooManyRequests, "FAILED_PRECONDITION", "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPRateLimiter keeps one token bucket per client key. Buckets idle past the
// TTL are dropped during the periodic sweep so the map stays bounded.
type IPRateLimiter struct {
	rps   float64
	burst float64
	ttl   time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	tokens  float64
	touched time.Time
}

func NewIPRateLimiter(rps float64, burst int, ttl time.Duration) *IPRateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &IPRateLimiter{
		rps:     rps,
		burst:   float64(burst),
		ttl:     ttl,
		buckets: make(map[string]*bucket),
	}
}

func (l *IPRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	return l.allowAt(key, time.Now())
}

func (l *IPRateLimiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, touched: now}
		return true
	}

	b.tokens = min(l.burst, b.tokens+now.Sub(b.touched).Seconds()*l.rps)
	b.touched = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *IPRateLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.touched) > l.ttl {
			delete(l.buckets, key)
		}
	}
	l.nextSweep = now.Add(l.ttl)
}

// clientAddr prefers proxy-forwarded addresses over the raw peer address.
func clientAddr(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
