package middleware

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiterBurstThenRefill(t *testing.T) {
	l := NewIPRateLimiter(1, 2, time.Minute)
	now := time.Now()

	if !l.allowAt("10.0.0.1", now) {
		t.Fatalf("first request should pass")
	}
	if !l.allowAt("10.0.0.1", now) {
		t.Fatalf("second request should pass within burst")
	}
	if l.allowAt("10.0.0.1", now) {
		t.Fatalf("third request should be rejected with burst exhausted")
	}
	if !l.allowAt("10.0.0.1", now.Add(time.Second)) {
		t.Fatalf("request should pass after one token refills")
	}
}

func TestIPRateLimiterKeysAreIndependent(t *testing.T) {
	l := NewIPRateLimiter(1, 1, time.Minute)
	now := time.Now()

	if !l.allowAt("10.0.0.1", now) {
		t.Fatalf("first key should pass")
	}
	if l.allowAt("10.0.0.1", now) {
		t.Fatalf("first key should be exhausted")
	}
	if !l.allowAt("10.0.0.2", now) {
		t.Fatalf("second key should have its own bucket")
	}
}

func TestIPRateLimiterSweepDropsIdleBuckets(t *testing.T) {
	l := NewIPRateLimiter(1, 1, time.Minute)
	now := time.Now()

	l.allowAt("10.0.0.1", now)
	l.allowAt("10.0.0.2", now.Add(2*time.Minute))
	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Fatalf("idle bucket should have been swept")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Fatalf("active bucket should survive the sweep")
	}
}

func TestClientAddrPrefersForwardedHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/schedules", nil)
	r.RemoteAddr = "192.0.2.9:4412"

	if got := clientAddr(r); got != "192.0.2.9" {
		t.Fatalf("expected remote addr host, got %q", got)
	}

	r.Header.Set("X-Real-IP", "203.0.113.7")
	if got := clientAddr(r); got != "203.0.113.7" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.7")
	if got := clientAddr(r); got != "198.51.100.4" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
