package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-Tenant-Slug"}
)

// CORSMiddleware answers preflight requests and stamps allow headers on
// cross-origin responses. Empty AllowedOrigins permits every origin.
type CORSMiddleware struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
	Skip             func(*http.Request) bool
}

func (m CORSMiddleware) Wrap(next http.Handler) http.Handler {
	methods := strings.Join(fallback(m.AllowedMethods, defaultCORSMethods), ", ")
	headers := strings.Join(fallback(m.AllowedHeaders, defaultCORSHeaders), ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if origin := m.allowOrigin(strings.TrimSpace(r.Header.Get("Origin"))); origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if m.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if isPreflight(r) {
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			if m.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(maxAgeSeconds(m.MaxAge)))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// allowOrigin returns the Access-Control-Allow-Origin value, or "" when the
// origin is not permitted. With credentials the wildcard is echoed back as the
// concrete origin because browsers reject "*" on credentialed requests.
func (m CORSMiddleware) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if len(m.AllowedOrigins) == 0 {
		return m.wildcard(origin)
	}
	for _, allowed := range m.AllowedOrigins {
		switch allowed = strings.TrimSpace(allowed); {
		case allowed == "":
		case allowed == "*":
			return m.wildcard(origin)
		case strings.EqualFold(allowed, origin):
			return origin
		}
	}
	return ""
}

func (m CORSMiddleware) wildcard(origin string) string {
	if m.AllowCredentials {
		return origin
	}
	return "*"
}

func fallback(values []string, def []string) []string {
	if len(values) > 0 {
		return values
	}
	return def
}

func maxAgeSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}
