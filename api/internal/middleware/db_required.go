package middleware

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/shared/httpx"
)

// DBRequiredMiddleware short-circuits API routes when the database pool never
// came up, leaving health and metrics endpoints reachable via Skip.
type DBRequiredMiddleware struct {
	Pool *pgxpool.Pool
	Skip func(*http.Request) bool
}

func (m DBRequiredMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Pool == nil && (m.Skip == nil || !m.Skip(r)) {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "database not configured", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
