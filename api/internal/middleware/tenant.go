package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/shared/authx"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/tenantx"
)

// TenantMiddleware resolves the request tenant from the X-Tenant-ID and
// X-Tenant-Slug headers, cross-checks it against token claims, and installs
// the result on the context. Every API handler downstream assumes a tenant.
type TenantMiddleware struct {
	Tenants *repos.TenantsRepo
	Skip    func(*http.Request) bool
}

func (m TenantMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		tenant, status, code, msg := m.resolve(r)
		if status != 0 {
			httpx.WriteError(w, r, status, code, msg, nil)
			return
		}

		if auth, ok := authx.FromContext(r.Context()); ok {
			if err := validateTenantClaims(auth.Claims, tenant.ID); err != nil {
				httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(tenantx.WithTenant(r.Context(), tenant)))
	})
}

// resolve maps the tenant headers to a TenantContext. A non-zero status means
// resolution failed and the triple describes the error response.
func (m TenantMiddleware) resolve(r *http.Request) (tenant tenantx.TenantContext, status int, code string, msg string) {
	id := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	slug := strings.TrimSpace(r.Header.Get("X-Tenant-Slug"))
	if id == "" && slug == "" {
		return tenant, http.StatusBadRequest, "INVALID_ARGUMENT", "missing tenant header"
	}

	if slug != "" {
		if m.Tenants == nil {
			return tenant, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "tenant repository not configured"
		}
		record, err := m.Tenants.GetTenantBySlug(r.Context(), slug)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return tenant, http.StatusNotFound, "NOT_FOUND", "tenant not found"
		case err != nil:
			return tenant, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to resolve tenant"
		}
		if id != "" && id != record.TenantID.String() {
			return tenant, http.StatusForbidden, "FORBIDDEN", "tenant mismatch"
		}
		return tenantx.TenantContext{ID: record.TenantID.String(), Slug: record.Slug}, 0, "", ""
	}

	return tenantx.TenantContext{ID: id}, 0, "", ""
}

// validateTenantClaims rejects tokens whose tenant_id claim names a different
// tenant, or whose tenants claim lists tenants that do not include this one.
// Tokens carrying neither claim pass.
func validateTenantClaims(claims map[string]any, tenantID string) error {
	if claims == nil || tenantID == "" {
		return nil
	}

	if claimed := strings.TrimSpace(fmt.Sprint(valueOr(claims, "tenant_id", ""))); claimed != "" && claimed != tenantID {
		return errors.New("tenant claim mismatch")
	}

	if v, ok := claims["tenants"]; ok {
		allowed := claimStrings(v)
		if len(allowed) > 0 && !contains(allowed, tenantID) {
			return errors.New("tenant not allowed")
		}
	}
	return nil
}

func valueOr(claims map[string]any, key string, def any) any {
	if v, ok := claims[key]; ok && v != nil {
		return v
	}
	return def
}

// claimStrings flattens a claim value into trimmed non-empty strings. Lists
// arrive as []string or []any depending on the token library; a plain string
// is treated as space-separated.
func claimStrings(v any) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch t := v.(type) {
	case []string:
		for _, item := range t {
			add(item)
		}
	case []any:
		for _, item := range t {
			add(fmt.Sprint(item))
		}
	case string:
		for _, item := range strings.Fields(t) {
			add(item)
		}
	default:
		add(fmt.Sprint(t))
	}
	return out
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
