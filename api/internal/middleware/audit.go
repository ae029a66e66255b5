package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/shared/authx"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/logx"
	"predictive-maintenance-engine/shared/tenantx"
)

// auditedResources are the path roots whose reads are also logged; writes are
// logged for every resource.
var auditedResources = map[string]bool{
	"schedules":   true,
	"predictions": true,
	"readings":    false,
	"models":      false,
	"assets":      false,
}

// AuditMiddleware records mutating and security-relevant requests to the
// audit trail. Writes happen off the request path; a failed write is logged
// and never affects the response.
type AuditMiddleware struct {
	Enabled bool
	Repo    *repos.AuditRepo
	Logger  logx.Logger
	Skip    func(*http.Request) bool
	Timeout time.Duration
}

func (m AuditMiddleware) Wrap(next http.Handler) http.Handler {
	if !m.Enabled || m.Repo == nil {
		return next
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		tenantUUID, ok := auditTenant(r)
		if !ok || !shouldAudit(r, rec.status) {
			return
		}

		entry := buildAuditEntry(r, tenantUUID, rec.status, time.Since(start))
		go m.write(entry, timeout)
	})
}

func (m AuditMiddleware) write(entry models.AuditLog, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.Repo.WriteAuditLog(ctx, []models.AuditLog{entry}); err != nil {
		m.Logger.Warn(context.Background(), "audit_write_failed", "audit write failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
}

func buildAuditEntry(r *http.Request, tenantID uuid.UUID, status int, elapsed time.Duration) models.AuditLog {
	resourceType, resourceID := resourceFromPath(r.URL.Path)
	entry := models.AuditLog{
		OccurredAt:   time.Now().UTC(),
		TenantID:     tenantID,
		Action:       actionForRequest(r, status),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    httpx.RequestIDFromContext(r.Context()),
		Method:       r.Method,
		Path:         r.URL.Path,
		StatusCode:   status,
		DurationMS:   elapsed.Milliseconds(),
		ClientIP:     clientAddr(r),
		UserAgent:    strings.TrimSpace(r.UserAgent()),
		Details:      auditDetails(status),
	}
	if auth, ok := authx.FromContext(r.Context()); ok {
		entry.Subject = auth.Subject
	}
	return entry
}

// auditTenant recovers the tenant even when the tenant middleware rejected
// the request, so failed attempts are still attributable via the raw header.
func auditTenant(r *http.Request) (uuid.UUID, bool) {
	raw := tenantx.TenantIDFromContext(r.Context())
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	}
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func shouldAudit(r *http.Request, status int) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	resource, _ := resourceFromPath(r.URL.Path)
	return resource != nil && auditedResources[*resource]
}

func actionForRequest(r *http.Request, status int) string {
	if status == http.StatusUnauthorized {
		return "auth_failed"
	}
	switch r.Method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func auditDetails(status int) []byte {
	b, err := json.Marshal(map[string]any{"status_code": status})
	if err != nil {
		return nil
	}
	return b
}

// resourceFromPath extracts the resource and optional id from an
// /api/v1/{resource}/{id} path. Unknown resources yield nil.
func resourceFromPath(path string) (*string, *string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "v1" {
		return nil, nil
	}
	resource := parts[2]
	if _, known := auditedResources[resource]; !known {
		return nil, nil
	}
	var id *string
	if len(parts) >= 4 {
		if val := strings.TrimSpace(parts[3]); val != "" {
			id = &val
		}
	}
	return &resource, id
}
