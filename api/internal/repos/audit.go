package repos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

var auditLogColumns = []string{
	"occurred_at", "tenant_id", "actor_user_id", "subject", "action",
	"resource_type", "resource_id", "request_id", "method", "path",
	"status_code", "duration_ms", "client_ip", "user_agent", "details",
}

// WriteAuditLog bulk-inserts entries via the COPY protocol. Entries without a
// timestamp are stamped at write time.
func (r *AuditRepo) WriteAuditLog(ctx context.Context, entries []models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"audit_logs"},
		auditLogColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			entry := entries[i]
			if entry.OccurredAt.IsZero() {
				entry.OccurredAt = now
			}
			return []any{
				entry.OccurredAt,
				entry.TenantID,
				entry.ActorUserID,
				nullIfEmpty(entry.Subject),
				entry.Action,
				entry.ResourceType,
				entry.ResourceID,
				nullIfEmpty(entry.RequestID),
				nullIfEmpty(entry.Method),
				nullIfEmpty(entry.Path),
				entry.StatusCode,
				entry.DurationMS,
				nullIfEmpty(entry.ClientIP),
				nullIfEmpty(entry.UserAgent),
				entry.Details,
			}, nil
		}),
	)
	return err
}
