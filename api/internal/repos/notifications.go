package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
)

// NotificationsRepo is the consumer-side log of delivered domain events.
type NotificationsRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationsRepo(pool *pgxpool.Pool) *NotificationsRepo {
	return &NotificationsRepo{pool: pool}
}

func (r *NotificationsRepo) Insert(ctx context.Context, n models.NotificationEntry) (models.NotificationEntry, error) {
	if n.NotificationID == uuid.Nil {
		n.NotificationID = uuid.New()
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notification_log (
			notification_id, tenant_id, topic, event_type, aggregate_id, message, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (notification_id) DO NOTHING
		RETURNING notification_id, tenant_id, topic, event_type, aggregate_id, message, payload, occurred_at, created_at
	`, n.NotificationID, n.TenantID, n.Topic, n.EventType, n.AggregateID, n.Message, n.Payload, n.OccurredAt).Scan(
		&n.NotificationID, &n.TenantID, &n.Topic, &n.EventType, &n.AggregateID, &n.Message, &n.Payload, &n.OccurredAt, &n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Redelivered event; the first insert won.
		return n, nil
	}
	return n, err
}

func (r *NotificationsRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, eventType string, limit int, offset int) ([]models.NotificationEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT notification_id, tenant_id, topic, event_type, aggregate_id, message, payload, occurred_at, created_at
		FROM notification_log
		WHERE tenant_id = $1 AND ($2 = '' OR event_type = $2)
		ORDER BY occurred_at DESC
		LIMIT $3 OFFSET $4
	`, tenantID, eventType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.NotificationEntry, 0, 16)
	for rows.Next() {
		var n models.NotificationEntry
		if err := rows.Scan(&n.NotificationID, &n.TenantID, &n.Topic, &n.EventType, &n.AggregateID, &n.Message, &n.Payload, &n.OccurredAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
