package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

// Outbox event lifecycle. Pending rows are claimed by the relay worker,
// delivered rows are terminal, dead rows exhausted their retry budget.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusSending   = "sending"
	OutboxStatusDelivered = "delivered"
	OutboxStatusDead      = "dead"
)

type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

const outboxColumns = `
	event_id, tenant_id, aggregate_type, aggregate_id, topic, payload, status,
	attempts, next_retry_at, locked_at, locked_by, last_error, created_at,
	updated_at, published_at`

func scanOutboxEvent(row pgx.Row) (models.OutboxEvent, error) {
	var e models.OutboxEvent
	err := row.Scan(
		&e.EventID, &e.TenantID, &e.AggregateType, &e.AggregateID, &e.Topic, &e.Payload, &e.Status,
		&e.Attempts, &e.NextRetryAt, &e.LockedAt, &e.LockedBy, &e.LastError, &e.CreatedAt,
		&e.UpdatedAt, &e.PublishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, apperr.NotFound("outbox event")
	}
	return e, err
}

// Insert writes an event row. db is the pool for fire-and-forget recording or
// an open transaction when the event must commit with its aggregate.
func (r *OutboxRepo) Insert(ctx context.Context, db DBTX, event models.OutboxEvent) (models.OutboxEvent, error) {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}

	row := db.QueryRow(ctx, `
		INSERT INTO outbox_events (
			event_id, tenant_id, aggregate_type, aggregate_id, topic, payload, status,
			attempts, next_retry_at, locked_at, locked_by, last_error, created_at,
			updated_at, published_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING`+outboxColumns,
		event.EventID, event.TenantID, event.AggregateType, event.AggregateID, event.Topic, event.Payload, event.Status,
		event.Attempts, event.NextRetryAt, event.LockedAt, event.LockedBy, event.LastError, event.CreatedAt,
		event.UpdatedAt, event.PublishedAt,
	)
	return scanOutboxEvent(row)
}

// ClaimPending atomically moves up to limit ripe pending events to sending
// and stamps the claiming owner. SKIP LOCKED keeps concurrent relay workers
// from claiming the same rows.
func (r *OutboxRepo) ClaimPending(ctx context.Context, owner string, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		WITH claimed AS (
			SELECT event_id
			FROM outbox_events
			WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE outbox_events o
		SET status = $3, locked_at = now(), locked_by = $4, updated_at = now()
		FROM claimed c
		WHERE o.event_id = c.event_id
		RETURNING o.event_id, o.tenant_id, o.aggregate_type, o.aggregate_id, o.topic, o.payload, o.status,
			o.attempts, o.next_retry_at, o.locked_at, o.locked_by, o.last_error, o.created_at,
			o.updated_at, o.published_at
	`, OutboxStatusPending, limit, OutboxStatusSending, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]models.OutboxEvent, 0, limit)
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *OutboxRepo) GetByID(ctx context.Context, eventID uuid.UUID) (models.OutboxEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+outboxColumns+`
		FROM outbox_events
		WHERE event_id = $1
	`, eventID)
	return scanOutboxEvent(row)
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, published_at = now(), updated_at = now()
		WHERE event_id = $1
	`, eventID, OutboxStatusDelivered)
	return err
}

// MarkFailed returns the event to pending for a later retry, or parks it as
// dead when the attempt budget is spent.
func (r *OutboxRepo) MarkFailed(ctx context.Context, eventID uuid.UUID, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error {
	status := OutboxStatusPending
	if dead {
		status = OutboxStatusDead
		nextRetryAt = nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = $3, next_retry_at = $4, last_error = $5, updated_at = now()
		WHERE event_id = $1
	`, eventID, status, attempts, nextRetryAt, lastErr)
	return err
}
