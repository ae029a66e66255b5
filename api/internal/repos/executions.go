package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

type ExecutionsRepo struct {
	pool *pgxpool.Pool
}

func NewExecutionsRepo(pool *pgxpool.Pool) *ExecutionsRepo {
	return &ExecutionsRepo{pool: pool}
}

const executionColumns = `
	execution_id, tenant_id, schedule_id, asset_id, work_order_ref,
	trigger_reason, scheduled_at, completed_at, status, days_overdue,
	details, created_at, updated_at`

func scanExecution(row pgx.Row) (models.ExecutionRecord, error) {
	var e models.ExecutionRecord
	err := row.Scan(
		&e.ExecutionID, &e.TenantID, &e.ScheduleID, &e.AssetID, &e.WorkOrderRef,
		&e.TriggerReason, &e.ScheduledAt, &e.CompletedAt, &e.Status, &e.DaysOverdue,
		&e.Details, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, apperr.NotFound("execution")
	}
	return e, err
}

// Insert creates an execution. The unique index on (tenant_id, schedule_id,
// trigger_reason, scheduled_at) makes re-running the time sweep idempotent;
// a duplicate maps to a conflict.
func (r *ExecutionsRepo) Insert(ctx context.Context, e models.ExecutionRecord) (models.ExecutionRecord, error) {
	if e.ExecutionID == uuid.Nil {
		e.ExecutionID = uuid.New()
	}
	if e.Status == "" {
		e.Status = models.ExecutionStatusGenerated
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO schedule_executions (
			execution_id, tenant_id, schedule_id, asset_id, work_order_ref,
			trigger_reason, scheduled_at, status, days_overdue, details
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING`+executionColumns,
		e.ExecutionID, e.TenantID, e.ScheduleID, e.AssetID, e.WorkOrderRef,
		e.TriggerReason, e.ScheduledAt, e.Status, e.DaysOverdue, e.Details,
	)
	inserted, err := scanExecution(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ExecutionRecord{}, apperr.Conflict("execution already recorded for this due date")
		}
		return models.ExecutionRecord{}, err
	}
	return inserted, nil
}

func (r *ExecutionsRepo) Get(ctx context.Context, tenantID uuid.UUID, executionID uuid.UUID) (models.ExecutionRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+executionColumns+`
		FROM schedule_executions
		WHERE tenant_id = $1 AND execution_id = $2
	`, tenantID, executionID)
	return scanExecution(row)
}

// Complete closes an open execution. The status guard keeps terminal records
// immutable.
func (r *ExecutionsRepo) Complete(ctx context.Context, tenantID uuid.UUID, executionID uuid.UUID, completedAt time.Time, status string, daysOverdue int) (models.ExecutionRecord, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE schedule_executions
		SET completed_at = $3, status = $4, days_overdue = $5, updated_at = now()
		WHERE tenant_id = $1 AND execution_id = $2 AND status = $6
		RETURNING`+executionColumns,
		tenantID, executionID, completedAt, status, daysOverdue, models.ExecutionStatusGenerated,
	)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Distinguish a missing record from an already-terminal one.
			if _, getErr := r.Get(ctx, tenantID, executionID); getErr == nil {
				return models.ExecutionRecord{}, apperr.Conflict("execution is already terminal")
			}
			return models.ExecutionRecord{}, apperr.NotFound("execution")
		}
		return models.ExecutionRecord{}, err
	}
	return e, nil
}

// MarkOverdue flags open executions older than their schedule's overdue
// threshold as missed and bumps each schedule's missed counter. The status
// guard makes the sweep idempotent.
func (r *ExecutionsRepo) MarkOverdue(ctx context.Context, now time.Time, limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		WITH overdue AS (
			SELECT e.execution_id
			FROM schedule_executions e
			JOIN maintenance_schedules s ON s.schedule_id = e.schedule_id AND s.tenant_id = e.tenant_id
			WHERE e.status = $1
			  AND e.scheduled_at + make_interval(days => s.overdue_threshold_days) < $2
			ORDER BY e.scheduled_at ASC
			FOR UPDATE OF e SKIP LOCKED
			LIMIT $3
		)
		UPDATE schedule_executions e
		SET status = $4,
		    days_overdue = GREATEST(0, EXTRACT(day FROM $2::timestamptz - e.scheduled_at))::int,
		    updated_at = now()
		FROM overdue o
		WHERE e.execution_id = o.execution_id
		RETURNING`+executionColumns,
		models.ExecutionStatusGenerated, now, limit, models.ExecutionStatusMissed,
	)
	if err != nil {
		return nil, err
	}
	marked, err := collectExecutions(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range marked {
		if e.ScheduleID == nil {
			continue
		}
		if _, err := r.pool.Exec(ctx, `
			UPDATE maintenance_schedules
			SET missed_count = missed_count + 1, updated_at = now()
			WHERE tenant_id = $1 AND schedule_id = $2
		`, e.TenantID, *e.ScheduleID); err != nil {
			return marked, err
		}
	}
	return marked, nil
}

func (r *ExecutionsRepo) HasRecentByReason(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, reason string, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedule_executions
			WHERE tenant_id = $1 AND schedule_id = $2 AND trigger_reason = $3 AND created_at >= $4
		)
	`, tenantID, scheduleID, reason, since).Scan(&exists)
	return exists, err
}

func (r *ExecutionsRepo) ListBySchedule(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, limit int, offset int) ([]models.ExecutionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+executionColumns+`
		FROM schedule_executions
		WHERE tenant_id = $1 AND schedule_id = $2
		ORDER BY scheduled_at DESC
		LIMIT $3 OFFSET $4
	`, tenantID, scheduleID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

func (r *ExecutionsRepo) ListByAsset(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID, limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+executionColumns+`
		FROM schedule_executions
		WHERE tenant_id = $1 AND asset_id = $2
		ORDER BY scheduled_at DESC
		LIMIT $3
	`, tenantID, assetID, limit)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

func (r *ExecutionsRepo) ListOpen(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+executionColumns+`
		FROM schedule_executions
		WHERE tenant_id = $1 AND status = $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, tenantID, models.ExecutionStatusGenerated, limit)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

// ListByTenant returns the tenant's executions created at or after since,
// newest first. The compliance summary reads these.
func (r *ExecutionsRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+executionColumns+`
		FROM schedule_executions
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY scheduled_at DESC
		LIMIT $3
	`, tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

// CompletionTimes returns completed_at of terminal completed executions for an
// asset, oldest first, the lifetime samples for model training.
func (r *ExecutionsRepo) CompletionTimes(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT completed_at
		FROM schedule_executions
		WHERE tenant_id = $1 AND asset_id = $2 AND completed_at IS NOT NULL
		  AND status IN ($3, $4)
		ORDER BY completed_at ASC
		LIMIT $5
	`, tenantID, assetID, models.ExecutionStatusCompleted, models.ExecutionStatusCompletedLate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]time.Time, 0, 16)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountRecentByAsset counts work orders generated for an asset since the given
// time, an input of the failure score.
func (r *ExecutionsRepo) CountRecentByAsset(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM schedule_executions
		WHERE tenant_id = $1 AND asset_id = $2 AND created_at >= $3
	`, tenantID, assetID, since).Scan(&n)
	return n, err
}

// LastCompletedAt returns the most recent completion for an asset, or nil.
func (r *ExecutionsRepo) LastCompletedAt(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID) (*time.Time, error) {
	var t *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(completed_at)
		FROM schedule_executions
		WHERE tenant_id = $1 AND asset_id = $2 AND completed_at IS NOT NULL
	`, tenantID, assetID).Scan(&t)
	return t, err
}

func collectExecutions(rows pgx.Rows) ([]models.ExecutionRecord, error) {
	defer rows.Close()
	out := make([]models.ExecutionRecord, 0, 16)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
