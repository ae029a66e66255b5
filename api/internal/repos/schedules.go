package repos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

type SchedulesRepo struct {
	pool *pgxpool.Pool
}

func NewSchedulesRepo(pool *pgxpool.Pool) *SchedulesRepo {
	return &SchedulesRepo{pool: pool}
}

const scheduleColumns = `
	schedule_id, tenant_id, asset_id, name, description, trigger_kind,
	frequency_unit, frequency_multiplier, custom_interval_days, start_date,
	lead_days, overdue_threshold_days, meter_kind, meter_interval,
	last_meter_reading, next_meter_due, condition_rules, checklist, priority,
	assignee_id, active, completed_count, missed_count, next_due_at,
	created_at, updated_at`

func scanSchedule(row pgx.Row) (models.Schedule, error) {
	var s models.Schedule
	var rules, checklist []byte
	err := row.Scan(
		&s.ScheduleID, &s.TenantID, &s.AssetID, &s.Name, &s.Description, &s.TriggerKind,
		&s.FrequencyUnit, &s.FrequencyMultiplier, &s.CustomIntervalDays, &s.StartDate,
		&s.LeadDays, &s.OverdueThresholdDays, &s.MeterKind, &s.MeterInterval,
		&s.LastMeterReading, &s.NextMeterDue, &rules, &checklist, &s.Priority,
		&s.AssigneeID, &s.Active, &s.CompletedCount, &s.MissedCount, &s.NextDueAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, apperr.NotFound("schedule")
		}
		return s, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &s.ConditionRules); err != nil {
			return s, err
		}
	}
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &s.Checklist); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (r *SchedulesRepo) Create(ctx context.Context, s models.Schedule) (models.Schedule, error) {
	if s.ScheduleID == uuid.Nil {
		s.ScheduleID = uuid.New()
	}
	rules, err := json.Marshal(s.ConditionRules)
	if err != nil {
		return models.Schedule{}, err
	}
	checklist, err := json.Marshal(s.Checklist)
	if err != nil {
		return models.Schedule{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO maintenance_schedules (
			schedule_id, tenant_id, asset_id, name, description, trigger_kind,
			frequency_unit, frequency_multiplier, custom_interval_days, start_date,
			lead_days, overdue_threshold_days, meter_kind, meter_interval,
			last_meter_reading, next_meter_due, condition_rules, checklist, priority,
			assignee_id, active, next_due_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		RETURNING`+scheduleColumns,
		s.ScheduleID, s.TenantID, s.AssetID, s.Name, s.Description, s.TriggerKind,
		s.FrequencyUnit, s.FrequencyMultiplier, s.CustomIntervalDays, s.StartDate,
		s.LeadDays, s.OverdueThresholdDays, s.MeterKind, s.MeterInterval,
		s.LastMeterReading, s.NextMeterDue, rules, checklist, s.Priority,
		s.AssigneeID, s.Active, s.NextDueAt,
	)
	return scanSchedule(row)
}

func (r *SchedulesRepo) Update(ctx context.Context, s models.Schedule) (models.Schedule, error) {
	rules, err := json.Marshal(s.ConditionRules)
	if err != nil {
		return models.Schedule{}, err
	}
	checklist, err := json.Marshal(s.Checklist)
	if err != nil {
		return models.Schedule{}, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE maintenance_schedules SET
			name = $3, description = $4, trigger_kind = $5, frequency_unit = $6,
			frequency_multiplier = $7, custom_interval_days = $8, start_date = $9,
			lead_days = $10, overdue_threshold_days = $11, meter_kind = $12,
			meter_interval = $13, next_meter_due = $14, condition_rules = $15,
			checklist = $16, priority = $17, assignee_id = $18, active = $19,
			next_due_at = $20, updated_at = now()
		WHERE tenant_id = $1 AND schedule_id = $2
		RETURNING`+scheduleColumns,
		s.TenantID, s.ScheduleID, s.Name, s.Description, s.TriggerKind, s.FrequencyUnit,
		s.FrequencyMultiplier, s.CustomIntervalDays, s.StartDate,
		s.LeadDays, s.OverdueThresholdDays, s.MeterKind,
		s.MeterInterval, s.NextMeterDue, rules,
		checklist, s.Priority, s.AssigneeID, s.Active,
		s.NextDueAt,
	)
	return scanSchedule(row)
}

func (r *SchedulesRepo) Get(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID) (models.Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE tenant_id = $1 AND schedule_id = $2
	`, tenantID, scheduleID)
	return scanSchedule(row)
}

func (r *SchedulesRepo) Delete(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM maintenance_schedules
		WHERE tenant_id = $1 AND schedule_id = $2
	`, tenantID, scheduleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule")
	}
	return nil
}

func (r *SchedulesRepo) SetActive(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE maintenance_schedules
		SET active = $3, updated_at = now()
		WHERE tenant_id = $1 AND schedule_id = $2
	`, tenantID, scheduleID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule")
	}
	return nil
}

func (r *SchedulesRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int, offset int) ([]models.Schedule, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE tenant_id = $1 AND ($2 = false OR active)
		ORDER BY next_due_at ASC, created_at ASC
		LIMIT $3 OFFSET $4
	`, tenantID, activeOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *SchedulesRepo) ListByAsset(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID) ([]models.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE tenant_id = $1 AND asset_id = $2
		ORDER BY created_at ASC
	`, tenantID, assetID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ListTimeDue returns active schedules whose time path enters its lead window
// at or before now. The far-future sentinel of pure meter and condition
// schedules keeps them out of this sweep.
func (r *SchedulesRepo) ListTimeDue(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE active
		  AND trigger_kind IN ('time', 'hybrid')
		  AND next_due_at - make_interval(days => lead_days) <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ListMeterCandidates returns active schedules with a meter rule, for the
// hourly meter sweep to evaluate against the latest readings.
func (r *SchedulesRepo) ListMeterCandidates(ctx context.Context, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE active AND meter_kind <> '' AND trigger_kind IN ('meter', 'hybrid')
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ListConditionCandidates returns active schedules carrying condition rules.
func (r *SchedulesRepo) ListConditionCandidates(ctx context.Context, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE active AND jsonb_array_length(condition_rules) > 0 AND trigger_kind IN ('condition', 'hybrid')
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ListOverdue returns active schedules whose time path is already past due.
// The far-future sentinel keeps pure meter and condition schedules out.
func (r *SchedulesRepo) ListOverdue(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE tenant_id = $1 AND active AND next_due_at <= $2
		ORDER BY next_due_at ASC
		LIMIT $3
	`, tenantID, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ListMeterByTenant is the tenant-scoped counterpart of ListMeterCandidates,
// backing the manual meter sweep and the near-due query.
func (r *SchedulesRepo) ListMeterByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE tenant_id = $1 AND active AND meter_kind <> '' AND trigger_kind IN ('meter', 'hybrid')
		ORDER BY updated_at ASC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ListConditionByTenant backs the manual condition sweep.
func (r *SchedulesRepo) ListConditionByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE tenant_id = $1 AND active AND jsonb_array_length(condition_rules) > 0 AND trigger_kind IN ('condition', 'hybrid')
		ORDER BY updated_at ASC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ListUpcoming returns active time-based schedules due within the horizon.
func (r *SchedulesRepo) ListUpcoming(ctx context.Context, tenantID uuid.UUID, now time.Time, horizon time.Duration, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM maintenance_schedules
		WHERE tenant_id = $1 AND active AND next_due_at BETWEEN $2 AND $3
		ORDER BY next_due_at ASC
		LIMIT $4
	`, tenantID, now, now.Add(horizon), limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *SchedulesRepo) AdvanceTimeDue(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, nextDueAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE maintenance_schedules
		SET next_due_at = $3, updated_at = now()
		WHERE tenant_id = $1 AND schedule_id = $2
	`, tenantID, scheduleID, nextDueAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule")
	}
	return nil
}

func (r *SchedulesRepo) AdvanceMeterDue(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, lastReading float64, nextMeterDue float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE maintenance_schedules
		SET last_meter_reading = $3, next_meter_due = $4, updated_at = now()
		WHERE tenant_id = $1 AND schedule_id = $2
	`, tenantID, scheduleID, lastReading, nextMeterDue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule")
	}
	return nil
}

func (r *SchedulesRepo) BumpCompleted(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE maintenance_schedules
		SET completed_count = completed_count + 1, updated_at = now()
		WHERE tenant_id = $1 AND schedule_id = $2
	`, tenantID, scheduleID)
	return err
}

func (r *SchedulesRepo) BumpMissed(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE maintenance_schedules
		SET missed_count = missed_count + 1, updated_at = now()
		WHERE tenant_id = $1 AND schedule_id = $2
	`, tenantID, scheduleID)
	return err
}

func collectSchedules(rows pgx.Rows) ([]models.Schedule, error) {
	defer rows.Close()
	out := make([]models.Schedule, 0, 16)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
