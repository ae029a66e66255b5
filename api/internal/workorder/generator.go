package workorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/prediction"
	"predictive-maintenance-engine/api/internal/trigger"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/logx"
)

// Default suppression windows per trigger class. Meter sweeps run hourly and
// condition sweeps every few minutes, so without a window one sustained breach
// would generate a work order per sweep.
const (
	DefaultMeterDedupWindow     = 24 * time.Hour
	DefaultConditionDedupWindow = 4 * time.Hour

	lockTTL = 30 * time.Second
)

// ScheduleFireLockKey serializes work order generation per schedule across
// sweeper instances.
func ScheduleFireLockKey(tenantID uuid.UUID, scheduleID uuid.UUID) string {
	return fmt.Sprintf("lock:schedule-fire:%s:%s", tenantID, scheduleID)
}

type ScheduleStore interface {
	AdvanceTimeDue(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, nextDueAt time.Time) error
	AdvanceMeterDue(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, lastReading float64, nextMeterDue float64) error
}

type ExecutionStore interface {
	Insert(ctx context.Context, record models.ExecutionRecord) (models.ExecutionRecord, error)
	// HasRecentByReason reports whether an execution with the given trigger
	// reason exists for the schedule at or after since.
	HasRecentByReason(ctx context.Context, tenantID uuid.UUID, scheduleID uuid.UUID, reason string, since time.Time) (bool, error)
}

// Locker is the per-schedule mutual exclusion used while firing.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
}

// WorkOrderCreator pushes the work order into the external work order service
// and returns its reference.
type WorkOrderCreator interface {
	Create(ctx context.Context, req CreateRequest) (string, error)
}

// EventRecorder persists the domain event for asynchronous publication.
type EventRecorder interface {
	Record(ctx context.Context, tenantID uuid.UUID, topic string, envelope events.Envelope) error
}

// CreateRequest is the payload sent to the work order service.
type CreateRequest struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	AssetID     uuid.UUID `json:"asset_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	DueAt       time.Time `json:"due_at"`
	Checklist   []string  `json:"checklist,omitempty"`
	AssigneeID  *string   `json:"assignee_id,omitempty"`
	Source      string    `json:"source"`
}

type Config struct {
	MeterDedupWindow     time.Duration
	ConditionDedupWindow time.Duration
}

// Generator turns trigger firings and predictions into execution records plus
// work orders in the external service.
type Generator struct {
	schedules  ScheduleStore
	executions ExecutionStore
	locks      Locker
	workOrders WorkOrderCreator
	recorder   EventRecorder
	logger     logx.Logger
	cfg        Config
}

func NewGenerator(schedules ScheduleStore, executions ExecutionStore, locks Locker, workOrders WorkOrderCreator, recorder EventRecorder, logger logx.Logger, cfg Config) *Generator {
	if cfg.MeterDedupWindow <= 0 {
		cfg.MeterDedupWindow = DefaultMeterDedupWindow
	}
	if cfg.ConditionDedupWindow <= 0 {
		cfg.ConditionDedupWindow = DefaultConditionDedupWindow
	}
	return &Generator{
		schedules:  schedules,
		executions: executions,
		locks:      locks,
		workOrders: workOrders,
		recorder:   recorder,
		logger:     logger,
		cfg:        cfg,
	}
}

func (g *Generator) dedupWindow(reason string) time.Duration {
	switch reason {
	case models.ReasonMeterTrigger:
		return g.cfg.MeterDedupWindow
	case models.ReasonConditionTrigger:
		return g.cfg.ConditionDedupWindow
	default:
		return 0
	}
}

// Generate fires one trigger for a schedule. Inactive schedules, a busy lock,
// and a duplicate inside the reason's suppression window all return conflicts
// so the sweep can count them without treating them as failures.
func (g *Generator) Generate(ctx context.Context, s models.Schedule, firing trigger.Firing, now time.Time) (models.ExecutionRecord, error) {
	if !s.Active {
		return models.ExecutionRecord{}, apperr.Conflict("schedule is inactive")
	}

	release, acquired, err := g.locks.Acquire(ctx, ScheduleFireLockKey(s.TenantID, s.ScheduleID), lockTTL)
	if err != nil {
		return models.ExecutionRecord{}, err
	}
	if !acquired {
		return models.ExecutionRecord{}, apperr.Conflict("schedule is being fired by another worker")
	}
	defer release(ctx)

	if window := g.dedupWindow(firing.Reason); window > 0 {
		recent, err := g.executions.HasRecentByReason(ctx, s.TenantID, s.ScheduleID, firing.Reason, now.Add(-window))
		if err != nil {
			return models.ExecutionRecord{}, err
		}
		if recent {
			return models.ExecutionRecord{}, apperr.Conflict("duplicate trigger inside suppression window")
		}
	}

	details, err := json.Marshal(firing)
	if err != nil {
		return models.ExecutionRecord{}, err
	}

	ref, err := g.workOrders.Create(ctx, CreateRequest{
		TenantID:    s.TenantID,
		AssetID:     s.AssetID,
		Title:       s.Name,
		Description: describeFiring(s, firing),
		Priority:    priorityForFiring(s, firing),
		DueAt:       firing.DueAt,
		Checklist:   s.Checklist,
		AssigneeID:  uuidPtrToString(s.AssigneeID),
		Source:      firing.Reason,
	})
	if err != nil {
		return models.ExecutionRecord{}, err
	}

	scheduleID := s.ScheduleID
	record, err := g.executions.Insert(ctx, models.ExecutionRecord{
		TenantID:      s.TenantID,
		ScheduleID:    &scheduleID,
		AssetID:       s.AssetID,
		WorkOrderRef:  ref,
		TriggerReason: firing.Reason,
		ScheduledAt:   firing.DueAt,
		Status:        models.ExecutionStatusGenerated,
		Details:       details,
	})
	if err != nil {
		return models.ExecutionRecord{}, err
	}

	if err := g.advanceDueState(ctx, s, firing, now); err != nil {
		// The work order exists; the stale due state only causes a dedup
		// conflict on the next sweep, so log and keep the record.
		g.logger.Error(ctx, "schedule_advance_failed", "failed to advance schedule due state",
			slog.String("schedule_id", s.ScheduleID.String()),
			slog.String("error", err.Error()),
		)
	}

	g.record(ctx, s.TenantID, record, events.EventWorkOrderGenerated)
	return record, nil
}

// GenerateManual bypasses due checks and suppression windows; the operator
// asked for it explicitly.
func (g *Generator) GenerateManual(ctx context.Context, s models.Schedule, now time.Time) (models.ExecutionRecord, error) {
	if !s.Active {
		return models.ExecutionRecord{}, apperr.Conflict("schedule is inactive")
	}
	return g.Generate(ctx, s, trigger.Firing{Reason: models.ReasonManual, DueAt: now}, now)
}

// GenerateFromPrediction creates a work order for an asset directly from a
// prediction; there is no schedule, so the execution's schedule id is nil.
func (g *Generator) GenerateFromPrediction(ctx context.Context, p models.Prediction, now time.Time) (models.ExecutionRecord, error) {
	details, err := json.Marshal(p.Factors)
	if err != nil {
		return models.ExecutionRecord{}, err
	}

	ref, err := g.workOrders.Create(ctx, CreateRequest{
		TenantID:    p.TenantID,
		AssetID:     p.AssetID,
		Title:       fmt.Sprintf("Predicted %s risk maintenance", p.RiskTier),
		Description: p.Narrative,
		Priority:    prediction.PriorityForRisk(p.RiskTier),
		DueAt:       now,
		Source:      models.ReasonPrediction,
	})
	if err != nil {
		return models.ExecutionRecord{}, err
	}

	record, err := g.executions.Insert(ctx, models.ExecutionRecord{
		TenantID:      p.TenantID,
		AssetID:       p.AssetID,
		WorkOrderRef:  ref,
		TriggerReason: models.ReasonPrediction,
		ScheduledAt:   now,
		Status:        models.ExecutionStatusGenerated,
		Details:       details,
	})
	if err != nil {
		return models.ExecutionRecord{}, err
	}

	g.record(ctx, p.TenantID, record, events.EventWorkOrderGenerated)
	return record, nil
}

func (g *Generator) advanceDueState(ctx context.Context, s models.Schedule, firing trigger.Firing, now time.Time) error {
	switch firing.Reason {
	case models.ReasonTimeDue:
		next, err := trigger.NextDueAfter(s, firing.DueAt)
		if err != nil {
			return err
		}
		// Catch up past-due schedules instead of firing once per missed period.
		for !next.After(now) {
			next, err = trigger.NextDueAfter(s, next)
			if err != nil {
				return err
			}
		}
		return g.schedules.AdvanceTimeDue(ctx, s.TenantID, s.ScheduleID, next)
	case models.ReasonMeterTrigger:
		next := trigger.AdvanceMeterDue(firing.MeterValue, s.MeterInterval)
		return g.schedules.AdvanceMeterDue(ctx, s.TenantID, s.ScheduleID, firing.MeterValue, next)
	default:
		return nil
	}
}

func (g *Generator) record(ctx context.Context, tenantID uuid.UUID, record models.ExecutionRecord, eventType string) {
	if g.recorder == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	envelope := events.Envelope{
		EventID:       uuid.New(),
		TenantID:      tenantID,
		OccurredAt:    time.Now().UTC(),
		AggregateType: "execution",
		AggregateID:   record.ExecutionID,
		EventType:     eventType,
		Payload:       payload,
	}
	if err := g.recorder.Record(ctx, tenantID, events.TopicWorkOrders, envelope); err != nil {
		g.logger.Error(ctx, "event_record_failed", "failed to record work order event",
			slog.String("execution_id", record.ExecutionID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// priorityForFiring keeps the schedule's own priority except for condition
// breaches, which are never below high.
func priorityForFiring(s models.Schedule, firing trigger.Firing) string {
	p := s.Priority
	if p == "" {
		p = models.PriorityMedium
	}
	if firing.Reason == models.ReasonConditionTrigger && priorityRank(p) < priorityRank(models.PriorityHigh) {
		return models.PriorityHigh
	}
	return p
}

func priorityRank(p string) int {
	switch p {
	case models.PriorityCritical:
		return 4
	case models.PriorityHigh:
		return 3
	case models.PriorityMedium:
		return 2
	default:
		return 1
	}
}

func describeFiring(s models.Schedule, firing trigger.Firing) string {
	switch firing.Reason {
	case models.ReasonMeterTrigger:
		return fmt.Sprintf("%s reached %.2f (due at %.2f)", s.MeterKind, firing.MeterValue, s.NextMeterDue)
	case models.ReasonConditionTrigger:
		return fmt.Sprintf("condition rules breached: %d of %d matched", len(firing.Matched), len(s.ConditionRules))
	case models.ReasonManual:
		return "manually requested maintenance"
	default:
		return fmt.Sprintf("scheduled maintenance due %s", firing.DueAt.Format(time.DateOnly))
	}
}

func uuidPtrToString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
