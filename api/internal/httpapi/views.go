package httpapi

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/models"
)

// Wire representations of the domain models. The repo structs stay
// serialization-free; handlers convert at the boundary.

type scheduleView struct {
	ScheduleID           uuid.UUID              `json:"schedule_id"`
	AssetID              uuid.UUID              `json:"asset_id"`
	Name                 string                 `json:"name"`
	Description          string                 `json:"description,omitempty"`
	TriggerKind          string                 `json:"trigger_kind"`
	FrequencyUnit        string                 `json:"frequency_unit,omitempty"`
	FrequencyMultiplier  int                    `json:"frequency_multiplier,omitempty"`
	CustomIntervalDays   int                    `json:"custom_interval_days,omitempty"`
	StartDate            string                 `json:"start_date,omitempty"`
	LeadDays             int                    `json:"lead_days"`
	OverdueThresholdDays int                    `json:"overdue_threshold_days"`
	MeterKind            string                 `json:"meter_kind,omitempty"`
	MeterInterval        float64                `json:"meter_interval,omitempty"`
	LastMeterReading     float64                `json:"last_meter_reading"`
	NextMeterDue         float64                `json:"next_meter_due"`
	ConditionRules       []models.ConditionRule `json:"condition_rules,omitempty"`
	Checklist            []string               `json:"checklist,omitempty"`
	Priority             string                 `json:"priority"`
	AssigneeID           *uuid.UUID             `json:"assignee_id,omitempty"`
	Active               bool                   `json:"active"`
	CompletedCount       int                    `json:"completed_count"`
	MissedCount          int                    `json:"missed_count"`
	NextDueAt            *time.Time             `json:"next_due_at,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

func viewSchedule(s models.Schedule) scheduleView {
	v := scheduleView{
		ScheduleID:           s.ScheduleID,
		AssetID:              s.AssetID,
		Name:                 s.Name,
		Description:          s.Description,
		TriggerKind:          s.TriggerKind,
		FrequencyUnit:        s.FrequencyUnit,
		FrequencyMultiplier:  s.FrequencyMultiplier,
		CustomIntervalDays:   s.CustomIntervalDays,
		LeadDays:             s.LeadDays,
		OverdueThresholdDays: s.OverdueThresholdDays,
		MeterKind:            s.MeterKind,
		MeterInterval:        s.MeterInterval,
		LastMeterReading:     s.LastMeterReading,
		NextMeterDue:         s.NextMeterDue,
		ConditionRules:       s.ConditionRules,
		Checklist:            s.Checklist,
		Priority:             s.Priority,
		AssigneeID:           s.AssigneeID,
		Active:               s.Active,
		CompletedCount:       s.CompletedCount,
		MissedCount:          s.MissedCount,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if !s.StartDate.IsZero() {
		v.StartDate = s.StartDate.Format(time.DateOnly)
	}
	// The sentinel means "no time path"; hide it from clients.
	if !s.NextDueAt.IsZero() && !s.NextDueAt.Equal(models.SentinelNextDue) {
		due := s.NextDueAt
		v.NextDueAt = &due
	}
	return v
}

func viewSchedules(list []models.Schedule) []scheduleView {
	out := make([]scheduleView, 0, len(list))
	for _, s := range list {
		out = append(out, viewSchedule(s))
	}
	return out
}

type executionView struct {
	ExecutionID   uuid.UUID       `json:"execution_id"`
	ScheduleID    *uuid.UUID      `json:"schedule_id,omitempty"`
	AssetID       uuid.UUID       `json:"asset_id"`
	WorkOrderRef  string          `json:"work_order_ref"`
	TriggerReason string          `json:"trigger_reason"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Status        string          `json:"status"`
	DaysOverdue   int             `json:"days_overdue"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func viewExecution(e models.ExecutionRecord) executionView {
	return executionView{
		ExecutionID:   e.ExecutionID,
		ScheduleID:    e.ScheduleID,
		AssetID:       e.AssetID,
		WorkOrderRef:  e.WorkOrderRef,
		TriggerReason: e.TriggerReason,
		ScheduledAt:   e.ScheduledAt,
		CompletedAt:   e.CompletedAt,
		Status:        e.Status,
		DaysOverdue:   e.DaysOverdue,
		Details:       e.Details,
		CreatedAt:     e.CreatedAt,
	}
}

func viewExecutions(list []models.ExecutionRecord) []executionView {
	out := make([]executionView, 0, len(list))
	for _, e := range list {
		out = append(out, viewExecution(e))
	}
	return out
}

type readingView struct {
	ReadingID   uuid.UUID `json:"reading_id"`
	AssetID     uuid.UUID `json:"asset_id"`
	ReadingType string    `json:"reading_type"`
	Kind        string    `json:"kind"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

func viewReadings(list []models.Reading) []readingView {
	out := make([]readingView, 0, len(list))
	for _, rd := range list {
		out = append(out, readingView{
			ReadingID:   rd.ReadingID,
			AssetID:     rd.AssetID,
			ReadingType: rd.ReadingType,
			Kind:        rd.Kind,
			Value:       rd.Value,
			Unit:        rd.Unit,
			RecordedAt:  rd.RecordedAt,
		})
	}
	return out
}

type predictionView struct {
	PredictionID      uuid.UUID                 `json:"prediction_id"`
	AssetID           uuid.UUID                 `json:"asset_id"`
	Kind              string                    `json:"kind"`
	Narrative         string                    `json:"narrative"`
	Probability       float64                   `json:"probability"`
	Confidence        float64                   `json:"confidence"`
	RiskTier          string                    `json:"risk_tier"`
	Status            string                    `json:"status"`
	Factors           []models.PredictionFactor `json:"factors,omitempty"`
	RecommendedAction string                    `json:"recommended_action,omitempty"`
	CostEstimate      float64                   `json:"cost_estimate,omitempty"`
	AcknowledgedBy    *uuid.UUID                `json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time                `json:"acknowledged_at,omitempty"`
	ResolvedBy        *uuid.UUID                `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time                `json:"resolved_at,omitempty"`
	WorkOrderRef      *string                   `json:"work_order_ref,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

func viewPrediction(p models.Prediction) predictionView {
	return predictionView{
		PredictionID:      p.PredictionID,
		AssetID:           p.AssetID,
		Kind:              p.Kind,
		Narrative:         p.Narrative,
		Probability:       p.Probability,
		Confidence:        p.Confidence,
		RiskTier:          p.RiskTier,
		Status:            p.Status,
		Factors:           p.Factors,
		RecommendedAction: p.RecommendedAction,
		CostEstimate:      p.CostEstimate,
		AcknowledgedBy:    p.AcknowledgedBy,
		AcknowledgedAt:    p.AcknowledgedAt,
		ResolvedBy:        p.ResolvedBy,
		ResolvedAt:        p.ResolvedAt,
		WorkOrderRef:      p.WorkOrderRef,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func viewPredictions(list []models.Prediction) []predictionView {
	out := make([]predictionView, 0, len(list))
	for _, p := range list {
		out = append(out, viewPrediction(p))
	}
	return out
}

type modelView struct {
	ModelID     uuid.UUID           `json:"model_id"`
	AssetType   string              `json:"asset_type"`
	Name        string              `json:"name"`
	Params      models.ModelParams  `json:"params"`
	Stats       models.TrainedStats `json:"stats"`
	SampleCount int                 `json:"sample_count"`
	Accuracy    float64             `json:"accuracy"`
	TrainedAt   *time.Time          `json:"trained_at,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func viewModel(m models.PredictionModel) modelView {
	return modelView{
		ModelID:     m.ModelID,
		AssetType:   m.AssetType,
		Name:        m.Name,
		Params:      m.Params,
		Stats:       m.Stats,
		SampleCount: m.SampleCount,
		Accuracy:    m.Accuracy,
		TrainedAt:   m.TrainedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type assetView struct {
	AssetID         uuid.UUID  `json:"asset_id"`
	Code            string     `json:"code"`
	Name            string     `json:"name"`
	AssetType       string     `json:"asset_type"`
	Criticality     int        `json:"criticality"`
	InstalledAt     *time.Time `json:"installed_at,omitempty"`
	ReplacementCost float64    `json:"replacement_cost"`
	CurrentMeter    float64    `json:"current_meter"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func viewAsset(a models.Asset) assetView {
	return assetView{
		AssetID:         a.AssetID,
		Code:            a.Code,
		Name:            a.Name,
		AssetType:       a.AssetType,
		Criticality:     a.Criticality,
		InstalledAt:     a.InstalledAt,
		ReplacementCost: a.ReplacementCost,
		CurrentMeter:    a.CurrentMeter,
		UpdatedAt:       a.UpdatedAt,
	}
}

type notificationView struct {
	NotificationID uuid.UUID       `json:"notification_id"`
	Topic          string          `json:"topic"`
	EventType      string          `json:"event_type"`
	AggregateID    uuid.UUID       `json:"aggregate_id"`
	Message        string          `json:"message,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func viewNotification(n models.NotificationEntry) notificationView {
	return notificationView{
		NotificationID: n.NotificationID,
		Topic:          n.Topic,
		EventType:      n.EventType,
		AggregateID:    n.AggregateID,
		Message:        n.Message,
		Payload:        n.Payload,
		OccurredAt:     n.OccurredAt,
	}
}
