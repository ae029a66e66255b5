package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TriggerKindTime      = "time"
	TriggerKindMeter     = "meter"
	TriggerKindCondition = "condition"
	TriggerKindHybrid    = "hybrid"
)

const (
	FrequencyDaily      = "daily"
	FrequencyWeekly     = "weekly"
	FrequencyBiweekly   = "biweekly"
	FrequencyMonthly    = "monthly"
	FrequencyQuarterly  = "quarterly"
	FrequencySemiannual = "semiannual"
	FrequencyYearly     = "yearly"
	FrequencyCustom     = "custom"
)

const (
	ReasonTimeDue          = "time_due"
	ReasonMeterTrigger     = "meter_trigger"
	ReasonConditionTrigger = "condition_trigger"
	ReasonManual           = "manual"
	ReasonPrediction       = "prediction"
)

const (
	ExecutionStatusGenerated     = "generated"
	ExecutionStatusCompleted     = "completed"
	ExecutionStatusCompletedLate = "completed_late"
	ExecutionStatusMissed        = "missed"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const (
	PredictionKindAnomaly       = "anomaly"
	PredictionKindFailure       = "failure"
	PredictionKindRemainingLife = "remaining_life"
)

const (
	RiskTierLow      = "low"
	RiskTierMedium   = "medium"
	RiskTierHigh     = "high"
	RiskTierCritical = "critical"
)

const (
	ReadingTypeMeter  = "meter"
	ReadingTypeSensor = "sensor"
)

// SentinelNextDue marks the time path of a pure meter/condition schedule as
// inert: the daily sweep never reaches it.
var SentinelNextDue = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

type Tenant struct {
	TenantID  uuid.UUID
	Slug      string
	Name      string
	CreatedAt time.Time
}

// ConditionRule compares the latest reading of one sensor kind against a
// threshold. Operator is one of the closed set validated by the trigger package.
type ConditionRule struct {
	SensorKind string  `json:"sensor_kind"`
	Operator   string  `json:"operator"`
	Threshold  float64 `json:"threshold"`
	Unit       string  `json:"unit,omitempty"`
}

type Schedule struct {
	ScheduleID           uuid.UUID
	TenantID             uuid.UUID
	AssetID              uuid.UUID
	Name                 string
	Description          string
	TriggerKind          string
	FrequencyUnit        string
	FrequencyMultiplier  int
	CustomIntervalDays   int
	StartDate            time.Time
	LeadDays             int
	OverdueThresholdDays int
	MeterKind            string
	MeterInterval        float64
	LastMeterReading     float64
	NextMeterDue         float64
	ConditionRules       []ConditionRule
	Checklist            []string
	Priority             string
	AssigneeID           *uuid.UUID
	Active               bool
	CompletedCount       int
	MissedCount          int
	NextDueAt            time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ExecutionRecord is one firing of a schedule (or of a prediction, in which
// case ScheduleID is nil). Immutable once its status is terminal.
type ExecutionRecord struct {
	ExecutionID   uuid.UUID
	TenantID      uuid.UUID
	ScheduleID    *uuid.UUID
	AssetID       uuid.UUID
	WorkOrderRef  string
	TriggerReason string
	ScheduledAt   time.Time
	CompletedAt   *time.Time
	Status        string
	DaysOverdue   int
	Details       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Reading struct {
	ReadingID   uuid.UUID
	TenantID    uuid.UUID
	AssetID     uuid.UUID
	ReadingType string
	Kind        string
	Value       float64
	Unit        string
	RecordedAt  time.Time
	CreatedAt   time.Time
}

// PredictionFactor is one weighted contributor to a failure probability.
type PredictionFactor struct {
	Name         string   `json:"name"`
	Weight       float64  `json:"weight"`
	Contribution float64  `json:"contribution"`
	Value        float64  `json:"value"`
	Threshold    *float64 `json:"threshold,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	Description  string   `json:"description,omitempty"`
}

type Prediction struct {
	PredictionID      uuid.UUID
	TenantID          uuid.UUID
	AssetID           uuid.UUID
	Kind              string
	Narrative         string
	Probability       float64
	Confidence        float64
	RiskTier          string
	Status            string
	Factors           []PredictionFactor
	RecommendedAction string
	CostEstimate      float64
	AcknowledgedBy    *uuid.UUID
	AcknowledgedAt    *time.Time
	ResolvedBy        *uuid.UUID
	ResolvedAt        *time.Time
	WorkOrderRef      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ModelParams is the closed-form parameter bag of a scoring model.
type ModelParams struct {
	WeibullShape   float64 `json:"weibull_shape"`
	WeibullScale   float64 `json:"weibull_scale"`
	SmoothingAlpha float64 `json:"smoothing_alpha"`
	SmoothingBeta  float64 `json:"smoothing_beta"`
	ZThreshold     float64 `json:"z_threshold"`
}

type TrainedStats struct {
	SampleMean   float64 `json:"sample_mean"`
	SampleStdDev float64 `json:"sample_std_dev"`
	SampleMin    float64 `json:"sample_min"`
	SampleMax    float64 `json:"sample_max"`
}

type PredictionModel struct {
	ModelID     uuid.UUID
	TenantID    uuid.UUID
	AssetType   string
	Name        string
	Params      ModelParams
	Stats       TrainedStats
	SampleCount int
	Accuracy    float64
	TrainedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Asset is a read-only mirror of the external asset directory.
type Asset struct {
	AssetID         uuid.UUID
	TenantID        uuid.UUID
	Code            string
	Name            string
	AssetType       string
	Criticality     int
	InstalledAt     *time.Time
	ReplacementCost float64
	CurrentMeter    float64
	UpdatedAt       time.Time
}

type NotificationEntry struct {
	NotificationID uuid.UUID
	TenantID       uuid.UUID
	Topic          string
	EventType      string
	AggregateID    uuid.UUID
	Message        string
	Payload        []byte
	OccurredAt     time.Time
	CreatedAt      time.Time
}

type OutboxEvent struct {
	EventID       uuid.UUID
	TenantID      uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Topic         string
	Payload       []byte
	Status        string
	Attempts      int
	NextRetryAt   *time.Time
	LockedAt      *time.Time
	LockedBy      *string
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
}

type AuditLog struct {
	AuditID      uuid.UUID
	OccurredAt   time.Time
	TenantID     uuid.UUID
	ActorUserID  *uuid.UUID
	Subject      string
	Action       string
	ResourceType *string
	ResourceID   *string
	RequestID    string
	Method       string
	Path         string
	StatusCode   int
	DurationMS   int64
	ClientIP     string
	UserAgent    string
	Details      []byte
}
