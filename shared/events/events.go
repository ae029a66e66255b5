package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	TopicWorkOrders    = "maintenance.work-orders"
	TopicTriggerEvents = "maintenance.trigger-events"
	TopicAnomalyAlerts = "maintenance.anomaly-alerts"
	TopicCompliance    = "maintenance.compliance"
	TopicPredictions   = "maintenance.predictions"
)

const (
	EventWorkOrderGenerated  = "work_order_generated"
	EventScheduleTriggered   = "schedule_triggered"
	EventExecutionMissed     = "execution_missed"
	EventExecutionCompleted  = "execution_completed"
	EventAnomalyDetected     = "anomaly_detected"
	EventPredictionCreated   = "prediction_created"
	EventPredictionResolved  = "prediction_resolved"
	EventPredictionDismissed = "prediction_dismissed"
)
