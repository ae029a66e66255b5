package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/anomaly"
	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/api/internal/workorder"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/cachex"
	"predictive-maintenance-engine/shared/clients/assetdir"
	"predictive-maintenance-engine/shared/config"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/influxx"
	"predictive-maintenance-engine/shared/logx"
	"predictive-maintenance-engine/shared/tenantx"
)

// Server holds the handler dependencies. Optional collaborators (cache, influx,
// asset directory) may be nil; handlers degrade instead of failing.
type Server struct {
	Logger logx.Logger
	Cfg    config.Config
	Pool   *pgxpool.Pool

	Schedules     *repos.SchedulesRepo
	Executions    *repos.ExecutionsRepo
	Readings      *repos.ReadingsRepo
	Predictions   *repos.PredictionsRepo
	Models        *repos.PredictionModelsRepo
	Assets        *repos.AssetsRepo
	Notifications *repos.NotificationsRepo
	Outbox        *repos.OutboxRepo

	Generator *workorder.Generator
	Detector  *anomaly.Detector
	Cache     *cachex.Client
	Influx    *influxx.Client
	AssetDir  *assetdir.Client
}

// Routes registers every API endpoint on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/v1/schedules", s.handleListSchedules)
	mux.HandleFunc("GET /api/v1/schedules/upcoming", s.handleUpcomingSchedules)
	mux.HandleFunc("GET /api/v1/schedules/overdue", s.handleOverdueSchedules)
	mux.HandleFunc("GET /api/v1/schedules/meter-near-due", s.handleMeterNearDue)
	mux.HandleFunc("GET /api/v1/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/v1/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/v1/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("POST /api/v1/schedules/{id}/activate", s.handleActivateSchedule)
	mux.HandleFunc("POST /api/v1/schedules/{id}/deactivate", s.handleDeactivateSchedule)
	mux.HandleFunc("POST /api/v1/schedules/{id}/trigger", s.handleManualTrigger)
	mux.HandleFunc("GET /api/v1/schedules/{id}/executions", s.handleScheduleExecutions)
	mux.HandleFunc("GET /api/v1/schedules/{id}/compliance", s.handleScheduleCompliance)

	mux.HandleFunc("GET /api/v1/executions", s.handleListOpenExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/complete", s.handleCompleteExecution)
	mux.HandleFunc("GET /api/v1/compliance/summary", s.handleComplianceSummary)

	mux.HandleFunc("POST /api/v1/readings", s.handleIngestReading)
	mux.HandleFunc("POST /api/v1/readings/bulk", s.handleIngestReadingsBulk)

	mux.HandleFunc("POST /api/v1/sweeps/meter", s.handleMeterSweep)
	mux.HandleFunc("POST /api/v1/sweeps/condition", s.handleConditionSweep)

	mux.HandleFunc("GET /api/v1/predictions", s.handleListPredictions)
	mux.HandleFunc("GET /api/v1/predictions/dashboard", s.handlePredictionDashboard)
	mux.HandleFunc("GET /api/v1/predictions/{id}", s.handleGetPrediction)
	mux.HandleFunc("POST /api/v1/predictions/{id}/acknowledge", s.handlePredictionAcknowledge)
	mux.HandleFunc("POST /api/v1/predictions/{id}/resolve", s.handlePredictionResolve)
	mux.HandleFunc("POST /api/v1/predictions/{id}/dismiss", s.handlePredictionDismiss)
	mux.HandleFunc("POST /api/v1/predictions/{id}/false-positive", s.handlePredictionFalsePositive)
	mux.HandleFunc("POST /api/v1/predictions/{id}/work-order", s.handlePredictionWorkOrder)

	mux.HandleFunc("PUT /api/v1/models", s.handleUpsertModel)
	mux.HandleFunc("GET /api/v1/models", s.handleListModels)
	mux.HandleFunc("POST /api/v1/models/{assetType}/train", s.handleTrainModel)

	mux.HandleFunc("POST /api/v1/assets/sync", s.handleSyncAssets)
	mux.HandleFunc("GET /api/v1/assets", s.handleListAssets)
	mux.HandleFunc("GET /api/v1/assets/{id}", s.handleGetAsset)
	mux.HandleFunc("GET /api/v1/assets/{id}/health", s.handleAssetHealth)
	mux.HandleFunc("GET /api/v1/assets/{id}/readings", s.handleReadingHistory)
	mux.HandleFunc("GET /api/v1/assets/{id}/readings/latest", s.handleLatestReadings)
	mux.HandleFunc("POST /api/v1/assets/{id}/predict", s.handleAssetPredict)
	mux.HandleFunc("GET /api/v1/assets/{id}/analytics/baseline", s.handleBaselineStats)
	mux.HandleFunc("GET /api/v1/assets/{id}/analytics/trend", s.handleReadingTrend)
	mux.HandleFunc("GET /api/v1/assets/{id}/remaining-life", s.handleRemainingLife)

	mux.HandleFunc("GET /api/v1/notifications", s.handleListNotifications)
}

func (s *Server) tenantID(r *http.Request) (uuid.UUID, error) {
	raw := tenantx.TenantIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, apperr.InvalidConfiguration("missing tenant context")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.InvalidConfiguration("invalid tenant id")
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue(name)))
	return id, err == nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(dst)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", message, nil)
}

// recordEvent writes a domain event through the outbox. Event loss here is
// logged, not surfaced; the triggering request already succeeded.
func (s *Server) recordEvent(r *http.Request, tenantID uuid.UUID, topic string, aggregateType string, aggregateID uuid.UUID, eventType string, payload any) {
	if s.Outbox == nil || s.Pool == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	envelope := events.Envelope{
		EventID:       uuid.New(),
		TenantID:      tenantID,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if _, err := s.Outbox.Insert(r.Context(), s.Pool, models.OutboxEvent{
		EventID:       envelope.EventID,
		TenantID:      tenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Topic:         topic,
		Payload:       envelopeJSON,
	}); err != nil {
		s.Logger.Warn(r.Context(), "event_record_failed", "failed to record outbox event")
	}
}
