package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/api/internal/workflow"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/authx"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/metricsx"
)

const dashboardCacheTTL = 30 * time.Second

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	status := workflow.NormalizeStatus(r.URL.Query().Get("status"))
	riskTier := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("risk_tier")))
	list, err := s.Predictions.List(r.Context(), tenantID, status, riskTier, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"predictions": viewPredictions(list)})
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	predictionID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid prediction id")
		return
	}
	p, err := s.Predictions.Get(r.Context(), tenantID, predictionID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewPrediction(p))
}

func (s *Server) handlePredictionAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.transitionPrediction(w, r, workflow.PredictionStatusAcknowledged)
}

func (s *Server) handlePredictionResolve(w http.ResponseWriter, r *http.Request) {
	s.transitionPrediction(w, r, workflow.PredictionStatusResolved)
}

func (s *Server) handlePredictionDismiss(w http.ResponseWriter, r *http.Request) {
	s.transitionPrediction(w, r, workflow.PredictionStatusDismissed)
}

func (s *Server) handlePredictionFalsePositive(w http.ResponseWriter, r *http.Request) {
	s.transitionPrediction(w, r, workflow.PredictionStatusFalsePositive)
}

func (s *Server) transitionPrediction(w http.ResponseWriter, r *http.Request, toStatus string) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	predictionID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid prediction id")
		return
	}
	p, err := s.Predictions.Get(r.Context(), tenantID, predictionID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	if p.Status == toStatus {
		httpx.WriteJSON(w, http.StatusOK, viewPrediction(p))
		return
	}
	if !workflow.CanTransition(p.Status, toStatus) {
		httpx.WriteAppError(w, r, apperr.Conflict(
			fmt.Sprintf("cannot move prediction from %s to %s", p.Status, toStatus)))
		return
	}

	updated, err := s.Predictions.Transition(r.Context(), tenantID, predictionID, p.Status, toStatus, s.actor(r), time.Now().UTC())
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	s.invalidateDashboard(r, tenantID)

	if eventType := workflow.EventTypeForTransition(p.Status, toStatus); eventType != "" {
		s.recordEvent(r, tenantID, events.TopicPredictions, "prediction", updated.PredictionID, eventType, viewPrediction(updated))
	}
	httpx.WriteJSON(w, http.StatusOK, viewPrediction(updated))
}

// handlePredictionWorkOrder converts an open prediction into a work order. The
// prediction moves to work_order_created and keeps the reference.
func (s *Server) handlePredictionWorkOrder(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	predictionID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid prediction id")
		return
	}
	p, err := s.Predictions.Get(r.Context(), tenantID, predictionID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	if !workflow.CanTransition(p.Status, workflow.PredictionStatusWorkOrderCreated) {
		httpx.WriteAppError(w, r, apperr.Conflict(
			fmt.Sprintf("cannot create work order for prediction in status %s", p.Status)))
		return
	}

	record, err := s.Generator.GenerateFromPrediction(r.Context(), p, time.Now().UTC())
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	metricsx.IncWorkOrderGenerated(record.TriggerReason)

	if err := s.Predictions.AttachWorkOrder(r.Context(), tenantID, predictionID, record.WorkOrderRef); err != nil {
		s.Logger.Warn(r.Context(), "attach_work_order_failed", "failed to attach work order ref",
			slog.String("prediction_id", predictionID.String()),
			slog.String("error", err.Error()),
		)
	}
	updated, err := s.Predictions.Transition(r.Context(), tenantID, predictionID, p.Status, workflow.PredictionStatusWorkOrderCreated, s.actor(r), time.Now().UTC())
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	s.invalidateDashboard(r, tenantID)
	s.recordEvent(r, tenantID, events.TopicPredictions, "prediction", updated.PredictionID,
		workflow.PredictionEventWorkOrderCreated, viewPrediction(updated))

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"prediction": viewPrediction(updated),
		"execution":  viewExecution(record),
	})
}

func (s *Server) handlePredictionDashboard(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	cacheKey := dashboardCacheKey(tenantID)
	if s.Cache != nil {
		var cached map[string]any
		if hit, err := s.Cache.GetJSON(r.Context(), cacheKey, &cached); err == nil && hit {
			httpx.WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	counts, err := s.Predictions.Dashboard(r.Context(), tenantID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	payload := dashboardPayload(counts)
	if s.Cache != nil {
		if err := s.Cache.SetJSON(r.Context(), cacheKey, payload, dashboardCacheTTL); err != nil {
			s.Logger.Warn(r.Context(), "dashboard_cache_failed", "failed to cache dashboard",
				slog.String("error", err.Error()),
			)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func dashboardPayload(counts repos.DashboardCounts) map[string]any {
	return map[string]any{
		"open":              counts.Open,
		"by_risk_tier":      counts.ByRiskTier,
		"by_status":         counts.ByStatus,
		"avg_confidence":    counts.AvgConfidence,
		"anomalies_24h":     counts.Anomalies24h,
		"potential_savings": counts.PotentialSavings,
		"model_accuracy":    counts.ModelAccuracy,
	}
}

func dashboardCacheKey(tenantID uuid.UUID) string {
	return "dashboard:predictions:" + tenantID.String()
}

func (s *Server) invalidateDashboard(r *http.Request, tenantID uuid.UUID) {
	if s.Cache == nil {
		return
	}
	_ = s.Cache.Delete(r.Context(), dashboardCacheKey(tenantID))
}

// actor resolves the acting user from the verified token, when the subject is
// a user id.
func (s *Server) actor(r *http.Request) *uuid.UUID {
	auth, ok := authx.FromContext(r.Context())
	if !ok {
		return nil
	}
	id, err := uuid.Parse(auth.Subject)
	if err != nil {
		return nil
	}
	return &id
}
