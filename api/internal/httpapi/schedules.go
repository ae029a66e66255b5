package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/compliance"
	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/trigger"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/metricsx"
)

type scheduleRequest struct {
	AssetID              uuid.UUID              `json:"asset_id"`
	Name                 string                 `json:"name"`
	Description          string                 `json:"description"`
	TriggerKind          string                 `json:"trigger_kind"`
	FrequencyUnit        string                 `json:"frequency_unit"`
	FrequencyMultiplier  int                    `json:"frequency_multiplier"`
	CustomIntervalDays   int                    `json:"custom_interval_days"`
	StartDate            string                 `json:"start_date"`
	LeadDays             int                    `json:"lead_days"`
	OverdueThresholdDays int                    `json:"overdue_threshold_days"`
	MeterKind            string                 `json:"meter_kind"`
	MeterInterval        float64                `json:"meter_interval"`
	LastMeterReading     float64                `json:"last_meter_reading"`
	ConditionRules       []models.ConditionRule `json:"condition_rules"`
	Checklist            []string               `json:"checklist"`
	Priority             string                 `json:"priority"`
	AssigneeID           *uuid.UUID             `json:"assignee_id"`
	Active               *bool                  `json:"active"`
}

func (req scheduleRequest) apply(s models.Schedule) (models.Schedule, error) {
	s.AssetID = req.AssetID
	s.Name = strings.TrimSpace(req.Name)
	s.Description = strings.TrimSpace(req.Description)
	s.TriggerKind = strings.ToLower(strings.TrimSpace(req.TriggerKind))
	s.FrequencyUnit = strings.ToLower(strings.TrimSpace(req.FrequencyUnit))
	s.FrequencyMultiplier = req.FrequencyMultiplier
	s.CustomIntervalDays = req.CustomIntervalDays
	s.LeadDays = req.LeadDays
	s.OverdueThresholdDays = req.OverdueThresholdDays
	s.MeterKind = strings.TrimSpace(req.MeterKind)
	s.MeterInterval = req.MeterInterval
	s.ConditionRules = req.ConditionRules
	s.Checklist = req.Checklist
	s.Priority = strings.ToLower(strings.TrimSpace(req.Priority))
	s.AssigneeID = req.AssigneeID
	if s.Priority == "" {
		s.Priority = models.PriorityMedium
	}
	if s.FrequencyMultiplier <= 0 {
		s.FrequencyMultiplier = 1
	}
	if req.Active != nil {
		s.Active = *req.Active
	}
	if raw := strings.TrimSpace(req.StartDate); raw != "" {
		start, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			start, err = time.Parse(time.RFC3339, raw)
		}
		if err != nil {
			return s, err
		}
		s.StartDate = start.UTC()
	}
	return s, nil
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}

	sched := models.Schedule{TenantID: tenantID, Active: true}
	sched, err = req.apply(sched)
	if err != nil {
		writeBadRequest(w, r, "invalid start_date")
		return
	}
	sched.LastMeterReading = req.LastMeterReading
	if err := trigger.ValidateSchedule(sched); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	nextDue, err := trigger.InitialNextDue(sched)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	sched.NextDueAt = nextDue
	if sched.MeterKind != "" && sched.MeterInterval > 0 {
		sched.NextMeterDue = trigger.AdvanceMeterDue(sched.LastMeterReading, sched.MeterInterval)
	}

	created, err := s.Schedules.Create(r.Context(), sched)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	s.Logger.Info(r.Context(), "schedule_created", "schedule created",
		slog.String("schedule_id", created.ScheduleID.String()),
		slog.String("trigger_kind", created.TriggerKind),
	)
	httpx.WriteJSON(w, http.StatusCreated, viewSchedule(created))
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	scheduleID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid schedule id")
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}

	existing, err := s.Schedules.Get(r.Context(), tenantID, scheduleID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	updated, err := req.apply(existing)
	if err != nil {
		writeBadRequest(w, r, "invalid start_date")
		return
	}
	if err := trigger.ValidateSchedule(updated); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	// Recompute the due state only when the rule it derives from changed;
	// otherwise the accumulated cadence is preserved.
	if timeRuleChanged(existing, updated) {
		nextDue, err := trigger.InitialNextDue(updated)
		if err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		updated.NextDueAt = nextDue
	}
	if existing.MeterKind != updated.MeterKind || existing.MeterInterval != updated.MeterInterval {
		if updated.MeterKind != "" && updated.MeterInterval > 0 {
			updated.NextMeterDue = trigger.AdvanceMeterDue(updated.LastMeterReading, updated.MeterInterval)
		} else {
			updated.NextMeterDue = 0
		}
	}

	saved, err := s.Schedules.Update(r.Context(), updated)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewSchedule(saved))
}

func timeRuleChanged(a models.Schedule, b models.Schedule) bool {
	return a.TriggerKind != b.TriggerKind ||
		a.FrequencyUnit != b.FrequencyUnit ||
		a.FrequencyMultiplier != b.FrequencyMultiplier ||
		a.CustomIntervalDays != b.CustomIntervalDays ||
		!a.StartDate.Equal(b.StartDate)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	scheduleID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid schedule id")
		return
	}
	sched, err := s.Schedules.Get(r.Context(), tenantID, scheduleID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewSchedule(sched))
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	activeOnly := strings.EqualFold(r.URL.Query().Get("active"), "true")
	list, err := s.Schedules.ListByTenant(r.Context(), tenantID, activeOnly, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"schedules": viewSchedules(list)})
}

func (s *Server) handleUpcomingSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	days := queryInt(r, "days", s.Cfg.UpcomingHorizonDays)
	if days <= 0 {
		days = s.Cfg.UpcomingHorizonDays
	}
	horizon := time.Duration(days) * 24 * time.Hour
	list, err := s.Schedules.ListUpcoming(r.Context(), tenantID, time.Now().UTC(), horizon, queryInt(r, "limit", 100))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"horizon_days": days,
		"schedules":    viewSchedules(list),
	})
}

func (s *Server) handleActivateSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleActive(w, r, true)
}

func (s *Server) handleDeactivateSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleActive(w, r, false)
}

func (s *Server) setScheduleActive(w http.ResponseWriter, r *http.Request, active bool) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	scheduleID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid schedule id")
		return
	}
	if err := s.Schedules.SetActive(r.Context(), tenantID, scheduleID, active); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"schedule_id": scheduleID,
		"active":      active,
	})
}

func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	scheduleID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid schedule id")
		return
	}
	sched, err := s.Schedules.Get(r.Context(), tenantID, scheduleID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	record, err := s.Generator.GenerateManual(r.Context(), sched, time.Now().UTC())
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	metricsx.IncWorkOrderGenerated(models.ReasonManual)
	httpx.WriteJSON(w, http.StatusCreated, viewExecution(record))
}

func (s *Server) handleScheduleExecutions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	scheduleID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid schedule id")
		return
	}
	list, err := s.Executions.ListBySchedule(r.Context(), tenantID, scheduleID, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"executions": viewExecutions(list)})
}

func (s *Server) handleScheduleCompliance(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	scheduleID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid schedule id")
		return
	}
	records, err := s.Executions.ListBySchedule(r.Context(), tenantID, scheduleID, 500, 0)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"schedule_id": scheduleID,
		"metrics":     compliance.Summarize(records),
	})
}

func (s *Server) handleListOpenExecutions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	list, err := s.Executions.ListOpen(r.Context(), tenantID, queryInt(r, "limit", 100))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"executions": viewExecutions(list)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	executionID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid execution id")
		return
	}
	record, err := s.Executions.Get(r.Context(), tenantID, executionID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewExecution(record))
}

type completeExecutionRequest struct {
	CompletedAt *time.Time `json:"completed_at"`
	Notes       string     `json:"notes"`
}

func (s *Server) handleCompleteExecution(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	executionID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid execution id")
		return
	}
	var req completeExecutionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	completedAt := time.Now().UTC()
	if req.CompletedAt != nil {
		completedAt = req.CompletedAt.UTC()
	}

	record, err := s.Executions.Get(r.Context(), tenantID, executionID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	// Prediction-driven executions have no schedule, hence no overdue
	// threshold; any completion counts as on time.
	thresholdDays := 0
	if record.ScheduleID != nil {
		sched, err := s.Schedules.Get(r.Context(), tenantID, *record.ScheduleID)
		if err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		thresholdDays = sched.OverdueThresholdDays
	}

	outcome := compliance.Complete(record.ScheduledAt, completedAt, thresholdDays)
	completed, err := s.Executions.Complete(r.Context(), tenantID, executionID, completedAt, outcome.Status, outcome.DaysOverdue)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	if completed.ScheduleID != nil {
		if err := s.Schedules.BumpCompleted(r.Context(), tenantID, *completed.ScheduleID); err != nil {
			s.Logger.Warn(r.Context(), "bump_completed_failed", "failed to bump completed count",
				slog.String("schedule_id", completed.ScheduleID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.recordEvent(r, tenantID, events.TopicCompliance, "execution", completed.ExecutionID, events.EventExecutionCompleted, viewExecution(completed))
	httpx.WriteJSON(w, http.StatusOK, viewExecution(completed))
}

func (s *Server) handleComplianceSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	days := queryInt(r, "days", 365)
	if days <= 0 {
		days = 365
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	records, err := s.Executions.ListByTenant(r.Context(), tenantID, since, 5000)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"window_days": days,
		"metrics":     compliance.Summarize(records),
	})
}
