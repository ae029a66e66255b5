package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/trigger"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/metricsx"
)

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
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
	if err := s.Schedules.Delete(r.Context(), tenantID, scheduleID); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	s.Logger.Info(r.Context(), "schedule_deleted", "schedule deleted",
		slog.String("schedule_id", scheduleID.String()),
	)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"schedule_id": scheduleID,
		"deleted":     true,
	})
}

func (s *Server) handleOverdueSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	list, err := s.Schedules.ListOverdue(r.Context(), tenantID, time.Now().UTC(), queryInt(r, "limit", 100))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"schedules": viewSchedules(list)})
}

type sweepSummary struct {
	Evaluated int `json:"evaluated"`
	Fired     int `json:"fired"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

func (s *Server) handleMeterSweep(w http.ResponseWriter, r *http.Request) {
	s.runTenantSweep(w, r, models.ReasonMeterTrigger, s.Schedules.ListMeterByTenant)
}

func (s *Server) handleConditionSweep(w http.ResponseWriter, r *http.Request) {
	s.runTenantSweep(w, r, models.ReasonConditionTrigger, s.Schedules.ListConditionByTenant)
}

// runTenantSweep is the on-demand counterpart of the periodic sweeps, scoped to
// the caller's tenant. Per-schedule failures are counted, not surfaced; the
// sweep itself always completes.
func (s *Server) runTenantSweep(w http.ResponseWriter, r *http.Request, reason string, list func(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Schedule, error)) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	schedules, err := list(r.Context(), tenantID, queryInt(r, "limit", 500))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	now := time.Now().UTC()
	var summary sweepSummary
	for _, sched := range schedules {
		summary.Evaluated++
		latest, err := s.Readings.Latest(r.Context(), tenantID, sched.AssetID)
		if err != nil {
			summary.Errors++
			continue
		}
		decision, err := trigger.Evaluate(sched, now, latest)
		if err != nil {
			summary.Errors++
			continue
		}
		for _, firing := range decision.Firings {
			if firing.Reason != reason {
				continue
			}
			if _, err := s.Generator.Generate(r.Context(), sched, firing, now); err != nil {
				if errors.Is(err, apperr.ErrConflict) {
					metricsx.IncDedupConflict(reason)
					summary.Conflicts++
				} else {
					s.Logger.Error(r.Context(), "manual_sweep_item_failed", "failed to fire schedule",
						slog.String("error_code", "INTERNAL_ERROR"),
						slog.String("schedule_id", sched.ScheduleID.String()),
						slog.String("reason", reason),
						slog.String("error", err.Error()),
					)
					summary.Errors++
				}
				continue
			}
			metricsx.IncWorkOrderGenerated(reason)
			summary.Fired++
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"reason":  reason,
		"summary": summary,
	})
}

type meterNearDueEntry struct {
	Schedule    scheduleView `json:"schedule"`
	MeterKind   string       `json:"meter_kind"`
	LatestValue float64      `json:"latest_value"`
	ProgressPct float64      `json:"progress_pct"`
}

// handleMeterNearDue lists meter schedules whose latest reading is within the
// given percentage of the next threshold.
func (s *Server) handleMeterNearDue(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	percent := queryInt(r, "percent", 10)
	if percent < 1 || percent > 100 {
		writeBadRequest(w, r, "percent must be between 1 and 100")
		return
	}
	schedules, err := s.Schedules.ListMeterByTenant(r.Context(), tenantID, queryInt(r, "limit", 500))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	cutoff := 1 - float64(percent)/100
	entries := make([]meterNearDueEntry, 0, len(schedules))
	for _, sched := range schedules {
		latest, err := s.Readings.Latest(r.Context(), tenantID, sched.AssetID)
		if err != nil {
			continue
		}
		value, ok := latest[sched.MeterKind]
		if !ok {
			continue
		}
		progress := trigger.MeterProgress(sched, value)
		if progress < cutoff {
			continue
		}
		entries = append(entries, meterNearDueEntry{
			Schedule:    viewSchedule(sched),
			MeterKind:   sched.MeterKind,
			LatestValue: value,
			ProgressPct: math.Round(progress * 1000) / 10,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"percent":   percent,
		"schedules": entries,
	})
}
