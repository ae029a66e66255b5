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
	"predictive-maintenance-engine/api/internal/prediction"
	"predictive-maintenance-engine/api/internal/stats"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/clients/assetdir"
	"predictive-maintenance-engine/shared/httpx"
)

type modelRequest struct {
	AssetType      string  `json:"asset_type"`
	Name           string  `json:"name"`
	WeibullShape   float64 `json:"weibull_shape"`
	WeibullScale   float64 `json:"weibull_scale"`
	SmoothingAlpha float64 `json:"smoothing_alpha"`
	SmoothingBeta  float64 `json:"smoothing_beta"`
	ZThreshold     float64 `json:"z_threshold"`
}

func (s *Server) handleUpsertModel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	var req modelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	assetType := strings.TrimSpace(req.AssetType)
	if assetType == "" {
		httpx.WriteAppError(w, r, apperr.InvalidConfiguration("asset_type is required"))
		return
	}
	params := models.ModelParams{
		WeibullShape:   req.WeibullShape,
		WeibullScale:   req.WeibullScale,
		SmoothingAlpha: req.SmoothingAlpha,
		SmoothingBeta:  req.SmoothingBeta,
		ZThreshold:     req.ZThreshold,
	}
	if params.SmoothingAlpha <= 0 || params.SmoothingAlpha > 1 {
		params.SmoothingAlpha = stats.DefaultSmoothingAlpha
	}
	if params.SmoothingBeta <= 0 || params.SmoothingBeta > 1 {
		params.SmoothingBeta = stats.DefaultSmoothingBeta
	}
	if params.ZThreshold <= 0 {
		params.ZThreshold = s.Cfg.ZThreshold
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = assetType + " failure model"
	}

	saved, err := s.Models.Upsert(r.Context(), models.PredictionModel{
		TenantID:  tenantID,
		AssetType: assetType,
		Name:      name,
		Params:    params,
	})
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewModel(saved))
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	list, err := s.Models.List(r.Context(), tenantID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	views := make([]modelView, 0, len(list))
	for _, m := range list {
		views = append(views, viewModel(m))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"models": views})
}

type trainRequest struct {
	AssetIDs []uuid.UUID `json:"asset_ids"`
}

// handleTrainModel refits the asset type's Weibull parameters from the
// maintenance intervals of the named assets.
func (s *Server) handleTrainModel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	assetType := strings.TrimSpace(r.PathValue("assetType"))
	if assetType == "" {
		writeBadRequest(w, r, "invalid asset type")
		return
	}
	var req trainRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, r, "invalid request body")
		return
	}

	model, err := s.Models.GetByAssetType(r.Context(), tenantID, assetType)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	assetIDs := req.AssetIDs
	if len(assetIDs) == 0 {
		assets, err := s.Assets.List(r.Context(), tenantID, assetType, 500, 0)
		if err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		for _, a := range assets {
			assetIDs = append(assetIDs, a.AssetID)
		}
	}

	// Intervals are computed per asset; mixing completions across assets
	// would fabricate lifetimes that never happened.
	intervals := make([]float64, 0, 64)
	for _, assetID := range assetIDs {
		completions, err := s.Executions.CompletionTimes(r.Context(), tenantID, assetID, 200)
		if err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		intervals = append(intervals, prediction.IntervalsBetween(completions)...)
	}

	params, trained, err := prediction.Train(model.Params, intervals)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	now := time.Now().UTC()
	if err := s.Models.RecordTraining(r.Context(), tenantID, model.ModelID, params, trained, len(intervals), now); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	s.Logger.Info(r.Context(), "model_trained", "prediction model trained",
		slog.String("asset_type", assetType),
		slog.Int("samples", len(intervals)),
	)

	model.Params = params
	model.Stats = trained
	model.SampleCount = len(intervals)
	model.TrainedAt = &now
	httpx.WriteJSON(w, http.StatusOK, viewModel(model))
}

func (s *Server) handleRemainingLife(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	assetID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid asset id")
		return
	}
	asset, err := s.Assets.Get(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	model, err := s.Models.GetByAssetType(r.Context(), tenantID, asset.AssetType)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	now := time.Now().UTC()
	ageSince, err := assetAgeReference(asset, func() (*time.Time, error) {
		return s.Executions.LastCompletedAt(r.Context(), tenantID, assetID)
	})
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	ageDays := now.Sub(ageSince).Hours() / 24

	life, err := prediction.EstimateRemainingLife(model.Params, ageDays, now)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"asset_id":       assetID,
		"asset_type":     asset.AssetType,
		"age_days":       int(ageDays),
		"median_days":    life.MedianDays,
		"survival":       life.SurvivalNow,
		"hazard":         life.HazardNow,
		"estimated_end":  life.EstimatedEnd,
		"risk_tier":      prediction.RiskTierForRemainingLife(life.MedianDays, model.Params.WeibullScale),
		"weibull_shape":  model.Params.WeibullShape,
		"weibull_scale":  model.Params.WeibullScale,
		"model_trained":  model.TrainedAt,
		"sample_count":   model.SampleCount,
	})
}

// assetAgeReference picks the epoch the age is measured from: the last
// completed overhaul when one exists, the installation date otherwise.
func assetAgeReference(asset models.Asset, lastCompleted func() (*time.Time, error)) (time.Time, error) {
	last, err := lastCompleted()
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return last.UTC(), nil
	}
	if asset.InstalledAt != nil {
		return asset.InstalledAt.UTC(), nil
	}
	return time.Time{}, apperr.InvalidConfiguration("asset has no installation date or maintenance history")
}

func (s *Server) handleSyncAssets(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	if s.AssetDir == nil {
		httpx.WriteAppError(w, r, apperr.Unavailable("asset directory", errors.New("ASSETDIR_API_URL not configured")))
		return
	}

	synced := 0
	cursor := ""
	for {
		records, next, err := s.AssetDir.ListAssets(r.Context(), tenantID.String(), cursor)
		if err != nil {
			httpx.WriteAppError(w, r, apperr.Unavailable("asset directory", err))
			return
		}
		for _, rec := range records {
			asset, err := assetFromDirectory(tenantID, rec)
			if err != nil {
				s.Logger.Warn(r.Context(), "asset_sync_skipped", "skipping malformed asset record",
					slog.String("asset_id", rec.AssetID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if _, err := s.Assets.Upsert(r.Context(), asset); err != nil {
				httpx.WriteAppError(w, r, err)
				return
			}
			synced++
		}
		if next == "" {
			break
		}
		cursor = next
	}

	s.Logger.Info(r.Context(), "assets_synced", "asset directory synced",
		slog.Int("count", synced),
	)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"synced": synced})
}

func assetFromDirectory(tenantID uuid.UUID, rec assetdir.AssetRecord) (models.Asset, error) {
	id, err := uuid.Parse(rec.AssetID)
	if err != nil {
		return models.Asset{}, err
	}
	asset := models.Asset{
		AssetID:         id,
		TenantID:        tenantID,
		Code:            rec.Code,
		Name:            rec.Name,
		AssetType:       rec.AssetType,
		Criticality:     rec.Criticality,
		ReplacementCost: rec.ReplacementCost,
		CurrentMeter:    rec.CurrentMeter,
	}
	if rec.InstalledAt != nil {
		installed, err := time.Parse(time.RFC3339, *rec.InstalledAt)
		if err != nil {
			installed, err = time.Parse(time.DateOnly, *rec.InstalledAt)
		}
		if err != nil {
			return models.Asset{}, err
		}
		installed = installed.UTC()
		asset.InstalledAt = &installed
	}
	return asset, nil
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	assetType := strings.TrimSpace(r.URL.Query().Get("asset_type"))
	list, err := s.Assets.List(r.Context(), tenantID, assetType, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	views := make([]assetView, 0, len(list))
	for _, a := range list {
		views = append(views, viewAsset(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"assets": views})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	assetID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid asset id")
		return
	}
	asset, err := s.Assets.Get(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewAsset(asset))
}

// handleAssetHealth is the single-asset roll-up: compliance history, open
// predictions and reading coverage in one response.
func (s *Server) handleAssetHealth(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	assetID, ok := pathUUID(r, "id")
	if !ok {
		writeBadRequest(w, r, "invalid asset id")
		return
	}
	asset, err := s.Assets.Get(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	executions, err := s.Executions.ListByAsset(r.Context(), tenantID, assetID, 200)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	open, err := s.Predictions.ListOpenByAsset(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	readingCount, err := s.Readings.CountByAsset(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	highestTier := models.RiskTierLow
	for _, p := range open {
		if riskRank(p.RiskTier) > riskRank(highestTier) {
			highestTier = p.RiskTier
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"asset":            viewAsset(asset),
		"compliance":       compliance.Summarize(executions),
		"open_predictions": viewPredictions(open),
		"highest_risk":     highestTier,
		"health_score":     healthScore(open),
		"reading_count":    readingCount,
	})
}

// healthScore is 100 minus the highest open-prediction probability. An asset
// with nothing open scores a full 100.
func healthScore(open []models.Prediction) float64 {
	worst := 0.0
	for _, p := range open {
		if p.Probability > worst {
			worst = p.Probability
		}
	}
	score := 100 - worst
	if score < 0 {
		return 0
	}
	return score
}

func riskRank(tier string) int {
	switch tier {
	case models.RiskTierCritical:
		return 4
	case models.RiskTierHigh:
		return 3
	case models.RiskTierMedium:
		return 2
	default:
		return 1
	}
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	eventType := strings.TrimSpace(r.URL.Query().Get("event_type"))
	list, err := s.Notifications.ListByTenant(r.Context(), tenantID, eventType, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	views := make([]notificationView, 0, len(list))
	for _, n := range list {
		views = append(views, viewNotification(n))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": views})
}
