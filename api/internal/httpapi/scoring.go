package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/prediction"
	"predictive-maintenance-engine/api/internal/stats"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/metricsx"
)

// Recent windows for the on-demand failure score. They mirror the nightly
// analytics batch so an ad-hoc request and the sweep agree on the same asset.
const (
	scoreTrendLookbackDays = 30
	scoreSeriesLimit       = 200
	scoreAnomalyTail       = 20
	scoreWorkOrderLookback = 90 * 24 * time.Hour
)

// handleAssetPredict scores one asset's failure risk on demand. A prediction
// is opened only when the risk is at least medium and no failure prediction
// is already open; the score itself is always returned.
func (s *Server) handleAssetPredict(w http.ResponseWriter, r *http.Request) {
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

	now := time.Now().UTC()
	totalReadings, err := s.Readings.CountByAsset(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	series, err := s.longestSeries(r, asset, now)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	inputs := prediction.FailureInputs{
		AnomalyRate:   s.Detector.ReplayRate(series, scoreAnomalyTail),
		Criticality:   asset.Criticality,
		TotalReadings: totalReadings,
	}
	if state, err := stats.DoubleExponential(series, stats.DefaultSmoothingAlpha, stats.DefaultSmoothingBeta); err == nil {
		inputs.TrendDirection = state.Direction(stats.DefaultTrendThreshold)
		inputs.TrendPoints = len(series)
	}

	lastCompleted, err := s.Executions.LastCompletedAt(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	switch {
	case lastCompleted != nil:
		inputs.DaysSinceMaintenance = now.Sub(*lastCompleted).Hours() / 24
	case asset.InstalledAt != nil:
		inputs.DaysSinceMaintenance = now.Sub(*asset.InstalledAt).Hours() / 24
	}
	inputs.RecentWorkOrders, err = s.Executions.CountRecentByAsset(r.Context(), tenantID, assetID, now.Add(-scoreWorkOrderLookback))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	score := prediction.ScoreFailure(inputs)
	resp := map[string]any{
		"asset_id":           assetID,
		"probability":        score.Probability,
		"confidence":         score.Confidence,
		"risk_tier":          score.RiskTier,
		"factors":            score.Factors,
		"recommended_action": prediction.RecommendedAction(score.RiskTier),
	}

	if score.RiskTier != models.RiskTierLow {
		open, err := s.Predictions.HasOpenOfKind(r.Context(), tenantID, assetID, models.PredictionKindFailure)
		if err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		if !open {
			created, err := s.Predictions.Insert(r.Context(), models.Prediction{
				TenantID:          tenantID,
				AssetID:           assetID,
				Kind:              models.PredictionKindFailure,
				Narrative:         prediction.FailureNarrative(asset.Name, asset.Code, score),
				Probability:       score.Probability,
				Confidence:        score.Confidence,
				RiskTier:          score.RiskTier,
				Factors:           score.Factors,
				RecommendedAction: prediction.RecommendedAction(score.RiskTier),
				CostEstimate:      asset.ReplacementCost * score.Probability / 100,
			})
			if err != nil {
				httpx.WriteAppError(w, r, err)
				return
			}
			metricsx.IncPredictionCreated(models.PredictionKindFailure, score.RiskTier)
			s.recordEvent(r, tenantID, events.TopicPredictions, "prediction", created.PredictionID, events.EventPredictionCreated, created)
			s.Logger.Info(r.Context(), "prediction_created", "failure prediction created",
				slog.String("asset_id", assetID.String()),
				slog.String("risk_tier", score.RiskTier),
				slog.Float64("probability", score.Probability),
			)
			resp["prediction"] = viewPrediction(created)
		}
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

// longestSeries returns the values of the asset's most sampled reading kind,
// oldest first.
func (s *Server) longestSeries(r *http.Request, asset models.Asset, now time.Time) ([]float64, error) {
	latest, err := s.Readings.Latest(r.Context(), asset.TenantID, asset.AssetID)
	if err != nil {
		return nil, err
	}
	since := now.AddDate(0, 0, -scoreTrendLookbackDays)
	var longest []float64
	for kind := range latest {
		series, err := s.Readings.Series(r.Context(), asset.TenantID, asset.AssetID, kind, since, scoreSeriesLimit)
		if err != nil {
			return nil, err
		}
		if len(series) <= len(longest) {
			continue
		}
		values := make([]float64, len(series))
		for i, reading := range series {
			values[i] = reading.Value
		}
		longest = values
	}
	return longest, nil
}
