package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/anomaly"
	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/prediction"
	"predictive-maintenance-engine/api/internal/stats"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/metricsx"
)

type readingRequest struct {
	AssetID     uuid.UUID  `json:"asset_id"`
	ReadingType string     `json:"reading_type"`
	Kind        string     `json:"kind"`
	Value       float64    `json:"value"`
	Unit        string     `json:"unit"`
	RecordedAt  *time.Time `json:"recorded_at"`
}

func (req readingRequest) toModel(tenantID uuid.UUID) (models.Reading, error) {
	rd := models.Reading{
		TenantID:    tenantID,
		AssetID:     req.AssetID,
		ReadingType: strings.ToLower(strings.TrimSpace(req.ReadingType)),
		Kind:        strings.TrimSpace(req.Kind),
		Value:       req.Value,
		Unit:        strings.TrimSpace(req.Unit),
	}
	if req.RecordedAt != nil {
		rd.RecordedAt = req.RecordedAt.UTC()
	}
	if rd.AssetID == uuid.Nil {
		return rd, apperr.InvalidConfiguration("asset_id is required")
	}
	if rd.Kind == "" {
		return rd, apperr.InvalidConfiguration("kind is required")
	}
	if rd.ReadingType == "" {
		rd.ReadingType = models.ReadingTypeSensor
	}
	if rd.ReadingType != models.ReadingTypeMeter && rd.ReadingType != models.ReadingTypeSensor {
		return rd, apperr.InvalidConfiguration("reading_type must be meter or sensor")
	}
	return rd, nil
}

func (s *Server) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	var req readingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	rd, err := req.toModel(tenantID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}

	// Detect against the baseline before the insert so the candidate does not
	// dilute its own reference window.
	verdict, verdictOK := s.detect(r, rd)

	inserted, err := s.Readings.Insert(r.Context(), rd)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	s.afterIngest(r, inserted, verdict, verdictOK)

	resp := map[string]any{
		"reading_id":  inserted.ReadingID,
		"asset_id":    inserted.AssetID,
		"kind":        inserted.Kind,
		"value":       inserted.Value,
		"recorded_at": inserted.RecordedAt,
	}
	if verdictOK {
		resp["anomaly"] = verdict
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

type bulkReadingsRequest struct {
	Readings []readingRequest `json:"readings"`
}

func (s *Server) handleIngestReadingsBulk(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenantID(r)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	var req bulkReadingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	if len(req.Readings) == 0 {
		writeBadRequest(w, r, "readings must not be empty")
		return
	}
	if len(req.Readings) > 1000 {
		writeBadRequest(w, r, "at most 1000 readings per batch")
		return
	}

	batch := make([]models.Reading, 0, len(req.Readings))
	for i, item := range req.Readings {
		rd, err := item.toModel(tenantID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusUnprocessableEntity, "INVALID_CONFIGURATION",
				"invalid reading in batch", map[string]any{"index": i, "reason": err.Error()})
			return
		}
		batch = append(batch, rd)
	}

	// One baseline query per (asset, kind) pair; every reading in the batch is
	// judged against the state before the batch landed.
	type pair struct {
		asset uuid.UUID
		kind  string
	}
	baselines := make(map[pair][]float64)
	flagged := 0
	for _, rd := range batch {
		key := pair{rd.AssetID, rd.Kind}
		baseline, ok := baselines[key]
		if !ok {
			baseline, err = s.Readings.Baseline(r.Context(), tenantID, rd.AssetID, rd.Kind, s.baselineWindow())
			if err != nil {
				httpx.WriteAppError(w, r, err)
				return
			}
			baselines[key] = baseline
		}
		verdict, err := s.Detector.Detect(baseline, rd.Value)
		if err != nil {
			continue
		}
		if verdict.Flagged {
			flagged++
			s.noteAnomaly(r, rd, verdict)
		}
	}

	if err := s.Readings.InsertBatch(r.Context(), batch); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	for _, rd := range batch {
		s.mirrorReading(r, rd)
		if rd.ReadingType == models.ReadingTypeMeter {
			s.bumpAssetMeter(r, rd)
		}
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"accepted": len(batch),
		"flagged":  flagged,
	})
}

// detect runs the anomaly detector for one incoming reading. A thin baseline is
// expected early in an asset's life and is not an ingest error.
func (s *Server) detect(r *http.Request, rd models.Reading) (anomaly.Verdict, bool) {
	baseline, err := s.Readings.Baseline(r.Context(), rd.TenantID, rd.AssetID, rd.Kind, s.baselineWindow())
	if err != nil {
		s.Logger.Warn(r.Context(), "baseline_load_failed", "failed to load baseline",
			slog.String("asset_id", rd.AssetID.String()),
			slog.String("kind", rd.Kind),
			slog.String("error", err.Error()),
		)
		return anomaly.Verdict{}, false
	}
	verdict, err := s.Detector.Detect(baseline, rd.Value)
	if err != nil {
		return anomaly.Verdict{}, false
	}
	return verdict, true
}

func (s *Server) afterIngest(r *http.Request, rd models.Reading, verdict anomaly.Verdict, verdictOK bool) {
	s.mirrorReading(r, rd)
	if rd.ReadingType == models.ReadingTypeMeter {
		s.bumpAssetMeter(r, rd)
	}
	if verdictOK && verdict.Flagged {
		s.noteAnomaly(r, rd, verdict)
	}
}

func (s *Server) noteAnomaly(r *http.Request, rd models.Reading, verdict anomaly.Verdict) {
	metricsx.IncAnomalyDetected(verdict.Severity)
	s.recordEvent(r, rd.TenantID, events.TopicAnomalyAlerts, "reading", rd.ReadingID, events.EventAnomalyDetected, map[string]any{
		"asset_id":  rd.AssetID,
		"kind":      rd.Kind,
		"value":     rd.Value,
		"verdict":   verdict,
		"narrative": anomaly.Narrative(rd.Kind, rd.Value, verdict),
	})
	s.openAnomalyPrediction(r, rd, verdict)
}

// anomalyPrediction builds the prediction opened when a flagged reading is
// severe enough to need operator attention.
func anomalyPrediction(rd models.Reading, verdict anomaly.Verdict) models.Prediction {
	probability := prediction.AnomalyProbability(verdict.Severity)
	tier := prediction.RiskTier(probability)
	return models.Prediction{
		TenantID:    rd.TenantID,
		AssetID:     rd.AssetID,
		Kind:        models.PredictionKindAnomaly,
		Narrative:   anomaly.Narrative(rd.Kind, rd.Value, verdict),
		Probability: probability,
		Confidence:  prediction.ConfidenceScore(verdict.Samples, 0),
		RiskTier:    tier,
		Factors: []models.PredictionFactor{{
			Name:         "anomaly_severity",
			Weight:       100,
			Contribution: probability,
			Value:        verdict.ZScore,
			Description:  fmt.Sprintf("%s reading flagged %s against its baseline", rd.Kind, verdict.Severity),
		}},
		RecommendedAction: prediction.RecommendedAction(tier),
	}
}

// openAnomalyPrediction records a flagged reading as an open anomaly
// prediction. The ingest already succeeded, so failures here are logged and
// swallowed. At most one anomaly prediction stays open per asset.
func (s *Server) openAnomalyPrediction(r *http.Request, rd models.Reading, verdict anomaly.Verdict) {
	candidate := anomalyPrediction(rd, verdict)
	if candidate.Probability <= 0 {
		return
	}
	open, err := s.Predictions.HasOpenOfKind(r.Context(), rd.TenantID, rd.AssetID, models.PredictionKindAnomaly)
	if err != nil || open {
		if err != nil {
			s.Logger.Warn(r.Context(), "anomaly_prediction_check_failed", "failed to check open anomaly predictions",
				slog.String("asset_id", rd.AssetID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	created, err := s.Predictions.Insert(r.Context(), candidate)
	if err != nil {
		s.Logger.Warn(r.Context(), "anomaly_prediction_failed", "failed to open anomaly prediction",
			slog.String("asset_id", rd.AssetID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	metricsx.IncPredictionCreated(created.Kind, created.RiskTier)
	s.recordEvent(r, rd.TenantID, events.TopicPredictions, "prediction", created.PredictionID, events.EventPredictionCreated, created)
	s.Logger.Info(r.Context(), "prediction_created", "anomaly prediction opened",
		slog.String("prediction_id", created.PredictionID.String()),
		slog.String("asset_id", rd.AssetID.String()),
		slog.String("risk_tier", created.RiskTier),
		slog.String("severity", verdict.Severity),
	)
}

// mirrorReading copies the reading into the time-series store. The relational
// copy is pruned on a retention schedule; Influx keeps the long history.
func (s *Server) mirrorReading(r *http.Request, rd models.Reading) {
	if s.Influx == nil {
		return
	}
	err := s.Influx.WritePoint(r.Context(), "asset_readings",
		map[string]string{
			"tenant_id": rd.TenantID.String(),
			"asset_id":  rd.AssetID.String(),
			"kind":      rd.Kind,
		},
		map[string]any{"value": rd.Value},
		rd.RecordedAt,
	)
	if err != nil {
		metricsx.IncInfluxWriteFailure()
		s.Logger.Warn(r.Context(), "influx_write_failed", "failed to mirror reading",
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) bumpAssetMeter(r *http.Request, rd models.Reading) {
	if err := s.Assets.UpdateMeter(r.Context(), rd.TenantID, rd.AssetID, rd.Value); err != nil {
		s.Logger.Warn(r.Context(), "asset_meter_update_failed", "failed to update asset meter",
			slog.String("asset_id", rd.AssetID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) baselineWindow() int {
	if s.Cfg.BaselineWindow > 0 {
		return s.Cfg.BaselineWindow
	}
	return anomaly.DefaultBaselineWindow
}

func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
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
	latest, err := s.Readings.Latest(r.Context(), tenantID, assetID)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"asset_id": assetID,
		"latest":   latest,
	})
}

func (s *Server) handleReadingHistory(w http.ResponseWriter, r *http.Request) {
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
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind == "" {
		writeBadRequest(w, r, "kind is required")
		return
	}
	sinceDays := queryInt(r, "since_days", 30)
	if sinceDays <= 0 {
		sinceDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -sinceDays)
	series, err := s.Readings.Series(r.Context(), tenantID, assetID, kind, since, queryInt(r, "limit", 1000))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"asset_id":   assetID,
		"kind":       kind,
		"since_days": sinceDays,
		"readings":   viewReadings(series),
	})
}

func (s *Server) handleBaselineStats(w http.ResponseWriter, r *http.Request) {
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
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind == "" {
		writeBadRequest(w, r, "kind is required")
		return
	}
	window := queryInt(r, "window", s.baselineWindow())
	baseline, err := s.Readings.Baseline(r.Context(), tenantID, assetID, kind, window)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	summary, err := stats.Describe(baseline)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"asset_id": assetID,
		"kind":     kind,
		"window":   window,
		"count":    summary.Count,
		"mean":     summary.Mean,
		"std_dev":  summary.StdDev,
		"min":      summary.Min,
		"max":      summary.Max,
		"q1":       summary.Q1,
		"median":   summary.Median,
		"q3":       summary.Q3,
		"iqr":      summary.IQR,
	})
}

func (s *Server) handleReadingTrend(w http.ResponseWriter, r *http.Request) {
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
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind == "" {
		writeBadRequest(w, r, "kind is required")
		return
	}
	sinceDays := queryInt(r, "since_days", 30)
	if sinceDays <= 0 {
		sinceDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -sinceDays)

	series, err := s.Readings.Series(r.Context(), tenantID, assetID, kind, since, queryInt(r, "limit", 1000))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	values := make([]float64, 0, len(series))
	for _, rd := range series {
		values = append(values, rd.Value)
	}
	state, err := stats.DoubleExponential(values, stats.DefaultSmoothingAlpha, stats.DefaultSmoothingBeta)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	horizon := queryInt(r, "horizon", 10)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"asset_id":  assetID,
		"kind":      kind,
		"points":    len(values),
		"level":     state.Level,
		"trend":     state.Trend,
		"direction": state.Direction(stats.DefaultTrendThreshold),
		"forecast":  state.Forecast(horizon),
		"horizon":   horizon,
	})
}
