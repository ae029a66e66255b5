package httpapi

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/anomaly"
	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/api/internal/stats"
	"predictive-maintenance-engine/shared/apperr"
)

func TestScheduleRequestApply(t *testing.T) {
	req := scheduleRequest{
		AssetID:       uuid.New(),
		Name:          "  Quarterly overhaul  ",
		TriggerKind:   "Time",
		FrequencyUnit: "Quarterly",
		StartDate:     "2026-01-15",
	}
	s, err := req.apply(models.Schedule{TenantID: uuid.New(), Active: true})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Name != "Quarterly overhaul" {
		t.Fatalf("name not trimmed: %q", s.Name)
	}
	if s.TriggerKind != models.TriggerKindTime || s.FrequencyUnit != models.FrequencyQuarterly {
		t.Fatalf("kind/unit not normalized: %q %q", s.TriggerKind, s.FrequencyUnit)
	}
	if s.Priority != models.PriorityMedium {
		t.Fatalf("expected default priority medium, got %q", s.Priority)
	}
	if s.FrequencyMultiplier != 1 {
		t.Fatalf("expected default multiplier 1, got %d", s.FrequencyMultiplier)
	}
	if !s.Active {
		t.Fatalf("active must be preserved when the request omits it")
	}
	want := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !s.StartDate.Equal(want) {
		t.Fatalf("start date = %v, want %v", s.StartDate, want)
	}
}

func TestScheduleRequestApplyRejectsBadStartDate(t *testing.T) {
	req := scheduleRequest{TriggerKind: "time", StartDate: "15/01/2026"}
	if _, err := req.apply(models.Schedule{}); err == nil {
		t.Fatalf("expected an error for a non-ISO start date")
	}
}

func TestScheduleRequestApplyAcceptsRFC3339StartDate(t *testing.T) {
	req := scheduleRequest{TriggerKind: "time", StartDate: "2026-01-15T08:30:00Z"}
	s, err := req.apply(models.Schedule{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.StartDate.Hour() != 8 {
		t.Fatalf("timestamp start date lost its time component: %v", s.StartDate)
	}
}

func TestTimeRuleChanged(t *testing.T) {
	base := models.Schedule{
		TriggerKind:         models.TriggerKindTime,
		FrequencyUnit:       models.FrequencyMonthly,
		FrequencyMultiplier: 1,
		StartDate:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if timeRuleChanged(base, base) {
		t.Fatalf("identical schedules must not count as changed")
	}

	changed := base
	changed.FrequencyUnit = models.FrequencyWeekly
	if !timeRuleChanged(base, changed) {
		t.Fatalf("frequency unit change must recompute the due date")
	}

	renamed := base
	renamed.Name = "new name"
	renamed.Priority = models.PriorityHigh
	if timeRuleChanged(base, renamed) {
		t.Fatalf("metadata-only edits must preserve the accumulated cadence")
	}
}

func TestReadingRequestToModel(t *testing.T) {
	tenantID := uuid.New()
	assetID := uuid.New()

	rd, err := readingRequest{AssetID: assetID, Kind: " vibration ", Value: 4.2}.toModel(tenantID)
	if err != nil {
		t.Fatalf("toModel: %v", err)
	}
	if rd.Kind != "vibration" {
		t.Fatalf("kind not trimmed: %q", rd.Kind)
	}
	if rd.ReadingType != models.ReadingTypeSensor {
		t.Fatalf("expected sensor default, got %q", rd.ReadingType)
	}

	if _, err := (readingRequest{Kind: "vibration"}).toModel(tenantID); !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("missing asset_id: got %v", err)
	}
	if _, err := (readingRequest{AssetID: assetID}).toModel(tenantID); !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("missing kind: got %v", err)
	}
	if _, err := (readingRequest{AssetID: assetID, Kind: "hours", ReadingType: "odometer"}).toModel(tenantID); !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("unknown reading type: got %v", err)
	}
}

func TestViewScheduleHidesSentinelDueDate(t *testing.T) {
	s := models.Schedule{
		TriggerKind: models.TriggerKindMeter,
		NextDueAt:   models.SentinelNextDue,
	}
	if v := viewSchedule(s); v.NextDueAt != nil {
		t.Fatalf("sentinel due date leaked to the client: %v", *v.NextDueAt)
	}

	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.NextDueAt = due
	v := viewSchedule(s)
	if v.NextDueAt == nil || !v.NextDueAt.Equal(due) {
		t.Fatalf("real due date must survive the view conversion")
	}
}

func TestAssetAgeReference(t *testing.T) {
	installed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	serviced := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	asset := models.Asset{InstalledAt: &installed}

	got, err := assetAgeReference(asset, func() (*time.Time, error) { return &serviced, nil })
	if err != nil {
		t.Fatalf("assetAgeReference: %v", err)
	}
	if !got.Equal(serviced) {
		t.Fatalf("a completed overhaul must win over the installation date")
	}

	got, err = assetAgeReference(asset, func() (*time.Time, error) { return nil, nil })
	if err != nil {
		t.Fatalf("assetAgeReference: %v", err)
	}
	if !got.Equal(installed) {
		t.Fatalf("expected installation date fallback, got %v", got)
	}

	if _, err := assetAgeReference(models.Asset{}, func() (*time.Time, error) { return nil, nil }); !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("asset with no history must be rejected, got %v", err)
	}
}

func TestAnomalyPredictionFromFlaggedReading(t *testing.T) {
	rd := models.Reading{
		TenantID: uuid.New(),
		AssetID:  uuid.New(),
		Kind:     "vibration",
		Value:    42.5,
	}
	verdict := anomaly.Verdict{
		Flagged:  true,
		Severity: stats.SeverityCritical,
		ZScore:   6.3,
		Samples:  120,
	}

	p := anomalyPrediction(rd, verdict)
	if p.Kind != models.PredictionKindAnomaly {
		t.Fatalf("expected anomaly kind, got %q", p.Kind)
	}
	if p.TenantID != rd.TenantID || p.AssetID != rd.AssetID {
		t.Fatalf("prediction must carry the reading's tenant and asset: %+v", p)
	}
	if p.RiskTier != models.RiskTierCritical {
		t.Fatalf("critical severity maps to critical tier, got %s", p.RiskTier)
	}
	if p.Narrative == "" || p.RecommendedAction == "" {
		t.Fatalf("narrative and action must be populated: %+v", p)
	}
	if len(p.Factors) != 1 || p.Factors[0].Value != verdict.ZScore {
		t.Fatalf("expected one factor carrying the z-score, got %+v", p.Factors)
	}

	// Sub-medium severities never open a prediction.
	verdict.Severity = stats.SeverityApproaching
	if p := anomalyPrediction(rd, verdict); p.Probability > 0 {
		t.Fatalf("approaching severity must not produce an open candidate, got %+v", p)
	}
}

func TestDashboardPayloadCarriesRollups(t *testing.T) {
	payload := dashboardPayload(repos.DashboardCounts{
		Open:             7,
		ByRiskTier:       map[string]int{models.RiskTierHigh: 4},
		ByStatus:         map[string]int{"new": 7},
		AvgConfidence:    61.5,
		Anomalies24h:     3,
		PotentialSavings: 12500,
		ModelAccuracy:    0.87,
	})
	if payload["open"] != 7 || payload["anomalies_24h"] != 3 {
		t.Fatalf("counts lost in payload: %+v", payload)
	}
	if payload["potential_savings"] != 12500.0 || payload["model_accuracy"] != 0.87 {
		t.Fatalf("rollups lost in payload: %+v", payload)
	}
}

func TestHealthScore(t *testing.T) {
	if got := healthScore(nil); got != 100 {
		t.Fatalf("no open predictions scores 100, got %v", got)
	}
	open := []models.Prediction{
		{Probability: 35},
		{Probability: 80},
		{Probability: 10},
	}
	if got := healthScore(open); got != 20 {
		t.Fatalf("expected 100 minus the worst probability, got %v", got)
	}
}

func TestRiskRankOrdersTiers(t *testing.T) {
	tiers := []string{models.RiskTierLow, models.RiskTierMedium, models.RiskTierHigh, models.RiskTierCritical}
	for i := 1; i < len(tiers); i++ {
		if riskRank(tiers[i]) <= riskRank(tiers[i-1]) {
			t.Fatalf("%s must outrank %s", tiers[i], tiers[i-1])
		}
	}
	if riskRank("unknown") != riskRank(models.RiskTierLow) {
		t.Fatalf("unknown tiers rank lowest")
	}
}
