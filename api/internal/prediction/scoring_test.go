package prediction

import (
	"math"
	"testing"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/stats"
)

func TestScoreFailureAllFactorsMaxed(t *testing.T) {
	score := ScoreFailure(FailureInputs{
		AnomalyRate:          1,
		DaysSinceMaintenance: 365,
		RecentWorkOrders:     10,
		Criticality:          5,
		TrendDirection:       stats.TrendIncreasing,
		TrendPoints:          20,
		TotalReadings:        500,
	})
	if score.Probability != 100 {
		t.Fatalf("expected probability 100, got %v", score.Probability)
	}
	if score.RiskTier != models.RiskTierCritical {
		t.Fatalf("expected critical tier, got %s", score.RiskTier)
	}
	if len(score.Factors) != 5 {
		t.Fatalf("expected 5 factors, got %d", len(score.Factors))
	}
}

func TestScoreFailureNormalizesOverUsedWeights(t *testing.T) {
	// Without trend history only 90 points of weight are in play. An asset
	// maxing every remaining factor must still reach 100, not 90.
	score := ScoreFailure(FailureInputs{
		AnomalyRate:          1,
		DaysSinceMaintenance: 365,
		RecentWorkOrders:     10,
		Criticality:          5,
		TrendPoints:          3,
	})
	if score.Probability != 100 {
		t.Fatalf("expected normalization over used weights, got %v", score.Probability)
	}
	if len(score.Factors) != 4 {
		t.Fatalf("expected trend factor skipped with sparse history, got %d factors", len(score.Factors))
	}
}

func TestScoreFailureHealthyAsset(t *testing.T) {
	score := ScoreFailure(FailureInputs{
		AnomalyRate:          0,
		DaysSinceMaintenance: 9,
		RecentWorkOrders:     0,
		Criticality:          1,
		TrendDirection:       stats.TrendDecreasing,
		TrendPoints:          20,
		TotalReadings:        100,
	})
	// 0 + 9/180*25 + 0 + 3 + 0 = 4.25 of 100.
	if math.Abs(score.Probability-4.25) > 1e-9 {
		t.Fatalf("expected probability 4.25, got %v", score.Probability)
	}
	if score.RiskTier != models.RiskTierLow {
		t.Fatalf("expected low tier, got %s", score.RiskTier)
	}
}

func TestConfidenceScore(t *testing.T) {
	if got := ConfidenceScore(0, 0); got != 30 {
		t.Fatalf("expected floor of 30, got %v", got)
	}
	if got := ConfidenceScore(50, 2); got != 50 {
		t.Fatalf("expected 30+10+10=50, got %v", got)
	}
	if got := ConfidenceScore(10000, 100); got != 100 {
		t.Fatalf("expected cap at 100, got %v", got)
	}
}

func TestRiskTierBoundaries(t *testing.T) {
	cases := map[float64]string{
		75: models.RiskTierCritical,
		74: models.RiskTierHigh,
		50: models.RiskTierHigh,
		49: models.RiskTierMedium,
		25: models.RiskTierMedium,
		24: models.RiskTierLow,
	}
	for probability, want := range cases {
		if got := RiskTier(probability); got != want {
			t.Fatalf("probability %v: expected %s, got %s", probability, want, got)
		}
	}
}

func TestAnomalyProbabilityMapsToMatchingTier(t *testing.T) {
	cases := map[string]string{
		stats.SeverityCritical: models.RiskTierCritical,
		stats.SeverityHigh:     models.RiskTierHigh,
		stats.SeverityMedium:   models.RiskTierMedium,
	}
	for severity, wantTier := range cases {
		p := AnomalyProbability(severity)
		if p <= 0 {
			t.Fatalf("severity %s must yield a positive probability", severity)
		}
		if got := RiskTier(p); got != wantTier {
			t.Fatalf("severity %s: expected tier %s, got %s", severity, wantTier, got)
		}
	}
	for _, severity := range []string{stats.SeverityApproaching, stats.SeverityNormal, ""} {
		if got := AnomalyProbability(severity); got != 0 {
			t.Fatalf("severity %q must not open a prediction, got %v", severity, got)
		}
	}
}

func TestPriorityForRisk(t *testing.T) {
	if got := PriorityForRisk(models.RiskTierCritical); got != models.PriorityCritical {
		t.Fatalf("expected critical priority, got %s", got)
	}
	if got := PriorityForRisk("unknown"); got != models.PriorityLow {
		t.Fatalf("expected low priority fallback, got %s", got)
	}
}
