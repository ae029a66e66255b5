package prediction

import (
	"errors"
	"testing"
	"time"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

func TestIntervalsBetween(t *testing.T) {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	// Out of order on purpose.
	completions := []time.Time{
		base.AddDate(0, 0, 30),
		base,
		base.AddDate(0, 0, 90),
	}
	got := IntervalsBetween(completions)
	if len(got) != 2 || got[0] != 30 || got[1] != 60 {
		t.Fatalf("expected [30 60], got %v", got)
	}
	if IntervalsBetween(completions[:1]) != nil {
		t.Fatalf("a single completion yields no intervals")
	}
}

func TestTrainRequiresEnoughSamples(t *testing.T) {
	_, _, err := Train(models.ModelParams{}, []float64{30, 35})
	if !errors.Is(err, apperr.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
}

func TestTrainFitsAndKeepsOtherParams(t *testing.T) {
	params := models.ModelParams{SmoothingAlpha: 0.3, SmoothingBeta: 0.1, ZThreshold: 3}
	trainedParams, trainedStats, err := Train(params, []float64{80, 90, 100, 110, 120})
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if trainedParams.WeibullShape <= 1 || trainedParams.WeibullScale <= 0 {
		t.Fatalf("low-variance lifetimes should fit a steep shape, got %+v", trainedParams)
	}
	if trainedParams.SmoothingAlpha != 0.3 || trainedParams.ZThreshold != 3 {
		t.Fatalf("training must not clobber non-weibull params, got %+v", trainedParams)
	}
	if trainedStats.SampleMean != 100 || trainedStats.SampleMin != 80 || trainedStats.SampleMax != 120 {
		t.Fatalf("unexpected trained stats: %+v", trainedStats)
	}
}

func TestEstimateRemainingLife(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	params := models.ModelParams{WeibullShape: 1, WeibullScale: 100}

	// Exponential case: memoryless, median life is scale*ln2 regardless of age.
	life, err := EstimateRemainingLife(params, 50, now)
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if life.MedianDays < 68 || life.MedianDays > 70 {
		t.Fatalf("expected median near 69 days, got %d", life.MedianDays)
	}
	if !life.EstimatedEnd.Equal(now.AddDate(0, 0, life.MedianDays)) {
		t.Fatalf("estimated end must be now plus median days")
	}

	if _, err := EstimateRemainingLife(models.ModelParams{}, 50, now); !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("untrained model must be rejected, got %v", err)
	}
}

func TestRiskTierForRemainingLife(t *testing.T) {
	if got := RiskTierForRemainingLife(5, 100); got != models.RiskTierCritical {
		t.Fatalf("5%% of characteristic life should be critical, got %s", got)
	}
	if got := RiskTierForRemainingLife(20, 100); got != models.RiskTierHigh {
		t.Fatalf("20%% should be high, got %s", got)
	}
	if got := RiskTierForRemainingLife(80, 100); got != models.RiskTierLow {
		t.Fatalf("80%% should be low, got %s", got)
	}
}
