package prediction

import (
	"time"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/stats"
	"predictive-maintenance-engine/shared/apperr"
)

const hoursPerDay = 24

// Train fits a Weibull lifetime model to the observed intervals, in days,
// between completed maintenance events. The returned params keep the model's
// existing smoothing and z-score settings.
func Train(params models.ModelParams, intervalDays []float64) (models.ModelParams, models.TrainedStats, error) {
	shape, scale, err := stats.EstimateWeibull(intervalDays)
	if err != nil {
		return params, models.TrainedStats{}, err
	}
	params.WeibullShape = shape
	params.WeibullScale = scale

	summary, err := stats.Describe(intervalDays)
	if err != nil {
		return params, models.TrainedStats{}, err
	}
	trained := models.TrainedStats{
		SampleMean:   summary.Mean,
		SampleStdDev: summary.StdDev,
		SampleMin:    summary.Min,
		SampleMax:    summary.Max,
	}
	return params, trained, nil
}

// IntervalsBetween converts a completion history into lifetime samples. The
// timestamps must be the completed_at times of terminal executions; order does
// not matter.
func IntervalsBetween(completions []time.Time) []float64 {
	if len(completions) < 2 {
		return nil
	}
	sorted := make([]time.Time, len(completions))
	copy(sorted, completions)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Before(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		days := sorted[i].Sub(sorted[i-1]).Hours() / hoursPerDay
		if days > 0 {
			out = append(out, days)
		}
	}
	return out
}

// RemainingLife estimates the median remaining life of an asset given its age
// since installation (or last overhaul) and a trained model.
type RemainingLife struct {
	MedianDays   int
	SurvivalNow  float64
	HazardNow    float64
	EstimatedEnd time.Time
}

func EstimateRemainingLife(params models.ModelParams, ageDays float64, now time.Time) (RemainingLife, error) {
	if params.WeibullShape <= 0 || params.WeibullScale <= 0 {
		return RemainingLife{}, apperr.InvalidConfiguration("model has no trained weibull parameters")
	}
	median := stats.MedianRemainingLife(ageDays, params.WeibullShape, params.WeibullScale)
	return RemainingLife{
		MedianDays:   median,
		SurvivalNow:  stats.WeibullSurvival(ageDays, params.WeibullShape, params.WeibullScale),
		HazardNow:    stats.WeibullHazard(ageDays, params.WeibullShape, params.WeibullScale),
		EstimatedEnd: now.AddDate(0, 0, median),
	}, nil
}

// RiskTierForRemainingLife grades how soon the asset is expected to fail
// relative to the model's characteristic life.
func RiskTierForRemainingLife(medianDays int, scale float64) string {
	if scale <= 0 {
		return models.RiskTierLow
	}
	ratio := float64(medianDays) / scale
	switch {
	case ratio <= 0.1:
		return models.RiskTierCritical
	case ratio <= 0.25:
		return models.RiskTierHigh
	case ratio <= 0.5:
		return models.RiskTierMedium
	default:
		return models.RiskTierLow
	}
}
