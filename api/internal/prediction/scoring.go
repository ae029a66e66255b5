package prediction

import (
	"fmt"
	"math"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/stats"
)

// Factor weights. Each factor contributes at most its weight; the probability
// normalizes over the weights that were actually usable so a schedule with no
// trend history is not silently biased downward.
const (
	weightAnomalyRate      = 30.0
	weightDaysSinceService = 25.0
	weightRecentWorkOrders = 20.0
	weightCriticality      = 15.0
	weightTrend            = 10.0

	daysSinceServiceSpan = 180.0
	workOrderPointValue  = 5.0
	maxCriticality       = 5.0

	// Trend needs enough history to mean anything.
	minTrendPoints = 10

	trendStableContribution = 4.0
)

const (
	confidenceBase            = 30.0
	confidenceReadingsCap     = 40.0
	confidenceReadingsDivisor = 5.0
	confidenceWorkOrdersCap   = 30.0
	confidenceWorkOrderValue  = 5.0
)

// Risk tier cutoffs on the 0..100 probability scale.
const (
	riskCriticalCutoff = 75.0
	riskHighCutoff     = 50.0
	riskMediumCutoff   = 25.0
)

// FailureInputs carries everything the failure score looks at. TrendDirection
// is one of the stats.Trend* values; TrendPoints is how many readings backed it.
type FailureInputs struct {
	AnomalyRate          float64
	DaysSinceMaintenance float64
	RecentWorkOrders     int
	Criticality          int
	TrendDirection       string
	TrendPoints          int
	TotalReadings        int
}

type FailureScore struct {
	Probability float64
	Confidence  float64
	RiskTier    string
	Factors     []models.PredictionFactor
}

// ScoreFailure computes a weighted failure probability from the asset's recent
// behavior. Contributions are capped at their factor weight and the final
// probability is normalized over the weights actually used.
func ScoreFailure(in FailureInputs) FailureScore {
	factors := make([]models.PredictionFactor, 0, 5)
	totalContribution := 0.0
	totalWeight := 0.0

	add := func(f models.PredictionFactor) {
		factors = append(factors, f)
		totalContribution += f.Contribution
		totalWeight += f.Weight
	}

	add(models.PredictionFactor{
		Name:         "anomaly_rate",
		Weight:       weightAnomalyRate,
		Contribution: math.Min(weightAnomalyRate, in.AnomalyRate*100),
		Value:        in.AnomalyRate,
		Description:  "share of recent readings flagged anomalous",
	})

	days := math.Max(0, in.DaysSinceMaintenance)
	add(models.PredictionFactor{
		Name:         "days_since_maintenance",
		Weight:       weightDaysSinceService,
		Contribution: math.Min(weightDaysSinceService, days/daysSinceServiceSpan*weightDaysSinceService),
		Value:        days,
		Unit:         "days",
		Description:  "time since the last completed maintenance",
	})

	add(models.PredictionFactor{
		Name:         "recent_work_orders",
		Weight:       weightRecentWorkOrders,
		Contribution: math.Min(weightRecentWorkOrders, float64(in.RecentWorkOrders)*workOrderPointValue),
		Value:        float64(in.RecentWorkOrders),
		Description:  "corrective work orders in the lookback window",
	})

	crit := float64(in.Criticality)
	if crit < 0 {
		crit = 0
	}
	if crit > maxCriticality {
		crit = maxCriticality
	}
	add(models.PredictionFactor{
		Name:         "asset_criticality",
		Weight:       weightCriticality,
		Contribution: crit / maxCriticality * weightCriticality,
		Value:        float64(in.Criticality),
		Description:  "operational criticality of the asset",
	})

	if in.TrendPoints >= minTrendPoints {
		var contribution float64
		switch in.TrendDirection {
		case stats.TrendIncreasing:
			contribution = weightTrend
		case stats.TrendStable:
			contribution = trendStableContribution
		}
		add(models.PredictionFactor{
			Name:         "reading_trend",
			Weight:       weightTrend,
			Contribution: contribution,
			Value:        float64(in.TrendPoints),
			Description:  fmt.Sprintf("smoothed reading trend is %s", in.TrendDirection),
		})
	}

	probability := 0.0
	if totalWeight > 0 {
		probability = totalContribution / totalWeight * 100
	}
	probability = clamp(probability, 0, 100)

	return FailureScore{
		Probability: probability,
		Confidence:  ConfidenceScore(in.TotalReadings, in.RecentWorkOrders),
		RiskTier:    RiskTier(probability),
		Factors:     factors,
	}
}

// ConfidenceScore reflects how much evidence backed the prediction, not how
// likely the failure is.
func ConfidenceScore(totalReadings int, workOrders int) float64 {
	c := confidenceBase
	c += math.Min(confidenceReadingsCap, float64(totalReadings)/confidenceReadingsDivisor)
	c += math.Min(confidenceWorkOrdersCap, float64(workOrders)*confidenceWorkOrderValue)
	return clamp(c, 0, 100)
}

// Probability assigned to an anomaly prediction per detector severity. The
// values land in the matching risk tier under the usual cutoffs.
const (
	anomalyProbabilityCritical = 90.0
	anomalyProbabilityHigh     = 65.0
	anomalyProbabilityMedium   = 40.0
)

// AnomalyProbability maps a detector severity to the probability of the
// anomaly prediction opened for a flagged reading. Severities below medium
// never open a prediction and map to zero.
func AnomalyProbability(severity string) float64 {
	switch severity {
	case stats.SeverityCritical:
		return anomalyProbabilityCritical
	case stats.SeverityHigh:
		return anomalyProbabilityHigh
	case stats.SeverityMedium:
		return anomalyProbabilityMedium
	default:
		return 0
	}
}

func RiskTier(probability float64) string {
	switch {
	case probability >= riskCriticalCutoff:
		return models.RiskTierCritical
	case probability >= riskHighCutoff:
		return models.RiskTierHigh
	case probability >= riskMediumCutoff:
		return models.RiskTierMedium
	default:
		return models.RiskTierLow
	}
}

// RecommendedAction maps a risk tier to the operator-facing guidance string.
func RecommendedAction(riskTier string) string {
	switch riskTier {
	case models.RiskTierCritical:
		return "Schedule immediate inspection and prepare replacement parts."
	case models.RiskTierHigh:
		return "Schedule maintenance within the next week."
	case models.RiskTierMedium:
		return "Add to the next planned maintenance window."
	default:
		return "Continue routine monitoring."
	}
}

// FailureNarrative renders the operator-facing summary of a failure score.
func FailureNarrative(assetName string, assetCode string, s FailureScore) string {
	return fmt.Sprintf("%s (%s) has an estimated %.0f%% failure probability (%s risk, %.0f%% confidence)",
		assetName, assetCode, s.Probability, s.RiskTier, s.Confidence)
}

// PriorityForRisk maps a prediction's risk tier to the work order priority used
// when the prediction is converted into a work order.
func PriorityForRisk(riskTier string) string {
	switch riskTier {
	case models.RiskTierCritical:
		return models.PriorityCritical
	case models.RiskTierHigh:
		return models.PriorityHigh
	case models.RiskTierMedium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
