package stats

import "predictive-maintenance-engine/shared/apperr"

const (
	DefaultSmoothingAlpha = 0.3
	DefaultSmoothingBeta  = 0.1

	// Trend slopes with absolute value below this are considered flat.
	DefaultTrendThreshold = 0.01
)

const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// HoltState is the final level and trend of a double-exponential pass.
type HoltState struct {
	Level float64
	Trend float64
}

// DoubleExponential runs Holt smoothing over the series: level seeds from the
// first point, trend from the first difference.
func DoubleExponential(values []float64, alpha float64, beta float64) (HoltState, error) {
	if len(values) < 2 {
		return HoltState{}, apperr.InsufficientData(len(values), 2)
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultSmoothingAlpha
	}
	if beta <= 0 || beta > 1 {
		beta = DefaultSmoothingBeta
	}

	level := values[0]
	trend := values[1] - values[0]
	for _, x := range values[1:] {
		prevLevel := level
		level = alpha*x + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}
	return HoltState{Level: level, Trend: trend}, nil
}

// Forecast projects h steps ahead from the smoothed state.
func (s HoltState) Forecast(h int) float64 {
	return s.Level + float64(h)*s.Trend
}

// Direction classifies the series by thresholding the smoothed trend slope.
func (s HoltState) Direction(threshold float64) string {
	if threshold <= 0 {
		threshold = DefaultTrendThreshold
	}
	switch {
	case s.Trend > threshold:
		return TrendIncreasing
	case s.Trend < -threshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
