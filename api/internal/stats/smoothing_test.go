package stats

import "testing"

func TestDoubleExponentialLinearSeries(t *testing.T) {
	s, err := DoubleExponential([]float64{1, 2, 3, 4, 5}, 0.5, 0.5)
	if err != nil {
		t.Fatalf("smoothing failed: %v", err)
	}
	// A perfectly linear series keeps level on the line and trend at the slope.
	if !almostEqual(s.Level, 5, 1e-9) || !almostEqual(s.Trend, 1, 1e-9) {
		t.Fatalf("unexpected state: %+v", s)
	}
	if got := s.Forecast(2); !almostEqual(got, 7, 1e-9) {
		t.Fatalf("expected forecast 7, got %v", got)
	}
	if dir := s.Direction(DefaultTrendThreshold); dir != TrendIncreasing {
		t.Fatalf("expected increasing, got %s", dir)
	}
}

func TestDoubleExponentialDirection(t *testing.T) {
	down, err := DoubleExponential([]float64{10, 8, 6, 4, 2}, 0.3, 0.1)
	if err != nil {
		t.Fatalf("smoothing failed: %v", err)
	}
	if dir := down.Direction(DefaultTrendThreshold); dir != TrendDecreasing {
		t.Fatalf("expected decreasing, got %s (trend=%v)", dir, down.Trend)
	}

	flat, err := DoubleExponential([]float64{5, 5, 5, 5, 5, 5}, 0.3, 0.1)
	if err != nil {
		t.Fatalf("smoothing failed: %v", err)
	}
	if dir := flat.Direction(DefaultTrendThreshold); dir != TrendStable {
		t.Fatalf("expected stable, got %s (trend=%v)", dir, flat.Trend)
	}
}

func TestDoubleExponentialTooFewPoints(t *testing.T) {
	if _, err := DoubleExponential([]float64{1}, 0.3, 0.1); err == nil {
		t.Fatalf("expected insufficient data error")
	}
}
