package stats

import (
	"math"
	"testing"
)

func almostEqual(a float64, b float64, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestDescribeQuartiles(t *testing.T) {
	s, err := Describe([]float64{1, 2, 3, 4, 5, 100})
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if s.Q1 != 2 || s.Median != 4 || s.Q3 != 5 {
		t.Fatalf("unexpected quartiles: q1=%v median=%v q3=%v", s.Q1, s.Median, s.Q3)
	}
	if s.IQR != 3 {
		t.Fatalf("expected IQR 3, got %v", s.IQR)
	}
	if s.Min != 1 || s.Max != 100 {
		t.Fatalf("unexpected min/max: %v/%v", s.Min, s.Max)
	}
}

func TestDescribeEmpty(t *testing.T) {
	if _, err := Describe(nil); err == nil {
		t.Fatalf("expected insufficient data error for empty input")
	}
}

func TestMeanAndStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(values); got != 5 {
		t.Fatalf("expected mean 5, got %v", got)
	}
	// Population std dev of this classic dataset is exactly 2.
	if got := StdDev(values); !almostEqual(got, 2, 1e-12) {
		t.Fatalf("expected std dev 2, got %v", got)
	}
}

func TestStdDevConstantSeries(t *testing.T) {
	if got := StdDev([]float64{7, 7, 7, 7}); got != 0 {
		t.Fatalf("expected 0 std dev, got %v", got)
	}
}
