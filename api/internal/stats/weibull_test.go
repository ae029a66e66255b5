package stats

import "testing"

func TestWeibullSurvivalShape(t *testing.T) {
	if got := WeibullSurvival(0, 2, 100); got != 1 {
		t.Fatalf("expected S(0)=1, got %v", got)
	}
	prev := 1.0
	for d := 10.0; d <= 500; d += 10 {
		s := WeibullSurvival(d, 2, 100)
		if s >= prev {
			t.Fatalf("expected strictly decreasing survival at t=%v: %v >= %v", d, s, prev)
		}
		if s < 0 || s > 1 {
			t.Fatalf("survival out of range at t=%v: %v", d, s)
		}
		prev = s
	}
}

func TestWeibullHazardIncreasingForWearOut(t *testing.T) {
	// shape > 1 models wear-out: hazard must grow with age.
	h1 := WeibullHazard(10, 2, 100)
	h2 := WeibullHazard(100, 2, 100)
	if h2 <= h1 {
		t.Fatalf("expected increasing hazard, got h(10)=%v h(100)=%v", h1, h2)
	}
}

func TestMedianRemainingLifeExponential(t *testing.T) {
	// shape=1 reduces to the exponential: median life is scale*ln(2) ~ 69.3,
	// independent of current age (memorylessness).
	fresh := MedianRemainingLife(0, 1, 100)
	if fresh < 68 || fresh > 71 {
		t.Fatalf("expected ~69 days, got %d", fresh)
	}
	aged := MedianRemainingLife(500, 1, 100)
	if aged < fresh-1 || aged > fresh+1 {
		t.Fatalf("expected memoryless remaining life, got fresh=%d aged=%d", fresh, aged)
	}
}

func TestMedianRemainingLifeShrinksWithAge(t *testing.T) {
	// Wear-out shape: the older the asset, the shorter the remaining life.
	young := MedianRemainingLife(50, 2.5, 365)
	old := MedianRemainingLife(400, 2.5, 365)
	if old >= young {
		t.Fatalf("expected remaining life to shrink with age, young=%d old=%d", young, old)
	}
}

func TestEstimateWeibull(t *testing.T) {
	if _, _, err := EstimateWeibull([]float64{100, 110}); err == nil {
		t.Fatalf("expected insufficient data below %d samples", MinWeibullSamples)
	}

	shape, scale, err := EstimateWeibull([]float64{100, 100, 100, 100})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if shape <= 1 || scale <= 0 {
		t.Fatalf("degenerate spread should give a steep shape, got shape=%v scale=%v", shape, scale)
	}

	tight, _, err := EstimateWeibull([]float64{95, 100, 105, 98, 102})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	loose, _, err := EstimateWeibull([]float64{20, 180, 60, 140, 100})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if tight <= loose {
		t.Fatalf("lower variance must fit a steeper shape: tight=%v loose=%v", tight, loose)
	}
}
