package stats

import "testing"

func TestZScoreZeroStdDev(t *testing.T) {
	if got := ZScore(100, 10, 0); got != 0 {
		t.Fatalf("expected z=0 for zero std dev, got %v", got)
	}
}

func TestZScoreTestFlagsExtremeValue(t *testing.T) {
	baseline := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		baseline = append(baseline, 10)
	}
	baseline = append(baseline, 100)

	v := ZScoreTest(baseline, 100, DefaultZThreshold)
	if !v.Flagged {
		t.Fatalf("expected 100 to be flagged, verdict %+v", v)
	}
	if v.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s", v.Severity)
	}

	normal := ZScoreTest(baseline, 10, DefaultZThreshold)
	if normal.Flagged {
		t.Fatalf("expected 10 to be normal, verdict %+v", normal)
	}
}

func TestZScoreTestApproachingNotFlagged(t *testing.T) {
	// |z| between 0.75*T and T reports approaching without flagging.
	// Baseline mean 2, population std dev 4, so z(12)=2.5 sits in [2.25, 3).
	baseline := []float64{0, 0, 0, 0, 10}
	v := ZScoreTest(baseline, 12, 3)
	if v.Flagged {
		t.Fatalf("approaching tier must not flag, verdict %+v", v)
	}
	if v.Severity != SeverityApproaching {
		t.Fatalf("expected approaching, got %s (z=%v)", v.Severity, v.Score)
	}
}

func TestIQRTestFlagsOutlier(t *testing.T) {
	baseline := []float64{1, 2, 3, 4, 5, 100}
	v := IQRTest(baseline, 100, DefaultIQRMultiplier)
	if !v.Flagged {
		t.Fatalf("expected 100 beyond Q3+1.5*IQR to be flagged")
	}
	if v.Severity != SeverityCritical {
		t.Fatalf("expected critical for 100 (far beyond 3*IQR), got %s", v.Severity)
	}
	if in := IQRTest(baseline, 5, DefaultIQRMultiplier); in.Flagged {
		t.Fatalf("expected 5 to be inside the fences")
	}
}

func TestIQRTestZeroSpread(t *testing.T) {
	baseline := []float64{10, 10, 10, 10, 10, 100}
	if v := IQRTest(baseline, 100, DefaultIQRMultiplier); !v.Flagged {
		t.Fatalf("expected departure from a zero-IQR baseline to flag")
	}
	if v := IQRTest(baseline, 10, DefaultIQRMultiplier); v.Flagged {
		t.Fatalf("expected 10 to be normal, got %+v", v)
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	order := []string{SeverityNormal, SeverityApproaching, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if SeverityRank(order[i]) <= SeverityRank(order[i-1]) {
			t.Fatalf("expected %s to rank above %s", order[i], order[i-1])
		}
	}
}
