package stats

import "math"

const (
	SeverityNormal      = "normal"
	SeverityApproaching = "approaching"
	SeverityMedium      = "medium"
	SeverityHigh        = "high"
	SeverityCritical    = "critical"
)

// Z-score severity tiers, expressed as multiples of the configured threshold.
const (
	DefaultZThreshold    = 3.0
	zCriticalMultiple    = 2.0
	zHighMultiple        = 1.5
	zApproachingMultiple = 0.75
)

// IQR fence parameters. Flagging uses the inner fence Q1-k*IQR / Q3+k*IQR.
// Escalation distance is measured in whole IQRs from the nearer quartile, not
// from the fence: a high reading sits at least 2 IQRs past Q3 (or below Q1)
// and a critical one at least 3, regardless of k.
const (
	DefaultIQRMultiplier = 1.5
	iqrHighMultiple      = 2.0
	iqrCriticalMultiple  = 3.0
)

// OutlierVerdict is the result of one outlier test against a baseline.
type OutlierVerdict struct {
	Flagged  bool
	Severity string
	Score    float64
}

// ZScore is (x-mean)/stdDev, 0 when stdDev is 0.
func ZScore(x float64, mean float64, stdDev float64) float64 {
	if stdDev == 0 {
		return 0
	}
	return (x - mean) / stdDev
}

// ZScoreTest classifies x against the baseline's mean and population std dev.
// The "approaching" tier is reported but not flagged.
func ZScoreTest(baseline []float64, x float64, threshold float64) OutlierVerdict {
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}
	z := ZScore(x, Mean(baseline), StdDev(baseline))
	abs := math.Abs(z)
	v := OutlierVerdict{Score: z, Severity: SeverityNormal}
	switch {
	case abs >= zCriticalMultiple*threshold:
		v.Severity = SeverityCritical
		v.Flagged = true
	case abs >= zHighMultiple*threshold:
		v.Severity = SeverityHigh
		v.Flagged = true
	case abs >= threshold:
		v.Severity = SeverityMedium
		v.Flagged = true
	case abs >= zApproachingMultiple*threshold:
		v.Severity = SeverityApproaching
	}
	return v
}

// IQRTest flags x outside [Q1-k*IQR, Q3+k*IQR]. Severity escalates when x
// lies more than 2 or 3 whole IQRs beyond the quartile.
func IQRTest(baseline []float64, x float64, k float64) OutlierVerdict {
	if k <= 0 {
		k = DefaultIQRMultiplier
	}
	summary, err := Describe(baseline)
	if err != nil {
		return OutlierVerdict{Severity: SeverityNormal}
	}
	lower := summary.Q1 - k*summary.IQR
	upper := summary.Q3 + k*summary.IQR
	if x >= lower && x <= upper {
		return OutlierVerdict{Severity: SeverityNormal}
	}

	v := OutlierVerdict{Flagged: true, Severity: SeverityMedium}
	if summary.IQR > 0 {
		var distance float64
		if x > upper {
			distance = (x - summary.Q3) / summary.IQR
			v.Score = distance
		} else {
			distance = (summary.Q1 - x) / summary.IQR
			v.Score = -distance
		}
		switch {
		case distance >= iqrCriticalMultiple:
			v.Severity = SeverityCritical
		case distance >= iqrHighMultiple:
			v.Severity = SeverityHigh
		}
	} else {
		// Zero spread: any departure from the quartiles is extreme.
		v.Severity = SeverityCritical
		v.Score = x - summary.Median
	}
	return v
}

// SeverityRank orders severities for picking the stronger of two verdicts.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityApproaching:
		return 1
	default:
		return 0
	}
}
