package anomaly

import (
	"fmt"

	"predictive-maintenance-engine/api/internal/stats"
	"predictive-maintenance-engine/shared/apperr"
)

const (
	// Fewer baseline points than this and the detector abstains rather than
	// flagging on noise.
	DefaultMinBaselinePoints = 5

	// How many recent readings of the same kind form the baseline.
	DefaultBaselineWindow = 100
)

// Detector runs the z-score and IQR tests against a rolling baseline and keeps
// the stronger verdict.
type Detector struct {
	MinBaselinePoints int
	ZThreshold        float64
	IQRMultiplier     float64
}

func NewDetector(minBaselinePoints int, zThreshold float64, iqrMultiplier float64) *Detector {
	if minBaselinePoints <= 0 {
		minBaselinePoints = DefaultMinBaselinePoints
	}
	if zThreshold <= 0 {
		zThreshold = stats.DefaultZThreshold
	}
	if iqrMultiplier <= 0 {
		iqrMultiplier = stats.DefaultIQRMultiplier
	}
	return &Detector{
		MinBaselinePoints: minBaselinePoints,
		ZThreshold:        zThreshold,
		IQRMultiplier:     iqrMultiplier,
	}
}

// Verdict is the combined result for one reading.
type Verdict struct {
	Flagged  bool    `json:"flagged"`
	Severity string  `json:"severity"`
	ZScore   float64 `json:"z_score"`
	IQRScore float64 `json:"iqr_score"`
	Mean     float64 `json:"baseline_mean"`
	StdDev   float64 `json:"baseline_std_dev"`
	Samples  int     `json:"baseline_samples"`
}

// Detect classifies x against the baseline. The z-score test catches departures
// from a roughly normal spread; the IQR test catches the same on skewed or
// zero-variance baselines where the std dev is dominated by the outlier itself.
func (d *Detector) Detect(baseline []float64, x float64) (Verdict, error) {
	if len(baseline) < d.MinBaselinePoints {
		return Verdict{Severity: stats.SeverityNormal, Samples: len(baseline)},
			apperr.InsufficientData(len(baseline), d.MinBaselinePoints)
	}

	zVerdict := stats.ZScoreTest(baseline, x, d.ZThreshold)
	iqrVerdict := stats.IQRTest(baseline, x, d.IQRMultiplier)

	combined := Verdict{
		ZScore:   zVerdict.Score,
		IQRScore: iqrVerdict.Score,
		Mean:     stats.Mean(baseline),
		StdDev:   stats.StdDev(baseline),
		Samples:  len(baseline),
		Severity: zVerdict.Severity,
		Flagged:  zVerdict.Flagged || iqrVerdict.Flagged,
	}
	if stats.SeverityRank(iqrVerdict.Severity) > stats.SeverityRank(zVerdict.Severity) {
		combined.Severity = iqrVerdict.Severity
	}
	return combined, nil
}

// Rate is the fraction of verdicts that were flagged, the anomaly-rate input
// of the failure score.
func Rate(verdicts []Verdict) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	flagged := 0
	for _, v := range verdicts {
		if v.Flagged {
			flagged++
		}
	}
	return float64(flagged) / float64(len(verdicts))
}

// ReplayRate replays the detector over the last tail points of a series, each
// point judged against the history before it, and returns the flagged fraction.
func (d *Detector) ReplayRate(values []float64, tail int) float64 {
	if tail > len(values)-d.MinBaselinePoints {
		tail = len(values) - d.MinBaselinePoints
	}
	if tail <= 0 {
		return 0
	}
	verdicts := make([]Verdict, 0, tail)
	for i := len(values) - tail; i < len(values); i++ {
		v, err := d.Detect(values[:i], values[i])
		if err != nil {
			continue
		}
		verdicts = append(verdicts, v)
	}
	return Rate(verdicts)
}

// Narrative renders the operator-facing description of a flagged reading.
func Narrative(kind string, value float64, v Verdict) string {
	return fmt.Sprintf("%s reading %.2f deviates from baseline mean %.2f (z=%.2f, severity %s, %d samples)",
		kind, value, v.Mean, v.ZScore, v.Severity, v.Samples)
}
