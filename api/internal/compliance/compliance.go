package compliance

import (
	"time"

	"predictive-maintenance-engine/api/internal/models"
)

const hoursPerDay = 24

// CompletionOutcome classifies a manual completion against the schedule's
// overdue threshold.
type CompletionOutcome struct {
	Status      string
	DaysOverdue int
}

// Complete returns completed when the work finished by the deadline instant
// (scheduled time plus the threshold in days), completed_late otherwise.
// DaysOverdue is still reported in whole days and never goes negative.
func Complete(scheduledAt time.Time, completedAt time.Time, overdueThresholdDays int) CompletionOutcome {
	status := models.ExecutionStatusCompleted
	if completedAt.After(deadline(scheduledAt, overdueThresholdDays)) {
		status = models.ExecutionStatusCompletedLate
	}
	return CompletionOutcome{Status: status, DaysOverdue: DaysLate(scheduledAt, completedAt)}
}

// DaysLate is max(0, completedAt-scheduledAt) in whole days.
func DaysLate(scheduledAt time.Time, completedAt time.Time) int {
	if !completedAt.After(scheduledAt) {
		return 0
	}
	return int(completedAt.Sub(scheduledAt).Hours() / hoursPerDay)
}

func deadline(scheduledAt time.Time, overdueThresholdDays int) time.Time {
	return scheduledAt.Add(time.Duration(overdueThresholdDays) * hoursPerDay * time.Hour)
}

// IsTerminal reports whether an execution status can no longer change.
func IsTerminal(status string) bool {
	switch status {
	case models.ExecutionStatusCompleted, models.ExecutionStatusCompletedLate, models.ExecutionStatusMissed:
		return true
	default:
		return false
	}
}

// Overdue reports whether a still-open execution has aged past the schedule's
// deadline and should be flagged missed by the sweep.
func Overdue(scheduledAt time.Time, now time.Time, overdueThresholdDays int) bool {
	return now.After(deadline(scheduledAt, overdueThresholdDays))
}

// Rate is the compliance percentage: executions completed (on time or late)
// over all resolved executions. An empty history counts as fully compliant.
func Rate(completed int, completedLate int, missed int) float64 {
	total := completed + completedLate + missed
	if total == 0 {
		return 100
	}
	return float64(completed+completedLate) / float64(total) * 100
}

// Metrics aggregates a schedule's (or tenant's) execution history.
type Metrics struct {
	Completed      int     `json:"completed"`
	CompletedLate  int     `json:"completed_late"`
	Missed         int     `json:"missed"`
	Open           int     `json:"open"`
	ComplianceRate float64 `json:"compliance_rate"`
	AvgDaysOverdue float64 `json:"avg_days_overdue"`
}

func Summarize(records []models.ExecutionRecord) Metrics {
	var m Metrics
	totalOverdue := 0
	lateOrMissed := 0
	for _, r := range records {
		switch r.Status {
		case models.ExecutionStatusCompleted:
			m.Completed++
		case models.ExecutionStatusCompletedLate:
			m.CompletedLate++
			totalOverdue += r.DaysOverdue
			lateOrMissed++
		case models.ExecutionStatusMissed:
			m.Missed++
			totalOverdue += r.DaysOverdue
			lateOrMissed++
		default:
			m.Open++
		}
	}
	m.ComplianceRate = Rate(m.Completed, m.CompletedLate, m.Missed)
	if lateOrMissed > 0 {
		m.AvgDaysOverdue = float64(totalOverdue) / float64(lateOrMissed)
	}
	return m
}
