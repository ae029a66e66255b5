package compliance

import (
	"testing"
	"time"

	"predictive-maintenance-engine/api/internal/models"
)

func TestCompleteOnTimeAndLate(t *testing.T) {
	scheduled := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	onTime := Complete(scheduled, scheduled.AddDate(0, 0, 2), 3)
	if onTime.Status != models.ExecutionStatusCompleted || onTime.DaysOverdue != 2 {
		t.Fatalf("expected completed with 2 days overdue, got %+v", onTime)
	}

	late := Complete(scheduled, scheduled.AddDate(0, 0, 5), 3)
	if late.Status != models.ExecutionStatusCompletedLate || late.DaysOverdue != 5 {
		t.Fatalf("expected completed_late with 5 days overdue, got %+v", late)
	}

	early := Complete(scheduled, scheduled.AddDate(0, 0, -1), 3)
	if early.DaysOverdue != 0 {
		t.Fatalf("days overdue must not go negative, got %+v", early)
	}
}

func TestCompleteDeadlineBoundary(t *testing.T) {
	scheduled := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	atDeadline := Complete(scheduled, scheduled.AddDate(0, 0, 3), 3)
	if atDeadline.Status != models.ExecutionStatusCompleted {
		t.Fatalf("completion exactly at the deadline is on time, got %+v", atDeadline)
	}

	// Lateness is decided by the deadline instant, not the floored day count.
	partialDay := Complete(scheduled, scheduled.AddDate(0, 0, 3).Add(23*time.Hour), 3)
	if partialDay.Status != models.ExecutionStatusCompletedLate {
		t.Fatalf("completion 23h past the deadline is late, got %+v", partialDay)
	}
	if partialDay.DaysOverdue != 3 {
		t.Fatalf("days overdue stays in whole days, got %+v", partialDay)
	}
}

func TestRate(t *testing.T) {
	if got := Rate(3, 1, 1); got != 80 {
		t.Fatalf("expected 80%%, got %v", got)
	}
	if got := Rate(0, 0, 0); got != 100 {
		t.Fatalf("expected 100%% for empty history, got %v", got)
	}
}

func TestOverdue(t *testing.T) {
	scheduled := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	if Overdue(scheduled, scheduled.AddDate(0, 0, 3), 3) {
		t.Fatalf("expected exactly-at-threshold not to be overdue")
	}
	if !Overdue(scheduled, scheduled.AddDate(0, 0, 4), 3) {
		t.Fatalf("expected 4 days past a 3-day threshold to be overdue")
	}
}

func TestSummarize(t *testing.T) {
	records := []models.ExecutionRecord{
		{Status: models.ExecutionStatusCompleted},
		{Status: models.ExecutionStatusCompleted},
		{Status: models.ExecutionStatusCompleted},
		{Status: models.ExecutionStatusCompletedLate, DaysOverdue: 4},
		{Status: models.ExecutionStatusMissed, DaysOverdue: 10},
		{Status: models.ExecutionStatusGenerated},
	}
	m := Summarize(records)
	if m.Completed != 3 || m.CompletedLate != 1 || m.Missed != 1 || m.Open != 1 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.ComplianceRate != 80 {
		t.Fatalf("expected 80%% compliance, got %v", m.ComplianceRate)
	}
	if m.AvgDaysOverdue != 7 {
		t.Fatalf("expected avg 7 days overdue, got %v", m.AvgDaysOverdue)
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(models.ExecutionStatusGenerated) {
		t.Fatalf("generated is not terminal")
	}
	for _, status := range []string{models.ExecutionStatusCompleted, models.ExecutionStatusCompletedLate, models.ExecutionStatusMissed} {
		if !IsTerminal(status) {
			t.Fatalf("%s should be terminal", status)
		}
	}
}
