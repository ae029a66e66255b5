package trigger

import (
	"errors"
	"testing"
	"time"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timeSchedule(unit string, multiplier int, start time.Time) models.Schedule {
	return models.Schedule{
		TriggerKind:         models.TriggerKindTime,
		FrequencyUnit:       unit,
		FrequencyMultiplier: multiplier,
		StartDate:           start,
		Active:              true,
	}
}

func TestNextDueAfterFrequencyUnits(t *testing.T) {
	start := day(2024, time.January, 31)
	cases := []struct {
		unit       string
		multiplier int
		customDays int
		want       time.Time
	}{
		{models.FrequencyDaily, 3, 0, day(2024, time.February, 3)},
		{models.FrequencyWeekly, 2, 0, day(2024, time.February, 14)},
		{models.FrequencyBiweekly, 1, 0, day(2024, time.February, 14)},
		{models.FrequencyMonthly, 2, 0, day(2024, time.March, 31)},
		{models.FrequencyQuarterly, 1, 0, day(2024, time.April, 30).AddDate(0, 0, 1)},
		{models.FrequencySemiannual, 1, 0, day(2024, time.July, 31)},
		{models.FrequencyYearly, 1, 0, day(2025, time.January, 31)},
		{models.FrequencyCustom, 0, 45, day(2024, time.March, 16)},
	}
	for _, tc := range cases {
		s := timeSchedule(tc.unit, tc.multiplier, start)
		s.CustomIntervalDays = tc.customDays
		got, err := NextDueAfter(s, start)
		if err != nil {
			t.Fatalf("%s: %v", tc.unit, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.unit, tc.want, got)
		}
	}
}

func TestEvaluateTimeRuleLeadDays(t *testing.T) {
	s := timeSchedule(models.FrequencyMonthly, 1, day(2024, time.January, 1))
	s.NextDueAt = day(2024, time.February, 1)
	s.LeadDays = 3

	d, err := Evaluate(s, day(2024, time.January, 28), nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if d.Due {
		t.Fatalf("expected not due before the lead window")
	}

	d, err = Evaluate(s, day(2024, time.January, 29), nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !d.Due || d.Firings[0].Reason != models.ReasonTimeDue {
		t.Fatalf("expected time_due firing inside the lead window, got %+v", d)
	}
}

func TestEvaluateMeterRule(t *testing.T) {
	s := models.Schedule{
		TriggerKind:   models.TriggerKindMeter,
		MeterKind:     "runtime_hours",
		MeterInterval: 100,
		NextMeterDue:  500,
		Active:        true,
	}

	d, err := Evaluate(s, time.Now().UTC(), map[string]float64{"runtime_hours": 499})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if d.Due {
		t.Fatalf("expected 499 below the 500 threshold not to fire")
	}

	d, err = Evaluate(s, time.Now().UTC(), map[string]float64{"runtime_hours": 500})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !d.Due || d.Firings[0].MeterValue != 500 {
		t.Fatalf("expected meter firing at the threshold, got %+v", d)
	}

	if next := AdvanceMeterDue(500, 100); next != 600 {
		t.Fatalf("expected next meter due 600, got %v", next)
	}
}

func TestEvaluateConditionStrictComparison(t *testing.T) {
	s := models.Schedule{
		TriggerKind: models.TriggerKindCondition,
		ConditionRules: []models.ConditionRule{
			{SensorKind: "temperature", Operator: OpGreaterThan, Threshold: 80},
		},
		Active: true,
	}
	now := time.Now().UTC()

	for reading, want := range map[float64]bool{85: true, 80: false, 79: false} {
		d, err := Evaluate(s, now, map[string]float64{"temperature": reading})
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if d.Due != want {
			t.Fatalf("reading %v: expected due=%v, got %+v", reading, want, d)
		}
	}
}

func TestEvaluateConditionReportsAllMatches(t *testing.T) {
	s := models.Schedule{
		TriggerKind: models.TriggerKindCondition,
		ConditionRules: []models.ConditionRule{
			{SensorKind: "temperature", Operator: OpGreaterOrEqual, Threshold: 80},
			{SensorKind: "vibration", Operator: OpGreaterThan, Threshold: 5},
			{SensorKind: "pressure", Operator: OpLessThan, Threshold: 10},
		},
		Active: true,
	}
	latest := map[string]float64{"temperature": 90, "vibration": 7, "pressure": 50}
	d, err := Evaluate(s, time.Now().UTC(), latest)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !d.Due || len(d.Firings) != 1 {
		t.Fatalf("expected one condition firing, got %+v", d)
	}
	if len(d.Firings[0].Matched) != 2 {
		t.Fatalf("expected both matching rules reported, got %+v", d.Firings[0].Matched)
	}
}

func TestEvaluateHybridPathsAreIndependent(t *testing.T) {
	s := models.Schedule{
		TriggerKind:         models.TriggerKindHybrid,
		FrequencyUnit:       models.FrequencyDaily,
		FrequencyMultiplier: 7,
		StartDate:           day(2024, time.January, 1),
		NextDueAt:           day(2024, time.January, 8),
		MeterKind:           "cycles",
		MeterInterval:       1000,
		NextMeterDue:        5000,
		ConditionRules: []models.ConditionRule{
			{SensorKind: "temperature", Operator: OpGreaterThan, Threshold: 80},
		},
		Active: true,
	}
	latest := map[string]float64{"cycles": 5200, "temperature": 95}
	d, err := Evaluate(s, day(2024, time.January, 10), latest)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(d.Firings) != 3 {
		t.Fatalf("expected time+meter+condition to all fire, got %+v", d.Firings)
	}
}

func TestInitialNextDueSentinelForPureMeter(t *testing.T) {
	s := models.Schedule{
		TriggerKind:   models.TriggerKindMeter,
		MeterKind:     "runtime_hours",
		MeterInterval: 100,
	}
	got, err := InitialNextDue(s)
	if err != nil {
		t.Fatalf("initial next due failed: %v", err)
	}
	if !got.Equal(models.SentinelNextDue) {
		t.Fatalf("expected sentinel next due, got %v", got)
	}
}

func TestValidateScheduleRejectsUnknownOperator(t *testing.T) {
	s := models.Schedule{
		TriggerKind: models.TriggerKindCondition,
		ConditionRules: []models.ConditionRule{
			{SensorKind: "temperature", Operator: "!=", Threshold: 80},
		},
	}
	err := ValidateSchedule(s)
	if !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestMeterProgress(t *testing.T) {
	s := models.Schedule{MeterInterval: 100, NextMeterDue: 500}
	if got := MeterProgress(s, 450); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	if got := MeterProgress(s, 510); got != 1 {
		t.Fatalf("expected progress capped at 1, got %v", got)
	}
	if got := MeterProgress(s, 100); got != 0 {
		t.Fatalf("expected progress floored at 0, got %v", got)
	}
}
