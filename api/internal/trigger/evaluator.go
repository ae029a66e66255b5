package trigger

import (
	"fmt"
	"time"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

// Firing is one fired trigger path. A hybrid schedule can report several in a
// single evaluation; none suppresses the others.
type Firing struct {
	Reason     string
	DueAt      time.Time
	MeterValue float64
	Matched    []models.ConditionRule
}

// Decision is the outcome of evaluating one schedule at one instant.
type Decision struct {
	Due     bool
	Firings []Firing
}

// Evaluate decides whether the schedule is due now. latest maps reading kind
// (meter or sensor) to the most recent value; kinds without readings simply
// cannot fire. Evaluate is pure: the clock and the data are injected.
func Evaluate(s models.Schedule, now time.Time, latest map[string]float64) (Decision, error) {
	if err := ValidateSchedule(s); err != nil {
		return Decision{}, err
	}

	var d Decision
	if usesTimeRule(s.TriggerKind) {
		if f, due := evaluateTimeRule(s, now); due {
			d.Firings = append(d.Firings, f)
		}
	}
	if usesMeterRule(s) {
		if f, due := evaluateMeterRule(s, latest); due {
			d.Firings = append(d.Firings, f)
		}
	}
	if usesConditionRules(s) {
		if f, due := evaluateConditionRules(s, now, latest); due {
			d.Firings = append(d.Firings, f)
		}
	}
	d.Due = len(d.Firings) > 0
	return d, nil
}

func usesTimeRule(kind string) bool {
	return kind == models.TriggerKindTime || kind == models.TriggerKindHybrid
}

func usesMeterRule(s models.Schedule) bool {
	if s.TriggerKind == models.TriggerKindMeter {
		return true
	}
	return s.TriggerKind == models.TriggerKindHybrid && s.MeterKind != ""
}

func usesConditionRules(s models.Schedule) bool {
	if s.TriggerKind == models.TriggerKindCondition {
		return true
	}
	return s.TriggerKind == models.TriggerKindHybrid && len(s.ConditionRules) > 0
}

func evaluateTimeRule(s models.Schedule, now time.Time) (Firing, bool) {
	nextDue := s.NextDueAt
	if nextDue.IsZero() || nextDue.Equal(models.SentinelNextDue) {
		return Firing{}, false
	}
	windowStart := nextDue.AddDate(0, 0, -s.LeadDays)
	if now.Before(windowStart) {
		return Firing{}, false
	}
	return Firing{Reason: models.ReasonTimeDue, DueAt: nextDue}, true
}

func evaluateMeterRule(s models.Schedule, latest map[string]float64) (Firing, bool) {
	value, ok := latest[s.MeterKind]
	if !ok {
		return Firing{}, false
	}
	if value < s.NextMeterDue {
		return Firing{}, false
	}
	return Firing{Reason: models.ReasonMeterTrigger, MeterValue: value}, true
}

func evaluateConditionRules(s models.Schedule, now time.Time, latest map[string]float64) (Firing, bool) {
	var matched []models.ConditionRule
	for _, rule := range s.ConditionRules {
		value, ok := latest[rule.SensorKind]
		if !ok {
			continue
		}
		if compare(value, rule.Operator, rule.Threshold) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return Firing{}, false
	}
	return Firing{Reason: models.ReasonConditionTrigger, DueAt: now, Matched: matched}, true
}

// NextDueAfter advances a due date by one period of the schedule's time rule.
func NextDueAfter(s models.Schedule, from time.Time) (time.Time, error) {
	switch s.FrequencyUnit {
	case models.FrequencyDaily:
		return from.AddDate(0, 0, s.FrequencyMultiplier), nil
	case models.FrequencyWeekly:
		return from.AddDate(0, 0, 7*s.FrequencyMultiplier), nil
	case models.FrequencyBiweekly:
		return from.AddDate(0, 0, 14), nil
	case models.FrequencyMonthly:
		return from.AddDate(0, s.FrequencyMultiplier, 0), nil
	case models.FrequencyQuarterly:
		return from.AddDate(0, 3, 0), nil
	case models.FrequencySemiannual:
		return from.AddDate(0, 6, 0), nil
	case models.FrequencyYearly:
		return from.AddDate(s.FrequencyMultiplier, 0, 0), nil
	case models.FrequencyCustom:
		return from.AddDate(0, 0, s.CustomIntervalDays), nil
	default:
		return time.Time{}, apperr.InvalidConfiguration(fmt.Sprintf("unknown frequency unit %q", s.FrequencyUnit))
	}
}

// InitialNextDue computes the first due date for a new schedule. Pure meter
// and condition schedules get the far-future sentinel so the time path stays
// inert.
func InitialNextDue(s models.Schedule) (time.Time, error) {
	if !usesTimeRule(s.TriggerKind) {
		return models.SentinelNextDue, nil
	}
	return NextDueAfter(s, s.StartDate)
}

// AdvanceMeterDue returns the next meter threshold after a firing at reading.
// Advancing from the observed reading rather than the stale threshold keeps
// drift from accumulating.
func AdvanceMeterDue(reading float64, interval float64) float64 {
	return reading + interval
}

// MeterProgress is how far the asset has run toward the next threshold, as a
// fraction of the meter interval. Used for "within X% of due" queries.
func MeterProgress(s models.Schedule, latest float64) float64 {
	if s.MeterInterval <= 0 {
		return 0
	}
	remaining := s.NextMeterDue - latest
	if remaining <= 0 {
		return 1
	}
	progress := 1 - remaining/s.MeterInterval
	if progress < 0 {
		return 0
	}
	return progress
}
