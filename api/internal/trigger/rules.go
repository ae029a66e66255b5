package trigger

import (
	"fmt"
	"strings"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

// Comparison operators form a closed set; unknown codes are rejected when the
// schedule is configured, never at evaluation time.
const (
	OpGreaterThan    = "gt"
	OpGreaterOrEqual = "gte"
	OpLessThan       = "lt"
	OpLessOrEqual    = "lte"
	OpEqual          = "eq"
)

func ValidOperator(op string) bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual:
		return true
	default:
		return false
	}
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// ValidateSchedule rejects schedules missing the fields their trigger kind
// needs. Sweeps skip invalid schedules instead of aborting the batch.
func ValidateSchedule(s models.Schedule) error {
	switch s.TriggerKind {
	case models.TriggerKindTime:
		return validateTimeRule(s)
	case models.TriggerKindMeter:
		return validateMeterRule(s)
	case models.TriggerKindCondition:
		return validateConditionRules(s)
	case models.TriggerKindHybrid:
		if err := validateTimeRule(s); err != nil {
			return err
		}
		if s.MeterKind != "" {
			if err := validateMeterRule(s); err != nil {
				return err
			}
		}
		if len(s.ConditionRules) > 0 {
			if err := validateConditionRules(s); err != nil {
				return err
			}
		}
		if s.MeterKind == "" && len(s.ConditionRules) == 0 {
			return apperr.InvalidConfiguration("hybrid schedule needs a meter or condition rule beside the time rule")
		}
		return nil
	default:
		return apperr.InvalidConfiguration(fmt.Sprintf("unknown trigger kind %q", s.TriggerKind))
	}
}

func validateTimeRule(s models.Schedule) error {
	if s.StartDate.IsZero() {
		return apperr.InvalidConfiguration("time rule requires a start date")
	}
	switch s.FrequencyUnit {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly, models.FrequencyYearly:
		if s.FrequencyMultiplier <= 0 {
			return apperr.InvalidConfiguration("frequency multiplier must be > 0")
		}
	case models.FrequencyBiweekly, models.FrequencyQuarterly, models.FrequencySemiannual:
		// Fixed-step units ignore the multiplier.
	case models.FrequencyCustom:
		if s.CustomIntervalDays <= 0 {
			return apperr.InvalidConfiguration("custom frequency requires an interval in days")
		}
	default:
		return apperr.InvalidConfiguration(fmt.Sprintf("unknown frequency unit %q", s.FrequencyUnit))
	}
	if s.LeadDays < 0 {
		return apperr.InvalidConfiguration("lead days must be >= 0")
	}
	if s.OverdueThresholdDays < 0 {
		return apperr.InvalidConfiguration("overdue threshold must be >= 0")
	}
	return nil
}

func validateMeterRule(s models.Schedule) error {
	if strings.TrimSpace(s.MeterKind) == "" {
		return apperr.InvalidConfiguration("meter rule requires a meter kind")
	}
	if s.MeterInterval <= 0 {
		return apperr.InvalidConfiguration("meter interval must be > 0")
	}
	return nil
}

func validateConditionRules(s models.Schedule) error {
	if len(s.ConditionRules) == 0 {
		return apperr.InvalidConfiguration("condition trigger requires at least one rule")
	}
	for i, rule := range s.ConditionRules {
		if strings.TrimSpace(rule.SensorKind) == "" {
			return apperr.InvalidConfiguration(fmt.Sprintf("condition rule %d is missing a sensor kind", i))
		}
		if !ValidOperator(rule.Operator) {
			return apperr.InvalidConfiguration(fmt.Sprintf("condition rule %d has unknown operator %q", i, rule.Operator))
		}
	}
	return nil
}
