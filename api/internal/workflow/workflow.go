package workflow

import "strings"

// Prediction lifecycle statuses. A prediction is never deleted; it only moves
// forward through this machine.
const (
	PredictionStatusNew              = "new"
	PredictionStatusAcknowledged     = "acknowledged"
	PredictionStatusDismissed        = "dismissed"
	PredictionStatusFalsePositive    = "false_positive"
	PredictionStatusWorkOrderCreated = "work_order_created"
	PredictionStatusResolved         = "resolved"
)

const (
	PredictionEventAcknowledged     = "prediction_acknowledged"
	PredictionEventDismissed        = "prediction_dismissed"
	PredictionEventFalsePositive    = "prediction_marked_false_positive"
	PredictionEventWorkOrderCreated = "prediction_work_order_created"
	PredictionEventResolved         = "prediction_resolved"
)

var predictionTransitions = map[string]map[string]string{
	PredictionStatusNew: {
		PredictionStatusAcknowledged:     PredictionEventAcknowledged,
		PredictionStatusDismissed:        PredictionEventDismissed,
		PredictionStatusFalsePositive:    PredictionEventFalsePositive,
		PredictionStatusWorkOrderCreated: PredictionEventWorkOrderCreated,
		PredictionStatusResolved:         PredictionEventResolved,
	},
	PredictionStatusAcknowledged: {
		PredictionStatusWorkOrderCreated: PredictionEventWorkOrderCreated,
		PredictionStatusResolved:         PredictionEventResolved,
		PredictionStatusDismissed:        PredictionEventDismissed,
		PredictionStatusFalsePositive:    PredictionEventFalsePositive,
	},
	// Dismissal and false-positive calls can be reversed while the underlying
	// signal is still live, so both still reach the terminal states.
	PredictionStatusDismissed: {
		PredictionStatusWorkOrderCreated: PredictionEventWorkOrderCreated,
		PredictionStatusResolved:         PredictionEventResolved,
	},
	PredictionStatusFalsePositive: {
		PredictionStatusWorkOrderCreated: PredictionEventWorkOrderCreated,
		PredictionStatusResolved:         PredictionEventResolved,
	},
	PredictionStatusWorkOrderCreated: {
		PredictionStatusResolved: PredictionEventResolved,
	},
}

func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := predictionTransitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventTypeForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := predictionTransitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

// IsOpen reports whether a prediction still counts against asset health.
func IsOpen(status string) bool {
	switch NormalizeStatus(status) {
	case PredictionStatusResolved, PredictionStatusDismissed, PredictionStatusFalsePositive:
		return false
	default:
		return true
	}
}

func AllPredictionStatuses() []string {
	return []string{
		PredictionStatusNew,
		PredictionStatusAcknowledged,
		PredictionStatusDismissed,
		PredictionStatusFalsePositive,
		PredictionStatusWorkOrderCreated,
		PredictionStatusResolved,
	}
}
