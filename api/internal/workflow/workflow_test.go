package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(PredictionStatusNew, PredictionStatusAcknowledged) {
		t.Fatalf("expected new -> acknowledged to be allowed")
	}
	if !CanTransition(PredictionStatusAcknowledged, PredictionStatusWorkOrderCreated) {
		t.Fatalf("expected acknowledged -> work_order_created to be allowed")
	}
	if CanTransition(PredictionStatusResolved, PredictionStatusAcknowledged) {
		t.Fatalf("expected resolved to be terminal")
	}
	if CanTransition(PredictionStatusDismissed, PredictionStatusAcknowledged) {
		t.Fatalf("expected dismissed -> acknowledged to be blocked")
	}
}

func TestDismissedAndFalsePositiveReachTerminalStates(t *testing.T) {
	for _, from := range []string{PredictionStatusDismissed, PredictionStatusFalsePositive} {
		if !CanTransition(from, PredictionStatusResolved) {
			t.Fatalf("expected %s -> resolved to be allowed", from)
		}
		if !CanTransition(from, PredictionStatusWorkOrderCreated) {
			t.Fatalf("expected %s -> work_order_created to be allowed", from)
		}
		if ev := EventTypeForTransition(from, PredictionStatusResolved); ev != PredictionEventResolved {
			t.Fatalf("unexpected event type %q for %s -> resolved", ev, from)
		}
		if ev := EventTypeForTransition(from, PredictionStatusWorkOrderCreated); ev != PredictionEventWorkOrderCreated {
			t.Fatalf("unexpected event type %q for %s -> work_order_created", ev, from)
		}
	}
}

func TestEventTypeForTransition(t *testing.T) {
	if ev := EventTypeForTransition(PredictionStatusNew, PredictionStatusDismissed); ev != PredictionEventDismissed {
		t.Fatalf("unexpected event type %q", ev)
	}
	if ev := EventTypeForTransition(PredictionStatusNew, PredictionStatusNew); ev != "" {
		t.Fatalf("self transition must map to no event, got %q", ev)
	}
}

func TestIsOpen(t *testing.T) {
	if !IsOpen(PredictionStatusNew) || !IsOpen(PredictionStatusWorkOrderCreated) {
		t.Fatalf("new and work_order_created are open")
	}
	if IsOpen(PredictionStatusResolved) || IsOpen(PredictionStatusFalsePositive) {
		t.Fatalf("resolved and false_positive are closed")
	}
}
