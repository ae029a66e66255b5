package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestCodeMapping(t *testing.T) {
	if Code(NotFound("schedule")) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND")
	}
	if Code(InsufficientData(3, 10)) != "INSUFFICIENT_DATA" {
		t.Fatalf("expected INSUFFICIENT_DATA")
	}
	if Code(errors.New("boom")) != "INTERNAL_ERROR" {
		t.Fatalf("expected INTERNAL_ERROR fallback")
	}
}

func TestHTTPStatus(t *testing.T) {
	if HTTPStatus(Conflict("dedup window open")) != http.StatusConflict {
		t.Fatalf("expected 409 for conflict")
	}
	if HTTPStatus(Unavailable("work-order service", errors.New("timeout"))) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unavailable")
	}
}

func TestInsufficientDataCarriesMinimum(t *testing.T) {
	err := InsufficientData(2, 30)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData")
	}
	if got := err.Error(); got != "insufficient data: have 2 samples, need 30" {
		t.Fatalf("unexpected message: %s", got)
	}
}
