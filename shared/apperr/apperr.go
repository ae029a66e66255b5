package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the engine-wide failure taxonomy. Interactive endpoints
// map these to wire codes; batch sweeps log the code and move on.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrConflict             = errors.New("conflict")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrUnavailable          = errors.New("collaborator unavailable")
)

func NotFound(resource string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, resource)
}

func InvalidConfiguration(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, detail)
}

func Conflict(detail string) error {
	return fmt.Errorf("%w: %s", ErrConflict, detail)
}

// InsufficientData carries the minimum required so the caller knows how much
// history is missing.
func InsufficientData(have int, need int) error {
	return fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientData, have, need)
}

func Unavailable(collaborator string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, collaborator, err)
}

// Code returns the stable wire code for err, or INTERNAL_ERROR.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidConfiguration):
		return "INVALID_CONFIGURATION"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInsufficientData):
		return "INSUFFICIENT_DATA"
	case errors.Is(err, ErrUnavailable):
		return "UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus returns the HTTP status the taxonomy maps to.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
