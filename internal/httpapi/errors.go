package httpapi

import (
	"context"
	"errors"
	"net/http"

	"paystep/internal/checkout"
)

type errorResponse struct {
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Fields  []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field  string `json:"field"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// writeError maps orchestrator errors onto HTTP responses. Validation errors
// carry per-field details so the storefront can re-render the form; transient
// failures tell the buyer to retry the same submission.
func writeError(w http.ResponseWriter, err error) {
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		fields := make([]fieldError, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, fieldError{
				Field:  f.Field,
				Label:  f.Label,
				Reason: string(f.Reason),
			})
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Kind:    "validation_failed",
			Message: "please correct the highlighted fields",
			Fields:  fields,
		})
		return
	}

	writeJSON(w, httpStatus(err), errorResponse{
		Kind:    errorKind(err),
		Message: errorMessage(err),
	})
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, checkout.ErrReservationTimeout):
		return "reservation_timeout"
	case errors.Is(err, checkout.ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(err, checkout.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, checkout.ErrInvariantViolation):
		return "internal"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, checkout.ErrReservationTimeout),
		errors.Is(err, checkout.ErrPersistenceFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, checkout.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, checkout.ErrReservationTimeout),
		errors.Is(err, checkout.ErrPersistenceFailed):
		return "please try again"
	case errors.Is(err, checkout.ErrOrderNotFound):
		return "order not found"
	default:
		return "internal error"
	}
}
