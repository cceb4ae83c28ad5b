package httpapi

import (
	"context"
	"errors"
	"net/http"

	"ragserv/internal/persistence"
	"ragserv/internal/validation"
)

// Code is one of the coarse error categories the HTTP edge maps every
// downstream error onto.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeDeadlineExceeded  Code = "DEADLINE_EXCEEDED"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeInternal          Code = "INTERNAL"
	CodeDataLoss          Code = "DATA_LOSS"
)

var statusByCode = map[Code]int{
	CodeNotFound:          http.StatusNotFound,
	CodePermissionDenied:  http.StatusForbidden,
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeDeadlineExceeded:  http.StatusGatewayTimeout,
	CodeResourceExhausted: http.StatusTooManyRequests,
	CodeAlreadyExists:     http.StatusConflict,
	CodeUnavailable:       http.StatusServiceUnavailable,
	CodeInternal:          http.StatusInternalServerError,
	CodeDataLoss:          http.StatusUnprocessableEntity,
}

// taxonomyError tags err with an explicit Code, bypassing the sentinel
// sniffing in classify when a handler already knows the right category
// (e.g. a chunked-upload checksum mismatch is always DATA_LOSS).
type taxonomyError struct {
	code Code
	err  error
}

func (e *taxonomyError) Error() string { return e.err.Error() }
func (e *taxonomyError) Unwrap() error { return e.err }

// withCode wraps err so statusFromError reports code regardless of what
// sentinel err itself wraps.
func withCode(code Code, err error) error {
	return &taxonomyError{code: code, err: err}
}

// classify maps an arbitrary error to its taxonomy Code. This is the single
// place downstream errors are translated to a coarse category; no handler
// below it emits a status code directly.
func classify(err error) Code {
	var tax *taxonomyError
	if errors.As(err, &tax) {
		return tax.code
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, persistence.ErrForbidden):
		return CodePermissionDenied
	case errors.Is(err, validation.ErrInvalidInput):
		return CodeInvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	default:
		return CodeInternal
	}
}

func statusFromError(err error) int {
	status, ok := statusByCode[classify(err)]
	if !ok {
		return http.StatusInternalServerError
	}
	return status
}
