package errors

import (
	"errors"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

// FaultMapper maps the shared fault taxonomy onto problem details.
func FaultMapper(err error) (ProblemDetail, bool) {
	switch {
	case errors.Is(err, faults.ErrAmountMismatch):
		return ErrAmountMismatch.WithDetail(err.Error()), true
	case errors.Is(err, faults.ErrInvalidTransition):
		return ErrInvalidTransition.WithDetail(err.Error()), true
	case errors.Is(err, faults.ErrConcurrentUpdate):
		return ErrConcurrentUpdate.WithDetail(err.Error()), true
	case errors.Is(err, faults.ErrInvalidPayload), errors.Is(err, faults.ErrUnknownEventKind):
		return ErrBadRequest.WithDetail(err.Error()), true
	default:
		return ProblemDetail{}, false
	}
}

// Maps returns a mapper translating any of targets into problem.
func Maps(problem ProblemDetail, targets ...error) ErrorMapper {
	return func(err error) (ProblemDetail, bool) {
		for _, target := range targets {
			if errors.Is(err, target) {
				return problem.WithDetail(err.Error()), true
			}
		}
		return ProblemDetail{}, false
	}
}
