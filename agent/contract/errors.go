package contract

import (
	"errors"
	"fmt"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrUnknownPersona  = errors.New("unknown persona")

	ErrPlanning     = errors.New("planning failed")
	ErrCriticalStep = errors.New("critical step failed")
	ErrAggregation  = errors.New("aggregation failed")
	ErrRunTimeout   = errors.New("timeout")
)

// ErrorKind classifies a failed model invocation.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "Timeout"
	KindModelError      ErrorKind = "ModelError"
	KindRateLimited     ErrorKind = "RateLimited"
	KindInvalidResponse ErrorKind = "InvalidResponse"
)

// FailureKind names the terminal cause of a FAILED pipeline run.
type FailureKind string

const (
	FailurePlanning     FailureKind = "PlanningError"
	FailureCriticalStep FailureKind = "CriticalStepFailure"
	FailureAggregation  FailureKind = "AggregationError"
	FailureTimeout      FailureKind = "Timeout"
	FailureValidation   FailureKind = "ValidationError"
	FailureInternal     FailureKind = "InternalError"
)

// InvocationError is returned by the invoker once an agent call is given up on.
type InvocationError struct {
	Kind      ErrorKind
	AgentID   string
	Attempts  int
	Retryable bool
	Err       error
}

func (e *InvocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invoke agent=%s: %s after %d attempt(s)", e.AgentID, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("invoke agent=%s: %s after %d attempt(s): %v", e.AgentID, e.Kind, e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrModelInvoke}
	}
	return []error{ErrModelInvoke, e.Err}
}

// KindOf returns the ErrorKind carried by err, or "" when err is not an InvocationError.
func KindOf(err error) ErrorKind {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Kind
	}
	return ""
}

// FailureKindOf maps a terminal pipeline error onto its FailureKind.
func FailureKindOf(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRunTimeout):
		return FailureTimeout
	case errors.Is(err, ErrPlanning):
		return FailurePlanning
	case errors.Is(err, ErrCriticalStep):
		return FailureCriticalStep
	case errors.Is(err, ErrAggregation):
		return FailureAggregation
	case errors.Is(err, ErrValidation):
		return FailureValidation
	default:
		return FailureInternal
	}
}
