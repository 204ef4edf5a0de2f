package executor

import (
	"errors"
	"fmt"
)

// Error kinds. Every failed or aborted outcome carries a *StepError whose Kind is one of these.
var (
	ErrPlanValidation   = errors.New("invalid plan")
	ErrActionTimeout    = errors.New("action timed out")
	ErrElementNotFound  = errors.New("element not found")
	ErrNavigationFailed = errors.New("navigation failed")
	ErrActionFailed     = errors.New("action failed")
	ErrCaptureFailed    = errors.New("capture failed")
	ErrSessionLost      = errors.New("browser session lost")
	ErrCycleDetected    = errors.New("cycle detected")
	ErrOverallTimeout   = errors.New("overall timeout")
	ErrCancelled        = errors.New("cancelled")
	ErrInternal         = errors.New("internal error")
)

// StepError ties an error kind to the step that produced it.
type StepError struct {
	Kind      error
	StepIndex int // 0 when not tied to a step
	Reason    string
	Err       error // underlying cause, may be nil
}

func (e *StepError) Error() string {
	if e.StepIndex > 0 {
		return fmt.Sprintf("step %d: %s", e.StepIndex, e.Reason)
	}
	return e.Reason
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// aborts reports whether kind ends a run as Aborted rather than Failed.
func aborts(kind error) bool {
	switch kind {
	case ErrSessionLost, ErrCycleDetected, ErrOverallTimeout, ErrCancelled, ErrInternal:
		return true
	}
	return false
}

func stepErr(kind error, index int, reason string, cause error) *StepError {
	return &StepError{Kind: kind, StepIndex: index, Reason: reason, Err: cause}
}
