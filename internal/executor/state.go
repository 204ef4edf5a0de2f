package executor

import (
	"errors"
	"fmt"

	"github.com/v0xg/stepshot/internal/plan"
)

// Status is the interpreter's lifecycle state.
type Status int

const (
	Running Status = iota
	Succeeded
	Failed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the status by name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the single terminal result of a run.
type Outcome struct {
	Status    Status
	Reason    string
	StepIndex int // 0 when not tied to a step
	Err       error
}

func (o Outcome) String() string {
	switch {
	case o.Status == Succeeded:
		return "succeeded"
	case o.StepIndex > 0:
		return fmt.Sprintf("%s at step %d: %s", o.Status, o.StepIndex, o.Reason)
	default:
		return fmt.Sprintf("%s: %s", o.Status, o.Reason)
	}
}

// OK reports whether the run succeeded.
func (o Outcome) OK() bool { return o.Status == Succeeded }

// SucceededOutcome is the outcome of a plan that ran past its last step.
func SucceededOutcome() Outcome { return Outcome{Status: Succeeded} }

// OutcomeFor converts an error into a terminal outcome. A *StepError decides between Failed and
// Aborted by its kind; any other error is a failure not tied to a step.
func OutcomeFor(err error) Outcome {
	var se *StepError
	if !errors.As(err, &se) {
		return Outcome{Status: Failed, Reason: err.Error(), Err: err}
	}
	status := Failed
	if aborts(se.Kind) {
		status = Aborted
	}
	return Outcome{Status: status, Reason: se.Reason, StepIndex: se.StepIndex, Err: se}
}

// InvalidPlan is the outcome of a plan rejected by validation. The step index is taken from a
// *plan.ValidationError when err carries one.
func InvalidPlan(err error) Outcome {
	se := stepErr(ErrPlanValidation, 0, err.Error(), err)
	var ve *plan.ValidationError
	if errors.As(err, &ve) {
		se.StepIndex = ve.StepIndex
	}
	return OutcomeFor(se)
}

// ExecutionState is owned by a single Run call.
type ExecutionState struct {
	PC             int
	Visited        map[int]int
	CurrentURL     string
	CaptureOrdinal int
	Status         Status

	// urlBefore is the URL observed when the most recent page-affecting step started. A
	// completed wait_for_url_change clears it.
	urlBefore string
}

func newState(ordinalBase int) *ExecutionState {
	return &ExecutionState{
		PC:             1,
		Visited:        make(map[int]int),
		CaptureOrdinal: ordinalBase,
		Status:         Running,
	}
}
