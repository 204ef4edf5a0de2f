// Package executor interprets a validated plan against a browser session. It holds the program
// counter, resolves conditional jumps in two phases, retries transient failures, bounds loops and
// captures a screenshot after every page-affecting step. Every run ends in exactly one Outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/v0xg/stepshot/internal/browser"
	"github.com/v0xg/stepshot/internal/capture"
	"github.com/v0xg/stepshot/internal/plan"
)

const (
	// DefaultMaxVisits bounds how often one step may be entered in a run.
	DefaultMaxVisits = 3
	// DefaultBackoff is the pause between attempts of a retried action.
	DefaultBackoff = 500 * time.Millisecond
	// urlProbeTimeout bounds reading the current URL.
	urlProbeTimeout = 5 * time.Second
)

// Capturer persists a screenshot after a page-affecting step. *capture.Sink implements it.
type Capturer interface {
	Capture(ctx context.Context, sess browser.Session, ordinal *int, step plan.Step) (capture.Artifact, error)
}

// Options configures an Interpreter.
type Options struct {
	MaxVisits int
	Backoff   time.Duration
	// CaptureTimeout bounds settle plus screenshot. Zero means 30s.
	CaptureTimeout time.Duration
	// Capture receives every page-affecting step. Nil runs without captures.
	Capture Capturer
	// OrdinalBase is the capture ordinal the run starts after.
	OrdinalBase int
	Logger      *slog.Logger
	// OnStep is called after every step that ran, including conditional probes.
	OnStep func(StepReport)
}

// StepReport describes one executed step.
type StepReport struct {
	Step     plan.Step
	Attempts int
	// Next is the program counter after the step; for conditionals it shows the branch taken.
	Next     int
	Probe    *bool
	Artifact *capture.Artifact
	URL      string
	Err      error
}

// Result is what Run returns.
type Result struct {
	Outcome   Outcome
	Artifacts []capture.Artifact
	State     *ExecutionState
}

// Interpreter executes plans. It is safe to reuse across runs but not concurrently with itself
// on the same session.
type Interpreter struct {
	opts Options
	log  *slog.Logger
}

// New returns an Interpreter with defaults applied.
func New(opts Options) *Interpreter {
	if opts.MaxVisits <= 0 {
		opts.MaxVisits = DefaultMaxVisits
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	} else if opts.Backoff == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Interpreter{opts: opts, log: log}
}

// Run validates p, then interprets it until it succeeds, fails or is aborted. An invalid plan
// fails before the session is touched. Cancellation of ctx is observed between steps and before
// retries; an in-flight action finishes or times out on its own. A run whose last step completed
// succeeds even if ctx ended meanwhile.
func (in *Interpreter) Run(ctx context.Context, sess browser.Session, p *plan.Plan) (res Result) {
	st := newState(in.opts.OrdinalBase)
	res.State = st

	finish := func(o Outcome) Result {
		st.Status = o.Status
		res.Outcome = o
		in.log.Debug("run finished", "outcome", o.String(), "captures", len(res.Artifacts))
		return res
	}

	if err := p.Validate(); err != nil {
		in.log.Warn("plan rejected", "err", err)
		return finish(InvalidPlan(err))
	}

	for {
		step, ok := p.Step(st.PC)
		if !ok {
			return finish(SucceededOutcome())
		}
		if err := ctx.Err(); err != nil {
			return finish(OutcomeFor(contextErr(ctx)))
		}

		st.Visited[st.PC]++
		if st.Visited[st.PC] > in.opts.MaxVisits {
			in.log.Warn("loop guard tripped", "step", step.Index, "visits", st.Visited[st.PC])
			return finish(OutcomeFor(stepErr(ErrCycleDetected, step.Index, "cycle detected", nil)))
		}

		log := in.log.With("step", step.Index, "action", string(step.Action))

		if step.Action.Conditional() {
			taken, err := in.evaluate(ctx, sess, st, step)
			if err != nil {
				return finish(OutcomeFor(err))
			}
			next := branch(step, taken)
			log.Debug("condition evaluated", "result", taken, "next", next)
			in.report(StepReport{Step: step, Attempts: 1, Next: next, Probe: &taken, URL: st.CurrentURL})
			st.PC = next
			continue
		}

		attempts, err := in.execute(ctx, sess, st, step, log)
		if err != nil {
			in.report(StepReport{Step: step, Attempts: attempts, Next: st.PC, URL: st.CurrentURL, Err: err})
			return finish(OutcomeFor(err))
		}

		if err := in.refreshURL(ctx, sess, st, step); err != nil {
			return finish(OutcomeFor(err))
		}

		var art *capture.Artifact
		if in.opts.Capture != nil {
			a, err := in.capture(ctx, sess, st, step)
			if err != nil {
				in.report(StepReport{Step: step, Attempts: attempts, Next: st.PC, URL: st.CurrentURL, Err: err})
				return finish(OutcomeFor(err))
			}
			res.Artifacts = append(res.Artifacts, a)
			art = &a
		}

		st.PC++
		in.report(StepReport{Step: step, Attempts: attempts, Next: st.PC, Artifact: art, URL: st.CurrentURL})
	}
}

// branch is the pure second phase of a conditional.
func branch(step plan.Step, taken bool) int {
	if taken {
		return step.JumpTarget
	}
	return step.Index + 1
}

// evaluate is the side-effect-free first phase of a conditional. Probes are never retried and any
// error short of a lost session reads as false.
func (in *Interpreter) evaluate(ctx context.Context, sess browser.Session, st *ExecutionState, step plan.Step) (bool, error) {
	switch step.Action {
	case plan.IfElementExists:
		actx, cancel := actionContext(ctx, step.Timeout())
		defer cancel()
		found, err := sess.WaitForSelector(actx, step.Args.Selector)
		if err != nil {
			if browser.IsSessionLost(err) {
				return false, lostErr(step, err)
			}
			in.log.Debug("probe error read as false", "step", step.Index, "err", err)
			return false, nil
		}
		return found, nil

	case plan.IfURLContains:
		actx, cancel := actionContext(ctx, urlProbeTimeout)
		defer cancel()
		u, err := sess.CurrentURL(actx)
		if err != nil {
			if browser.IsSessionLost(err) {
				return false, lostErr(step, err)
			}
			in.log.Debug("probe error read as false", "step", step.Index, "err", err)
			return false, nil
		}
		st.CurrentURL = u
		return containsFold(u, step.Args.Pattern), nil
	}
	return false, stepErr(ErrInternal, step.Index, fmt.Sprintf("internal error: %s is not a conditional", step.Action), nil)
}

// execute runs a non-conditional step under the retry policy and returns the attempts used.
func (in *Interpreter) execute(ctx context.Context, sess browser.Session, st *ExecutionState, step plan.Step, log *slog.Logger) (int, error) {
	limit := step.Attempts()
	if step.Action != plan.WaitForURLChange {
		st.urlBefore = st.CurrentURL
	}
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := in.perform(ctx, sess, st, step)
		if err == nil {
			if step.Action == plan.WaitForURLChange {
				// A later wait must see a new change, not the one this wait consumed.
				st.urlBefore = ""
			}
			log.Debug("step done", "attempt", attempt, "elapsed", time.Since(start).Round(time.Millisecond))
			return attempt, nil
		}
		if browser.IsSessionLost(err) {
			return attempt, lostErr(step, err)
		}
		if attempt >= limit || !browser.IsTransient(err) {
			return attempt, failure(step, attempt, err)
		}

		log.Info("retrying step", "attempt", attempt, "err", err)
		if err := sleep(ctx, in.opts.Backoff); err != nil {
			return attempt, contextErr(ctx)
		}
	}
}

func (in *Interpreter) refreshURL(ctx context.Context, sess browser.Session, st *ExecutionState, step plan.Step) error {
	actx, cancel := actionContext(ctx, urlProbeTimeout)
	defer cancel()
	u, err := sess.CurrentURL(actx)
	if err != nil {
		if browser.IsSessionLost(err) {
			return lostErr(step, err)
		}
		in.log.Debug("current url unavailable", "step", step.Index, "err", err)
		return nil
	}
	st.CurrentURL = u
	return nil
}

func (in *Interpreter) capture(ctx context.Context, sess browser.Session, st *ExecutionState, step plan.Step) (capture.Artifact, error) {
	actx, cancel := actionContext(ctx, in.opts.CaptureTimeout)
	defer cancel()
	a, err := in.opts.Capture.Capture(actx, sess, &st.CaptureOrdinal, step)
	if err != nil {
		if browser.IsSessionLost(err) {
			return a, lostErr(step, err)
		}
		return a, stepErr(ErrCaptureFailed, step.Index, fmt.Sprintf("capture failed: %v", err), err)
	}
	return a, nil
}

func (in *Interpreter) report(r StepReport) {
	if in.opts.OnStep != nil {
		in.opts.OnStep(r)
	}
}

// actionContext detaches an action from run cancellation and bounds it by d.
func actionContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

// contextErr explains why the run context ended.
func contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stepErr(ErrOverallTimeout, 0, "overall timeout", ctx.Err())
	}
	return stepErr(ErrCancelled, 0, "cancelled", ctx.Err())
}

func lostErr(step plan.Step, err error) error {
	return stepErr(ErrSessionLost, step.Index, fmt.Sprintf("browser session lost during %s", step.Action), err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
