package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/v0xg/stepshot/internal/browser"
	"github.com/v0xg/stepshot/internal/plan"
)

// errNoURLChange marks a wait_for_url_change that saw the same URL until its deadline.
var errNoURLChange = errors.New("url did not change")

// perform runs one attempt of a non-conditional step.
func (in *Interpreter) perform(ctx context.Context, sess browser.Session, st *ExecutionState, step plan.Step) error {
	actx, cancel := actionContext(ctx, step.Timeout())
	defer cancel()

	a := step.Args
	switch step.Action {
	case plan.OpenPage:
		return sess.Navigate(actx, a.URL)

	case plan.WaitFor:
		found, err := sess.WaitForSelector(actx, a.Selector)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", a.Selector, browser.ErrElementNotFound)
		}
		return nil

	case plan.WaitForPageReady:
		return sess.WaitForLoad(actx)

	case plan.Click:
		return sess.Click(actx, a.Selector)

	case plan.Type:
		return sess.Type(actx, a.Selector, a.Text)

	case plan.PressKey:
		key, ok := plan.CanonicalKey(a.Key)
		if !ok {
			return fmt.Errorf("unknown key %q", a.Key)
		}
		return sess.PressKey(actx, key)

	case plan.WaitForURLChange:
		// The triggering step may already have changed the URL before this wait started.
		if st.urlBefore != "" {
			u, err := sess.CurrentURL(actx)
			if err != nil {
				return err
			}
			if u != st.urlBefore {
				return nil
			}
		}
		changed, err := sess.WaitForURLChange(actx)
		if err != nil {
			return err
		}
		if !changed {
			return errNoURLChange
		}
		return nil
	}
	return fmt.Errorf("unsupported action %q", step.Action)
}

// failure maps an exhausted or non-retryable step error to its kind.
func failure(step plan.Step, attempts int, err error) *StepError {
	var kind error
	switch {
	case step.Action == plan.OpenPage || step.Action == plan.WaitForPageReady:
		kind = ErrNavigationFailed
	case errors.Is(err, errNoURLChange):
		kind = ErrActionTimeout
	case errors.Is(err, browser.ErrElementNotFound):
		kind = ErrElementNotFound
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = ErrActionTimeout
	default:
		kind = ErrActionFailed
	}

	target := step.Args.Selector
	switch step.Action {
	case plan.OpenPage:
		target = step.Args.URL
	case plan.PressKey:
		target = step.Args.Key
	}
	what := string(step.Action)
	if target != "" {
		what = fmt.Sprintf("%s %q", step.Action, target)
	}

	reason := fmt.Sprintf("%s: %v", what, kind)
	if attempts > 1 {
		reason = fmt.Sprintf("%s after %d attempts", reason, attempts)
	}
	return stepErr(kind, step.Index, reason, err)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
