package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepshot/internal/browser"
	"github.com/v0xg/stepshot/internal/browser/browsertest"
	"github.com/v0xg/stepshot/internal/capture"
	"github.com/v0xg/stepshot/internal/plan"
)

const home = "https://app.example.com/"

func newPlan(t *testing.T, steps ...plan.Step) *plan.Plan {
	t.Helper()
	p := &plan.Plan{TargetURL: home, TaskSummary: "test", Steps: steps}
	p.Renumber()
	require.NoError(t, p.Validate())
	return p
}

func open(u string) plan.Step {
	return plan.Step{Action: plan.OpenPage, Args: plan.Args{URL: u}, Description: "Open " + u}
}

func waitFor(sel string) plan.Step {
	return plan.Step{Action: plan.WaitFor, Args: plan.Args{Selector: sel}, Description: "Wait for " + sel}
}

func click(sel string) plan.Step {
	return plan.Step{Action: plan.Click, Args: plan.Args{Selector: sel}, Description: "Click " + sel}
}

func ifURL(pattern string, target int) plan.Step {
	return plan.Step{Action: plan.IfURLContains, Args: plan.Args{Pattern: pattern}, JumpTarget: target, Description: "If url has " + pattern}
}

func ifElement(sel string, target int) plan.Step {
	return plan.Step{Action: plan.IfElementExists, Args: plan.Args{Selector: sel}, JumpTarget: target, Description: "If " + sel}
}

type harness struct {
	t    *testing.T
	dir  string
	sess *browsertest.Session
	opts Options
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		t:    t,
		dir:  dir,
		sess: browsertest.New("about:blank"),
		opts: Options{
			Backoff: time.Millisecond,
			Capture: capture.NewSink(dir, capture.Options{Settle: -1}),
		},
	}
}

func (h *harness) run(ctx context.Context, p *plan.Plan) Result {
	return New(h.opts).Run(ctx, h.sess, p)
}

func stepIndices(arts []capture.Artifact) []int {
	out := make([]int, len(arts))
	for i, a := range arts {
		out[i] = a.StepIndex
	}
	return out
}

func ordinals(arts []capture.Artifact) []int {
	out := make([]int, len(arts))
	for i, a := range arts {
		out[i] = a.Ordinal
	}
	return out
}

func TestSequentialPlanSucceeds(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#form", "#submit")
	p := newPlan(t, open(home), waitFor("#form"), click("#submit"))

	res := h.run(context.Background(), p)

	require.Equal(t, Succeeded, res.Outcome.Status, res.Outcome.String())
	assert.Equal(t, []int{1, 2, 3}, ordinals(res.Artifacts))
	assert.Equal(t, []int{1, 2, 3}, stepIndices(res.Artifacts))
	assert.Equal(t, filepath.Join(h.dir, "001_open_https_app_example_com.png"), res.Artifacts[0].Path)
	for _, a := range res.Artifacts {
		assert.FileExists(t, a.Path)
	}
	assert.Equal(t, home, res.State.CurrentURL)
	assert.Equal(t, 3, res.State.CaptureOrdinal)
}

func TestURLConditionJumps(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#a", "#b", "#c")
	h.sess.On("Click", "#a", func(s *browsertest.Session) { s.SetURL(home + "dashboard") })
	p := newPlan(t,
		click("#a"),
		ifURL("Dashboard", 5),
		click("#b"),
		click("#b"),
		click("#c"),
	)

	res := h.run(context.Background(), p)

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Equal(t, []int{1, 5}, stepIndices(res.Artifacts))
	assert.Equal(t, []int{1, 2}, ordinals(res.Artifacts))
	assert.Zero(t, h.sess.Count("Click", "#b"))
}

func TestElementConditionFallsThrough(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#next", "#skip")
	p := newPlan(t,
		ifElement("#login", 3),
		click("#next"),
		click("#skip"),
	)

	res := h.run(context.Background(), p)

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Equal(t, []int{2, 3}, stepIndices(res.Artifacts))
	assert.Equal(t, 1, h.sess.Count("Click", "#next"))
}

func TestElementConditionJumps(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#login", "#skip")
	p := newPlan(t,
		ifElement("#login", 3),
		click("#next"),
		click("#skip"),
	)

	res := h.run(context.Background(), p)

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Equal(t, []int{3}, stepIndices(res.Artifacts))
	assert.Zero(t, h.sess.Count("Click", "#next"))
}

func TestProbeErrorReadsAsFalse(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#login", "#next")
	h.sess.FailNext("WaitForSelector", "#login", errors.New("eval js error"))
	p := newPlan(t, ifElement("#login", 3), click("#next"), click("#next"))

	res := h.run(context.Background(), p)

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Equal(t, 1, h.sess.Count("WaitForSelector", "#login"), "probes are not retried")
	assert.Equal(t, 2, h.sess.Count("Click", "#next"))
}

func TestProbeSessionLossAborts(t *testing.T) {
	h := newHarness(t)
	h.sess.Always("CurrentURL", "", browser.ErrSessionLost)
	p := newPlan(t, ifURL("x", 2), click("#a"))

	res := h.run(context.Background(), p)

	assert.Equal(t, Aborted, res.Outcome.Status)
	assert.Equal(t, 1, res.Outcome.StepIndex)
	assert.ErrorIs(t, res.Outcome.Err, ErrSessionLost)
	assert.Empty(t, res.Artifacts)
}

func TestMissingElementFailsAfterRetries(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#form")
	p := newPlan(t, open(home), waitFor("#form"), click("#missing"), click("#form"))

	res := h.run(context.Background(), p)

	require.Equal(t, Failed, res.Outcome.Status)
	assert.Equal(t, 3, res.Outcome.StepIndex)
	assert.Contains(t, res.Outcome.Reason, "element not found")
	assert.ErrorIs(t, res.Outcome.Err, ErrElementNotFound)
	assert.ErrorIs(t, res.Outcome.Err, browser.ErrElementNotFound)
	assert.Equal(t, 3, h.sess.Count("Click", "#missing"))
	assert.Equal(t, []int{1, 2}, stepIndices(res.Artifacts))
	assert.Zero(t, h.sess.Count("Click", "#form"))
}

func TestTransientErrorRecovers(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#btn")
	h.sess.FailNext("Click", "#btn", browser.ErrTimeout, browser.ErrElementNotFound)
	p := newPlan(t, click("#btn"))

	var reports []StepReport
	h.opts.OnStep = func(r StepReport) { reports = append(reports, r) }
	res := h.run(context.Background(), p)

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Equal(t, 3, h.sess.Count("Click", "#btn"))
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].Attempts)
	require.NotNil(t, reports[0].Artifact)
}

func TestNonTransientErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#btn")
	h.sess.FailNext("Click", "#btn", errors.New("node is detached"))
	p := newPlan(t, click("#btn"))

	res := h.run(context.Background(), p)

	assert.Equal(t, Failed, res.Outcome.Status)
	assert.ErrorIs(t, res.Outcome.Err, ErrActionFailed)
	assert.Equal(t, 1, h.sess.Count("Click", "#btn"))
}

func TestNavigationFailureIsStructural(t *testing.T) {
	h := newHarness(t)
	h.sess.FailNext("Navigate", home, browser.ErrTimeout)
	p := newPlan(t, open(home))

	res := h.run(context.Background(), p)

	assert.Equal(t, Failed, res.Outcome.Status)
	assert.Equal(t, 1, res.Outcome.StepIndex)
	assert.ErrorIs(t, res.Outcome.Err, ErrNavigationFailed)
	assert.Equal(t, 1, h.sess.Count("Navigate", home))
	assert.Empty(t, res.Artifacts)
}

func TestSessionLossBypassesRetries(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#btn")
	h.sess.Always("Click", "#btn", browser.ErrSessionLost)
	p := newPlan(t, click("#btn"))

	res := h.run(context.Background(), p)

	assert.Equal(t, Aborted, res.Outcome.Status)
	assert.ErrorIs(t, res.Outcome.Err, ErrSessionLost)
	assert.Equal(t, 1, h.sess.Count("Click", "#btn"))
}

func TestURLChange(t *testing.T) {
	t.Run("changed by previous step", func(t *testing.T) {
		h := newHarness(t)
		h.sess.Present("#save")
		h.sess.On("Click", "#save", func(s *browsertest.Session) { s.SetURL(home + "items/1") })
		p := newPlan(t, open(home), click("#save"), plan.Step{Action: plan.WaitForURLChange, Description: "Wait for redirect"})

		res := h.run(context.Background(), p)

		require.True(t, res.Outcome.OK(), res.Outcome.String())
		assert.Len(t, res.Artifacts, 3)
	})

	t.Run("unchanged fails", func(t *testing.T) {
		h := newHarness(t)
		h.sess.Present("#save")
		p := newPlan(t, open(home), click("#save"), plan.Step{Action: plan.WaitForURLChange})

		res := h.run(context.Background(), p)

		assert.Equal(t, Failed, res.Outcome.Status)
		assert.Equal(t, 3, res.Outcome.StepIndex)
		assert.ErrorIs(t, res.Outcome.Err, ErrActionTimeout)
		assert.Len(t, res.Artifacts, 2)
	})
}

func TestCycleDetected(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#next", "#again")
	p := newPlan(t, open(home), click("#next"), ifElement("#again", 2), click("#never"))

	res := h.run(context.Background(), p)

	assert.Equal(t, Aborted, res.Outcome.Status)
	assert.Equal(t, "cycle detected", res.Outcome.Reason)
	assert.Equal(t, 2, res.Outcome.StepIndex)
	assert.ErrorIs(t, res.Outcome.Err, ErrCycleDetected)
	assert.Equal(t, 3, h.sess.Count("Click", "#next"))
	assert.Equal(t, []int{1, 2, 3, 4}, ordinals(res.Artifacts))
	assert.Equal(t, 4, res.State.Visited[2])
}

func TestMaxVisitsConfigurable(t *testing.T) {
	h := newHarness(t)
	h.opts.MaxVisits = 1
	h.sess.Present("#next", "#again")
	p := newPlan(t, click("#next"), ifElement("#again", 1))

	res := h.run(context.Background(), p)

	assert.ErrorIs(t, res.Outcome.Err, ErrCycleDetected)
	assert.Equal(t, 1, h.sess.Count("Click", "#next"))
}

func TestOverallTimeoutAfterInFlightStep(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#a", "#b", "#c", "#d", "#e")
	h.sess.Delay("Click", 40*time.Millisecond)
	p := newPlan(t, click("#a"), click("#b"), click("#c"), click("#d"), click("#e"))

	ctx, cancel := context.WithTimeout(context.Background(), 140*time.Millisecond)
	defer cancel()
	res := h.run(ctx, p)

	require.Equal(t, Aborted, res.Outcome.Status)
	assert.Equal(t, "overall timeout", res.Outcome.Reason)
	assert.ErrorIs(t, res.Outcome.Err, ErrOverallTimeout)
	// The step running at the deadline completed and was captured.
	last := res.Artifacts[len(res.Artifacts)-1]
	assert.Equal(t, len(res.Artifacts), last.StepIndex)
	assert.Zero(t, h.sess.Count("Click", "#e"))
}

func TestCancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.run(ctx, newPlan(t, open(home)))

	assert.Equal(t, Aborted, res.Outcome.Status)
	assert.Equal(t, "cancelled", res.Outcome.Reason)
	assert.ErrorIs(t, res.Outcome.Err, ErrCancelled)
	assert.Empty(t, h.sess.Calls())
}

func TestDeadlineDuringBackoffAborts(t *testing.T) {
	h := newHarness(t)
	h.opts.Backoff = time.Hour
	h.sess.Always("Click", "#slow", browser.ErrTimeout)
	p := newPlan(t, click("#slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := h.run(ctx, p)

	assert.Equal(t, Aborted, res.Outcome.Status)
	assert.ErrorIs(t, res.Outcome.Err, ErrOverallTimeout)
	assert.Equal(t, 1, h.sess.Count("Click", "#slow"))
}

func TestCaptureFailure(t *testing.T) {
	h := newHarness(t)
	h.sess.FailNext("Screenshot", "", errors.New("renderer busy"))
	res := h.run(context.Background(), newPlan(t, open(home), open(home)))

	assert.Equal(t, Failed, res.Outcome.Status)
	assert.Equal(t, 1, res.Outcome.StepIndex)
	assert.ErrorIs(t, res.Outcome.Err, ErrCaptureFailed)
}

func TestRunWithoutCapturer(t *testing.T) {
	h := newHarness(t)
	h.opts.Capture = nil
	h.opts.OrdinalBase = 7
	res := h.run(context.Background(), newPlan(t, open(home)))

	require.True(t, res.Outcome.OK())
	assert.Empty(t, res.Artifacts)
	assert.Equal(t, 7, res.State.CaptureOrdinal)
	assert.Zero(t, h.sess.Count("Screenshot", ""))
}

func TestOrdinalBaseContinuesNumbering(t *testing.T) {
	h := newHarness(t)
	h.opts.OrdinalBase = 2
	res := h.run(context.Background(), newPlan(t, open(home)))

	require.True(t, res.Outcome.OK())
	assert.Equal(t, []int{3}, ordinals(res.Artifacts))
}

func TestPressKeyCanonicalised(t *testing.T) {
	h := newHarness(t)
	p := newPlan(t, plan.Step{Action: plan.PressKey, Args: plan.Args{Key: "esc"}})

	res := h.run(context.Background(), p)

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Equal(t, 1, h.sess.Count("PressKey", "Escape"))
}

func TestBranch(t *testing.T) {
	s := plan.Step{Index: 2, Action: plan.IfURLContains, JumpTarget: 7}
	assert.Equal(t, 7, branch(s, true))
	assert.Equal(t, 3, branch(s, false))
}

func TestOutcomeFor(t *testing.T) {
	o := OutcomeFor(stepErr(ErrElementNotFound, 4, "click: element not found", nil))
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, "failed at step 4: click: element not found", o.String())

	o = OutcomeFor(stepErr(ErrOverallTimeout, 0, "overall timeout", nil))
	assert.Equal(t, Aborted, o.Status)
	assert.Equal(t, "aborted: overall timeout", o.String())

	o = OutcomeFor(errors.New("boom"))
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, "boom", o.Reason)
}

func TestInvalidPlanNeverTouchesSession(t *testing.T) {
	tests := []struct {
		name   string
		target int
		reason string
	}{
		{"self jump", 1, "invalid plan: step 1: jump_target 1 points at itself"},
		{"jump out of range", 99, "invalid plan: step 1: jump_target 99 outside 1..2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.sess.Present("#menu")
			p := &plan.Plan{TargetURL: home, Steps: []plan.Step{
				{Index: 1, Action: plan.IfElementExists, Args: plan.Args{Selector: "#menu"}, JumpTarget: tt.target},
				{Index: 2, Action: plan.Click, Args: plan.Args{Selector: "#menu"}},
			}}

			res := h.run(context.Background(), p)

			assert.Equal(t, Failed, res.Outcome.Status)
			assert.Equal(t, tt.reason, res.Outcome.Reason)
			assert.Equal(t, 1, res.Outcome.StepIndex)
			assert.ErrorIs(t, res.Outcome.Err, ErrPlanValidation)
			assert.ErrorIs(t, res.Outcome.Err, plan.ErrInvalidPlan)
			assert.Empty(t, h.sess.Calls())
			assert.Empty(t, res.Artifacts)
		})
	}
}

func TestConsecutiveURLChangeWaits(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#save")
	h.sess.On("Click", "#save", func(s *browsertest.Session) { s.SetURL(home + "items/1") })
	wait := plan.Step{Action: plan.WaitForURLChange, Description: "Wait for redirect"}
	p := newPlan(t, open(home), click("#save"), wait, wait)

	res := h.run(context.Background(), p)

	assert.Equal(t, Failed, res.Outcome.Status)
	assert.Equal(t, 4, res.Outcome.StepIndex)
	assert.ErrorIs(t, res.Outcome.Err, ErrActionTimeout)
	assert.Equal(t, 1, h.sess.Count("WaitForURLChange", ""), "second wait must ask the browser")
	assert.Len(t, res.Artifacts, 3)
}

func TestLastStepOutlastingDeadlineSucceeds(t *testing.T) {
	h := newHarness(t)
	h.sess.Present("#a")
	h.sess.Delay("Click", 50*time.Millisecond)
	p := newPlan(t, click("#a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := h.run(ctx, p)

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Len(t, res.Artifacts, 1)
}
