// Package runner owns the lifetime of a run: its directory, its browser session, the optional
// login pre-flight, the overall time budget and the post-run manifest, GIF and ledger entry.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/v0xg/stepshot/internal/browser"
	"github.com/v0xg/stepshot/internal/capture"
	"github.com/v0xg/stepshot/internal/executor"
	"github.com/v0xg/stepshot/internal/gifgen"
	"github.com/v0xg/stepshot/internal/history"
	"github.com/v0xg/stepshot/internal/plan"
)

// DefaultBudget is the overall wall-clock limit of one run.
const DefaultBudget = 10 * time.Minute

// SessionFactory opens a fresh browser session for one run.
type SessionFactory func(ctx context.Context) (browser.Session, error)

// BrowserFactory adapts browser.Open to a SessionFactory.
func BrowserFactory(opts browser.Options) SessionFactory {
	return func(ctx context.Context) (browser.Session, error) {
		return browser.Open(ctx, opts)
	}
}

// Ledger records finished runs. *history.Store implements it.
type Ledger interface {
	Append(ctx context.Context, rec history.Record) error
}

// Request is one run to perform.
type Request struct {
	Plan *plan.Plan
	// Login runs first on the same session. Its target_url defaults to the task plan's.
	Login        *plan.Plan
	CaptureLogin bool
	// Vars fill <NAME> placeholders in both plans.
	Vars map[string]string
	// Task is the natural-language description recorded in the ledger.
	Task string
}

// Result is what a run produced.
type Result struct {
	RunID      string
	RunDir     string
	Outcome    executor.Outcome
	Artifacts  []capture.Artifact
	GIF        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Options configures a Coordinator.
type Options struct {
	OutputDir string
	Budget    time.Duration
	Sessions  SessionFactory

	MaxVisits      int
	Backoff        time.Duration
	Settle         time.Duration
	CaptureTimeout time.Duration

	// GIF, when set, assembles the captures into an animation after the run.
	GIF     *gifgen.Options
	History Ledger
	Logger  *slog.Logger
	// OnStep receives progress for every executed step of every run.
	OnStep func(runID string, r executor.StepReport)
}

// Coordinator performs runs. Runs share nothing but the output directory.
type Coordinator struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// New validates opts and returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Sessions == nil {
		return nil, errors.New("runner: no session factory")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		opts.OutputDir = "runs"
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{opts: opts, log: log, now: time.Now}, nil
}

// Run executes one request and always returns a result with exactly one terminal outcome.
func (c *Coordinator) Run(ctx context.Context, req Request) Result {
	res := Result{StartedAt: c.now()}

	dir, id, err := c.allocateDir(res.StartedAt)
	if err != nil {
		res.Outcome = executor.OutcomeFor(&executor.StepError{
			Kind:   executor.ErrInternal,
			Reason: fmt.Sprintf("create run directory: %v", err),
			Err:    err,
		})
		res.FinishedAt = c.now()
		return res
	}
	res.RunID, res.RunDir = id, dir
	log := c.log.With("run", id)
	sink := capture.NewSink(dir, capture.Options{Settle: c.opts.Settle, Logger: log})

	task, login, err := prepare(req)
	if err != nil {
		log.Warn("plan rejected", "err", err)
		res.Outcome = executor.InvalidPlan(err)
	} else {
		res.Outcome, res.Artifacts = c.execute(ctx, log, id, sink, task, login, req.CaptureLogin)
	}
	res.FinishedAt = c.now()

	if c.opts.GIF != nil && len(res.Artifacts) > 0 {
		if path, err := sink.AssembleGIF(res.Artifacts, *c.opts.GIF); err != nil {
			log.Warn("gif assembly failed", "err", err)
		} else {
			res.GIF = path
		}
	}

	if err := sink.WriteManifest(manifest(res, task, req.Plan)); err != nil {
		log.Warn("manifest not written", "err", err)
	}
	c.record(ctx, log, res, req)

	log.Info("run finished", "outcome", res.Outcome.String(), "captures", len(res.Artifacts),
		"elapsed", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	return res
}

// execute owns the session: it is opened here and closed on every path, panics included.
func (c *Coordinator) execute(ctx context.Context, log *slog.Logger, id string, sink *capture.Sink, task, login *plan.Plan, captureLogin bool) (out executor.Outcome, arts []capture.Artifact) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Budget)
	defer cancel()

	sess, err := c.opts.Sessions(ctx)
	if err != nil {
		return executor.OutcomeFor(&executor.StepError{
			Kind:   executor.ErrSessionLost,
			Reason: fmt.Sprintf("browser unavailable: %v", err),
			Err:    err,
		}), nil
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("closing browser", "err", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("interpreter panic", "panic", r, "stack", string(debug.Stack()))
			out = executor.OutcomeFor(&executor.StepError{
				Kind:   executor.ErrInternal,
				Reason: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	ordinal := 0
	if login != nil {
		opts := c.interpreterOptions(log, id)
		if captureLogin {
			opts.Capture = sink
		}
		log.Info("running login plan", "steps", login.Len())
		res := executor.New(opts).Run(ctx, sess, login)
		arts = append(arts, res.Artifacts...)
		ordinal = res.State.CaptureOrdinal
		if !res.Outcome.OK() {
			o := res.Outcome
			o.Reason = "login: " + o.Reason
			return o, arts
		}
	}

	opts := c.interpreterOptions(log, id)
	opts.Capture = sink
	opts.OrdinalBase = ordinal
	log.Info("running plan", "steps", task.Len(), "target", task.TargetURL)
	res := executor.New(opts).Run(ctx, sess, task)
	return res.Outcome, append(arts, res.Artifacts...)
}

func (c *Coordinator) interpreterOptions(log *slog.Logger, id string) executor.Options {
	opts := executor.Options{
		MaxVisits:      c.opts.MaxVisits,
		Backoff:        c.opts.Backoff,
		CaptureTimeout: c.opts.CaptureTimeout,
		Logger:         log,
	}
	if c.opts.OnStep != nil {
		opts.OnStep = func(r executor.StepReport) { c.opts.OnStep(id, r) }
	}
	return opts
}

// allocateDir creates a fresh run directory; an existing one is never reused.
func (c *Coordinator) allocateDir(t time.Time) (string, string, error) {
	if err := os.MkdirAll(c.opts.OutputDir, 0o755); err != nil {
		return "", "", err
	}
	var lastErr error
	for range 3 {
		id := NewRunID(t)
		dir := filepath.Join(c.opts.OutputDir, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, id, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", err
		}
		lastErr = err
	}
	return "", "", lastErr
}

// NewRunID names a run after its start time plus a random ULID suffix, for example
// run_20260301_101500.042_7q2k9x.
func NewRunID(t time.Time) string {
	u := ulid.Make().String()
	return fmt.Sprintf("run_%s_%s", t.Format("20060102_150405.000"), strings.ToLower(u[len(u)-6:]))
}

// prepare expands placeholders and validates both plans before any browser is opened.
func prepare(req Request) (task, login *plan.Plan, err error) {
	if req.Plan == nil {
		return nil, nil, &plan.ValidationError{Reason: "no plan"}
	}
	task = req.Plan.Expand(req.Vars)
	if err := task.Validate(); err != nil {
		return nil, nil, err
	}
	if req.Login != nil {
		login = req.Login.Expand(req.Vars)
		if login.TargetURL == "" {
			login.TargetURL = task.TargetURL
		}
		if err := login.Validate(); err != nil {
			return task, nil, fmt.Errorf("login: %w", err)
		}
	}
	return task, login, nil
}

func manifest(res Result, task, raw *plan.Plan) capture.Manifest {
	m := capture.Manifest{
		RunID:      res.RunID,
		Status:     res.Outcome.Status.String(),
		Reason:     res.Outcome.Reason,
		StepIndex:  res.Outcome.StepIndex,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Artifacts:  res.Artifacts,
		GIF:        res.GIF,
	}
	if res.Outcome.OK() {
		m.Reason = ""
	}
	// The expanded plan may carry credentials; the manifest uses the raw one.
	switch {
	case raw != nil:
		m.TargetURL, m.TaskSummary = raw.TargetURL, raw.TaskSummary
	case task != nil:
		m.TargetURL, m.TaskSummary = task.TargetURL, task.TaskSummary
	}
	return m
}

func (c *Coordinator) record(ctx context.Context, log *slog.Logger, res Result, req Request) {
	if c.opts.History == nil {
		return
	}
	rec := history.Record{
		RunID:      res.RunID,
		Task:       req.Task,
		Status:     res.Outcome.Status.String(),
		Reason:     res.Outcome.Reason,
		StepIndex:  res.Outcome.StepIndex,
		Captures:   len(res.Artifacts),
		RunDir:     res.RunDir,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if req.Plan != nil {
		rec.TargetURL = req.Plan.TargetURL
		if rec.Task == "" {
			rec.Task = req.Plan.TaskSummary
		}
	}
	if err := c.opts.History.Append(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("history append failed", "err", err)
	}
}
