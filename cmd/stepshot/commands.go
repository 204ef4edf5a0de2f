package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/v0xg/stepshot/internal/ai"
	"github.com/v0xg/stepshot/internal/config"
	"github.com/v0xg/stepshot/internal/crawler"
	"github.com/v0xg/stepshot/internal/executor"
	"github.com/v0xg/stepshot/internal/history"
	"github.com/v0xg/stepshot/internal/plan"
	"github.com/v0xg/stepshot/internal/runner"
)

var (
	loginPlan    string
	captureLogin bool
	vars         []string
	gif          bool
	planOutput   string
	parallel     int
	historyLimit int
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&loginPlan, "login-plan", "", "Plan file executed first on the same browser session")
	cmd.Flags().BoolVar(&captureLogin, "capture-login", false, "Keep screenshots of the login steps")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Placeholder value KEY=VALUE, fills <KEY> in plans (repeatable)")
	cmd.Flags().BoolVar(&gif, "gif", false, "Assemble the screenshots into walkthrough.gif")
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task> [url]",
		Short: "Generate a plan for a task and execute it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			target := ""
			if len(args) == 2 {
				target = args[1]
			}
			p, err := generate(cmd.Context(), cfg, log, args[0], target)
			if err != nil {
				return err
			}
			req, err := request(p, args[0])
			if err != nil {
				return err
			}
			return runAll(cmd, cfg, log, []runner.Request{req}, 1)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <task> [url]",
		Short: "Generate a plan without executing it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if planOutput == "" {
				progress = os.Stderr
			}
			target := ""
			if len(args) == 2 {
				target = args[1]
			}
			p, err := generate(cmd.Context(), cfg, log, args[0], target)
			if err != nil {
				return err
			}
			if planOutput == "" {
				data, err := plan.Marshal(p, plan.FormatYAML)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := plan.Save(p, planOutput); err != nil {
				return fmt.Errorf("save plan: %w", err)
			}
			fmt.Printf("✓ Plan saved to %s\n", planOutput)
			return nil
		},
	}
	cmd.Flags().StringVarP(&planOutput, "output", "o", "", "Write the plan to a .yaml or .json file instead of stdout")
	return cmd
}

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <plan-file>",
		Short: "Execute an existing plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			p, err := plan.Read(args[0])
			if err != nil {
				return err
			}
			req, err := request(p, p.TaskSummary)
			if err != nil {
				return err
			}
			return runAll(cmd, cfg, log, []runner.Request{req}, 1)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <plan-file>...",
		Short: "Execute several plans concurrently, each in its own browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			n := cfg.Parallel
			if cmd.Flags().Changed("parallel") {
				n = parallel
			}
			reqs := make([]runner.Request, 0, len(args))
			for _, path := range args {
				p, err := plan.Read(path)
				if err != nil {
					return err
				}
				req, err := request(p, p.TaskSummary)
				if err != nil {
					return err
				}
				reqs = append(reqs, req)
			}
			return runAll(cmd, cfg, log, reqs, n)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 2, "Maximum concurrent runs")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			if cfg.History == "" {
				return errors.New("history is disabled (empty history path in config)")
			}
			store, err := history.Open(cfg.History)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No runs recorded yet")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTATUS\tSTEP\tSHOTS\tDURATION\tTASK")
			for _, r := range recs {
				step := "-"
				if r.StepIndex > 0 {
					step = fmt.Sprint(r.StepIndex)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.RunID, r.Status, step, r.Captures, r.Duration().Round(100*time.Millisecond), r.Task)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

// generate inspects the start page when one is given and asks the model for a plan.
func generate(ctx context.Context, cfg *config.Config, log *slog.Logger, task, target string) (*plan.Plan, error) {
	logVerbose("  Task: %s", task)
	logVerbose("  Provider: %s", cfg.AI.Provider)

	var page *crawler.PageMap
	if target != "" {
		fmt.Fprintf(progress, "→ Inspecting %s... ", target)
		pm, err := crawler.Inspect(ctx, target, crawler.Options{
			Width:      cfg.Browser.Width,
			Height:     cfg.Browser.Height,
			BinPath:    cfg.Browser.BinPath,
			ProfileDir: cfg.Browser.ProfileDir,
			NoSandbox:  cfg.Browser.NoSandbox,
			Logger:     log,
		})
		if err != nil {
			fmt.Fprintln(progress, "failed")
			log.Warn("planning without a page map", "url", target, "err", err)
		} else {
			page = pm
			fmt.Fprintf(progress, "done (found %d interactive elements)\n", len(pm.Elements))
		}
	}

	fmt.Fprintf(progress, "→ Generating plan via %s... ", cfg.AI.Provider)
	gen, err := ai.NewGenerator(cfg.AIConfig())
	if err != nil {
		fmt.Fprintln(progress, "failed")
		return nil, fmt.Errorf("AI provider init failed: %w", err)
	}
	p, err := gen.GeneratePlan(ctx, task, target, page)
	if err != nil {
		fmt.Fprintln(progress, "failed")
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Fprintf(progress, "done (%d steps)\n", len(p.Steps))
	logSteps(p)
	return p, nil
}

// request builds a run request from the shared run flags.
func request(p *plan.Plan, task string) (runner.Request, error) {
	values, err := parseVars(vars)
	if err != nil {
		return runner.Request{}, err
	}
	req := runner.Request{Plan: p, Vars: values, Task: task, CaptureLogin: captureLogin}
	if loginPlan != "" {
		lp, err := plan.Read(loginPlan)
		if err != nil {
			return runner.Request{}, fmt.Errorf("login plan: %w", err)
		}
		req.Login = lp
	}
	return req, nil
}

// runAll executes the requests and reports each result. Any non-success outcome is an error.
func runAll(cmd *cobra.Command, cfg *config.Config, log *slog.Logger, reqs []runner.Request, n int) error {
	if cmd.Flags().Changed("gif") {
		cfg.GIF.Enabled = gif
	}
	opts := cfg.RunnerOptions(log)
	opts.Sessions = runner.BrowserFactory(cfg.BrowserOptions(log))
	opts.OnStep = stepPrinter(len(reqs) > 1)

	if cfg.History != "" {
		store, err := history.Open(cfg.History)
		if err != nil {
			log.Warn("run history disabled", "path", cfg.History, "err", err)
		} else {
			defer store.Close()
			opts.History = store
		}
	}

	coord, err := runner.New(opts)
	if err != nil {
		return err
	}

	fmt.Println("→ Executing...")
	results := coord.RunBatch(cmd.Context(), reqs, n)

	failed := 0
	for _, res := range results {
		if !report(res) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs did not succeed", failed, len(results))
	}
	return nil
}

func report(res runner.Result) bool {
	if res.Outcome.OK() {
		fmt.Printf("✓ %s: %d screenshots saved to %s\n", res.RunID, len(res.Artifacts), res.RunDir)
		if res.GIF != "" {
			fmt.Printf("✓ %s: GIF saved to %s\n", res.RunID, res.GIF)
		}
		return true
	}
	fmt.Printf("✗ %s: %s\n", res.RunID, res.Outcome)
	if res.RunDir != "" {
		fmt.Printf("  %d screenshots kept in %s\n", len(res.Artifacts), res.RunDir)
	}
	return false
}

// stepPrinter prints one line per executed step; batch output is prefixed with the run id.
func stepPrinter(prefix bool) func(string, executor.StepReport) {
	return func(runID string, r executor.StepReport) {
		lead := "  "
		if prefix {
			lead = "  " + runID + " "
		}
		line := fmt.Sprintf("%s[%d] %s → %s", lead, r.Step.Index, r.Step.Action, r.Step.Label())
		switch {
		case r.Err != nil:
			line += " ✗ " + r.Err.Error()
		case r.Probe != nil:
			line += fmt.Sprintf(" (%t, next %d)", *r.Probe, r.Next)
		case r.Artifact != nil:
			line += " ✓ " + filepath.Base(r.Artifact.Path)
		}
		if r.Attempts > 1 {
			line += fmt.Sprintf(" [%d attempts]", r.Attempts)
		}
		fmt.Println(line)
	}
}

// logSteps prints the plan when verbose
func logSteps(p *plan.Plan) {
	if !verbose {
		return
	}
	for _, s := range p.Steps {
		switch {
		case s.Action.Conditional():
			arg := s.Args.Selector
			if s.Action == plan.IfURLContains {
				arg = s.Args.Pattern
			}
			fmt.Fprintf(progress, "  [%d] %s → %s (jump to %d)\n", s.Index, s.Action, arg, s.JumpTarget)
		case s.Action == plan.OpenPage:
			fmt.Fprintf(progress, "  [%d] %s → %s\n", s.Index, s.Action, s.Args.URL)
		case s.Action == plan.Type:
			fmt.Fprintf(progress, "  [%d] %s → %s (text: %q)\n", s.Index, s.Action, s.Args.Selector, s.Args.Text)
		case s.Action == plan.PressKey:
			fmt.Fprintf(progress, "  [%d] %s → %s\n", s.Index, s.Action, s.Args.Key)
		default:
			fmt.Fprintf(progress, "  [%d] %s → %s\n", s.Index, s.Action, s.Args.Selector)
		}
	}
}
