// Package plan defines the navigation plan model: the closed action vocabulary, steps with
// optional jump targets, and the load-time validation every plan passes before execution.
package plan

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidPlan is matched by every validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is the structured output of a plan generator.
type Plan struct {
	TargetURL   string   `json:"target_url" yaml:"target_url"`
	TaskSummary string   `json:"task_summary" yaml:"task_summary"`
	Assumptions []string `json:"assumptions,omitempty" yaml:"assumptions,omitempty"`
	Steps       []Step   `json:"steps" yaml:"steps"`
}

// Step is one addressable instruction.
type Step struct {
	Index       int    `json:"index" yaml:"index"`
	Action      Action `json:"action" yaml:"action"`
	Args        Args   `json:"args,omitempty" yaml:"args,omitempty"`
	Description string `json:"description" yaml:"description"`
	// JumpTarget is set only on conditional steps.
	JumpTarget int `json:"jump_target,omitempty" yaml:"jump_target,omitempty"`
}

// Args holds the action-specific arguments. Which fields apply is fixed by the action's Spec.
type Args struct {
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Selector  string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
	Key       string `json:"key,omitempty" yaml:"key,omitempty"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

func (a Args) get(name string) string {
	switch name {
	case "url":
		return a.URL
	case "selector":
		return a.Selector
	case "text":
		return a.Text
	case "key":
		return a.Key
	case "pattern":
		return a.Pattern
	}
	return ""
}

// Timeout returns the step's bound: the args override when set, the action default otherwise.
func (s Step) Timeout() time.Duration {
	if s.Args.TimeoutMs > 0 {
		return time.Duration(s.Args.TimeoutMs) * time.Millisecond
	}
	return specs[s.Action].Timeout
}

// Attempts returns how many times a transient failure of this step may be tried.
func (s Step) Attempts() int {
	if n := specs[s.Action].Attempts; n > 0 {
		return n
	}
	return 1
}

// Label is a short human description used in logs.
func (s Step) Label() string {
	if s.Description != "" {
		return s.Description
	}
	return string(s.Action)
}

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.Steps) }

// Step returns the step at a 1-based index.
func (p *Plan) Step(index int) (Step, bool) {
	if index < 1 || index > len(p.Steps) {
		return Step{}, false
	}
	return p.Steps[index-1], true
}

// ValidationError reports the first structural defect found in a plan.
type ValidationError struct {
	StepIndex int // 0 for plan-level defects
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.StepIndex > 0 {
		return fmt.Sprintf("invalid plan: step %d: %s", e.StepIndex, e.Reason)
	}
	return "invalid plan: " + e.Reason
}

// Is makes every ValidationError match ErrInvalidPlan.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidPlan }

func invalid(step int, format string, args ...any) error {
	return &ValidationError{StepIndex: step, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the invariants the interpreter relies on. Plans come from a language model
// and are untrusted with respect to control flow.
func (p *Plan) Validate() error {
	if p == nil {
		return invalid(0, "plan is nil")
	}
	if strings.TrimSpace(p.TargetURL) == "" {
		return invalid(0, "target_url is empty")
	}
	if err := checkURL(p.TargetURL); err != nil {
		return invalid(0, "target_url: %v", err)
	}
	if len(p.Steps) == 0 {
		return invalid(0, "plan has no steps")
	}
	n := len(p.Steps)
	for i, s := range p.Steps {
		want := i + 1
		if s.Index != want {
			return invalid(want, "index %d out of sequence, expected %d", s.Index, want)
		}
		spec, ok := specs[s.Action]
		if !ok {
			return invalid(want, "unknown action %q", s.Action)
		}
		for _, name := range spec.Required {
			if strings.TrimSpace(s.Args.get(name)) == "" {
				return invalid(want, "%s requires args.%s", s.Action, name)
			}
		}
		if s.Args.TimeoutMs < 0 {
			return invalid(want, "negative timeout_ms %d", s.Args.TimeoutMs)
		}
		if s.Action == PressKey {
			if _, ok := CanonicalKey(s.Args.Key); !ok {
				return invalid(want, "unknown key %q", s.Args.Key)
			}
		}
		if s.Action == OpenPage {
			if err := checkURL(s.Args.URL); err != nil {
				return invalid(want, "url: %v", err)
			}
		}
		if spec.Category == Conditional {
			switch {
			case s.JumpTarget == 0:
				return invalid(want, "%s requires jump_target", s.Action)
			case s.JumpTarget < 1 || s.JumpTarget > n:
				return invalid(want, "jump_target %d outside 1..%d", s.JumpTarget, n)
			case s.JumpTarget == s.Index:
				return invalid(want, "jump_target %d points at itself", s.JumpTarget)
			}
		} else if s.JumpTarget != 0 {
			return invalid(want, "jump_target set on non-conditional action %s", s.Action)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// Expand returns a copy with <NAME> placeholders in url, selector and text replaced from vars.
// Unknown placeholders are left untouched.
func (p *Plan) Expand(vars map[string]string) *Plan {
	out := *p
	out.Assumptions = append([]string(nil), p.Assumptions...)
	out.Steps = make([]Step, len(p.Steps))
	if len(vars) == 0 {
		copy(out.Steps, p.Steps)
		return &out
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "<"+strings.ToUpper(k)+">", v)
	}
	r := strings.NewReplacer(pairs...)
	out.TargetURL = r.Replace(p.TargetURL)
	for i, s := range p.Steps {
		s.Args.URL = r.Replace(s.Args.URL)
		s.Args.Selector = r.Replace(s.Args.Selector)
		s.Args.Text = r.Replace(s.Args.Text)
		out.Steps[i] = s
	}
	return &out
}

// Renumber assigns contiguous indices in slice order and shifts jump targets accordingly.
// Generators occasionally number steps from 0 or skip numbers; the mapping keeps their intent.
// Indices must be unique for the mapping to be meaningful.
func (p *Plan) Renumber() {
	remap := make(map[int]int, len(p.Steps))
	for i, s := range p.Steps {
		remap[s.Index] = i + 1
	}
	for i := range p.Steps {
		p.Steps[i].Index = i + 1
		if t := p.Steps[i].JumpTarget; t != 0 {
			if nt, ok := remap[t]; ok {
				p.Steps[i].JumpTarget = nt
			}
		}
	}
}
