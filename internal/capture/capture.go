// Package capture writes a run's screenshots into its run directory under deterministic,
// ordinal-prefixed names. Files are created exclusively and never rewritten.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/v0xg/stepshot/internal/browser"
	"github.com/v0xg/stepshot/internal/plan"
)

// MaxSlugLen bounds the description part of a file name, in bytes.
const MaxSlugLen = 50

// DefaultSettle is how long the page is given to repaint before a screenshot.
const DefaultSettle = 300 * time.Millisecond

// ErrExists is returned when the target file is already present.
var ErrExists = errors.New("capture file already exists")

// Artifact is one screenshot written for a step.
type Artifact struct {
	Ordinal   int       `json:"ordinal"`
	StepIndex int       `json:"step_index"`
	Slug      string    `json:"slug"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Sink.
type Options struct {
	Settle time.Duration // zero means DefaultSettle, negative disables the delay
	Logger *slog.Logger
}

// Sink is the only writer of a run directory.
type Sink struct {
	dir    string
	settle time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewSink returns a sink writing into dir, which must already exist.
func NewSink(dir string, opts Options) *Sink {
	settle := opts.Settle
	if settle == 0 {
		settle = DefaultSettle
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sink{dir: dir, settle: settle, log: log, now: time.Now}
}

// Dir returns the run directory.
func (s *Sink) Dir() string { return s.dir }

// Capture allocates the next ordinal, takes a full-page screenshot and writes it as
// NNN_<slug>.png. The ordinal is consumed even when the screenshot fails.
func (s *Sink) Capture(ctx context.Context, sess browser.Session, ordinal *int, step plan.Step) (Artifact, error) {
	*ordinal++
	n := *ordinal

	if s.settle > 0 {
		t := time.NewTimer(s.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return Artifact{}, fmt.Errorf("capture %d: %w: %w", n, browser.ErrTimeout, ctx.Err())
		case <-t.C:
		}
	}

	data, err := sess.Screenshot(ctx)
	if err != nil {
		return Artifact{}, fmt.Errorf("capture %d: %w", n, err)
	}

	slug := Slugify(step.Description, step.Index)
	path := filepath.Join(s.dir, FileName(n, slug))
	if err := writeExclusive(path, data); err != nil {
		return Artifact{}, fmt.Errorf("capture %d: %w", n, err)
	}

	a := Artifact{
		Ordinal:   n,
		StepIndex: step.Index,
		Slug:      slug,
		Path:      path,
		Timestamp: s.now(),
	}
	s.log.Debug("captured", "ordinal", n, "step", step.Index, "path", path)
	return a, nil
}

// FileName formats the artifact name for an ordinal and slug.
func FileName(ordinal int, slug string) string {
	return fmt.Sprintf("%03d_%s.png", ordinal, slug)
}

// Slugify lower-cases description, collapses every run of characters outside [a-z0-9] into a
// single underscore and truncates to MaxSlugLen. An empty result becomes step_<index>.
func Slugify(description string, index int) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(description) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	slug := b.String()
	if len(slug) > MaxSlugLen {
		slug = strings.TrimRight(slug[:MaxSlugLen], "_")
	}
	if slug == "" {
		return fmt.Sprintf("step_%d", index)
	}
	return slug
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrExists)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
