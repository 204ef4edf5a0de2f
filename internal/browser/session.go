// Package browser is the capability surface the plan interpreter drives: navigation, element
// waits, input and screenshots over a real browser. Two engines are provided, go-rod (default)
// and chromedp; both translate engine failures into the sentinel errors in errors.go.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Session is one live browser page. Every blocking call is bounded by the deadline of ctx and
// fails with ErrTimeout or ErrElementNotFound rather than waiting indefinitely.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitForSelector reports whether selector matched before the deadline.
	WaitForSelector(ctx context.Context, selector string) (bool, error)
	WaitForLoad(ctx context.Context) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	PressKey(ctx context.Context, key string) error
	CurrentURL(ctx context.Context) (string, error)
	// WaitForURLChange reports whether the URL changed before the deadline.
	WaitForURLChange(ctx context.Context) (bool, error)
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Engine names a browser automation backend.
type Engine string

const (
	EngineRod      Engine = "rod"
	EngineChromedp Engine = "chromedp"
)

// Options configures how a browser is launched.
type Options struct {
	Engine     Engine
	Headless   bool
	Width      int
	Height     int
	BinPath    string // browser executable; empty means look it up
	ProfileDir string // Chrome/Chromium profile directory for authenticated sessions
	NoSandbox  bool
	Logger     *slog.Logger
}

// DefaultOptions mirrors the viewport used for recorded walkthroughs.
func DefaultOptions() Options {
	return Options{
		Engine:   EngineRod,
		Headless: true,
		Width:    1920,
		Height:   1080,
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) viewport() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = 1920
	}
	if h <= 0 {
		h = 1080
	}
	return w, h
}

// Open launches a browser with the configured engine.
func Open(ctx context.Context, opts Options) (Session, error) {
	switch Engine(strings.ToLower(string(opts.Engine))) {
	case EngineRod, "":
		return OpenRod(ctx, opts)
	case EngineChromedp:
		return OpenChromedp(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown browser engine %q (supported: rod, chromedp)", opts.Engine)
	}
}

// textSelector splits the "text=Label" form used by plan generators.
func textSelector(selector string) (string, bool) {
	if rest, ok := strings.CutPrefix(selector, "text="); ok {
		return strings.Trim(strings.TrimSpace(rest), `"'`), true
	}
	return "", false
}

// clickableSelector is the candidate set searched for text= selectors.
const clickableSelector = `button, a, [role="button"], [role="menuitem"], [role="tab"], [role="link"], input[type="submit"], input[type="button"], label, summary, h1, h2, h3, span, div`
