// Package crawler inspects a page and summarises its interactive elements so a plan generator
// can pick selectors that actually exist.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/v0xg/stepshot/internal/browser"
)

// Options configures the crawler behavior
type Options struct {
	Width      int
	Height     int
	Timeout    time.Duration
	BinPath    string
	ProfileDir string // Chrome/Chromium profile directory for authenticated sessions
	NoSandbox  bool
	Logger     *slog.Logger
}

// Inspect opens a short-lived headless page on url and extracts its structure.
func Inspect(ctx context.Context, url string, opts Options) (*PageMap, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	sess, err := browser.OpenRod(ctx, browser.Options{
		Engine:     browser.EngineRod,
		Headless:   true,
		Width:      opts.Width,
		Height:     opts.Height,
		BinPath:    opts.BinPath,
		ProfileDir: opts.ProfileDir,
		NoSandbox:  opts.NoSandbox,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", url, err)
	}
	return Extract(ctx, sess.Page())
}

// Extract reads the current state of page. It waits briefly for network idle and, on
// single-page apps, for interactive elements to render.
func Extract(ctx context.Context, page *rod.Page) (*PageMap, error) {
	p := page.Context(ctx)
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load: %w", err)
	}

	// Don't hang on persistent connections (WebSockets, polling)
	idleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	page.Context(idleCtx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	cancel()

	spa, err := p.Eval(detectSPAJS)
	if err != nil {
		return nil, fmt.Errorf("detect spa: %w", err)
	}
	if spa.Value.Bool() {
		waitForInteractive(ctx, p, 5*time.Second)
	}

	res, err := p.Eval(extractJS)
	if err != nil {
		return nil, fmt.Errorf("extract elements: %w", err)
	}
	var pm PageMap
	if err := res.Value.Unmarshal(&pm); err != nil {
		return nil, fmt.Errorf("decode page map: %w", err)
	}
	pm.IsSPA = spa.Value.Bool()
	return &pm, nil
}

// waitForInteractive polls until something clickable is visible or timeout passes.
func waitForInteractive(ctx context.Context, p *rod.Page, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := p.Eval(countInteractiveJS)
		if err == nil && res.Value.Int() > 0 {
			// Let the last render land
			time.Sleep(300 * time.Millisecond)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}
