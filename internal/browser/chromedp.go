package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// CDPSession drives a Chromium tab through chromedp.
type CDPSession struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	log           *slog.Logger

	mu      sync.Mutex
	lastURL string
	closed  bool
}

var _ Session = (*CDPSession)(nil)

// OpenChromedp starts a browser through chromedp's exec allocator.
func OpenChromedp(ctx context.Context, opts Options) (*CDPSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := opts.logger()
	w, h := opts.viewport()

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(w, h),
	)
	if opts.BinPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.BinPath))
	}
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	// The browser outlives any single run context; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	log.Debug("browser launched", "engine", EngineChromedp, "headless", opts.Headless, "profile", opts.ProfileDir)
	return &CDPSession{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		log:           log,
		lastURL:       "about:blank",
	}, nil
}

// run executes actions on the tab, bounded by the deadline and cancellation of ctx.
func (s *CDPSession) run(ctx context.Context, actions ...chromedp.Action) error {
	actx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		actx, cancelDeadline = context.WithDeadline(actx, dl)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(actx, actions...)
}

func (s *CDPSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return classifyCDP("navigate", err)
	}
	_, _ = s.CurrentURL(ctx)
	return nil
}

func (s *CDPSession) WaitForSelector(ctx context.Context, selector string) (bool, error) {
	sel, by := cdpSelector(selector)
	err := s.run(ctx, chromedp.WaitVisible(sel, by))
	switch {
	case err == nil:
		return true, nil
	case isDeadline(err), errors.Is(err, context.Canceled):
		return false, nil
	default:
		return false, classifyCDP("wait for "+selector, err)
	}
}

func (s *CDPSession) WaitForLoad(ctx context.Context) error {
	var ready bool
	err := s.run(ctx, chromedp.Poll(`document.readyState === "complete"`, &ready,
		chromedp.WithPollingInterval(100*time.Millisecond)))
	if err != nil {
		return classifyCDP("wait for load", err)
	}
	_, _ = s.CurrentURL(ctx)
	return nil
}

func (s *CDPSession) Click(ctx context.Context, selector string) error {
	sel, by := cdpSelector(selector)
	if err := s.run(ctx, chromedp.Click(sel, by)); err != nil {
		return notFound(selector, classifyCDP("click "+selector, err))
	}
	return nil
}

func (s *CDPSession) Type(ctx context.Context, selector, text string) error {
	sel, by := cdpSelector(selector)
	err := s.run(ctx,
		chromedp.WaitVisible(sel, by),
		chromedp.SetValue(sel, "", by),
		chromedp.SendKeys(sel, text, by),
	)
	if err != nil {
		return notFound(selector, classifyCDP("type into "+selector, err))
	}
	return nil
}

func (s *CDPSession) PressKey(ctx context.Context, key string) error {
	if k, ok := cdpKeys[key]; ok {
		return classifyCDP("press "+key, s.run(ctx, chromedp.KeyEvent(k)))
	}
	if len([]rune(key)) == 1 {
		return classifyCDP("press "+key, s.run(ctx, input.InsertText(key)))
	}
	return fmt.Errorf("press %q: unsupported key", key)
}

func (s *CDPSession) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return "", classifyCDP("current url", err)
	}
	s.mu.Lock()
	s.lastURL = u
	s.mu.Unlock()
	return u, nil
}

func (s *CDPSession) WaitForURLChange(ctx context.Context) (bool, error) {
	s.mu.Lock()
	start := s.lastURL
	s.mu.Unlock()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		u, err := s.CurrentURL(ctx)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return false, nil
			}
			return false, err
		}
		if u != start {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

func (s *CDPSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 selects PNG encoding.
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, classifyCDP("screenshot", err)
	}
	return buf, nil
}

func (s *CDPSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := chromedp.Cancel(s.browserCtx)
	s.browserCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) && !connectionGone(err) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// cdpSelector turns a plan selector into a chromedp query.
func cdpSelector(selector string) (string, chromedp.QueryOption) {
	label, ok := textSelector(selector)
	if !ok {
		return selector, chromedp.ByQuery
	}
	sels, _ := json.Marshal(clickableSelector)
	lbl, _ := json.Marshal(label)
	return fmt.Sprintf("(%s)(%s, %s)", findByTextJS, sels, lbl), chromedp.ByJSPath
}

func classifyCDP(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, chromedp.ErrChannelClosed),
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrInvalidTarget),
		connectionGone(err):
		return wrap(ErrSessionLost, op, err)
	case strings.Contains(err.Error(), "page load error"):
		return wrap(ErrNavigation, op, err)
	case errors.Is(err, chromedp.ErrNoResults):
		return wrap(ErrElementNotFound, op, err)
	case isDeadline(err), errors.Is(err, context.Canceled), errors.Is(err, chromedp.ErrPollingTimeout):
		return wrap(ErrTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var cdpKeys = map[string]string{
	"Enter":      kb.Enter,
	"Escape":     kb.Escape,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"Space":      " ",
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
}
