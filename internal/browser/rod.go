package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodSession drives a Chromium page through go-rod.
type RodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	log      *slog.Logger
	// cleanup removes the throwaway user data dir; a caller-provided profile is kept.
	cleanup bool

	mu      sync.Mutex
	lastURL string
	closed  bool
}

var _ Session = (*RodSession)(nil)

// OpenRod launches a local browser and opens a blank page sized to the viewport.
func OpenRod(ctx context.Context, opts Options) (*RodSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := opts.logger()

	path := opts.BinPath
	if path == "" {
		path, _ = launcher.LookPath()
	}
	w, h := opts.viewport()
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox).
		Set("window-size", fmt.Sprintf("%d,%d", w, h))
	if path != "" {
		l = l.Bin(path)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	log.Debug("browser launched", "engine", EngineRod, "headless", opts.Headless, "profile", opts.ProfileDir)
	return &RodSession{
		launcher: l,
		browser:  b,
		page:     page,
		log:      log,
		cleanup:  opts.ProfileDir == "",
		lastURL:  "about:blank",
	}, nil
}

// Page returns the underlying rod page.
func (s *RodSession) Page() *rod.Page {
	return s.page
}

func (s *RodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return classifyRod("navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		return classifyRod("wait for load", err)
	}
	s.rememberURL(p)
	return nil
}

func (s *RodSession) WaitForSelector(ctx context.Context, selector string) (bool, error) {
	_, err := s.find(ctx, selector)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrElementNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *RodSession) WaitForLoad(ctx context.Context) error {
	p := s.page.Context(ctx)
	if err := p.WaitLoad(); err != nil {
		return classifyRod("wait for load", err)
	}
	// Long-polling pages never go idle; a bounded idle wait is enough.
	idleCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.page.Context(idleCtx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	s.rememberURL(p)
	return nil
}

func (s *RodSession) Click(ctx context.Context, selector string) error {
	el, err := s.find(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return classifyRod("click "+selector, err)
	}
	return nil
}

func (s *RodSession) Type(ctx context.Context, selector, text string) error {
	el, err := s.find(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return classifyRod("select text "+selector, err)
	}
	if err := el.Input(text); err != nil {
		return classifyRod("type into "+selector, err)
	}
	return nil
}

func (s *RodSession) PressKey(ctx context.Context, key string) error {
	p := s.page.Context(ctx)
	if k, ok := rodKeys[key]; ok {
		return classifyRod("press "+key, p.Keyboard.Type(k))
	}
	if len([]rune(key)) == 1 {
		return classifyRod("press "+key, p.InsertText(key))
	}
	return fmt.Errorf("press %q: unsupported key", key)
}

func (s *RodSession) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", classifyRod("current url", err)
	}
	s.mu.Lock()
	s.lastURL = info.URL
	s.mu.Unlock()
	return info.URL, nil
}

func (s *RodSession) WaitForURLChange(ctx context.Context) (bool, error) {
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

func (s *RodSession) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, classifyRod("screenshot", err)
	}
	return data, nil
}

// Close releases the page, the browser process and, for throwaway profiles, the user data dir.
func (s *RodSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil && !connectionGone(err) {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil && !connectionGone(err) {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.launcher != nil {
		if s.cleanup {
			s.launcher.Cleanup()
		} else {
			s.launcher.Kill()
		}
	}
	return errors.Join(errs...)
}

// find resolves selector to an element, retrying until ctx expires.
func (s *RodSession) find(ctx context.Context, selector string) (*rod.Element, error) {
	p := s.page.Context(ctx)
	if label, ok := textSelector(selector); ok {
		el, err := p.ElementByJS(rod.Eval(findByTextJS, clickableSelector, label))
		if err != nil {
			return nil, notFound(selector, classifyRod("find "+selector, err))
		}
		return el, nil
	}
	el, err := p.Element(selector)
	if err != nil {
		return nil, notFound(selector, classifyRod("find "+selector, err))
	}
	return el, nil
}

func (s *RodSession) rememberURL(p *rod.Page) {
	info, err := p.Info()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.lastURL = info.URL
	s.mu.Unlock()
}

// notFound reports an element wait that ran out of time as a missing element.
func notFound(selector string, err error) error {
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", selector, ErrElementNotFound, err)
	}
	return err
}

func classifyRod(op string, err error) error {
	if err == nil {
		return nil
	}
	var navErr *rod.NavigationError
	var nfErr *rod.ElementNotFoundError
	switch {
	case errors.Is(err, cdp.ErrSessionNotFound),
		errors.Is(err, cdp.ErrNotAttachedToActivePage),
		connectionGone(err):
		return wrap(ErrSessionLost, op, err)
	case errors.As(err, &navErr):
		return wrap(ErrNavigation, op, err)
	case errors.As(err, &nfErr):
		return wrap(ErrElementNotFound, op, err)
	case isDeadline(err), errors.Is(err, context.Canceled):
		return wrap(ErrTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var rodKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Escape":     input.Escape,
	"Tab":        input.Tab,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"Space":      input.Space,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

// findByTextJS returns the first visible candidate whose trimmed text equals label, ignoring
// case. Selector groups are tried in order so buttons and links win over generic containers.
const findByTextJS = `(selectors, label) => {
	const want = label.trim().toLowerCase();
	for (const sel of selectors.split(',')) {
		for (const el of document.querySelectorAll(sel.trim())) {
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 || rect.height === 0) continue;
			const text = (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().toLowerCase();
			if (text === want) return el;
		}
	}
	return null;
}`
