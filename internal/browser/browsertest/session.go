// Package browsertest provides a scripted in-memory browser.Session.
package browsertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/v0xg/stepshot/internal/browser"
)

// Call records one adapter invocation.
type Call struct {
	Method string
	Arg    string
}

// Session is a fake page: a URL plus a set of selectors that currently match.
// Failures, delays and side effects are scripted per method and argument.
type Session struct {
	mu       sync.Mutex
	url      string
	seenURL  string
	present  map[string]bool
	calls    []Call
	failNext map[string][]error
	always   map[string]error
	hooks    map[string]func(*Session)
	delays   map[string]time.Duration
	closed   int
	shot     []byte
}

var _ browser.Session = (*Session)(nil)

// New returns a session showing url.
func New(url string) *Session {
	return &Session{
		url:      url,
		seenURL:  url,
		present:  map[string]bool{},
		failNext: map[string][]error{},
		always:   map[string]error{},
		hooks:    map[string]func(*Session){},
		delays:   map[string]time.Duration{},
		shot:     tinyPNG(),
	}
}

func key(method, arg string) string { return method + "\x00" + arg }

// Present marks selectors as matching.
func (s *Session) Present(selectors ...string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sel := range selectors {
		s.present[sel] = true
	}
	return s
}

// Absent removes selectors.
func (s *Session) Absent(selectors ...string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sel := range selectors {
		delete(s.present, sel)
	}
	return s
}

// SetURL changes the page URL without recording a call.
func (s *Session) SetURL(u string) {
	s.mu.Lock()
	s.url = u
	s.mu.Unlock()
}

// FailNext queues errors returned by the next calls of method with arg.
// Use an empty arg for methods without one (WaitForLoad, Screenshot, CurrentURL).
func (s *Session) FailNext(method, arg string, errs ...error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(method, arg)
	s.failNext[k] = append(s.failNext[k], errs...)
	return s
}

// Always makes every call of method with arg fail with err.
func (s *Session) Always(method, arg string, err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.always[key(method, arg)] = err
	return s
}

// On runs fn after a successful call of method with arg.
func (s *Session) On(method, arg string, fn func(*Session)) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[key(method, arg)] = fn
	return s
}

// Delay makes every call of method block for d or until its context ends.
func (s *Session) Delay(method string, d time.Duration) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[method] = d
	return s
}

// Calls returns the recorded invocations in order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count reports how many times method was called with arg.
func (s *Session) Count(method, arg string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Arg == arg {
			n++
		}
	}
	return n
}

// Closed reports how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// enter records the call, applies delays and returns any scripted failure.
func (s *Session) enter(ctx context.Context, method, arg string) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Arg: arg})
	d := s.delays[method]
	s.mu.Unlock()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", method, browser.ErrTimeout, ctx.Err())
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(method, arg)
	if err, ok := s.always[k]; ok {
		return err
	}
	if q := s.failNext[k]; len(q) > 0 {
		s.failNext[k] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Session) after(method, arg string) {
	s.mu.Lock()
	fn := s.hooks[key(method, arg)]
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.enter(ctx, "Navigate", url); err != nil {
		return err
	}
	s.mu.Lock()
	s.url = url
	s.seenURL = url
	s.mu.Unlock()
	s.after("Navigate", url)
	return nil
}

func (s *Session) WaitForSelector(ctx context.Context, selector string) (bool, error) {
	if err := s.enter(ctx, "WaitForSelector", selector); err != nil {
		return false, err
	}
	s.mu.Lock()
	ok := s.present[selector]
	s.mu.Unlock()
	if ok {
		s.after("WaitForSelector", selector)
	}
	return ok, nil
}

func (s *Session) WaitForLoad(ctx context.Context) error {
	if err := s.enter(ctx, "WaitForLoad", ""); err != nil {
		return err
	}
	s.after("WaitForLoad", "")
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.enter(ctx, "Click", selector); err != nil {
		return err
	}
	if err := s.require(selector); err != nil {
		return err
	}
	s.after("Click", selector)
	return nil
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	if err := s.enter(ctx, "Type", selector); err != nil {
		return err
	}
	if err := s.require(selector); err != nil {
		return err
	}
	s.after("Type", selector)
	return nil
}

func (s *Session) PressKey(ctx context.Context, k string) error {
	if err := s.enter(ctx, "PressKey", k); err != nil {
		return err
	}
	s.after("PressKey", k)
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if err := s.enter(ctx, "CurrentURL", ""); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenURL = s.url
	return s.url, nil
}

// WaitForURLChange reports whether the URL differs from the last one observed.
func (s *Session) WaitForURLChange(ctx context.Context) (bool, error) {
	if err := s.enter(ctx, "WaitForURLChange", ""); err != nil {
		return false, err
	}
	s.mu.Lock()
	changed := s.url != s.seenURL
	s.seenURL = s.url
	s.mu.Unlock()
	return changed, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.enter(ctx, "Screenshot", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.shot...), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "Close"})
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *Session) require(selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present[selector] {
		return fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
	}
	return nil
}

func tinyPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for x := 0; x < 4; x++ {
		for y := 0; y < 3; y++ {
			img.Set(x, y, color.RGBA{R: uint8(60 * x), G: uint8(80 * y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
