package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextSelector(t *testing.T) {
	label, ok := textSelector(`text="Sign in" `)
	require.True(t, ok)
	assert.Equal(t, "Sign in", label)

	label, ok = textSelector("text=  Settings")
	require.True(t, ok)
	assert.Equal(t, "Settings", label)

	_, ok = textSelector("#login button")
	assert.False(t, ok)
}

func TestClassifyRod(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"not found", &rod.ElementNotFoundError{}, ErrElementNotFound},
		{"navigation", &rod.NavigationError{Reason: "net::ERR_NAME_NOT_RESOLVED"}, ErrNavigation},
		{"session gone", cdp.ErrSessionNotFound, ErrSessionLost},
		{"eof", fmt.Errorf("read: %w", io.EOF), ErrSessionLost},
		{"closed conn", errors.New("write tcp: use of closed network connection"), ErrSessionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyRod("op", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classifyRod("op", nil))

	other := errors.New("eval js error")
	err := classifyRod("op", other)
	assert.ErrorIs(t, err, other)
	assert.False(t, IsTransient(err))
	assert.False(t, IsSessionLost(err))
}

func TestClassifyCDP(t *testing.T) {
	assert.ErrorIs(t, classifyCDP("op", chromedp.ErrChannelClosed), ErrSessionLost)
	assert.ErrorIs(t, classifyCDP("op", chromedp.ErrInvalidContext), ErrSessionLost)
	assert.ErrorIs(t, classifyCDP("op", errors.New("page load error net::ERR_CONNECTION_REFUSED")), ErrNavigation)
	assert.ErrorIs(t, classifyCDP("op", context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, classifyCDP("op", chromedp.ErrPollingTimeout), ErrTimeout)
}

func TestNotFoundPromotesTimeout(t *testing.T) {
	err := notFound("#missing", classifyRod("find #missing", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.True(t, IsTransient(err))

	lost := classifyRod("find", io.EOF)
	assert.Same(t, lost, notFound("#x", lost))
}

func TestCDPSelector(t *testing.T) {
	sel, _ := cdpSelector("#email")
	assert.Equal(t, "#email", sel)

	sel, _ = cdpSelector("text=Log in")
	assert.Contains(t, sel, `"Log in"`)
	assert.Contains(t, sel, "querySelectorAll")
}

func TestOpenRejectsUnknownEngine(t *testing.T) {
	_, err := Open(context.Background(), Options{Engine: "firefox"})
	assert.ErrorContains(t, err, "unknown browser engine")
}

func TestKeyTablesAgree(t *testing.T) {
	for name := range rodKeys {
		_, ok := cdpKeys[name]
		assert.True(t, ok, name)
	}
	assert.Len(t, cdpKeys, len(rodKeys))
}
