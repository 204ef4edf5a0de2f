package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	// ErrTimeout means a bounded wait expired.
	ErrTimeout = errors.New("browser operation timed out")
	// ErrElementNotFound means a selector never matched within the bound.
	ErrElementNotFound = errors.New("element not found")
	// ErrNavigation means the browser reported a failed page load.
	ErrNavigation = errors.New("navigation failed")
	// ErrSessionLost means the browser crashed or the connection to it is gone.
	ErrSessionLost = errors.New("browser session lost")
)

// IsSessionLost reports whether err means the session can no longer be used.
func IsSessionLost(err error) bool {
	return errors.Is(err, ErrSessionLost)
}

// IsTransient reports whether err might succeed on a retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrElementNotFound)
}

// wrap attaches a sentinel while keeping the engine error in the chain.
func wrap(sentinel error, op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

// connectionGone recognises transport-level failures shared by both engines.
func connectionGone(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "target closed")
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
