package eventstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrClosed is returned by Next once the consumer is closed or its
	// context was cancelled.
	ErrClosed = errors.New("eventstream: consumer closed")

	// ErrNotEventStream is returned when the feed answers with a body that
	// is not text/event-stream.
	ErrNotEventStream = errors.New("eventstream: response is not an event stream")

	errStalled = errors.New("stream stalled")
	errEnded   = errors.New("stream ended")
)

// StatusError is a non-200 answer to the stream request.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("eventstream: unexpected status %d", e.StatusCode)
}

// Temporary reports whether reconnecting may succeed.
func (e *StatusError) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return false
}

// SubscriptionError ends a subscription that could not be kept alive. The
// checkpoint is the last delivered position and can seed a new subscription.
type SubscriptionError struct {
	Checkpoint Checkpoint
	Attempts   int
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("eventstream: subscription to %s failed after %d attempts: %v",
		e.Checkpoint.Stream, e.Attempts, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

func isFatal(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return errors.Is(err, ErrNotEventStream)
}

func reconnectReason(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, errStalled):
		return "stall"
	case errors.Is(err, errEnded):
		return "eof"
	case errors.As(err, &se):
		return "status"
	default:
		return "error"
	}
}
