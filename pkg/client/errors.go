package client

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrProtocol marks malformed or non-converging server data.
	ErrProtocol = errors.New("protocol violation")
)

// ErrorClass is the classification of a failed call.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection failures and 5xx responses.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents an attempt exceeding its timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassThrottle represents a server load signal (maxlag, ratelimited, readonly, 429).
	ErrorClassThrottle ErrorClass = "throttle"

	// ErrorClassInvalidToken represents a rejected or missing token.
	ErrorClassInvalidToken ErrorClass = "invalid_token"

	// ErrorClassSemantic represents an API error reported by the wiki.
	ErrorClassSemantic ErrorClass = "semantic"

	// ErrorClassProtocol represents a response the client cannot interpret.
	ErrorClassProtocol ErrorClass = "protocol"
)

// APIError is a classified failure of one API call.
type APIError struct {
	Class      ErrorClass
	StatusCode int

	// Code and Message come from the error object of the response, if any.
	Code    string
	Message string

	// RetryAfter is the explicit wait hint sent by the server.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mediawiki %s error", e.Class)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&sb, " [%s]", e.Code)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrProtocol) match protocol-class errors.
func (e *APIError) Is(target error) bool {
	return target == ErrProtocol && e.Class == ErrorClassProtocol
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	return shouldRetry(e.Class)
}

// ClassOf returns the class of the first APIError in err's chain, or "".
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ""
}

// IsRetryable reports whether err is a transient failure. Exhausted retries
// are not retryable any more.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetryExhausted) {
		return false
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassNetwork, ErrorClassTimeout, ErrorClassThrottle:
		return true
	case ErrorClassInvalidToken:
		// Retried once after a token refresh, outside the attempt budget.
		return true
	default:
		return false
	}
}

// classifyCode maps an API error code to a class. tokenRequired tells whether
// the request declared a token kind; notoken without one cannot be fixed by a
// refresh.
func classifyCode(code string, tokenRequired bool) ErrorClass {
	switch {
	case code == "maxlag", code == "ratelimited", code == "readonly":
		return ErrorClassThrottle
	case code == "badtoken":
		return ErrorClassInvalidToken
	case code == "notoken" && tokenRequired:
		return ErrorClassInvalidToken
	case strings.HasPrefix(code, "internal_api_error_"):
		// Uncaught server-side exception; usually a transient backend fault.
		return ErrorClassNetwork
	default:
		return ErrorClassSemantic
	}
}

// classifyStatus maps an HTTP status without an interpretable body.
func classifyStatus(status int, retryAfter time.Duration) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassThrottle
	case status == 503 && retryAfter > 0:
		return ErrorClassThrottle
	case status >= 500:
		return ErrorClassNetwork
	case status >= 400:
		return ErrorClassSemantic
	default:
		return ErrorClassProtocol
	}
}
