package client

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{
			name:       "network error should retry",
			errorClass: ErrorClassNetwork,
			expected:   true,
		},
		{
			name:       "timeout should retry",
			errorClass: ErrorClassTimeout,
			expected:   true,
		},
		{
			name:       "throttle should retry",
			errorClass: ErrorClassThrottle,
			expected:   true,
		},
		{
			name:       "invalid token is retried after refresh",
			errorClass: ErrorClassInvalidToken,
			expected:   true,
		},
		{
			name:       "semantic error should not retry",
			errorClass: ErrorClassSemantic,
			expected:   false,
		},
		{
			name:       "protocol error should not retry",
			errorClass: ErrorClassProtocol,
			expected:   false,
		},
		{
			name:       "empty error class should not retry",
			errorClass: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code          string
		tokenRequired bool
		expected      ErrorClass
	}{
		{"maxlag", false, ErrorClassThrottle},
		{"ratelimited", true, ErrorClassThrottle},
		{"readonly", true, ErrorClassThrottle},
		{"badtoken", true, ErrorClassInvalidToken},
		{"notoken", true, ErrorClassInvalidToken},
		{"notoken", false, ErrorClassSemantic},
		{"internal_api_error_DBQueryError", false, ErrorClassNetwork},
		{"missingtitle", false, ErrorClassSemantic},
		{"permissiondenied", true, ErrorClassSemantic},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.code, tt.tokenRequired), func(t *testing.T) {
			if got := classifyCode(tt.code, tt.tokenRequired); got != tt.expected {
				t.Errorf("classifyCode(%q, %v) = %q, want %q", tt.code, tt.tokenRequired, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter time.Duration
		expected   ErrorClass
	}{
		{429, 0, ErrorClassThrottle},
		{503, 5 * time.Second, ErrorClassThrottle},
		{503, 0, ErrorClassNetwork},
		{500, 0, ErrorClassNetwork},
		{502, 0, ErrorClassNetwork},
		{404, 0, ErrorClassSemantic},
		{200, 0, ErrorClassProtocol},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status, tt.retryAfter); got != tt.expected {
				t.Errorf("classifyStatus(%d, %v) = %q, want %q", tt.status, tt.retryAfter, got, tt.expected)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "api error with code",
			apiError: &APIError{
				Class:      ErrorClassSemantic,
				StatusCode: 200,
				Code:       "missingtitle",
				Message:    "The page you specified doesn't exist.",
			},
			expected: "mediawiki semantic error (status 200) [missingtitle]: The page you specified doesn't exist.",
		},
		{
			name: "transport error with wrapped error",
			apiError: &APIError{
				Class:   ErrorClassNetwork,
				Message: "transport failure",
				Err:     errors.New("connection reset"),
			},
			expected: "mediawiki network error: transport failure: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	apiErr := &APIError{Class: ErrorClassNetwork, Err: underlying}

	if !errors.Is(apiErr, underlying) {
		t.Error("errors.Is should find the wrapped error")
	}
	if (&APIError{Class: ErrorClassSemantic}).Unwrap() != nil {
		t.Error("Unwrap() should return nil without a wrapped error")
	}
}

func TestAPIError_IsProtocol(t *testing.T) {
	if !errors.Is(&APIError{Class: ErrorClassProtocol}, ErrProtocol) {
		t.Error("protocol class should match ErrProtocol")
	}
	if errors.Is(&APIError{Class: ErrorClassSemantic}, ErrProtocol) {
		t.Error("semantic class must not match ErrProtocol")
	}
}

func TestClassOfAndIsRetryable(t *testing.T) {
	throttle := &APIError{Class: ErrorClassThrottle, Code: "maxlag"}
	exhausted := fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, 5, throttle)

	if got := ClassOf(exhausted); got != ErrorClassThrottle {
		t.Errorf("ClassOf(exhausted) = %q, want throttle", got)
	}
	if !errors.Is(exhausted, ErrRetryExhausted) {
		t.Error("exhausted error should match ErrRetryExhausted")
	}
	var apiErr *APIError
	if !errors.As(exhausted, &apiErr) || apiErr.Code != "maxlag" {
		t.Error("exhausted error should carry the last cause")
	}

	if !IsRetryable(throttle) {
		t.Error("throttle should be retryable")
	}
	if IsRetryable(exhausted) {
		t.Error("exhausted error should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified error should not be retryable")
	}
	if got := ClassOf(errors.New("plain")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
}
