package client

import (
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	mwRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	mwRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mw_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	mwRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	mwTokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mw_token_refresh_retries_total",
		Help: "Requests resent once with a refreshed token",
	})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial
	// request), shared by throttle and transport failures.
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the relative randomization applied to each delay (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Backoff returns the delay after the given failed attempt (1-based).
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(rc.InitialBackoff) * math.Pow(rc.BackoffMultiplier, float64(attempt-1))
	if limit := float64(rc.MaxBackoff); rc.MaxBackoff > 0 && d > limit {
		d = limit
	}

	// Add jitter (±Jitter randomness)
	if rc.Jitter > 0 {
		d *= 1 - rc.Jitter + rand.Float64()*2*rc.Jitter
	}
	return time.Duration(d)
}

// delay picks the wait before the next attempt. An explicit server hint
// always wins over the computed schedule.
func (rc RetryConfig) delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	return rc.Backoff(attempt)
}
