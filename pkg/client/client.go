// Package client provides the MediaWiki Action API request executor with
// retry, server-load (maxlag) handling, token refresh and a concurrency cap.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/logging"
	"github.com/Sternrassler/mediawiki-client/pkg/ratelimit"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
	"github.com/Sternrassler/mediawiki-client/pkg/tokens"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Prometheus metrics for client operations.
var (
	mwRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_requests_total",
		Help: "Total logical API calls by action and outcome",
	}, []string{"action", "outcome"})

	mwRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mw_request_duration_seconds",
		Help:    "Logical API call duration in seconds, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"action"})

	mwAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_http_attempts_total",
		Help: "HTTP attempts by transport shape",
	}, []string{"shape"})

	mwErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_errors_total",
		Help: "Total failed attempts by class",
	}, []string{"class"})

	mwInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mw_requests_inflight",
		Help: "HTTP attempts currently holding a concurrency slot",
	})

	mwWritePacingWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mw_write_pacing_wait_seconds",
		Help:    "Time edits waited for the write interval",
		Buckets: []float64{0, 0.5, 1, 5, 10, 30, 60},
	})
)

var tracer = otel.Tracer("github.com/Sternrassler/mediawiki-client/pkg/client")

// Client is the MediaWiki API request executor.
type Client struct {
	config     Config
	httpClient *http.Client
	session    *session
	tokens     *tokens.Cache
	tracker    *ratelimit.Tracker
	slots      *semaphore.Weighted
	writes     *rate.Limiter // nil without a WriteInterval
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger("mw-client")

	sess, err := newSession()
	if err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}

	// Shared load state when Redis is configured
	var store ratelimit.Store
	if cfg.Redis != nil {
		store = ratelimit.NewRedisStore(cfg.Redis, cfg.APIURL)
	}
	tracker := ratelimit.NewTracker(store, logging.NewLogger("ratelimit"))

	c := &Client{
		config: cfg,
		// No client timeout: attempts carry their own deadline and the
		// stream consumer reuses this transport for long-lived reads.
		httpClient: &http.Client{
			Transport: transport,
			Jar:       sess,
		},
		session: sess,
		tracker: tracker,
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:  logger,
	}
	if cfg.WriteInterval > 0 {
		c.writes = rate.NewLimiter(rate.Every(cfg.WriteInterval), 1)
	}
	c.tokens = tokens.NewCache(cfg.APIURL, c,
		logging.NewLogger("tokens"),
		tokens.WithMaxAge(cfg.TokenMaxAge))

	return c, nil
}

// Execute performs one logical API call. Throttle and transport failures are
// retried with backoff up to Config.Retry.MaxAttempts; a rejected token is
// refreshed and the call resent once; API errors fail immediately.
func (c *Client) Execute(ctx context.Context, req *request.Request) (*Response, error) {
	action := req.Action()
	ctx, span := tracer.Start(ctx, "mw.execute", trace.WithAttributes(
		attribute.String("mw.action", action),
		attribute.String("mw.method", req.Method().String()),
	))
	defer span.End()

	startTime := time.Now()
	var resp *Response
	err := c.pace(ctx, req)
	if err == nil {
		resp, err = c.execute(ctx, req)
	}
	mwRequestDuration.WithLabelValues(action).Observe(time.Since(startTime).Seconds())

	if err != nil {
		outcome := string(ClassOf(err))
		if outcome == "" {
			outcome = "error"
		}
		mwRequestsTotal.WithLabelValues(action, outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	mwRequestsTotal.WithLabelValues(action, "ok").Inc()
	return resp, nil
}

// pace holds edits to one per WriteInterval. Only writes that carry a CSRF
// token are paced; logins and reads pass straight through. Retries of a
// paced request are not paced again.
func (c *Client) pace(ctx context.Context, req *request.Request) error {
	if c.writes == nil || req.Method() != request.MethodWrite || req.Token() != request.TokenCSRF {
		return nil
	}
	start := time.Now()
	if err := c.writes.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("write pacing: %w", err)
	}
	waited := time.Since(start)
	mwWritePacingWait.Observe(waited.Seconds())
	if waited > time.Millisecond {
		c.logger.Debug().
			Str("action", req.Action()).
			Dur("waited", waited).
			Msg("Write paced")
	}
	return nil
}

func (c *Client) execute(ctx context.Context, req *request.Request) (*Response, error) {
	var (
		lastErr   error
		refreshed bool
		attempt   int
	)

	for {
		// Step 1: Admission - wait out a process-wide load pause
		if err := c.tracker.Wait(ctx, c.config.LoadPauseTimeout); err != nil {
			return nil, err
		}

		// Step 2: Token - acquired before taking a slot, the fetch needs one
		send := req
		var tok *tokens.Token
		if kind := req.Token(); kind != request.TokenNone {
			t, err := c.tokens.Acquire(ctx, kind)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("acquire %s token: %w", kind, err)
			}
			tok = t
			send = req.WithParam(req.TokenParam(), request.String(t.Value))
		}

		// Step 3: Send
		attempt++
		resp, sig, err := c.attempt(ctx, send)
		if err == nil {
			c.observe(ctx, sig)
			c.afterSuccess(req, resp)
			if attempt > 1 {
				c.logger.Info().
					Str("action", req.Action()).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		mwErrorsTotal.WithLabelValues(string(apiErr.Class)).Inc()

		// Step 4: Classify
		switch apiErr.Class {
		case ErrorClassInvalidToken:
			if refreshed || tok == nil {
				c.logger.Warn().
					Str("action", req.Action()).
					Str("code", apiErr.Code).
					Msg("Token rejected again after refresh")
				return nil, err
			}
			refreshed = true
			attempt--
			c.tokens.InvalidateToken(tok)
			mwTokenRefreshesTotal.Inc()
			c.logger.Debug().
				Str("action", req.Action()).
				Str("kind", string(tok.Kind)).
				Msg("Token rejected, refreshing and resending")
			continue

		case ErrorClassThrottle, ErrorClassNetwork, ErrorClassTimeout:
			lastErr = err

			// The explicit hint wins over both the schedule and the lag value.
			delay := c.config.Retry.delay(attempt, apiErr.RetryAfter)
			if apiErr.Class == ErrorClassThrottle {
				sig.Level = ratelimit.LevelThrottled
				sig.RetryAfter = delay
				c.observe(ctx, sig)
			}

			if attempt >= c.config.Retry.MaxAttempts {
				mwRetryExhaustedTotal.WithLabelValues(string(apiErr.Class)).Inc()
				c.logger.Warn().
					Str("action", req.Action()).
					Str("error_class", string(apiErr.Class)).
					Int("max_attempts", c.config.Retry.MaxAttempts).
					Msg("Retry attempts exhausted")
				return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
			}

			mwRetriesTotal.WithLabelValues(string(apiErr.Class)).Inc()
			mwRetryBackoffSeconds.WithLabelValues(string(apiErr.Class)).Observe(delay.Seconds())
			c.logger.Debug().
				Str("action", req.Action()).
				Str("error_class", string(apiErr.Class)).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Retrying request after backoff")

			// Wait with context cancellation support
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				c.logger.Warn().
					Str("action", req.Action()).
					Int("attempt", attempt).
					Msg("Context cancelled during retry backoff")
				return nil, ctx.Err()
			case <-timer.C:
			}

		default:
			return nil, err
		}
	}
}

// attempt sends one HTTP request while holding a concurrency slot. The slot
// is released before the caller backs off.
func (c *Client) attempt(ctx context.Context, req *request.Request) (*Response, ratelimit.Signal, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, ratelimit.Signal{}, err
	}
	defer c.slots.Release(1)
	mwInflight.Inc()
	defer mwInflight.Dec()

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	httpReq, err := c.newHTTPRequest(attemptCtx, req)
	if err != nil {
		return nil, ratelimit.Signal{}, err
	}
	mwAttemptsTotal.WithLabelValues(shapeLabel(httpReq)).Inc()

	c.logger.Trace().
		Str("request", req.String()).
		Str("method", httpReq.Method).
		Msg("Executing API request")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, ratelimit.Signal{}, transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, ratelimit.SignalFromHeaders(httpResp.Header), transportError(ctx, err)
	}

	return decodeResponse(httpResp.StatusCode, httpResp.Header, body, req.Token() != request.TokenNone)
}

func shapeLabel(r *http.Request) string {
	if r.Method == http.MethodGet {
		return "get"
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return "multipart"
	}
	return "post"
}

// transportError classifies a failed exchange. A deadline hit while the
// parent ctx is still live is the per-attempt timeout.
func transportError(parent context.Context, err error) error {
	class := ErrorClassNetwork
	var netErr net.Error
	if parent.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())) {
		class = ErrorClassTimeout
	}
	return &APIError{Class: class, Message: "transport failure", Err: err}
}

func (c *Client) observe(ctx context.Context, sig ratelimit.Signal) {
	if err := c.tracker.Observe(ctx, sig); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record load signal")
	}
}

// afterSuccess invalidates every token once the session identity changed.
func (c *Client) afterSuccess(req *request.Request, resp *Response) {
	var loggedIn bool
	switch req.Action() {
	case "login":
		result, _ := resp.LookupString("login", "result")
		loggedIn = result == "Success"
	case "clientlogin":
		status, _ := resp.LookupString("clientlogin", "status")
		loggedIn = status == "PASS"
	}
	if loggedIn {
		c.tokens.InvalidateAll()
		c.logger.Info().
			Str("action", req.Action()).
			Msg("Logged in, token cache invalidated")
	}
}

// FetchToken requests a token of kind via action=query&meta=tokens.
// It implements tokens.Fetcher.
func (c *Client) FetchToken(ctx context.Context, kind request.TokenKind) (string, error) {
	req := request.NewBuilder("query").
		SetString("meta", "tokens").
		SetString("type", string(kind)).
		Build()

	resp, err := c.Execute(ctx, req)
	if err != nil {
		return "", err
	}

	value, ok := resp.LookupString("query", "tokens", kind.ResponseField())
	if !ok || value == "" {
		return "", &APIError{
			Class:      ErrorClassProtocol,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("no %s in token response", kind.ResponseField()),
		}
	}
	return value, nil
}

// Tokens returns the token cache of the client.
func (c *Client) Tokens() *tokens.Cache {
	return c.tokens
}

// Tracker returns the load tracker gating admission.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// Config returns the configuration the client was created with.
func (c *Client) Config() Config {
	return c.config
}

// HTTPClient returns an http.Client sharing the transport and session
// cookies of the executor, without a timeout (for streaming).
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport: c.httpClient.Transport,
		Jar:       c.session,
	}
}

// ResetSession drops all cookies and cached tokens.
func (c *Client) ResetSession() error {
	if err := c.session.Reset(); err != nil {
		return err
	}
	c.tokens.InvalidateAll()
	c.logger.Debug().Msg("Session reset")
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
