package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/ratelimit"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mwStreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_stream_events_total",
		Help: "Events delivered by the change-stream consumer",
	}, []string{"stream"})

	mwStreamReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_stream_reconnects_total",
		Help: "Stream reconnects by reason (stall, eof, status, error)",
	}, []string{"stream", "reason"})

	mwStreamStallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_stream_stalls_total",
		Help: "Connections torn down because no bytes arrived within the stall window",
	}, []string{"stream"})

	mwStreamConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mw_stream_connected",
		Help: "1 while the stream connection is open",
	}, []string{"stream"})
)

// State is the connection state of a consumer.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateStalled
	StateDisconnected
	StateBackoff
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStalled:
		return "stalled"
	case StateDisconnected:
		return "disconnected"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds consumer configuration
type Config struct {
	// URL of the event feed.
	URL string

	// Stream names the feed in checkpoints, logs and metrics. Defaults to
	// the last path segment of URL.
	Stream string

	UserAgent string

	// HTTPClient is used for the stream connection. It must not set a
	// Timeout; the stall window bounds the connection instead.
	HTTPClient *http.Client

	// Header is added to every connection request.
	Header http.Header

	// ResumeParam, if set, carries the resume position as a query
	// parameter instead of the Last-Event-ID header.
	ResumeParam string

	// StallTimeout is the longest gap without received bytes before the
	// connection is considered dead.
	StallTimeout time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ResetAfter is how long a connection must stream events before the
	// reconnect delay drops back to InitialBackoff.
	ResetAfter time.Duration

	// MaxReconnects is the number of consecutive reconnects without a
	// delivered event before the subscription fails. Zero means no limit.
	MaxReconnects int
}

// DefaultConfig returns the default configuration for feedURL
func DefaultConfig(feedURL, userAgent string) Config {
	return Config{
		URL:            feedURL,
		UserAgent:      userAgent,
		StallTimeout:   30 * time.Second,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		ResetAfter:     60 * time.Second,
		MaxReconnects:  10,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("stream URL must be absolute, got %q", c.URL)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}
	if c.StallTimeout <= 0 {
		return fmt.Errorf("stall timeout must be positive")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid backoff bounds %v..%v", c.InitialBackoff, c.MaxBackoff)
	}
	if c.MaxReconnects < 0 {
		return fmt.Errorf("max reconnects must be >= 0")
	}
	return nil
}

// Consumer is a subscription to an event feed. Events are delivered at
// least once: after a reconnect the server may replay the event at the
// checkpoint, so consumers needing exactly-once should dedupe on Event.ID.
//
// Next must not be called concurrently. Checkpoint, State and Close are safe
// to call from any goroutine.
type Consumer struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
	backoff    *backoff.ExponentialBackOff

	mu         sync.Mutex
	state      State
	checkpoint Checkpoint
	cancelConn context.CancelFunc
	closeErr   error
	done       chan struct{}

	// owned by Next
	conn        *connection
	failures    int
	serverRetry time.Duration
}

type connection struct {
	body     io.ReadCloser
	decoder  *Decoder
	watch    *stallWatch
	cancel   context.CancelFunc
	openedAt time.Time
}

// Subscribe creates a consumer for cfg. A non-nil checkpoint resumes from
// its last event ID. No connection is made until the first call to Next.
func Subscribe(cfg Config, checkpoint *Checkpoint) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Stream == "" {
		u, _ := url.Parse(cfg.URL)
		cfg.Stream = path.Base(u.Path)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	c := &Consumer{
		config:     cfg,
		httpClient: httpClient,
		logger:     log.With().Str("component", "eventstream").Str("stream", cfg.Stream).Logger(),
		backoff:    bo,
		checkpoint: Checkpoint{Stream: cfg.Stream},
		done:       make(chan struct{}),
	}
	if checkpoint != nil {
		c.checkpoint.LastEventID = checkpoint.LastEventID
		c.checkpoint.ReceivedAt = checkpoint.ReceivedAt
	}
	return c, nil
}

// Checkpoint returns the position after the last delivered event.
func (c *Consumer) Checkpoint() Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpoint
}

// State returns the current connection state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}

// Close ends the subscription. A blocked Next returns ErrClosed.
func (c *Consumer) Close() error {
	c.closeWith(ErrClosed)
	return nil
}

func (c *Consumer) closeWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.closeErr = err
	if c.cancelConn != nil {
		c.cancelConn()
	}
	close(c.done)
}

func (c *Consumer) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return nil
	}
	return c.closeErr
}

// Next blocks until the next event arrives. Disconnects and stalls are
// handled internally by reconnecting from the checkpoint. Cancelling ctx
// closes the consumer.
func (c *Consumer) Next(ctx context.Context) (*Event, error) {
	for {
		if err := c.closedErr(); err != nil {
			c.drop()
			return nil, err
		}
		if ctx.Err() != nil {
			c.closeWith(ErrClosed)
			c.drop()
			return nil, ctx.Err()
		}

		if c.conn == nil {
			if err := c.connect(ctx); err != nil {
				if err := c.recover(ctx, err); err != nil {
					return nil, err
				}
				continue
			}
		}

		ev, err := c.read(ctx)
		if err == nil {
			return ev, nil
		}
		c.drop()
		if err := c.recover(ctx, err); err != nil {
			return nil, err
		}
	}
}

// Events yields events until the consumer closes or fails; the final error
// is yielded with a nil event.
func (c *Consumer) Events(ctx context.Context) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			ev, err := c.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// recover counts a failed connection and waits out the backoff. It returns
// a non-nil error when the subscription is over.
func (c *Consumer) recover(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		c.closeWith(ErrClosed)
		return ctx.Err()
	}
	if err := c.closedErr(); err != nil {
		return err
	}

	reason := reconnectReason(cause)
	c.failures++
	mwStreamReconnectsTotal.WithLabelValues(c.config.Stream, reason).Inc()

	if isFatal(cause) || (c.config.MaxReconnects > 0 && c.failures > c.config.MaxReconnects) {
		serr := &SubscriptionError{Checkpoint: c.Checkpoint(), Attempts: c.failures, Err: cause}
		c.logger.Error().
			Err(cause).
			Int("attempts", c.failures).
			Str("last_event_id", serr.Checkpoint.LastEventID).
			Msg("Subscription failed")
		c.closeWith(serr)
		return serr
	}

	delay := c.backoff.NextBackOff()
	if c.serverRetry > delay {
		delay = c.serverRetry
	}
	var se *StatusError
	if errors.As(cause, &se) && se.RetryAfter > delay {
		delay = se.RetryAfter
	}

	c.logger.Warn().
		Err(cause).
		Str("reason", reason).
		Int("attempt", c.failures).
		Dur("delay", delay).
		Msg("Stream connection lost, reconnecting")

	c.setState(StateBackoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		c.closeWith(ErrClosed)
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

// resumeURL returns the feed URL, carrying the resume position when
// ResumeParam is configured.
func (c *Consumer) resumeURL(cp Checkpoint) (string, error) {
	if c.config.ResumeParam == "" || cp.IsZero() {
		return c.config.URL, nil
	}
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(c.config.ResumeParam, cp.LastEventID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Consumer) connect(ctx context.Context) error {
	c.setState(StateConnecting)
	cp := c.Checkpoint()

	target, err := c.resumeURL(cp)
	if err != nil {
		return fmt.Errorf("build stream URL: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.config.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.ResumeParam == "" && !cp.IsZero() {
		req.Header.Set("Last-Event-ID", cp.LastEventID)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		cancel()
		return c.closeErr
	}
	c.cancelConn = cancel
	c.mu.Unlock()

	watch := newStallWatch(c.config.StallTimeout, cancel)
	stop := context.AfterFunc(ctx, cancel)
	resp, err := c.httpClient.Do(req)
	stop()
	if err != nil {
		watch.Stop()
		cancel()
		if watch.Stalled() {
			return fmt.Errorf("%w: no response within %v", errStalled, c.config.StallTimeout)
		}
		return fmt.Errorf("connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		watch.Stop()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		watch.Stop()
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: content type %q", ErrNotEventStream, resp.Header.Get("Content-Type"))
	}

	watch.r = resp.Body
	watch.Touch()
	c.conn = &connection{
		body:     resp.Body,
		decoder:  NewDecoder(watch),
		watch:    watch,
		cancel:   cancel,
		openedAt: time.Now(),
	}
	c.setState(StateStreaming)
	mwStreamConnected.WithLabelValues(c.config.Stream).Set(1)

	c.logger.Info().
		Str("last_event_id", cp.LastEventID).
		Msg("Stream connected")
	return nil
}

func (c *Consumer) read(ctx context.Context) (*Event, error) {
	conn := c.conn
	stop := context.AfterFunc(ctx, conn.cancel)
	defer stop()

	// The stall window only runs while a read is waiting for bytes; time
	// the caller spends between reads does not count.
	conn.watch.Touch()
	ev, err := conn.decoder.Next()
	if retry := conn.decoder.Retry(); retry > 0 {
		c.serverRetry = min(retry, c.config.MaxBackoff)
	}
	if err != nil {
		switch {
		case conn.watch.Stalled():
			mwStreamStallsTotal.WithLabelValues(c.config.Stream).Inc()
			c.setState(StateStalled)
			return nil, fmt.Errorf("%w: no data for %v", errStalled, c.config.StallTimeout)
		case errors.Is(err, io.EOF):
			c.setState(StateDisconnected)
			return nil, errEnded
		default:
			c.setState(StateDisconnected)
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}

	conn.watch.Stop()

	// The checkpoint moves before the event is handed out, so a crash
	// after this point redelivers the event instead of losing it.
	c.mu.Lock()
	if ev.ID != "" {
		c.checkpoint.LastEventID = ev.ID
	}
	c.checkpoint.ReceivedAt = time.Now()
	c.mu.Unlock()

	c.failures = 0
	if time.Since(conn.openedAt) >= c.config.ResetAfter {
		c.backoff.Reset()
	}
	mwStreamEventsTotal.WithLabelValues(c.config.Stream).Inc()
	return ev, nil
}

// drop tears down the current connection, if any.
func (c *Consumer) drop() {
	if c.conn == nil {
		return
	}
	c.conn.watch.Stop()
	c.conn.cancel()
	c.conn.body.Close()
	c.conn = nil
	mwStreamConnected.WithLabelValues(c.config.Stream).Set(0)
}

// stallWatch cancels the connection when no bytes arrive for timeout.
type stallWatch struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func newStallWatch(timeout time.Duration, onStall func()) *stallWatch {
	w := &stallWatch{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.stalled.Store(true)
		onStall()
	})
	return w
}

func (w *stallWatch) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.Touch()
	}
	return n, err
}

// Touch restarts the stall window.
func (w *stallWatch) Touch() {
	if !w.stalled.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *stallWatch) Stalled() bool { return w.stalled.Load() }

func (w *stallWatch) Stop() { w.timer.Stop() }
