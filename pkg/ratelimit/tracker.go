package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for load tracking.
var (
	mwReplicationLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mw_replication_lag_seconds",
		Help: "Last replication lag reported by the wiki",
	})

	mwLoadThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mw_load_throttles_total",
		Help: "Total number of server load signals that paused admission",
	})

	mwAdmissionWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_admission_waits_total",
		Help: "Requests that waited for a load pause, by outcome",
	}, []string{"outcome"})
)

// MinPause is the pause applied for a throttle signal without wait hint.
const MinPause = 1 * time.Second

// Tracker holds the process-wide load state and gates admission.
type Tracker struct {
	store   Store
	logger  zerolog.Logger
	refresh time.Duration

	mu       sync.Mutex
	cached   State
	cachedAt time.Time
	clear    chan struct{}
}

// NewTracker creates a tracker. A nil store means in-memory state.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:   store,
		logger:  logger,
		refresh: 500 * time.Millisecond,
		cached:  State{Level: LevelNormal},
		clear:   make(chan struct{}),
	}
}

// State returns the current load state.
func (t *Tracker) State(ctx context.Context) (*State, error) {
	t.mu.Lock()
	if !t.cachedAt.IsZero() && time.Since(t.cachedAt) < t.refresh {
		s := t.cached
		t.mu.Unlock()
		return &s, nil
	}
	t.mu.Unlock()

	s, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.cached = *s
	t.cachedAt = time.Now()
	t.mu.Unlock()
	return s, nil
}

// Observe records the signal of one response. A throttled signal pauses
// admission for its RetryAfter (MinPause without one); pauses only ever extend.
// A normal signal clears an active pause and wakes every waiter.
func (t *Tracker) Observe(ctx context.Context, sig Signal) error {
	if sig.Lag > 0 {
		mwReplicationLag.Set(sig.Lag)
	}

	current, err := t.State(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	if !sig.Throttled() {
		if current.Level != LevelThrottled {
			return nil
		}
		next := &State{Level: LevelNormal, Lag: sig.Lag, LastUpdate: now}
		if err := t.save(ctx, next); err != nil {
			return err
		}
		t.mu.Lock()
		close(t.clear)
		t.clear = make(chan struct{})
		t.mu.Unlock()

		t.logger.Info().
			Float64("lag", sig.Lag).
			Msg("Server load signal cleared")
		return nil
	}

	pause := sig.RetryAfter
	if pause <= 0 {
		pause = MinPause
	}
	until := now.Add(pause)
	if current.Level == LevelThrottled && current.PausedUntil.After(until) {
		until = current.PausedUntil
	}

	next := &State{Level: LevelThrottled, Lag: sig.Lag, PausedUntil: until, LastUpdate: now}
	if err := t.save(ctx, next); err != nil {
		return err
	}
	mwLoadThrottlesTotal.Inc()

	t.logger.Warn().
		Float64("lag", sig.Lag).
		Dur("pause", time.Until(until)).
		Msg("Server load signal - pausing admission")
	return nil
}

func (t *Tracker) save(ctx context.Context, s *State) error {
	if err := t.store.Save(ctx, s); err != nil {
		return err
	}
	t.mu.Lock()
	t.cached = *s
	t.cachedAt = time.Now()
	t.mu.Unlock()
	return nil
}

// Wait blocks while admission is paused, until the pause clears, maxWait
// elapses, or ctx is done. Only ctx cancellation returns an error; a store
// failure admits the request.
func (t *Tracker) Wait(ctx context.Context, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	waited := false

	for {
		t.mu.Lock()
		cleared := t.clear
		t.mu.Unlock()

		state, err := t.State(ctx)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Load state unavailable, admitting request")
			return nil
		}

		now := time.Now()
		if !state.Paused(now) {
			if waited {
				mwAdmissionWaitsTotal.WithLabelValues("cleared").Inc()
			}
			return nil
		}

		wait := state.PausedUntil.Sub(now)
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			mwAdmissionWaitsTotal.WithLabelValues("timeout").Inc()
			t.logger.Warn().
				Dur("max_wait", maxWait).
				Msg("Load pause wait timed out, admitting request")
			return nil
		}
		if remaining < wait {
			wait = remaining
		}

		waited = true
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			mwAdmissionWaitsTotal.WithLabelValues("cancelled").Inc()
			return ctx.Err()
		case <-cleared:
		case <-timer.C:
		}
		timer.Stop()
	}
}
