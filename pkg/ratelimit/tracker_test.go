package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestTracker() *Tracker {
	tr := NewTracker(NewMemoryStore(), zerolog.Nop())
	tr.refresh = 0
	return tr
}

func TestTracker_ObserveThrottlePauses(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	if err := tr.Observe(ctx, Signal{Level: LevelThrottled, Lag: 6, RetryAfter: 3 * time.Second}); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	state, err := tr.State(ctx)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if !state.Paused(time.Now()) {
		t.Fatal("expected admission to be paused")
	}
	if d := state.TimeUntilResume(); d < 2*time.Second || d > 3*time.Second {
		t.Errorf("pause = %v, want ~3s", d)
	}
}

func TestTracker_ObserveNeverShortensPause(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	_ = tr.Observe(ctx, Signal{Level: LevelThrottled, RetryAfter: 10 * time.Second})
	_ = tr.Observe(ctx, Signal{Level: LevelThrottled, RetryAfter: 1 * time.Second})

	state, _ := tr.State(ctx)
	if d := state.TimeUntilResume(); d < 9*time.Second {
		t.Errorf("pause shortened to %v", d)
	}
}

func TestTracker_ObserveMinPause(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	_ = tr.Observe(ctx, Signal{Level: LevelThrottled})
	state, _ := tr.State(ctx)
	if d := state.TimeUntilResume(); d <= 0 || d > MinPause {
		t.Errorf("pause = %v, want (0, %v]", d, MinPause)
	}
}

func TestTracker_WaitNotPaused(t *testing.T) {
	tr := newTestTracker()

	start := time.Now()
	if err := tr.Wait(context.Background(), time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Wait() blocked without a pause")
	}
}

func TestTracker_WaitReleasedByClear(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()
	_ = tr.Observe(ctx, Signal{Level: LevelThrottled, RetryAfter: 30 * time.Second})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = tr.Observe(ctx, Signal{Level: LevelNormal})
	}()

	start := time.Now()
	if err := tr.Wait(ctx, 5*time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Wait() took %v, expected release on clear", elapsed)
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()
	_ = tr.Observe(ctx, Signal{Level: LevelThrottled, RetryAfter: 30 * time.Second})

	start := time.Now()
	if err := tr.Wait(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 90*time.Millisecond || elapsed > time.Second {
		t.Errorf("Wait() took %v, want ~100ms", elapsed)
	}
}

func TestTracker_WaitCancelled(t *testing.T) {
	tr := newTestTracker()
	_ = tr.Observe(context.Background(), Signal{Level: LevelThrottled, RetryAfter: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tr.Wait(ctx, 10*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (*State, error) { return nil, errors.New("boom") }
func (failingStore) Save(context.Context, *State) error   { return errors.New("boom") }

func TestTracker_WaitFailsOpen(t *testing.T) {
	tr := NewTracker(failingStore{}, zerolog.Nop())
	if err := tr.Wait(context.Background(), time.Second); err != nil {
		t.Errorf("Wait() error = %v, want nil when store fails", err)
	}
}

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestRedisStore_SharedBetweenTrackers(t *testing.T) {
	redisClient := setupTestRedis(t)
	ctx := context.Background()

	a := NewTracker(NewRedisStore(redisClient, "https://test.wiki/w/api.php"), zerolog.Nop())
	b := NewTracker(NewRedisStore(redisClient, "https://test.wiki/w/api.php"), zerolog.Nop())
	b.refresh = 0

	if err := a.Observe(ctx, Signal{Level: LevelThrottled, Lag: 4, RetryAfter: 5 * time.Second}); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	state, err := b.State(ctx)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if !state.Paused(time.Now()) {
		t.Error("second tracker does not see the shared pause")
	}
	if state.Lag != 4 {
		t.Errorf("Lag = %v, want 4", state.Lag)
	}
}

func TestRedisStore_MissingStateIsNormal(t *testing.T) {
	redisClient := setupTestRedis(t)

	state, err := NewRedisStore(redisClient, "https://empty.wiki/w/api.php").Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state.Level != LevelNormal {
		t.Errorf("Level = %s, want normal", state.Level)
	}
}
