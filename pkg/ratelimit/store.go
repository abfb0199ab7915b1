package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the load state of one endpoint.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// MemoryStore keeps the state in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	state State
}

// NewMemoryStore returns a store holding a normal state.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: State{Level: LevelNormal}}
}

// Load returns a copy of the current state.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	return &s, nil
}

// Save replaces the current state.
func (m *MemoryStore) Save(_ context.Context, s *State) error {
	m.mu.Lock()
	m.state = *s
	m.mu.Unlock()
	return nil
}

// RedisStore shares the load state between processes.
type RedisStore struct {
	redis  *redis.Client
	suffix string
	ttl    time.Duration
}

// NewRedisStore creates a store for the endpoint identity (usually the API URL).
func NewRedisStore(client *redis.Client, endpoint string) *RedisStore {
	return &RedisStore{
		redis:  client,
		suffix: ":" + endpoint,
		ttl:    10 * time.Minute,
	}
}

func (r *RedisStore) key(base string) string {
	return base + r.suffix
}

// Load reads the state. A missing state is reported as normal.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	level, err := r.redis.Get(ctx, r.key(RedisKeyLevel)).Result()
	if errors.Is(err, redis.Nil) {
		return &State{Level: LevelNormal}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get load level: %w", err)
	}

	lag, err := r.redis.Get(ctx, r.key(RedisKeyLag)).Float64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get lag: %w", err)
	}

	pausedUntil, err := r.redis.Get(ctx, r.key(RedisKeyPausedUntil)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get paused until: %w", err)
	}

	state := &State{
		Level: Level(level),
		Lag:   lag,
	}
	if pausedUntil > 0 {
		state.PausedUntil = time.UnixMilli(pausedUntil)
	}

	lastUpdate, err := r.redis.Get(ctx, r.key(RedisKeyLastUpdate)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if len(lastUpdate) > 0 {
		if err := json.Unmarshal(lastUpdate, &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return state, nil
}

// Save writes all fields in one pipeline.
func (r *RedisStore) Save(ctx context.Context, s *State) error {
	lastUpdate, err := json.Marshal(s.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	var pausedUntil int64
	if !s.PausedUntil.IsZero() {
		pausedUntil = s.PausedUntil.UnixMilli()
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, r.key(RedisKeyLevel), string(s.Level), r.ttl)
	pipe.Set(ctx, r.key(RedisKeyLag), s.Lag, r.ttl)
	pipe.Set(ctx, r.key(RedisKeyPausedUntil), pausedUntil, r.ttl)
	pipe.Set(ctx, r.key(RedisKeyLastUpdate), lastUpdate, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store load state in redis: %w", err)
	}
	return nil
}
