package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/eventstream"
	"github.com/Sternrassler/mediawiki-client/pkg/pagination"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound indicates the requested record does not exist or expired
	ErrNotFound = errors.New("record not found")

	// ErrInvalidEntry indicates the stored record is corrupted
	ErrInvalidEntry = errors.New("invalid store entry")
)

// Manager persists records in Redis.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a new store manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: log.With().Str("component", "store").Logger(),
	}
}

// Get retrieves an entry by key.
// Returns ErrNotFound if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreMisses.WithLabelValues(key.Kind).Inc()
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		StoreMisses.WithLabelValues(key.Kind).Inc()
		return nil, ErrNotFound
	}

	StoreHits.WithLabelValues(key.Kind).Inc()
	return &entry, nil
}

// Set stores value under key. A positive ttl makes Redis drop the record
// after ttl; zero keeps it until deleted.
func (m *Manager) Set(ctx context.Context, key Key, value any, ttl time.Duration) error {
	if value == nil {
		return fmt.Errorf("store value cannot be nil")
	}
	if ttl < 0 {
		return fmt.Errorf("ttl must be >= 0, got %v", ttl)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal value: %w", err)
	}

	entry := Entry{Value: raw, SavedAt: time.Now()}
	if ttl > 0 {
		entry.Expires = entry.SavedAt.Add(ttl)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	m.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", ttl).
		Msg("Record saved")
	return nil
}

// Delete removes an entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// SaveCheckpoint stores the checkpoint of a stream consumer. Checkpoints
// do not expire.
func (m *Manager) SaveCheckpoint(ctx context.Context, endpoint string, cp eventstream.Checkpoint) error {
	if cp.Stream == "" {
		return fmt.Errorf("checkpoint has no stream name")
	}
	return m.Set(ctx, Key{Kind: KindCheckpoint, Endpoint: endpoint, Name: cp.Stream}, cp, 0)
}

// LoadCheckpoint returns the stored checkpoint for stream, or ErrNotFound.
func (m *Manager) LoadCheckpoint(ctx context.Context, endpoint, stream string) (*eventstream.Checkpoint, error) {
	entry, err := m.Get(ctx, Key{Kind: KindCheckpoint, Endpoint: endpoint, Name: stream})
	if err != nil {
		return nil, err
	}
	var cp eventstream.Checkpoint
	if err := entry.Decode(&cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &cp, nil
}

// SaveContinuation stores a pagination state under session.
func (m *Manager) SaveContinuation(ctx context.Context, endpoint, session string, state pagination.State, ttl time.Duration) error {
	if session == "" {
		return fmt.Errorf("session id is required")
	}
	return m.Set(ctx, Key{Kind: KindContinuation, Endpoint: endpoint, Name: session}, state, ttl)
}

// LoadContinuation returns the stored pagination state of session, or
// ErrNotFound.
func (m *Manager) LoadContinuation(ctx context.Context, endpoint, session string) (*pagination.State, error) {
	entry, err := m.Get(ctx, Key{Kind: KindContinuation, Endpoint: endpoint, Name: session})
	if err != nil {
		return nil, err
	}
	var state pagination.State
	if err := entry.Decode(&state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &state, nil
}

// DeleteContinuation removes the stored state of a finished session.
func (m *Manager) DeleteContinuation(ctx context.Context, endpoint, session string) error {
	return m.Delete(ctx, Key{Kind: KindContinuation, Endpoint: endpoint, Name: session})
}

// NewSessionID returns a fresh pagination session id.
func NewSessionID() string {
	return uuid.NewString()
}
