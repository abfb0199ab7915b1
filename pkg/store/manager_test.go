package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/eventstream"
	"github.com/Sternrassler/mediawiki-client/pkg/pagination"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
	"github.com/redis/go-redis/v9"
)

const (
	testAPI  = "https://test.wikipedia.org/w/api.php"
	testFeed = "https://stream.wikimedia.org/v2/stream/recentchange"
)

// setupTestRedis connects to a local Redis and skips the test when none
// is running. The integration tests start a container instead.
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

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == b || len(a) != 36 {
		t.Errorf("Expected two distinct uuids, got %q and %q", a, b)
	}
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Kind: "test", Endpoint: testAPI, Name: "one"}

	if err := manager.Set(ctx, key, map[string]int{"n": 1}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	entry, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var v map[string]int
	if err := entry.Decode(&v); err != nil || v["n"] != 1 {
		t.Errorf("Unexpected value %v (err %v)", v, err)
	}
	if entry.Expires.IsZero() || entry.SavedAt.IsZero() {
		t.Errorf("Entry timestamps not set: %+v", entry)
	}
}

func TestManager_GetMissing(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	_, err := manager.Get(context.Background(), Key{Kind: "test", Endpoint: testAPI, Name: "none"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestManager_GetCorrupted(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	key := Key{Kind: "test", Endpoint: testAPI, Name: "bad"}
	client.Set(context.Background(), key.String(), "not json", 0)

	if _, err := manager.Get(context.Background(), key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_SetValidation(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	key := Key{Kind: "test", Endpoint: testAPI, Name: "x"}
	if err := manager.Set(context.Background(), key, nil, 0); err == nil {
		t.Error("Set with nil value should fail")
	}
	if err := manager.Set(context.Background(), key, 1, -time.Second); err == nil {
		t.Error("Set with negative ttl should fail")
	}
}

func TestManager_Checkpoint(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	if _, err := manager.LoadCheckpoint(ctx, testFeed, "recentchange"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before save, got %v", err)
	}

	cp := eventstream.Checkpoint{
		Stream:      "recentchange",
		LastEventID: `[{"topic":"eqiad.mediawiki.recentchange","partition":0,"offset":42}]`,
		ReceivedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := manager.SaveCheckpoint(ctx, testFeed, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	got, err := manager.LoadCheckpoint(ctx, testFeed, "recentchange")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if got.LastEventID != cp.LastEventID || !got.ReceivedAt.Equal(cp.ReceivedAt) {
		t.Errorf("Checkpoint mismatch: got %+v, want %+v", got, cp)
	}

	if err := manager.SaveCheckpoint(ctx, testFeed, eventstream.Checkpoint{}); err == nil {
		t.Error("Checkpoint without stream name should be rejected")
	}
}

func TestManager_Continuation(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	session := NewSessionID()

	state := pagination.State{
		Continue: request.NewParams("cmcontinue", "page|123", "continue", "-||"),
		Page:     1,
	}
	if err := manager.SaveContinuation(ctx, testAPI, session, state, time.Hour); err != nil {
		t.Fatalf("SaveContinuation failed: %v", err)
	}

	got, err := manager.LoadContinuation(ctx, testAPI, session)
	if err != nil {
		t.Fatalf("LoadContinuation failed: %v", err)
	}
	if got.Page != 1 || !got.Continue.Equal(state.Continue) {
		t.Errorf("State mismatch: got %+v", got)
	}

	if err := manager.DeleteContinuation(ctx, testAPI, session); err != nil {
		t.Fatalf("DeleteContinuation failed: %v", err)
	}
	if _, err := manager.LoadContinuation(ctx, testAPI, session); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := manager.SaveContinuation(ctx, testAPI, "", state, 0); err == nil {
		t.Error("Empty session id should be rejected")
	}
}
