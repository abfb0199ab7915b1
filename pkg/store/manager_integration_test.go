//go:build integration

package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/eventstream"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	return client, func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}
}

// TestManager_Integration_ResumeStreamAfterRestart consumes part of a feed,
// persists the checkpoint, and resumes with a fresh consumer.
func TestManager_Integration_ResumeStreamAfterRestart(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	var (
		mu      sync.Mutex
		resumes []string
	)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resumes = append(resumes, r.Header.Get("Last-Event-ID"))
		mu.Unlock()

		start := 1
		fmt.Sscan(r.Header.Get("Last-Event-ID"), &start)
		w.Header().Set("Content-Type", "text/event-stream")
		for i := start; i < start+3; i++ {
			fmt.Fprintf(w, "id: %d\ndata: {}\n\n", i)
		}
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	feedURL := srv.URL + "/v2/stream/recentchange"
	cfg := eventstream.DefaultConfig(feedURL, "IntegrationTest/1.0")
	st := NewManager(redisClient)

	first, err := eventstream.Subscribe(cfg, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := first.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	if err := st.SaveCheckpoint(ctx, feedURL, first.Checkpoint()); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	first.Close()

	cp, err := st.LoadCheckpoint(ctx, feedURL, "recentchange")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	second, err := eventstream.Subscribe(cfg, cp)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer second.Close()

	ev, err := second.Next(ctx)
	if err != nil {
		t.Fatalf("Next after restart failed: %v", err)
	}
	// The boundary event may be replayed; nothing before it is.
	if ev.ID != "2" {
		t.Errorf("Expected replay to start at boundary event 2, got %s", ev.ID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(resumes) != 2 || resumes[1] != "2" {
		t.Errorf("Expected second connection to resume from 2, got %q", resumes)
	}
}
