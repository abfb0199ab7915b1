//go:build integration

package client

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/mediawiki-client/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

// Two executors (as in two processes) talking to one wiki share the pause.
func TestIntegration_SharedLoadPause(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockWiki()
	defer mock.Close()

	var throttled atomic.Bool
	throttled.Store(true)
	mock.Handle("query", func(w http.ResponseWriter, r *http.Request, _ url.Values) {
		if throttled.Load() {
			w.Header().Set("Retry-After", "2")
			testutil.WriteAPIError(w, "maxlag", "Waiting for db1: 9 seconds lagged.")
			return
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"batchcomplete": true})
	})

	withRedis := func(cfg *Config) {
		cfg.Redis = redisClient
		cfg.Retry.MaxAttempts = 1
		cfg.LoadPauseTimeout = 5 * time.Second
	}
	first := newTestClient(t, mock, withRedis)
	second := newTestClient(t, mock, withRedis)
	ctx := context.Background()

	if _, err := first.Execute(ctx, queryRequest()); err == nil {
		t.Fatal("expected the throttled call to fail")
	}
	throttled.Store(false)

	start := time.Now()
	if _, err := second.Execute(ctx, queryRequest()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("second client was admitted after %v, expected to wait for the shared pause", elapsed)
	}
}

func TestIntegration_LoginAndEditFlow(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockWiki()
	defer mock.Close()
	mock.Handle("edit", func(w http.ResponseWriter, r *http.Request, form url.Values) {
		if !mock.CheckToken(form, "token", "csrf") {
			testutil.WriteAPIError(w, "badtoken", "Invalid CSRF token.")
			return
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]any{
			"edit": map[string]any{"result": "Success", "newrevid": 7},
		})
	})

	c := newTestClient(t, mock, func(cfg *Config) { cfg.Redis = redisClient })
	ctx := context.Background()

	login := loginRequest("secret")
	if _, err := c.Execute(ctx, login); err != nil {
		t.Fatalf("login error = %v", err)
	}
	if _, err := c.Execute(ctx, editRequest()); err != nil {
		t.Fatalf("edit error = %v", err)
	}
	if got := mock.Count("tokens"); got != 2 {
		t.Errorf("token fetches = %d, want 2 (login + csrf)", got)
	}
}
