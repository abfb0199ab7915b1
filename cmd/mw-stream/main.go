// Command mw-stream tails a Wikimedia EventStreams feed, logs recent changes
// and persists the stream checkpoint in Redis so restarts resume where the
// previous run stopped.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/eventstream"
	"github.com/Sternrassler/mediawiki-client/pkg/logging"
	"github.com/Sternrassler/mediawiki-client/pkg/metrics"
	"github.com/Sternrassler/mediawiki-client/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type config struct {
	StreamURL       string
	UserAgent       string
	RedisURL        string
	Port            string
	Wiki            string
	CheckpointEvery int
}

func loadConfig() config {
	every, err := strconv.Atoi(getEnv("CHECKPOINT_EVERY", "20"))
	if err != nil || every <= 0 {
		every = 20
	}
	return config{
		StreamURL:       getEnv("STREAM_URL", eventstream.RecentChangeURL),
		UserAgent:       getEnv("USER_AGENT", "mw-stream/0.1.0"),
		RedisURL:        os.Getenv("REDIS_URL"),
		Port:            getEnv("PORT", "8080"),
		Wiki:            os.Getenv("WIKI"),
		CheckpointEvery: every,
	}
}

func main() {
	logging.Setup(logging.FromEnv())
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		redisClient *redis.Client
		checkpoints checkpointStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		checkpoints = store.NewManager(redisClient)
		log.Info().Str("redis", opts.Addr).Msg("Connected to Redis")
	}

	t := &tailer{config: cfg, checkpoints: checkpoints}
	consumer, err := t.subscribe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe")
	}
	defer consumer.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient, consumer))
	mux.HandleFunc("/checkpoint", checkpointHandler(consumer))
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Status server failed")
			stop()
		}
	}()
	log.Info().
		Str("stream", cfg.StreamURL).
		Str("addr", srv.Addr).
		Msg("Starting stream tail")

	runErr := t.run(ctx, consumer)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.saveCheckpoint(shutdownCtx, consumer)
	srv.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatal().Err(runErr).Msg("Stream tail stopped")
	}
	log.Info().Msg("Stream tail stopped")
}

// checkpointStore is the part of store.Manager the tailer uses.
type checkpointStore interface {
	SaveCheckpoint(ctx context.Context, endpoint string, cp eventstream.Checkpoint) error
	LoadCheckpoint(ctx context.Context, endpoint, stream string) (*eventstream.Checkpoint, error)
}

type tailer struct {
	config      config
	checkpoints checkpointStore
	handled     int
}

// subscribe opens the consumer, resuming from the stored checkpoint if any.
func (t *tailer) subscribe(ctx context.Context) (*eventstream.Consumer, error) {
	cfg := eventstream.DefaultConfig(t.config.StreamURL, t.config.UserAgent)
	u, err := url.Parse(t.config.StreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL: %w", err)
	}
	cfg.Stream = path.Base(u.Path)

	var cp *eventstream.Checkpoint
	if t.checkpoints != nil {
		cp, err = t.checkpoints.LoadCheckpoint(ctx, t.config.StreamURL, cfg.Stream)
		switch {
		case errors.Is(err, store.ErrNotFound):
			cp = nil
		case err != nil:
			return nil, fmt.Errorf("load checkpoint: %w", err)
		default:
			log.Info().
				Str("last_event_id", cp.LastEventID).
				Time("received_at", cp.ReceivedAt).
				Msg("Resuming from stored checkpoint")
		}
	}
	return eventstream.Subscribe(cfg, cp)
}

// run consumes events until ctx is cancelled or the subscription fails.
func (t *tailer) run(ctx context.Context, consumer *eventstream.Consumer) error {
	for ev, err := range consumer.Events(ctx) {
		if err != nil {
			return err
		}
		if t.handle(ev) && t.handled%t.config.CheckpointEvery == 0 {
			t.saveCheckpoint(ctx, consumer)
		}
	}
	return nil
}

// handle logs one recent change. It reports whether the event passed the
// wiki filter.
func (t *tailer) handle(ev *eventstream.Event) bool {
	var rc eventstream.RecentChangeEvent
	if err := ev.Decode(&rc); err != nil {
		log.Debug().Err(err).Str("event_id", ev.ID).Msg("Skipping undecodable event")
		return false
	}
	if t.config.Wiki != "" && rc.Wiki != t.config.Wiki {
		return false
	}
	t.handled++
	log.Info().
		Str("wiki", rc.Wiki).
		Str("type", rc.Type).
		Str("title", rc.Title).
		Str("user", rc.User).
		Bool("bot", rc.Bot).
		Msg("Recent change")
	return true
}

func (t *tailer) saveCheckpoint(ctx context.Context, consumer *eventstream.Consumer) {
	if t.checkpoints == nil {
		return
	}
	cp := consumer.Checkpoint()
	if cp.IsZero() {
		return
	}
	if err := t.checkpoints.SaveCheckpoint(ctx, t.config.StreamURL, cp); err != nil {
		log.Warn().Err(err).Msg("Failed to save checkpoint")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready while the stream is not closed and Redis, if
// configured, answers.
func readyHandler(redisClient *redis.Client, consumer *eventstream.Consumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if consumer.State() == eventstream.StateClosed {
			http.Error(w, "stream closed", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func checkpointHandler(consumer *eventstream.Consumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			eventstream.Checkpoint
			State string `json:"state"`
		}{consumer.Checkpoint(), consumer.State().String()})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
