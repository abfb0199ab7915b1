package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/client"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the number of sessions run in parallel. The executor
	// still caps in-flight HTTP requests on its own.
	MaxConcurrency int
	// Timeout bounds one whole session. Zero means no bound.
	Timeout time.Duration
	// MaxPages stops a session after this many pages. Zero means no limit.
	MaxPages int
}

// DefaultConfig returns the default batch configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        5 * time.Minute,
	}
}

// SessionResult is the outcome of one session in a batch.
type SessionResult struct {
	Index int
	Pages []*client.Response
	// State is where the session stopped. Pass it to Resume after an error.
	State State
	Error error
}

// BatchFetcher runs independent pagination sessions on a worker pool.
type BatchFetcher struct {
	exec   Executor
	config Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(exec Executor, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	return &BatchFetcher{
		exec:   exec,
		config: config,
	}
}

// FetchAll runs one session per request and returns the results in request
// order. Failed sessions keep the pages fetched before the failure; the
// returned error reports how many sessions failed.
func (bf *BatchFetcher) FetchAll(ctx context.Context, reqs []*request.Request) ([]SessionResult, error) {
	start := time.Now()
	results := make([]SessionResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	log.Info().
		Int("sessions", len(reqs)).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting batch pagination")

	queue := make(chan int, len(reqs))
	for i := range reqs {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	workers := min(bf.config.MaxConcurrency, len(reqs))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, reqs, queue, results, &wg, i)
	}
	wg.Wait()

	failed, pages := 0, 0
	var firstErr error
	for _, r := range results {
		pages += len(r.Pages)
		if r.Error != nil {
			failed++
			if firstErr == nil {
				firstErr = r.Error
			}
		}
	}

	if failed > 0 {
		log.Warn().
			Err(firstErr).
			Int("failed", failed).
			Int("sessions", len(reqs)).
			Msg("Batch finished with failed sessions - returning partial results")
		return results, fmt.Errorf("%d/%d sessions failed: %w", failed, len(reqs), firstErr)
	}

	log.Info().
		Int("sessions", len(reqs)).
		Int("pages", pages).
		Dur("duration", time.Since(start)).
		Msg("Batch pagination complete")
	return results, nil
}

// worker drains the session queue. Each slot of results is written by exactly
// one worker.
func (bf *BatchFetcher) worker(ctx context.Context, reqs []*request.Request, queue <-chan int, results []SessionResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for idx := range queue {
		if err := ctx.Err(); err != nil {
			results[idx] = SessionResult{Index: idx, Error: err}
			continue
		}
		results[idx] = bf.run(ctx, idx, reqs[idx])
		processed++
	}

	if processed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("sessions_processed", processed).
			Msg("Worker completed")
	}
}

func (bf *BatchFetcher) run(ctx context.Context, idx int, req *request.Request) SessionResult {
	if bf.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bf.config.Timeout)
		defer cancel()
	}

	res := SessionResult{Index: idx}
	p := Paginate(bf.exec, req)
	for resp, err := range p.All(ctx) {
		if err != nil {
			log.Warn().
				Err(err).
				Int("session", idx).
				Int("pages", len(res.Pages)).
				Msg("Session failed")
			res.Error = err
			break
		}
		res.Pages = append(res.Pages, resp)
		if bf.config.MaxPages > 0 && len(res.Pages) >= bf.config.MaxPages {
			break
		}
		if len(res.Pages)%50 == 0 {
			log.Info().
				Int("session", idx).
				Int("pages", len(res.Pages)).
				Msg("Session progress")
		}
	}
	res.State = p.State()
	return res
}
