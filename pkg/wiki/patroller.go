package wiki

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/pagination"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PatrollerConfig configures a RecentChangesPatroller.
type PatrollerConfig struct {
	// Interval is the pause between two polls.
	Interval time.Duration
	Prop     []string
	Type     []string
	// Namespaces restricts changes to these namespaces.
	Namespaces []int
}

// RecentChangesPatroller polls list=recentchanges in consecutive time
// windows. Each poll covers the changes since the end of the previous
// window, following continuation until the window is exhausted.
type RecentChangesPatroller struct {
	exec   Executor
	config PatrollerConfig
	logger zerolog.Logger
	now    func() time.Time

	// prev is the newest bound of the last polled window.
	prev time.Time
}

// NewRecentChangesPatroller creates a patroller whose first window starts
// now.
func NewRecentChangesPatroller(exec Executor, config PatrollerConfig) *RecentChangesPatroller {
	p := &RecentChangesPatroller{
		exec:   exec,
		config: config,
		logger: log.With().Str("component", "patroller").Logger(),
		now:    time.Now,
	}
	p.prev = p.windowEnd()
	return p
}

// windowEnd lags a second behind the clock. Changes in the current second
// may still be committing.
func (p *RecentChangesPatroller) windowEnd() time.Time {
	return p.now().Add(-time.Second).Truncate(time.Second)
}

// Poll fetches every change between the previous window and now. The
// window only advances when the whole window was read.
func (p *RecentChangesPatroller) Poll(ctx context.Context) ([]RecentChange, error) {
	end := p.windowEnd()
	b := RecentChanges{
		// The server lists newest first: Start is the later bound.
		Start:      end,
		End:        p.prev,
		Limit:      LimitMax,
		Prop:       p.config.Prop,
		Type:       p.config.Type,
		Namespaces: p.config.Namespaces,
	}
	changes, err := pagination.Collect(ctx, pagination.Paginate(p.exec, request.FromBundle(b).Build()), RecentChangesFrom)
	if err != nil {
		return nil, fmt.Errorf("poll recent changes: %w", err)
	}

	p.logger.Debug().
		Time("from", p.prev).
		Time("to", end).
		Int("changes", len(changes)).
		Msg("Polled recent changes")
	p.prev = end
	return changes, nil
}

// Changes sleeps Interval, polls, yields the window's changes and repeats.
// It stops at the first error, which is yielded, or when ctx ends.
func (p *RecentChangesPatroller) Changes(ctx context.Context) iter.Seq2[RecentChange, error] {
	return func(yield func(RecentChange, error) bool) {
		timer := time.NewTimer(p.config.Interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			changes, err := p.Poll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					yield(RecentChange{}, err)
				}
				return
			}
			for _, rc := range changes {
				if !yield(rc, nil) {
					return
				}
			}
			timer.Reset(p.config.Interval)
		}
	}
}
