// Package tokens caches the short-lived authorization tokens of the
// MediaWiki Action API (login, csrf, patrol, ...).
//
// Tokens are cached per (endpoint, kind). A miss triggers exactly one fetch
// no matter how many callers ask concurrently; every waiter gets the result
// of that one fetch.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for the token cache.
var (
	mwTokenHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_token_cache_hits_total",
		Help: "Token lookups served from the cache",
	}, []string{"kind"})

	mwTokenFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_token_fetches_total",
		Help: "Token fetches issued to the wiki, by kind and outcome",
	}, []string{"kind", "outcome"})

	mwTokenInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_token_invalidations_total",
		Help: "Cached tokens dropped, by kind",
	}, []string{"kind"})
)

// ErrNoKind is returned when Acquire is called without a token kind.
var ErrNoKind = errors.New("token kind required")

// Key identifies a cached token.
type Key struct {
	Endpoint string
	Kind     request.TokenKind
}

// String returns the key in "mw:tokens:<endpoint>:<kind>" format.
func (k Key) String() string {
	return fmt.Sprintf("mw:tokens:%s:%s", k.Endpoint, k.Kind)
}

// Token is an issued token. It is owned by the cache and shared read-only by
// every request using it; invalidation flips the flag in place.
type Token struct {
	Kind       request.TokenKind
	Value      string
	AcquiredAt time.Time

	invalid atomic.Bool
}

// Valid reports whether the token has not been invalidated.
func (t *Token) Valid() bool {
	return !t.invalid.Load()
}

// Fetcher retrieves a fresh token value from the wiki.
type Fetcher interface {
	FetchToken(ctx context.Context, kind request.TokenKind) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, kind request.TokenKind) (string, error)

// FetchToken calls f.
func (f FetcherFunc) FetchToken(ctx context.Context, kind request.TokenKind) (string, error) {
	return f(ctx, kind)
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge drops cached tokens older than d. Zero keeps tokens until they
// are invalidated.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		c.maxAge = d
	}
}

// Cache holds the tokens of one endpoint.
type Cache struct {
	endpoint string
	fetcher  Fetcher
	logger   zerolog.Logger
	maxAge   time.Duration

	group singleflight.Group

	mu         sync.RWMutex
	entries    map[request.TokenKind]*Token
	generation uint64
}

// NewCache creates a token cache for endpoint (usually the API URL).
func NewCache(endpoint string, fetcher Fetcher, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		endpoint: endpoint,
		fetcher:  fetcher,
		logger:   logger,
		entries:  make(map[request.TokenKind]*Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the endpoint identity of the cache.
func (c *Cache) Endpoint() string {
	return c.endpoint
}

// Acquire returns a valid token of the given kind, fetching it on a miss.
//
// Concurrent callers for the same kind share one fetch. The fetch is not
// bound to any single caller: a caller whose ctx ends stops waiting, but the
// fetch completes and is cached for the others.
func (c *Cache) Acquire(ctx context.Context, kind request.TokenKind) (*Token, error) {
	if kind == request.TokenNone {
		return nil, ErrNoKind
	}

	c.mu.RLock()
	tok := c.entries[kind]
	gen := c.generation
	c.mu.RUnlock()

	if c.usable(tok) {
		mwTokenHits.WithLabelValues(string(kind)).Inc()
		return tok, nil
	}

	// The generation is part of the flight key so callers arriving after
	// InvalidateAll never join a fetch issued under the old session.
	flightKey := fmt.Sprintf("%s#%d", Key{Endpoint: c.endpoint, Kind: kind}, gen)
	fetchCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.fill(fetchCtx, kind, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fill runs inside the flight. A caller that missed just before the previous
// flight for kind stored its token finds that token here.
func (c *Cache) fill(ctx context.Context, kind request.TokenKind, gen uint64) (*Token, error) {
	c.mu.RLock()
	tok := c.entries[kind]
	current := c.generation == gen
	c.mu.RUnlock()
	if current && c.usable(tok) {
		mwTokenHits.WithLabelValues(string(kind)).Inc()
		return tok, nil
	}
	return c.fetch(ctx, kind, gen)
}

func (c *Cache) fetch(ctx context.Context, kind request.TokenKind, gen uint64) (*Token, error) {
	c.logger.Debug().
		Str("kind", string(kind)).
		Msg("Fetching token")

	value, err := c.fetcher.FetchToken(ctx, kind)
	if err != nil {
		mwTokenFetches.WithLabelValues(string(kind), "error").Inc()
		c.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Msg("Token fetch failed")
		return nil, fmt.Errorf("fetch %s token: %w", kind, err)
	}
	mwTokenFetches.WithLabelValues(string(kind), "ok").Inc()

	tok := &Token{Kind: kind, Value: value, AcquiredAt: time.Now()}

	c.mu.Lock()
	if c.generation == gen {
		c.entries[kind] = tok
	} else {
		c.logger.Debug().
			Str("kind", string(kind)).
			Msg("Session changed during fetch, token not cached")
	}
	c.mu.Unlock()

	return tok, nil
}

func (c *Cache) usable(tok *Token) bool {
	if tok == nil || !tok.Valid() {
		return false
	}
	if c.maxAge > 0 && time.Since(tok.AcquiredAt) > c.maxAge {
		return false
	}
	return true
}

// Invalidate drops the cached token of kind.
func (c *Cache) Invalidate(kind request.TokenKind) {
	c.mu.Lock()
	tok := c.entries[kind]
	delete(c.entries, kind)
	c.mu.Unlock()

	if tok != nil {
		tok.invalid.Store(true)
		mwTokenInvalidations.WithLabelValues(string(kind)).Inc()
	}
}

// InvalidateToken drops tok if it is still the cached token of its kind.
// A newer token fetched meanwhile by another caller stays cached.
func (c *Cache) InvalidateToken(tok *Token) {
	if tok == nil {
		return
	}
	tok.invalid.Store(true)

	c.mu.Lock()
	if c.entries[tok.Kind] == tok {
		delete(c.entries, tok.Kind)
	}
	c.mu.Unlock()

	mwTokenInvalidations.WithLabelValues(string(tok.Kind)).Inc()
	c.logger.Debug().
		Str("kind", string(tok.Kind)).
		Msg("Token invalidated")
}

// InvalidateAll drops every cached token, e.g. after the session identity
// changed. Fetches already in flight still answer their waiters but their
// result is not cached.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[request.TokenKind]*Token)
	c.generation++
	c.mu.Unlock()

	for kind, tok := range old {
		tok.invalid.Store(true)
		mwTokenInvalidations.WithLabelValues(string(kind)).Inc()
	}

	c.logger.Debug().
		Int("dropped", len(old)).
		Msg("All tokens invalidated")
}
