package pagination

import (
	"context"
	"errors"
	"iter"

	"github.com/Sternrassler/mediawiki-client/pkg/client"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	mwPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_pagination_pages_total",
		Help: "Pages fetched by the continuation engine, by action",
	}, []string{"action"})

	mwNonConvergenceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mw_pagination_non_convergence_total",
		Help: "Sessions stopped because the continuation did not advance",
	})
)

var tracer = otel.Tracer("github.com/Sternrassler/mediawiki-client/pkg/pagination")

// Done is returned by Next after the last page.
var Done = errors.New("no more pages")

// Executor executes one logical request. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req *request.Request) (*client.Response, error)
}

// State is the resumable position of a session. It is JSON serializable.
type State struct {
	// Continue is the last continuation descriptor received, nil before the
	// first page and after the last.
	Continue *request.Params `json:"continue,omitempty"`

	// Page counts pages yielded so far.
	Page int `json:"page"`

	Exhausted bool `json:"exhausted"`
}

func (s State) clone() State {
	if s.Continue != nil {
		s.Continue = s.Continue.Clone()
	}
	return s
}

// Paginator is one pagination session. It is not safe for concurrent use.
type Paginator struct {
	exec   Executor
	base   *request.Request
	state  State
	logger zerolog.Logger
}

// Paginate starts a session for req.
func Paginate(exec Executor, req *request.Request) *Paginator {
	return Resume(exec, req, State{})
}

// Resume continues a session from a previously captured state. req must be
// the request the state was captured from.
func Resume(exec Executor, req *request.Request, state State) *Paginator {
	return &Paginator{
		exec:   exec,
		base:   req,
		state:  state.clone(),
		logger: log.With().Str("component", "pagination").Logger(),
	}
}

// State returns a copy of the current position.
func (p *Paginator) State() State {
	return p.state.clone()
}

// Request returns the request the next call to Next will send.
func (p *Paginator) Request() *request.Request {
	if p.state.Continue == nil {
		return p.base
	}
	return p.base.WithParams(p.state.Continue)
}

// Next fetches the next page. It returns Done after the last page. On any
// other error the state is left at the last successful page, so calling Next
// again retries the failed page.
func (p *Paginator) Next(ctx context.Context) (*client.Response, error) {
	if p.state.Exhausted {
		return nil, Done
	}

	page := p.state.Page + 1
	ctx, span := tracer.Start(ctx, "mw.paginate.page", trace.WithAttributes(
		attribute.String("mw.action", p.base.Action()),
		attribute.Int("mw.page", page),
	))
	defer span.End()

	resp, err := p.exec.Execute(ctx, p.Request())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Debug().
			Err(err).
			Int("page", page).
			Msg("Page fetch failed, state kept for resume")
		return nil, err
	}

	next := State{Page: page}
	if resp.Continue == nil {
		next.Exhausted = true
	} else {
		if p.state.Continue != nil && resp.Continue.Equal(p.state.Continue) {
			mwNonConvergenceTotal.Inc()
			err := &client.APIError{
				Class:      client.ErrorClassProtocol,
				StatusCode: resp.StatusCode,
				Message:    "continuation did not advance",
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Warn().
				Int("page", page).
				Str("request", p.Request().String()).
				Msg("Continuation repeated, stopping session")
			return nil, err
		}
		next.Continue = resp.Continue.Clone()
	}

	p.state = next
	mwPagesTotal.WithLabelValues(p.base.Action()).Inc()
	return resp, nil
}

// All yields every remaining page. Iteration stops after the first error,
// which is yielded with a nil response.
func (p *Paginator) All(ctx context.Context) iter.Seq2[*client.Response, error] {
	return func(yield func(*client.Response, error) bool) {
		for {
			resp, err := p.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

// Collect runs the session to the end and concatenates the items extract
// pulls out of each page. On error the items gathered so far are returned.
func Collect[T any](ctx context.Context, p *Paginator, extract func(*client.Response) ([]T, error)) ([]T, error) {
	var out []T
	for resp, err := range p.All(ctx) {
		if err != nil {
			return out, err
		}
		items, err := extract(resp)
		if err != nil {
			return out, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// MergeResults merges the body b into a: objects are merged key by key,
// arrays are concatenated, anything else in b replaces a. It returns a.
func MergeResults(a, b map[string]any) map[string]any {
	if a == nil {
		a = make(map[string]any, len(b))
	}
	for k, bv := range b {
		a[k] = mergeValue(a[k], bv)
	}
	return a
}

func mergeValue(a, b any) any {
	switch bv := b.(type) {
	case map[string]any:
		if av, ok := a.(map[string]any); ok {
			return MergeResults(av, bv)
		}
		return MergeResults(nil, bv)
	case []any:
		if av, ok := a.([]any); ok {
			return append(av, bv...)
		}
		return bv
	default:
		return b
	}
}

// MergeAll runs the session to the end and merges every page body into one,
// dropping the per-page "continue" objects.
func MergeAll(ctx context.Context, p *Paginator) (map[string]any, error) {
	var merged map[string]any
	for resp, err := range p.All(ctx) {
		if err != nil {
			return merged, err
		}
		merged = MergeResults(merged, resp.Body)
	}
	delete(merged, "continue")
	return merged, nil
}
