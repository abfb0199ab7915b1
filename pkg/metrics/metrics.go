// Package metrics exposes the Prometheus metrics of the MediaWiki client.
// Metrics are defined in the packages that update them (client, tokens,
// ratelimit, pagination, eventstream, store) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all client metrics are registered on.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer used by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - mw_requests_total{action, outcome} (Counter): Logical requests by action and outcome
//   - mw_request_duration_seconds{action} (Histogram): Logical request duration including retries
//   - mw_http_attempts_total{shape} (Counter): HTTP attempts by transport shape (GET, POST, multipart)
//   - mw_errors_total{class} (Counter): Failed attempts by error class
//   - mw_requests_inflight (Gauge): Attempts currently holding a concurrency slot
//
// Retry Metrics (pkg/client):
//   - mw_retries_total{error_class} (Counter): Retry attempts by error class
//   - mw_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - mw_retry_exhausted_total{error_class} (Counter): Requests that exhausted the attempt budget
//   - mw_token_refresh_retries_total (Counter): Requests retried after a token refresh
//
// Token Metrics (pkg/tokens):
//   - mw_token_cache_hits_total{kind} (Counter): Acquisitions served from cache
//   - mw_token_fetches_total{kind, outcome} (Counter): Token fetches sent to the server
//   - mw_token_invalidations_total{kind} (Counter): Tokens dropped after rejection or login
//
// Load Metrics (pkg/ratelimit):
//   - mw_replication_lag_seconds (Gauge): Last reported replication lag
//   - mw_load_throttles_total (Counter): Throttle signals observed
//   - mw_admission_waits_total (Counter): Requests held back by a load pause
//
// Pagination Metrics (pkg/pagination):
//   - mw_pagination_pages_total{action} (Counter): Pages fetched
//   - mw_pagination_non_convergence_total (Counter): Sessions stopped on a repeated continuation
//
// Stream Metrics (pkg/eventstream):
//   - mw_stream_events_total{stream} (Counter): Events delivered
//   - mw_stream_reconnects_total{stream, reason} (Counter): Reconnects by reason
//   - mw_stream_stalls_total{stream} (Counter): Connections dropped by the stall window
//   - mw_stream_connected{stream} (Gauge): 1 while connected
//
// Store Metrics (pkg/store):
//   - mw_store_hits_total{kind} (Counter): Loads that found a record
//   - mw_store_misses_total{kind} (Counter): Loads that found nothing
//   - mw_store_errors_total{operation} (Counter): Redis errors by operation
//
// Example Prometheus Queries:
//
//   # Throttled share of attempts
//   sum(rate(mw_errors_total{class="throttle"}[5m])) / sum(rate(mw_http_attempts_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(mw_request_duration_seconds_bucket[5m]))
//
//   # Stream health
//   mw_stream_connected == 0 or rate(mw_stream_events_total[5m]) == 0
