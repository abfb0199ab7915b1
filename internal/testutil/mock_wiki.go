// Package testutil provides testing utilities for the MediaWiki client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// APIPath is the path the mock serves the Action API on.
const APIPath = "/w/api.php"

// MockResponse defines the behavior for one scripted response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Recorded is one request seen by the mock.
type Recorded struct {
	Method      string
	Action      string
	Form        url.Values
	Header      http.Header
	ContentType string
	Files       map[string][]byte
}

// HandlerFunc answers an API request. form holds query, form and multipart values.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, form url.Values)

// MockWiki is a configurable mock MediaWiki Action API server for testing.
//
// Requests are dispatched by action. action=query&meta=tokens is dispatched
// as "tokens" and answered by a built-in token issuer unless overridden.
// The built-in login handler accepts any user with password "secret".
type MockWiki struct {
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	counts   map[string]int
	requests []Recorded

	// issued tokens per kind, e.g. "csrf" -> "csrf-2"
	tokens      map[string]string
	tokenSerial int
}

// NewMockWiki starts a new mock wiki.
func NewMockWiki() *MockWiki {
	mock := &MockWiki{
		handlers: make(map[string]HandlerFunc),
		counts:   make(map[string]int),
		tokens:   make(map[string]string),
	}
	mock.handlers["tokens"] = mock.tokenHandler
	mock.handlers["login"] = mock.loginHandler

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockWiki) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != APIPath {
		http.NotFound(w, r)
		return
	}

	rec := Recorded{
		Method:      r.Method,
		Header:      r.Header.Clone(),
		ContentType: r.Header.Get("Content-Type"),
	}
	if strings.HasPrefix(rec.ContentType, "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec.Files = make(map[string][]byte)
		for name, headers := range r.MultipartForm.File {
			f, err := headers[0].Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			f.Close()
			rec.Files[name] = data
		}
	} else if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.Form = r.Form
	rec.Action = dispatchKey(r.Form)

	m.mu.Lock()
	m.counts[rec.Action]++
	m.requests = append(m.requests, rec)
	handler, ok := m.handlers[rec.Action]
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if !ok {
		WriteAPIError(w, "badvalue", fmt.Sprintf("Unrecognized value for parameter \"action\": %s.", rec.Action))
		return
	}
	handler(w, r, r.Form)
}

func dispatchKey(form url.Values) string {
	action := form.Get("action")
	if action == "query" && form.Get("meta") == "tokens" {
		return "tokens"
	}
	return action
}

// URL returns the api.php URL of the mock.
func (m *MockWiki) URL() string {
	return m.server.URL + APIPath
}

// Close shuts down the mock server.
func (m *MockWiki) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockWiki) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
	m.requests = nil
}

// Handle sets a custom handler for an action.
func (m *MockWiki) Handle(action string, handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[action] = handler
}

// Script answers successive requests for action with resps in order; the
// last response repeats.
func (m *MockWiki) Script(action string, resps ...MockResponse) {
	var (
		mu sync.Mutex
		n  int
	)
	m.Handle(action, func(w http.ResponseWriter, r *http.Request, _ url.Values) {
		mu.Lock()
		resp := resps[min(n, len(resps)-1)]
		n++
		mu.Unlock()
		writeMock(w, resp)
	})
}

// SetResponse configures a single fixed response for an action.
func (m *MockWiki) SetResponse(action string, resp MockResponse) {
	m.Script(action, resp)
}

func writeMock(w http.ResponseWriter, resp MockResponse) {
	// Add delay if specified
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// Count returns the number of requests seen for an action key.
func (m *MockWiki) Count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[action]
}

// Requests returns every request seen, in arrival order.
func (m *MockWiki) Requests() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Recorded(nil), m.requests...)
}

// LastRequest returns the most recent request for an action key.
func (m *MockWiki) LastRequest(action string) (Recorded, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if m.requests[i].Action == action {
			return m.requests[i], true
		}
	}
	return Recorded{}, false
}

// CurrentToken returns the last token issued for kind, or "".
func (m *MockWiki) CurrentToken(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[kind]
}

// IssueToken replaces the current token of kind, invalidating older ones.
func (m *MockWiki) IssueToken(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenSerial++
	tok := fmt.Sprintf("%s-%d+\\", kind, m.tokenSerial)
	m.tokens[kind] = tok
	return tok
}

func (m *MockWiki) tokenHandler(w http.ResponseWriter, _ *http.Request, form url.Values) {
	kinds := form.Get("type")
	if kinds == "" {
		kinds = "csrf"
	}
	out := make(map[string]string)
	for _, kind := range strings.Split(kinds, "|") {
		out[kind+"token"] = m.IssueToken(kind)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"batchcomplete": true,
		"query":         map[string]any{"tokens": out},
	})
}

func (m *MockWiki) loginHandler(w http.ResponseWriter, _ *http.Request, form url.Values) {
	if form.Get("lgtoken") == "" || form.Get("lgtoken") != m.CurrentToken("login") {
		WriteJSON(w, http.StatusOK, map[string]any{
			"login": map[string]any{"result": "WrongToken"},
		})
		return
	}
	if form.Get("lgpassword") != "secret" {
		WriteJSON(w, http.StatusOK, map[string]any{
			"login": map[string]any{
				"result": "Failed",
				"reason": "Incorrect username or password entered. Please try again.",
			},
		})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "mwsession", Value: "s3ss10n", Path: "/"})
	WriteJSON(w, http.StatusOK, map[string]any{
		"login": map[string]any{
			"result":     "Success",
			"lguserid":   42,
			"lgusername": form.Get("lgname"),
		},
	})
}

// CheckToken reports whether form carries the current token of kind in param.
func (m *MockWiki) CheckToken(form url.Values, param, kind string) bool {
	cur := m.CurrentToken(kind)
	return cur != "" && form.Get(param) == cur
}

// WriteJSON writes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteAPIError writes a MediaWiki error object.
func WriteAPIError(w http.ResponseWriter, code, info string) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"error": map[string]any{"code": code, "info": info},
	})
}

// NewMaxlagResponse creates the response of a request rejected by maxlag.
func NewMaxlagResponse(lag int, retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: fmt.Sprintf(`{"error":{"code":"maxlag","info":"Waiting for db1: %d seconds lagged.","host":"db1","lag":%d,"type":"db"}}`,
			lag, lag),
		Headers: map[string]string{
			"Retry-After":    fmt.Sprintf("%d", retryAfter),
			"X-Database-Lag": fmt.Sprintf("%d", lag),
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       "Too Many Requests",
		Headers: map[string]string{
			"Retry-After": fmt.Sprintf("%d", retryAfter),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "<html><body>Internal server error</body></html>",
	}
}

// NewOKResponse creates a 200 response with a JSON body.
func NewOKResponse(body string) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// NewErrorResponse creates a 200 response carrying an API error object.
func NewErrorResponse(code, info string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"error":{"code":%q,"info":%q}}`, code, info),
	}
}
