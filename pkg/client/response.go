package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/Sternrassler/mediawiki-client/pkg/ratelimit"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
)

// Warning is a non-fatal message attached to a response by one API module.
type Warning struct {
	Module string
	Text   string
}

// Response is a successfully decoded API response.
type Response struct {
	// Body is the decoded JSON object.
	Body map[string]any

	// Raw is the undecoded body, for typed decoding via Decode.
	Raw json.RawMessage

	Warnings []Warning

	// Continue is the continuation descriptor, or nil on the last page.
	Continue *request.Params

	Signal     ratelimit.Signal
	StatusCode int
	Header     http.Header
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// Lookup walks nested objects of the body, e.g. Lookup("query", "tokens").
func (r *Response) Lookup(path ...string) (any, bool) {
	var cur any = r.Body
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// LookupString is Lookup for string leaves.
func (r *Response) LookupString(path ...string) (string, bool) {
	v, ok := r.Lookup(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// envelope is the part of every response the executor interprets.
type envelope struct {
	Error *struct {
		Code string  `json:"code"`
		Info string  `json:"info"`
		Lag  float64 `json:"lag"`
	} `json:"error"`
	Warnings map[string]json.RawMessage `json:"warnings"`
	Continue json.RawMessage            `json:"continue"`
}

// decodeResponse turns one HTTP exchange into a Response or a classified
// APIError. The signal is returned in both cases.
func decodeResponse(status int, header http.Header, body []byte, tokenRequired bool) (*Response, ratelimit.Signal, error) {
	sig := ratelimit.SignalFromHeaders(header)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		class := classifyStatus(status, sig.RetryAfter)
		if class == ErrorClassThrottle {
			sig.Level = ratelimit.LevelThrottled
		}
		msg := http.StatusText(status)
		if class == ErrorClassProtocol {
			msg = "response is not a JSON object"
		}
		return nil, sig, &APIError{
			Class:      class,
			StatusCode: status,
			Message:    msg,
			RetryAfter: sig.RetryAfter,
			Err:        err,
		}
	}

	if env.Error != nil {
		class := classifyCode(env.Error.Code, tokenRequired)
		if class == ErrorClassThrottle {
			sig.Level = ratelimit.LevelThrottled
			if env.Error.Lag > 0 {
				sig.Lag = env.Error.Lag
			}
		}
		return nil, sig, &APIError{
			Class:      class,
			StatusCode: status,
			Code:       env.Error.Code,
			Message:    env.Error.Info,
			RetryAfter: sig.RetryAfter,
		}
	}

	if status >= 300 {
		class := classifyStatus(status, sig.RetryAfter)
		if class == ErrorClassThrottle {
			sig.Level = ratelimit.LevelThrottled
		}
		return nil, sig, &APIError{
			Class:      class,
			StatusCode: status,
			Message:    http.StatusText(status),
			RetryAfter: sig.RetryAfter,
		}
	}

	resp := &Response{
		Raw:        json.RawMessage(body),
		Warnings:   parseWarnings(env.Warnings),
		Signal:     sig,
		StatusCode: status,
		Header:     header,
	}
	if err := json.Unmarshal(body, &resp.Body); err != nil {
		return nil, sig, &APIError{Class: ErrorClassProtocol, StatusCode: status, Message: "decode body", Err: err}
	}

	if len(env.Continue) > 0 && string(env.Continue) != "null" {
		cont, err := request.ParseObject(env.Continue)
		if err != nil {
			return nil, sig, &APIError{
				Class:      ErrorClassProtocol,
				StatusCode: status,
				Message:    "malformed continue object",
				Err:        err,
			}
		}
		if cont.Len() > 0 {
			resp.Continue = cont
		}
	}

	return resp, sig, nil
}

// parseWarnings flattens {"module": {"warnings": "text"}} (formatversion=2)
// and the older {"module": {"*": "text"}} shape. Modules are sorted.
func parseWarnings(raw map[string]json.RawMessage) []Warning {
	if len(raw) == 0 {
		return nil
	}
	modules := make([]string, 0, len(raw))
	for m := range raw {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var out []Warning
	for _, m := range modules {
		var obj map[string]any
		if err := json.Unmarshal(raw[m], &obj); err != nil {
			out = append(out, Warning{Module: m, Text: string(raw[m])})
			continue
		}
		text, ok := obj["warnings"].(string)
		if !ok {
			text, ok = obj["*"].(string)
		}
		if !ok {
			text = fmt.Sprint(obj)
		}
		out = append(out, Warning{Module: m, Text: text})
	}
	return out
}
