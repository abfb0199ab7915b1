// Package ratelimit derives the server-load signal (maxlag) from API
// responses and gates request admission while the server reports overload.
// The pause is process-wide; with a Redis store it is shared by every
// process talking to the same wiki.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Redis keys for shared load state. The endpoint identity is appended.
const (
	RedisKeyLevel       = "mw:load:level"
	RedisKeyLag         = "mw:load:lag"
	RedisKeyPausedUntil = "mw:load:paused_until"
	RedisKeyLastUpdate  = "mw:load:last_update"
)

// Level is the server-reported load level.
type Level string

const (
	// LevelNormal means the server accepted the request.
	LevelNormal Level = "normal"

	// LevelThrottled means the server asked the client to back off.
	LevelThrottled Level = "throttled"
)

// Signal is the load signal derived from one response. It is never persisted.
type Signal struct {
	// Level is normal unless the server rejected the request for load reasons.
	Level Level

	// Lag is the replication lag in seconds reported by the server, if any.
	Lag float64

	// RetryAfter is the explicit wait hint (Retry-After header), if any.
	RetryAfter time.Duration
}

// Throttled reports whether the signal asks for a pause.
func (s Signal) Throttled() bool {
	return s.Level == LevelThrottled
}

// SignalFromHeaders reads X-Database-Lag and Retry-After. The level is left
// normal; the executor upgrades it when the body carries a load error.
func SignalFromHeaders(h http.Header) Signal {
	sig := Signal{Level: LevelNormal}
	if v := strings.TrimSpace(h.Get("X-Database-Lag")); v != "" {
		if lag, err := strconv.ParseFloat(v, 64); err == nil && lag >= 0 {
			sig.Lag = lag
		}
	}
	sig.RetryAfter = ParseRetryAfter(h.Get("Retry-After"))
	return sig
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or
// past values yield zero.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// State is the current load state of one endpoint.
type State struct {
	Level       Level     `json:"level"`
	Lag         float64   `json:"lag"`
	PausedUntil time.Time `json:"paused_until"`
	LastUpdate  time.Time `json:"last_update"`
}

// Paused reports whether admission is paused at now.
func (s *State) Paused(now time.Time) bool {
	return s.Level == LevelThrottled && now.Before(s.PausedUntil)
}

// TimeUntilResume returns the remaining pause, or 0.
func (s *State) TimeUntilResume() time.Duration {
	d := time.Until(s.PausedUntil)
	if d < 0 || s.Level != LevelThrottled {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
