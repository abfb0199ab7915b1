package store

import (
	"strings"
)

// Record kinds.
const (
	KindCheckpoint   = "checkpoint"
	KindContinuation = "continuation"
)

// Key identifies one stored record.
type Key struct {
	// Kind is the record type, e.g. KindCheckpoint.
	Kind string

	// Endpoint is the API or feed URL the record belongs to.
	Endpoint string

	// Name distinguishes records of one kind, e.g. the stream name or a
	// pagination session id.
	Name string
}

// String generates a deterministic key string.
// Format: mw:<kind>:<endpoint>:<name>
//
// The endpoint is normalized: scheme, query and surrounding slashes are
// dropped and the host is lower-cased.
func (k Key) String() string {
	return strings.Join([]string{"mw", k.Kind, normalizeEndpoint(k.Endpoint), k.Name}, ":")
}

func normalizeEndpoint(endpoint string) string {
	e := endpoint
	if i := strings.Index(e, "://"); i >= 0 {
		e = e[i+3:]
	}
	if i := strings.IndexAny(e, "?#"); i >= 0 {
		e = e[:i]
	}
	e = strings.Trim(e, "/")

	host, path, found := strings.Cut(e, "/")
	host = strings.ToLower(host)
	if !found {
		return host
	}
	return host + "/" + path
}
