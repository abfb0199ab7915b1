package store

import (
	"encoding/json"
	"time"
)

// Entry is one stored record.
type Entry struct {
	// Value is the JSON-encoded record.
	Value json.RawMessage `json:"value"`

	// SavedAt is when the record was written.
	SavedAt time.Time `json:"saved_at"`

	// Expires is when the record stops being valid. Zero means never.
	Expires time.Time `json:"expires,omitzero"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration, 0 for entries that never expire
// and a negative value for expired entries.
func (e *Entry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := time.Until(e.Expires)
	if ttl <= 0 {
		return -1
	}
	return ttl
}

// Decode unmarshals the stored value into v.
func (e *Entry) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}
