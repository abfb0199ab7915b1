package eventstream

import "time"

// Checkpoint is the position a subscription resumes from.
type Checkpoint struct {
	Stream      string    `json:"stream"`
	LastEventID string    `json:"last_event_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at,omitzero"`
}

// IsZero reports whether the checkpoint carries no resume position.
func (c Checkpoint) IsZero() bool {
	return c.LastEventID == ""
}
