package eventstream

import (
	"encoding/json"
	"time"
)

// Wikimedia EventStreams feeds.
const (
	RecentChangeURL  = "https://stream.wikimedia.org/v2/stream/recentchange"
	RevisionScoreURL = "https://stream.wikimedia.org/v2/stream/revision-score"
)

// EventMeta is the common metadata block of Wikimedia events.
type EventMeta struct {
	DT        time.Time `json:"dt"`
	Stream    string    `json:"stream"`
	Domain    string    `json:"domain,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	URI       string    `json:"uri,omitempty"`
	ID        string    `json:"id,omitempty"`
}

// OldNew is a before/after pair, e.g. revision ids or page lengths.
type OldNew struct {
	Old *uint64 `json:"old,omitempty"`
	New *uint64 `json:"new,omitempty"`
}

// RecentChangeEvent is an event of the recentchange stream.
type RecentChangeEvent struct {
	Meta             EventMeta       `json:"meta"`
	ID               *int64          `json:"id,omitempty"`
	Type             string          `json:"type,omitempty"`
	Title            string          `json:"title,omitempty"`
	Namespace        *int64          `json:"namespace,omitempty"`
	Comment          string          `json:"comment,omitempty"`
	ParsedComment    string          `json:"parsedcomment,omitempty"`
	Timestamp        int64           `json:"timestamp,omitempty"`
	User             string          `json:"user,omitempty"`
	Bot              bool            `json:"bot"`
	ServerURL        string          `json:"server_url,omitempty"`
	ServerScriptPath string          `json:"server_script_path,omitempty"`
	Wiki             string          `json:"wiki,omitempty"`
	Minor            bool            `json:"minor"`
	Patrolled        *bool           `json:"patrolled,omitempty"`
	Length           *OldNew         `json:"length,omitempty"`
	Revision         *OldNew         `json:"revision,omitempty"`
	LogID            *uint64         `json:"log_id,omitempty"`
	LogType          string          `json:"log_type,omitempty"`
	LogAction        string          `json:"log_action,omitempty"`
	LogParams        json.RawMessage `json:"log_params,omitempty"`
	LogActionComment string          `json:"log_action_comment,omitempty"`
}

// RevisionScoreEvent is an event of the revision-score stream.
type RevisionScoreEvent struct {
	Database       string                `json:"database"`
	Meta           EventMeta             `json:"meta"`
	PageID         uint64                `json:"page_id"`
	PageTitle      string                `json:"page_title"`
	PageNamespace  int64                 `json:"page_namespace"`
	PageIsRedirect bool                  `json:"page_is_redirect"`
	RevID          uint64                `json:"rev_id"`
	RevParentID    *uint64               `json:"rev_parent_id,omitempty"`
	RevTimestamp   time.Time             `json:"rev_timestamp"`
	Scores         map[string]OresScores `json:"scores,omitempty"`
}

// OresScores is the output of one ORES model.
type OresScores struct {
	ModelName    string             `json:"model_name"`
	ModelVersion string             `json:"model_version"`
	Prediction   []string           `json:"prediction"`
	Probability  map[string]float64 `json:"probability"`
}
