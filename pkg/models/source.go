package models

import "time"

// SourceStatus reports the outcome of the most recent poll of one source.
type SourceStatus struct {
	ID           string        `json:"id" example:"office-ap"`
	Scope        string        `json:"scope" example:"home"`
	Type         string        `json:"type" example:"ubus"`
	Host         string        `json:"host" example:"192.168.1.1"`
	Healthy      bool          `json:"healthy"`
	LastPollAt   time.Time     `json:"last_poll_at,omitzero"`
	LastSuccess  time.Time     `json:"last_success,omitzero"`
	LastError    string        `json:"last_error,omitempty"`
	ClientCount  int           `json:"client_count"`
	Dropped      int           `json:"dropped_records"`
	PollDuration time.Duration `json:"poll_duration_ns"`
}
