package model

import "time"

// Alert describes a detected threat for the notifier channels.
type Alert struct {
	OwnerID   string    `json:"owner_id"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	SourceIP  string    `json:"source_ip,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
