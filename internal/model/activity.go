package model

import "time"

// ActivityLevel classifies an activity log entry.
type ActivityLevel string

const (
	ActivityInfo  ActivityLevel = "info"
	ActivityWarn  ActivityLevel = "warn"
	ActivityError ActivityLevel = "error"
)

// ActivityEntry is one append-only activity log record. The log is purely
// observational and never consulted for control flow.
type ActivityEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Level     ActivityLevel `json:"level"`
	Message   string        `json:"message"`
	Source    string        `json:"source"`
}
