// Package events publishes job lifecycle notifications to interested collaborators,
// such as a gallery service that lists finished ads.
package events

import (
	"context"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	// TypeJobCompleted is emitted when a job reaches completed.
	TypeJobCompleted Type = "job.completed"
	// TypeJobFailed is emitted when a job reaches failed.
	TypeJobFailed Type = "job.failed"
)

// Event describes a terminal job transition.
type Event struct {
	Type       Type      `json:"type"`
	JobID      string    `json:"job_id"`
	Provider   string    `json:"provider"`
	Prompt     string    `json:"prompt"`
	ResultURL  string    `json:"result_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

var _ Publisher = NopPublisher{}
