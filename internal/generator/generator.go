// Package generator provides the common interface for video generation providers.
// Adapters normalize every provider reply into a Result that is either an
// immediate artifact URL or a deferred provider job handle.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultDurationSeconds is used when a request does not specify a duration.
const DefaultDurationSeconds = 6

// Error taxonomy shared by all adapters.
var (
	// ErrPromptRequired is returned when a request has an empty prompt.
	ErrPromptRequired = errors.New("generator: prompt is required")
	// ErrNotConfigured is returned when provider credentials are missing.
	ErrNotConfigured = errors.New("generator: provider not configured")
	// ErrRateLimited is returned when the provider throttles the request.
	ErrRateLimited = errors.New("generator: rate limited")
	// ErrPaymentRequired is returned when the provider account is out of credits.
	ErrPaymentRequired = errors.New("generator: payment required")
	// ErrProvider is returned when the provider call failed or answered with an unexpected shape.
	ErrProvider = errors.New("generator: provider error")
)

// User-facing messages for the error taxonomy.
const (
	MessageNotConfigured   = "Server not configured"
	MessageRateLimited     = "Rate limit exceeded, please try again later"
	MessagePaymentRequired = "Payment required, please add credits"
	MessageProvider        = "Provider error"
)

// PublicMessage returns the text that may be shown to end users for a
// provider call failure. Upstream status codes and bodies are never included.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return MessageNotConfigured
	case errors.Is(err, ErrRateLimited):
		return MessageRateLimited
	case errors.Is(err, ErrPaymentRequired):
		return MessagePaymentRequired
	default:
		return MessageProvider
	}
}

// ProviderError carries upstream details of a failed provider call.
// It always matches ErrProvider with errors.Is.
type ProviderError struct {
	Provider   string
	StatusCode int // zero when the provider was unreachable
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: provider call failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: provider returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}

// Status is the provider-neutral state of a generation.
type Status string

// Provider-neutral statuses.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = ""
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus maps the status vocabulary used by providers and their webhooks
// onto a provider-neutral Status. Unrecognized values map to StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "in_queue", "starting", "running", "in_progress", "processing":
		return StatusProcessing
	case "completed", "complete", "succeeded", "success", "done":
		return StatusCompleted
	case "failed", "error", "canceled", "cancelled", "timed_out":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Request contains the parameters for one generation.
type Request struct {
	Prompt          string // Prompt text describing the ad
	ImageURL        string // Optional reference image
	DurationSeconds int    // Video length; DefaultDurationSeconds when <= 0
	WebhookURL      string // Optional callback the provider calls on completion
}

// Validate checks the request and applies defaults.
func (r Request) Validate() (Request, error) {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return r, ErrPromptRequired
	}
	if r.DurationSeconds <= 0 {
		r.DurationSeconds = DefaultDurationSeconds
	}
	return r, nil
}

// Result is the normalized answer to a submit.
// Exactly one of VideoURL and ProviderJobID is set.
type Result struct {
	// VideoURL is set when the provider finished synchronously.
	VideoURL string
	// ProviderJobID is set when the provider deferred the work.
	ProviderJobID string
}

// Immediate returns true if the result carries a finished artifact.
func (r Result) Immediate() bool {
	return r.VideoURL != ""
}

// PollResult contains the state of a deferred generation.
type PollResult struct {
	Status   Status
	VideoURL string // Set when Status is StatusCompleted
	Error    string // Set when Status is StatusFailed
}

// Generator defines the interface for video generation providers.
type Generator interface {
	// Name identifies the provider, e.g. "replicate".
	Name() string

	// Submit issues exactly one generation request.
	Submit(ctx context.Context, req Request) (Result, error)

	// Poll checks the state of a deferred generation.
	Poll(ctx context.Context, providerJobID string) (PollResult, error)
}
