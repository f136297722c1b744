// Package job provides the Job aggregate for tracking ad video generation requests.
// It includes the Job entity with its state machine, the repository port used to
// persist it, and the Service that orchestrates provider calls and reconciliation.
package job

import (
	"errors"
	"time"

	"github.com/maauso/adreel-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job was recorded but the provider has not answered yet.
	StatusPending Status = "pending"
	// StatusProcessing indicates the provider accepted the job and is working on it.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the artifact is available at ResultURL.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job ended with an error.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid returns true if s is one of the known statuses.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// DefaultDurationSeconds is used when a request does not specify a duration.
const DefaultDurationSeconds = 6

var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyTerminal is returned when an update targets a completed or failed job.
	ErrAlreadyTerminal = errors.New("job already in terminal state")
	// ErrResultURLRequired is returned when a job is completed without a result URL.
	ErrResultURLRequired = errors.New("result URL is required to complete a job")
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a single video generation request from submission to terminal outcome.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// Prompt is the free-text description of the desired ad.
	Prompt string
	// ImageURL is the optional reference product image.
	ImageURL string
	// DurationSeconds is the requested video length.
	DurationSeconds int
	// Provider names the external generator that handled the request.
	Provider string
	// ProviderJobID is the provider's own job reference, set once on asynchronous acknowledgement.
	ProviderJobID *string
	// Status is the current job state.
	Status Status
	// ResultURL is the location of the finished artifact. Non-nil only when completed.
	ResultURL *string
	// ErrorText describes the failure. Non-nil only when failed.
	ErrorText *string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time
}

// New creates a pending Job with a generated ID.
func New(prompt, imageURL string, durationSeconds int, provider string) *Job {
	return NewWithID(id.Generate(), prompt, imageURL, durationSeconds, provider)
}

// NewWithID creates a pending Job with the specified ID.
// Useful for testing or when the ID is generated elsewhere.
func NewWithID(jobID, prompt, imageURL string, durationSeconds int, provider string) *Job {
	if durationSeconds <= 0 {
		durationSeconds = DefaultDurationSeconds
	}
	now := time.Now().UTC()
	return &Job{
		ID:              jobID,
		Prompt:          prompt,
		ImageURL:        imageURL,
		DurationSeconds: durationSeconds,
		Provider:        provider,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Update carries the fields of a state change coming from the provider,
// a webhook, or a poll.
type Update struct {
	Status        Status
	ProviderJobID string
	ResultURL     string
	ErrorText     string
}

// Normalize validates u and fills defaults. Pending is never a valid target.
func (u Update) Normalize() (Update, error) {
	switch u.Status {
	case StatusProcessing:
		u.ResultURL = ""
		u.ErrorText = ""
	case StatusCompleted:
		if u.ResultURL == "" {
			return u, ErrResultURLRequired
		}
		u.ErrorText = ""
	case StatusFailed:
		if u.ErrorText == "" {
			u.ErrorText = "generation failed"
		}
		u.ResultURL = ""
	default:
		return u, ErrInvalidTransition
	}
	return u, nil
}

// Apply mutates the job according to u.
// It returns ErrAlreadyTerminal for completed or failed jobs and leaves them untouched.
// An update to the current non-terminal status only records a missing ProviderJobID.
func (j *Job) Apply(u Update) error {
	u, err := u.Normalize()
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if u.Status != j.Status && !canTransition(j.Status, u.Status) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	if j.ProviderJobID == nil && u.ProviderJobID != "" {
		j.ProviderJobID = stringPtr(u.ProviderJobID)
	}
	j.Status = u.Status
	j.UpdatedAt = now

	switch u.Status {
	case StatusCompleted:
		j.ResultURL = stringPtr(u.ResultURL)
		j.ErrorText = nil
		j.CompletedAt = &now
	case StatusFailed:
		j.ErrorText = stringPtr(u.ErrorText)
		j.ResultURL = nil
		j.CompletedAt = &now
	}
	return nil
}

// IsTerminal returns true if the job is completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	c.ProviderJobID = clonePtr(j.ProviderJobID)
	c.ResultURL = clonePtr(j.ResultURL)
	c.ErrorText = clonePtr(j.ErrorText)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func stringPtr(s string) *string {
	return &s
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	return stringPtr(*p)
}

// Deref returns the value of p or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
