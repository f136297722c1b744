// Package beam provides an HTTP client for the Beam.cloud Task Queue API,
// used here to run a self-hosted text/image-to-video model.
package beam

import "strings"

// Status is a Beam task state, normalized to the canonical spelling.
type Status string

// Canonical Beam task states.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// ParseStatus folds the spellings Beam has used over time ("COMPLETE",
// "ERROR", "CANCELLED", lower case) onto the canonical states. Unknown values
// are returned upper-cased and are not terminal.
func ParseStatus(s string) Status {
	switch up := strings.ToUpper(strings.TrimSpace(s)); up {
	case "COMPLETED", "COMPLETE":
		return StatusCompleted
	case "FAILED", "ERROR", "TIMEOUT":
		return StatusFailed
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	default:
		return Status(up)
	}
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// SubmitOptions contains the parameters of a video task.
type SubmitOptions struct {
	Prompt          string // Prompt text describing the ad
	ImageURL        string // Optional reference image
	DurationSeconds int    // Video length in seconds
	CallbackURL     string // Optional completion callback
}

// taskRequest represents the request body for Beam's task queue endpoint.
type taskRequest struct {
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"image_url,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// taskResponse represents the response from Beam's task submission endpoint.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from Beam's task status endpoint.
type statusResponse struct {
	TaskID  string       `json:"task_id"`
	Status  string       `json:"status"`
	Outputs []taskOutput `json:"outputs,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// taskOutput is one file produced by a task.
type taskOutput struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

var videoExtensions = []string{".mp4", ".webm", ".mov"}

// videoURL picks the first output that looks like a video, falling back to the
// first output with a URL.
func videoURL(outputs []taskOutput) string {
	fallback := ""
	for _, o := range outputs {
		if o.URL == "" {
			continue
		}
		name := strings.ToLower(o.Name)
		if name == "" {
			name = strings.ToLower(o.URL)
		}
		for _, ext := range videoExtensions {
			if strings.HasSuffix(name, ext) {
				return o.URL
			}
		}
		if fallback == "" {
			fallback = o.URL
		}
	}
	return fallback
}

// PollResult contains the result of polling a task's status.
type PollResult struct {
	Status    Status
	OutputURL string // URL of the generated video
	Error     string // Error message (only set when the task failed)
}
