// Package replicate provides an HTTP client for the Replicate predictions API.
package replicate

import (
	"encoding/json"
	"strings"
)

// Status represents the status of a Replicate prediction.
type Status string

// Prediction statuses as returned by the Replicate API.
const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// PredictionInput contains the parameters of a video prediction.
type PredictionInput struct {
	Prompt          string // Prompt text describing the ad
	ImageURL        string // Optional reference image
	DurationSeconds int    // Video length in seconds
	WebhookURL      string // Optional completion callback
}

// Prediction is the normalized view of a Replicate prediction.
type Prediction struct {
	ID        string
	Status    Status
	OutputURL string // Set when the artifact is already available
	Error     string
}

// createRequest is the request body for the create prediction endpoints.
type createRequest struct {
	Version             string      `json:"version,omitempty"`
	Input               createInput `json:"input"`
	Webhook             string      `json:"webhook,omitempty"`
	WebhookEventsFilter []string    `json:"webhook_events_filter,omitempty"`
}

type createInput struct {
	Prompt   string  `json:"prompt"`
	Image    *string `json:"image"`
	Duration int     `json:"duration"`
}

// predictionResponse covers the shapes Replicate and compatible gateways return.
type predictionResponse struct {
	ID           string          `json:"id"`
	PredictionID string          `json:"prediction_id"`
	Status       string          `json:"status"`
	Output       json.RawMessage `json:"output"`
	Result       json.RawMessage `json:"result"`
	OutputURL    string          `json:"output_url"`
	Error        json.RawMessage `json:"error"`
}

// normalize folds the raw response into a Prediction.
func (r predictionResponse) normalize() Prediction {
	p := Prediction{
		ID:     firstNonEmpty(r.ID, r.PredictionID),
		Status: Status(strings.ToLower(r.Status)),
		Error:  rawString(r.Error),
	}
	for _, candidate := range []string{firstURL(r.Output), firstURL(r.Result), r.OutputURL} {
		if isHTTPURL(candidate) {
			p.OutputURL = candidate
			break
		}
	}
	return p
}

// firstURL extracts a URL from an output that is either a string or a list of strings.
func firstURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

// rawString renders a JSON error field, which may be a string, an object, or null.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// DecodePrediction parses a prediction object such as the body of a
// Replicate webhook delivery.
func DecodePrediction(data []byte) (Prediction, error) {
	var resp predictionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Prediction{}, err
	}
	return resp.normalize(), nil
}
