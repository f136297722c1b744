// Package client is a typed HTTP client for the adreel API together with the
// Poller that waits for a deferred job to reach a terminal state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Static errors for client operations.
var (
	// ErrBaseURLRequired is returned when the API base URL is not provided.
	ErrBaseURLRequired = errors.New("client: base URL is required")
	// ErrJobIDRequired is returned when a status query has no job ID.
	ErrJobIDRequired = errors.New("client: job ID is required")
	// ErrUnexpectedResponse is returned when the server answers with an unknown shape.
	ErrUnexpectedResponse = errors.New("client: unexpected response")
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// isPermanent reports whether err is an API answer that repeating the same
// request cannot change: any 4xx except 408 and 429.
func isPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// Job mirrors the job resource returned by the status endpoint.
type Job struct {
	ID              string     `json:"id"`
	Prompt          string     `json:"prompt"`
	ImageURL        string     `json:"image_url"`
	DurationSeconds int        `json:"duration_seconds"`
	Provider        string     `json:"provider"`
	ProviderJobID   *string    `json:"provider_job_id"`
	Status          string     `json:"status"`
	ResultURL       *string    `json:"result_url"`
	ErrorText       *string    `json:"error_text"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// IsTerminal returns true if the job is completed or failed.
func (j Job) IsTerminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// GenerateRequest is the body of POST /generate-video.
type GenerateRequest struct {
	Prompt          string `json:"prompt"`
	ImageURL        string `json:"imageUrl,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

// GenerateResponse carries either a finished video or a job to poll.
type GenerateResponse struct {
	VideoURL string `json:"videoUrl,omitempty"`
	CDNURL   string `json:"cdnUrl,omitempty"`
	JobID    string `json:"jobId,omitempty"`
}

// Immediate returns true if the video was produced synchronously.
func (r GenerateResponse) Immediate() bool {
	return r.VideoURL != ""
}

// Client talks to the adreel API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate submits a generation request.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("client: marshal request: %w", err)
	}

	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/generate-video", body, &resp); err != nil {
		return GenerateResponse{}, err
	}
	if resp.VideoURL == "" && resp.JobID == "" {
		return GenerateResponse{}, fmt.Errorf("%w: neither videoUrl nor jobId", ErrUnexpectedResponse)
	}
	return resp, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (Job, error) {
	if jobID == "" {
		return Job{}, ErrJobIDRequired
	}

	var resp struct {
		Job *Job `json:"job"`
	}
	if err := c.do(ctx, http.MethodGet, "/video-status?jobId="+url.QueryEscape(jobID), nil, &resp); err != nil {
		return Job{}, err
	}
	if resp.Job == nil {
		return Job{}, fmt.Errorf("%w: missing job", ErrUnexpectedResponse)
	}
	return *resp.Job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(respBody, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Code: e.Code}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}
