package beam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Static errors for Beam client operations.
var (
	// ErrQueueURLRequired is returned when the queue URL is not provided.
	ErrQueueURLRequired = errors.New("beam: queue URL is required")
	// ErrTokenNotSet is returned when the BEAM_TOKEN is not provided.
	ErrTokenNotSet = errors.New("beam: token is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("beam: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("beam: submit failed: no task ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("beam: submit failed")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("beam: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("beam: rate limited")
	// ErrPaymentRequired is returned when the server returns a 402 status code.
	ErrPaymentRequired = errors.New("beam: payment required")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("beam: request failed")
)

// StatusError carries the upstream status code and body of a failed request.
type StatusError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v with status %d: %s", e.kind, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// Client defines the interface for interacting with the Beam Task Queue API.
type Client interface {
	// Submit sends a video task to Beam and returns the task ID.
	Submit(ctx context.Context, opts SubmitOptions) (taskID string, err error)

	// Poll checks the status of a task and returns the result.
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the Beam Client interface.
type HTTPClient struct {
	token       string
	queueURL    string
	apiBaseURL  string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the API token for authentication.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithAPIBaseURL sets the base URL used for task status lookups.
func WithAPIBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiBaseURL = strings.TrimRight(url, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Beam HTTP client.
// The token can be set via the WithToken option. If not provided,
// it is read from the environment variable BEAM_TOKEN.
// The queue URL must be provided.
func NewClient(queueURL string, opts ...ClientOption) (*HTTPClient, error) {
	if queueURL == "" {
		return nil, ErrQueueURLRequired
	}

	c := &HTTPClient{
		queueURL:    queueURL,
		apiBaseURL:  "https://api.beam.cloud/v2",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		c.token = os.Getenv("BEAM_TOKEN")
	}

	if c.token == "" {
		return nil, ErrTokenNotSet
	}

	return c, nil
}

// Submit sends a video task to Beam and returns the task ID.
// The request is sent once; Beam tasks are billed per submission.
func (c *HTTPClient) Submit(ctx context.Context, opts SubmitOptions) (string, error) {
	reqBody := taskRequest{
		Prompt:      opts.Prompt,
		ImageURL:    opts.ImageURL,
		Duration:    opts.DurationSeconds,
		CallbackURL: opts.CallbackURL,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("beam: marshal request: %w", err)
	}

	var resp taskResponse
	if err := c.doRequest(ctx, http.MethodPost, c.queueURL, bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.TaskID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", ErrNoTaskIDReturned
	}

	return resp.TaskID, nil
}

// Poll fetches the task state. Transient failures are retried with
// exponential backoff; a completed task without a usable output is reported
// as failed.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	url := fmt.Sprintf("%s/task/%s/", c.apiBaseURL, taskID)

	var resp statusResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, &resp); err != nil {
		return PollResult{}, err
	}

	result := PollResult{Status: ParseStatus(resp.Status)}
	switch result.Status {
	case StatusCompleted:
		result.OutputURL = videoURL(resp.Outputs)
		if result.OutputURL == "" {
			result.Status = StatusFailed
			result.Error = "no output URL available"
		}
	case StatusFailed, StatusCanceled:
		result.Error = resp.Error
	}

	return result, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, result any) error {
	b := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.baseBackoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.doRequest(ctx, method, url, nil, result)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && isRetryable(err) {
		return fmt.Errorf("beam: max retries exceeded: %w", err)
	}
	return err
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("beam: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("beam: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("beam: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("beam: unmarshal response: %w", err)
		}
	}

	return nil
}

// classify turns a non-2xx reply into a StatusError. Only 5xx replies are retryable.
func classify(code int, body []byte) error {
	statusErr := &StatusError{StatusCode: code, Body: string(body)}
	switch {
	case code >= 500:
		statusErr.kind = ErrServerError
		return &retryableError{err: statusErr}
	case code == http.StatusTooManyRequests:
		statusErr.kind = ErrRateLimited
	case code == http.StatusPaymentRequired:
		statusErr.kind = ErrPaymentRequired
	default:
		statusErr.kind = ErrRequestFailed
	}
	return statusErr
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
