package replicate

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

// Static errors for Replicate client operations.
var (
	// ErrModelRequired is returned when the model reference is not provided.
	ErrModelRequired = errors.New("replicate: model is required")
	// ErrTokenNotSet is returned when no API token is available.
	ErrTokenNotSet = errors.New("replicate: REPLICATE_API_TOKEN is not set")
	// ErrPredictionIDRequired is returned when the prediction ID is not provided.
	ErrPredictionIDRequired = errors.New("replicate: prediction ID is required")
	// ErrNoPredictionReturned is returned when a response has neither an output URL nor an ID.
	ErrNoPredictionReturned = errors.New("replicate: response has no output URL and no prediction ID")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("replicate: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("replicate: rate limited")
	// ErrPaymentRequired is returned when the server returns a 402 status code.
	ErrPaymentRequired = errors.New("replicate: payment required")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("replicate: request failed")
	// ErrInvalidResponse is returned when the response body cannot be decoded.
	ErrInvalidResponse = errors.New("replicate: invalid response")
)

// APIError carries the upstream status code and body of a failed request.
type APIError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v (status %d): %s", e.kind, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// Client defines the interface for interacting with the Replicate API.
type Client interface {
	// CreatePrediction starts a prediction. The result carries an OutputURL when
	// the model finished within the wait window, otherwise only an ID.
	CreatePrediction(ctx context.Context, in PredictionInput) (Prediction, error)

	// GetPrediction fetches the current state of a prediction.
	GetPrediction(ctx context.Context, id string) (Prediction, error)
}

// HTTPClient is the HTTP implementation of the Replicate Client interface.
type HTTPClient struct {
	token       string
	model       string
	baseURL     string
	waitSeconds int
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

// WithBaseURL sets a custom base URL for the Replicate API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(url, "/")
	}
}

// WithWait asks Replicate to hold the create request open for up to n seconds
// so short generations come back with their output directly. Zero disables it.
func WithWait(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.waitSeconds = n
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

// NewClient creates a new Replicate HTTP client for model.
// The model is either "owner/name" (official model endpoint) or
// "owner/name:version" (versioned prediction endpoint).
// The token can be set via WithToken; otherwise REPLICATE_API_TOKEN is used.
func NewClient(model string, opts ...ClientOption) (*HTTPClient, error) {
	if model == "" {
		return nil, ErrModelRequired
	}

	c := &HTTPClient{
		model:       model,
		baseURL:     "https://api.replicate.com/v1",
		waitSeconds: 60,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		c.token = os.Getenv("REPLICATE_API_TOKEN")
	}

	if c.token == "" {
		return nil, ErrTokenNotSet
	}

	return c, nil
}

// CreatePrediction sends one create request. It is never retried so that a
// transient failure cannot start two paid generations.
func (c *HTTPClient) CreatePrediction(ctx context.Context, in PredictionInput) (Prediction, error) {
	reqBody := createRequest{
		Input: createInput{
			Prompt:   in.Prompt,
			Duration: in.DurationSeconds,
		},
	}
	if in.ImageURL != "" {
		reqBody.Input.Image = &in.ImageURL
	}
	if in.WebhookURL != "" {
		reqBody.Webhook = in.WebhookURL
		reqBody.WebhookEventsFilter = []string{"completed"}
	}

	url := c.baseURL + "/predictions"
	if _, version, ok := strings.Cut(c.model, ":"); ok {
		reqBody.Version = version
	} else {
		url = fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Prediction{}, fmt.Errorf("replicate: marshal request: %w", err)
	}

	headers := map[string]string{}
	if c.waitSeconds > 0 {
		headers["Prefer"] = fmt.Sprintf("wait=%d", c.waitSeconds)
	}

	var resp predictionResponse
	if err := c.doRequest(ctx, http.MethodPost, url, bodyBytes, headers, &resp); err != nil {
		return Prediction{}, err
	}

	p := resp.normalize()
	if p.OutputURL == "" && p.ID == "" {
		return Prediction{}, ErrNoPredictionReturned
	}
	return p, nil
}

// GetPrediction fetches a prediction, retrying transient failures.
func (c *HTTPClient) GetPrediction(ctx context.Context, id string) (Prediction, error) {
	if id == "" {
		return Prediction{}, ErrPredictionIDRequired
	}

	url := fmt.Sprintf("%s/predictions/%s", c.baseURL, id)

	var resp predictionResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, &resp); err != nil {
		return Prediction{}, err
	}

	p := resp.normalize()
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, result any) error {
	b := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.baseBackoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.doRequest(ctx, method, url, nil, nil, result)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && isRetryable(err) {
		return fmt.Errorf("replicate: max retries exceeded: %w", err)
	}
	return err
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, headers map[string]string, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("replicate: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("replicate: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("replicate: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		switch {
		case resp.StatusCode >= 500:
			apiErr.kind = ErrServerError
			return &retryableError{err: apiErr}
		case resp.StatusCode == http.StatusTooManyRequests:
			apiErr.kind = ErrRateLimited
		case resp.StatusCode == http.StatusPaymentRequired:
			apiErr.kind = ErrPaymentRequired
		default:
			apiErr.kind = ErrRequestFailed
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	return nil
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
