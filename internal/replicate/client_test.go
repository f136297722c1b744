package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, opts ...ClientOption) *HTTPClient {
	t.Helper()
	base := []ClientOption{
		WithToken("test-token"),
		WithBaseURL(url),
		WithBaseBackoff(time.Millisecond),
	}
	client, err := NewClient("google/veo-3-fast", append(base, opts...)...)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrModelRequired)
}

func TestNewClient_TokenFromEnv(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "env-token")

	client, err := NewClient("google/veo-3-fast")
	require.NoError(t, err)
	assert.Equal(t, "env-token", client.token)
}

func TestNewClient_RequiresToken(t *testing.T) {
	os.Unsetenv("REPLICATE_API_TOKEN")
	_, err := NewClient("google/veo-3-fast")
	assert.ErrorIs(t, err, ErrTokenNotSet)
}

func TestHTTPClient_CreatePrediction_ModelEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/google/veo-3-fast/predictions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "wait=60", r.Header.Get("Prefer"))

		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Version)
		assert.Equal(t, "neon sneaker ad", req.Input.Prompt)
		assert.Equal(t, 6, req.Input.Duration)
		require.NotNil(t, req.Input.Image)
		assert.Equal(t, "https://img.example.com/shoe.png", *req.Input.Image)
		assert.Equal(t, "https://api.example.com/video-webhook?our_job_id=j1", req.Webhook)
		assert.Equal(t, []string{"completed"}, req.WebhookEventsFilter)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"succeeded","output":"https://cdn.example.com/out.mp4"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	p, err := client.CreatePrediction(context.Background(), PredictionInput{
		Prompt:          "neon sneaker ad",
		ImageURL:        "https://img.example.com/shoe.png",
		DurationSeconds: 6,
		WebhookURL:      "https://api.example.com/video-webhook?our_job_id=j1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", p.ID)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, "https://cdn.example.com/out.mp4", p.OutputURL)
}

func TestHTTPClient_CreatePrediction_VersionEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predictions", r.URL.Path)

		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.Version)
		assert.Nil(t, req.Input.Image)

		_, _ = w.Write([]byte(`{"id":"pred-2","status":"starting","output":null}`))
	}))
	defer server.Close()

	client, err := NewClient("owner/model:abc123",
		WithToken("test-token"),
		WithBaseURL(server.URL),
		WithWait(0),
	)
	require.NoError(t, err)

	p, err := client.CreatePrediction(context.Background(), PredictionInput{Prompt: "p", DurationSeconds: 6})
	require.NoError(t, err)
	assert.Equal(t, "pred-2", p.ID)
	assert.Equal(t, StatusStarting, p.Status)
	assert.Empty(t, p.OutputURL)
}

func TestHTTPClient_CreatePrediction_OutputShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantURL string
		wantID  string
	}{
		{"output string", `{"id":"a","output":"https://x/a.mp4"}`, "https://x/a.mp4", "a"},
		{"output list", `{"id":"b","output":["https://x/b.mp4","https://x/b2.mp4"]}`, "https://x/b.mp4", "b"},
		{"output object", `{"id":"c","output":{"url":"https://x/c.mp4"}}`, "https://x/c.mp4", "c"},
		{"result field", `{"id":"d","result":"https://x/d.mp4"}`, "https://x/d.mp4", "d"},
		{"output_url field", `{"id":"e","output_url":"https://x/e.mp4"}`, "https://x/e.mp4", "e"},
		{"non-http output ignored", `{"id":"f","output":"data:video/mp4;base64,AAAA"}`, "", "f"},
		{"prediction_id alias", `{"prediction_id":"g","status":"processing"}`, "", "g"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := newTestClient(t, server.URL).CreatePrediction(context.Background(), PredictionInput{Prompt: "p"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, p.OutputURL)
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestHTTPClient_CreatePrediction_NoIDNoURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"starting"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).CreatePrediction(context.Background(), PredictionInput{Prompt: "p"})
	assert.ErrorIs(t, err, ErrNoPredictionReturned)
}

func TestHTTPClient_CreatePrediction_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"payment required", http.StatusPaymentRequired, ErrPaymentRequired},
		{"bad request", http.StatusBadRequest, ErrRequestFailed},
		{"server error", http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"detail":"upstream says no"}`))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).CreatePrediction(context.Background(), PredictionInput{Prompt: "p"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.code, apiErr.StatusCode)
			assert.Contains(t, apiErr.Body, "upstream says no")

			// Create is never retried.
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestHTTPClient_CreatePrediction_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).CreatePrediction(context.Background(), PredictionInput{Prompt: "p"})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestHTTPClient_GetPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/predictions/pred-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pred-9","status":"failed","error":"NSFW content detected"}`))
	}))
	defer server.Close()

	p, err := newTestClient(t, server.URL).GetPrediction(context.Background(), "pred-9")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "NSFW content detected", p.Error)
	assert.True(t, p.Status.IsTerminal())
}

func TestHTTPClient_GetPrediction_RequiresID(t *testing.T) {
	_, err := newTestClient(t, "http://unused").GetPrediction(context.Background(), "")
	assert.ErrorIs(t, err, ErrPredictionIDRequired)
}

func TestHTTPClient_GetPrediction_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"succeeded","output":["https://x/v.mp4"]}`))
	}))
	defer server.Close()

	p, err := newTestClient(t, server.URL).GetPrediction(context.Background(), "pred-1")
	require.NoError(t, err)
	assert.Equal(t, "https://x/v.mp4", p.OutputURL)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClient_GetPrediction_MaxRetriesExceeded(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, WithMaxRetries(2)).GetPrediction(context.Background(), "pred-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClient_GetPrediction_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, server.URL).GetPrediction(ctx, "pred-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusStarting.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
}

func TestDecodePrediction(t *testing.T) {
	p, err := DecodePrediction([]byte(`{"id":"p-1","status":"succeeded","output":["https://cdn.example/v.mp4"],"error":null}`))
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, "https://cdn.example/v.mp4", p.OutputURL)
	assert.Empty(t, p.Error)

	_, err = DecodePrediction([]byte(`not json`))
	assert.Error(t, err)
}
