package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/adreel-api/internal/generator"
	"github.com/maauso/adreel-api/internal/job"
	"github.com/maauso/adreel-api/internal/replicate"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// WebhookSecretHeader carries the shared webhook secret.
const WebhookSecretHeader = "X-Webhook-Secret"

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service       *job.Service
	validator     *validator.Validate
	logger        *slog.Logger
	webhookSecret string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithWebhookSecret requires inbound webhooks to present secret in the
// X-Webhook-Secret header or the "secret" query parameter.
func WithWebhookSecret(secret string) HandlerOption {
	return func(h *Handlers) {
		h.webhookSecret = secret
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GenerateVideo handles POST /generate-video requests.
// It answers 200 with the video for synchronous results and 202 with a job ID otherwise.
func (h *Handlers) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	var req GenerateVideoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	// The provider call is paid for; finish it even if the client goes away.
	out, err := h.service.Create(context.WithoutCancel(r.Context()), job.CreateInput{
		Prompt:          req.Prompt,
		ImageURL:        req.ImageURL,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if out.Job.Status == job.StatusCompleted {
		writeJSON(w, http.StatusOK, GenerateVideoResponse{
			VideoURL: job.Deref(out.Job.ResultURL),
			CDNURL:   out.CDNURL,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, GenerateVideoResponse{JobID: out.Job.ID})
}

// VideoStatus handles GET and POST /video-status requests. The job ID comes
// from the JSON body or the jobId query parameter.
func (h *Handlers) VideoStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var req VideoStatusRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
		if req.JobID != "" {
			jobID = req.JobID
		}
	}
	h.writeJob(w, r, jobID)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	h.writeJob(w, r, chi.URLParam(r, "id"))
}

func (h *Handlers) writeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if strings.TrimSpace(jobID) == "" {
		writeError(w, http.StatusBadRequest, "jobId is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetStatus(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobEnvelope{Job: toJobResponse(found)})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "VALIDATION_ERROR")
			return
		}
		limit = n
	}

	jobs, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// VideoWebhook handles POST /video-webhook requests from providers.
func (h *Handlers) VideoWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" && !h.validSecret(r) {
		h.logger.Warn("webhook rejected: bad secret", slog.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid webhook secret", "UNAUTHORIZED")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_JSON")
		return
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("failed to decode webhook body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	in := job.ReconcileInput{
		JobID:         firstNonEmpty(r.URL.Query().Get("our_job_id"), req.OurJobID),
		ProviderJobID: firstNonEmpty(req.ProviderJobID, req.JobID, req.ID),
		Status:        req.Status,
		ResultURL:     firstNonEmpty(req.VideoURL, req.ResultURL),
		Error:         req.Error,
	}
	if in.ResultURL == "" {
		// Replicate posts the prediction object itself.
		if p, err := replicate.DecodePrediction(body); err == nil {
			in.ResultURL = p.OutputURL
		}
	}

	h.logger.Info("webhook received",
		slog.String("job_id", in.JobID),
		slog.String("provider_job_id", in.ProviderJobID),
		slog.String("status", in.Status),
	)

	if _, err := h.service.Reconcile(r.Context(), in); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusBadRequest, "no matching job", "NO_MATCHING_JOB")
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{OK: true})
}

func (h *Handlers) validSecret(r *http.Request) bool {
	got := r.Header.Get(WebhookSecretHeader)
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) == 1
}

// writeServiceError maps service and provider errors to HTTP responses.
// Upstream details are logged, never returned.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err), "VALIDATION_ERROR")
		return
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}

	h.logger.Error("request failed", slog.String("error", err.Error()))

	switch {
	case errors.Is(err, generator.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, generator.MessageNotConfigured, "NOT_CONFIGURED")
	case errors.Is(err, generator.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, generator.MessageRateLimited, "RATE_LIMITED")
	case errors.Is(err, generator.ErrPaymentRequired):
		writeError(w, http.StatusPaymentRequired, generator.MessagePaymentRequired, "PAYMENT_REQUIRED")
	case errors.Is(err, generator.ErrProvider),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusBadGateway, generator.MessageProvider, "PROVIDER_ERROR")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), job.ErrValidation.Error()+": ")
	return strings.TrimPrefix(msg, "generator: ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
