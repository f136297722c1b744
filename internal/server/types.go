// Package server provides the HTTP API for ad video generation.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/adreel-api/internal/job"
)

// GenerateVideoRequest is the HTTP request body for starting a generation.
type GenerateVideoRequest struct {
	// Prompt describes the desired ad.
	Prompt string `json:"prompt" validate:"required,max=4000"`
	// ImageURL optionally references a product image.
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
	// DurationSeconds is the requested length; 0 uses the default.
	DurationSeconds int `json:"durationSeconds" validate:"omitempty,min=1,max=60"`
}

// GenerateVideoResponse carries either a finished video or a job ID to poll.
type GenerateVideoResponse struct {
	VideoURL string `json:"videoUrl,omitempty"`
	CDNURL   string `json:"cdnUrl,omitempty"`
	JobID    string `json:"jobId,omitempty"`
}

// VideoStatusRequest is the optional body of POST /video-status.
type VideoStatusRequest struct {
	JobID string `json:"jobId"`
}

// JobResponse is the wire form of a job. Nullable fields are serialized as null.
type JobResponse struct {
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

// JobEnvelope is the response of the status endpoints.
type JobEnvelope struct {
	Job JobResponse `json:"job"`
}

// JobListResponse is the response of GET /jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// WebhookRequest is an inbound completion notification. Several field
// spellings are accepted so that different providers can post directly.
type WebhookRequest struct {
	ProviderJobID string `json:"provider_job_id"`
	JobID         string `json:"job_id"`
	ID            string `json:"id"`
	OurJobID      string `json:"our_job_id"`
	Status        string `json:"status"`
	VideoURL      string `json:"video_url"`
	ResultURL     string `json:"result_url"`
	Error         string `json:"error"`
}

// WebhookResponse acknowledges a processed webhook.
type WebhookResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:              j.ID,
		Prompt:          j.Prompt,
		ImageURL:        j.ImageURL,
		DurationSeconds: j.DurationSeconds,
		Provider:        j.Provider,
		ProviderJobID:   j.ProviderJobID,
		Status:          string(j.Status),
		ResultURL:       j.ResultURL,
		ErrorText:       j.ErrorText,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		CompletedAt:     j.CompletedAt,
	}
}
