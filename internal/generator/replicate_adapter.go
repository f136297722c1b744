package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/adreel-api/internal/replicate"
)

// ProviderReplicate is the name reported by ReplicateAdapter.
const ProviderReplicate = "replicate"

// ReplicateAdapter adapts the Replicate client to the Generator interface.
type ReplicateAdapter struct {
	client replicate.Client
}

// NewReplicateAdapter creates a new Replicate generator adapter.
func NewReplicateAdapter(client replicate.Client) *ReplicateAdapter {
	return &ReplicateAdapter{client: client}
}

// Name implements Generator.
func (a *ReplicateAdapter) Name() string {
	return ProviderReplicate
}

// Submit creates a prediction. A prediction that already succeeded within the
// wait window becomes an immediate result; anything else becomes a handle.
func (a *ReplicateAdapter) Submit(ctx context.Context, req Request) (Result, error) {
	req, err := req.Validate()
	if err != nil {
		return Result{}, err
	}

	p, err := a.client.CreatePrediction(ctx, replicate.PredictionInput{
		Prompt:          req.Prompt,
		ImageURL:        req.ImageURL,
		DurationSeconds: req.DurationSeconds,
		WebhookURL:      req.WebhookURL,
	})
	if err != nil {
		return Result{}, a.mapError(err)
	}

	if p.Status == replicate.StatusFailed || p.Status == replicate.StatusCanceled {
		return Result{}, &ProviderError{
			Provider: ProviderReplicate,
			Err:      fmt.Errorf("prediction %s %s: %s", p.ID, p.Status, p.Error),
		}
	}
	if p.OutputURL != "" {
		return Result{VideoURL: p.OutputURL}, nil
	}
	return Result{ProviderJobID: p.ID}, nil
}

// Poll fetches a prediction and maps its status.
func (a *ReplicateAdapter) Poll(ctx context.Context, providerJobID string) (PollResult, error) {
	p, err := a.client.GetPrediction(ctx, providerJobID)
	if err != nil {
		return PollResult{}, a.mapError(err)
	}

	switch p.Status {
	case replicate.StatusSucceeded:
		if p.OutputURL == "" {
			return PollResult{Status: StatusFailed, Error: "prediction succeeded without an output URL"}, nil
		}
		return PollResult{Status: StatusCompleted, VideoURL: p.OutputURL}, nil
	case replicate.StatusFailed, replicate.StatusCanceled:
		msg := p.Error
		if msg == "" {
			msg = "prediction " + string(p.Status)
		}
		return PollResult{Status: StatusFailed, Error: msg}, nil
	default:
		return PollResult{Status: StatusProcessing}, nil
	}
}

// mapError translates client errors into the generator taxonomy.
func (a *ReplicateAdapter) mapError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, replicate.ErrRateLimited):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case errors.Is(err, replicate.ErrPaymentRequired):
		return fmt.Errorf("%w: %w", ErrPaymentRequired, err)
	}

	pe := &ProviderError{Provider: ProviderReplicate, Err: err}
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
		pe.Body = apiErr.Body
	}
	return pe
}

// Compile-time check that ReplicateAdapter implements Generator.
var _ Generator = (*ReplicateAdapter)(nil)
