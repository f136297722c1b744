package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/adreel-api/internal/beam"
)

// ProviderBeam is the name reported by BeamAdapter.
const ProviderBeam = "beam"

// BeamAdapter adapts the Beam client to the Generator interface.
// Beam always queues work, so Submit only ever returns a handle.
type BeamAdapter struct {
	client beam.Client
}

// NewBeamAdapter creates a new Beam generator adapter.
func NewBeamAdapter(client beam.Client) *BeamAdapter {
	return &BeamAdapter{client: client}
}

// Name implements Generator.
func (a *BeamAdapter) Name() string {
	return ProviderBeam
}

// Submit sends a video task to Beam.
func (a *BeamAdapter) Submit(ctx context.Context, req Request) (Result, error) {
	req, err := req.Validate()
	if err != nil {
		return Result{}, err
	}

	taskID, err := a.client.Submit(ctx, beam.SubmitOptions{
		Prompt:          req.Prompt,
		ImageURL:        req.ImageURL,
		DurationSeconds: req.DurationSeconds,
		CallbackURL:     req.WebhookURL,
	})
	if err != nil {
		return Result{}, a.mapError(err)
	}
	return Result{ProviderJobID: taskID}, nil
}

// Poll checks the status of a Beam task.
func (a *BeamAdapter) Poll(ctx context.Context, taskID string) (PollResult, error) {
	result, err := a.client.Poll(ctx, taskID)
	if err != nil {
		return PollResult{}, a.mapError(err)
	}

	switch result.Status {
	case beam.StatusCompleted:
		return PollResult{Status: StatusCompleted, VideoURL: result.OutputURL}, nil
	case beam.StatusFailed, beam.StatusCanceled:
		msg := result.Error
		if msg == "" {
			msg = "task " + string(result.Status)
		}
		return PollResult{Status: StatusFailed, Error: msg}, nil
	default:
		return PollResult{Status: StatusProcessing}, nil
	}
}

// mapError translates client errors into the generator taxonomy.
func (a *BeamAdapter) mapError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, beam.ErrRateLimited):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case errors.Is(err, beam.ErrPaymentRequired):
		return fmt.Errorf("%w: %w", ErrPaymentRequired, err)
	}

	pe := &ProviderError{Provider: ProviderBeam, Err: err}
	var statusErr *beam.StatusError
	if errors.As(err, &statusErr) {
		pe.StatusCode = statusErr.StatusCode
		pe.Body = statusErr.Body
	}
	return pe
}

// Compile-time check that BeamAdapter implements Generator.
var _ Generator = (*BeamAdapter)(nil)
