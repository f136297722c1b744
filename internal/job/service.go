package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/adreel-api/internal/events"
	"github.com/maauso/adreel-api/internal/generator"
	"github.com/maauso/adreel-api/internal/metrics"
)

// ErrValidation is returned when caller input is rejected before any state changes.
var ErrValidation = errors.New("validation failed")

// MaxListLimit caps List results.
const MaxListLimit = 100

// WebhookPath is the route providers call back on completion.
const WebhookPath = "/video-webhook"

// ArtifactMirror copies a finished artifact into storage the service owns.
// It returns the owned URL and, when a CDN is configured, the CDN URL.
type ArtifactMirror interface {
	Mirror(ctx context.Context, srcURL string) (ownedURL, cdnURL string, err error)
}

// CreateInput contains the parameters of a generation request.
type CreateInput struct {
	Prompt          string
	ImageURL        string
	DurationSeconds int
}

// CreateOutput is the result of Create.
type CreateOutput struct {
	// Job is the persisted job, completed for immediate results or processing otherwise.
	Job *Job
	// CDNURL is set when the artifact was mirrored and a CDN is configured.
	CDNURL string
}

// ReconcileInput is a completion signal coming from a webhook or a provider poll.
type ReconcileInput struct {
	// JobID is our job id. Takes precedence over ProviderJobID.
	JobID string
	// ProviderJobID is the provider's reference.
	ProviderJobID string
	// Status uses any vocabulary understood by generator.ParseStatus.
	Status    string
	ResultURL string
	Error     string
	// Source labels the reconcile metric; defaults to metrics.SourceWebhook.
	Source string
}

// Service orchestrates job creation, provider calls and reconciliation.
type Service struct {
	repo           Repository
	gen            generator.Generator
	mirror         ArtifactMirror
	publisher      events.Publisher
	logger         *slog.Logger
	webhookBaseURL string
	webhookSecret  string
	sweepPageSize  int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMirror enables artifact mirroring into owned storage.
func WithMirror(m ArtifactMirror) ServiceOption {
	return func(s *Service) {
		s.mirror = m
	}
}

// WithPublisher sets the publisher for terminal job events.
func WithPublisher(p events.Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithWebhookBaseURL registers a completion webhook with the provider.
// The provider is asked to call {base}/video-webhook?our_job_id=<id>.
func WithWebhookBaseURL(base string) ServiceOption {
	return func(s *Service) {
		s.webhookBaseURL = strings.TrimRight(base, "/")
	}
}

// WithWebhookSecret adds secret to the registered webhook URL so that
// callbacks pass a secret-protected webhook endpoint.
func WithWebhookSecret(secret string) ServiceOption {
	return func(s *Service) {
		s.webhookSecret = secret
	}
}

// NewService creates a new Service.
func NewService(repo Repository, gen generator.Generator, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		gen:       gen,
		publisher: events.NopPublisher{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a pending job and submits it to the provider.
// An immediate result completes the job in one step; a deferred one moves it
// to processing with the provider reference. When the provider call fails the
// job is marked failed and the provider error is returned.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateOutput, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return CreateOutput{}, fmt.Errorf("%w: %w", ErrValidation, generator.ErrPromptRequired)
	}
	if in.ImageURL != "" && !isHTTPURL(in.ImageURL) {
		return CreateOutput{}, fmt.Errorf("%w: imageUrl must be an http(s) URL", ErrValidation)
	}

	job := New(prompt, in.ImageURL, in.DurationSeconds, s.gen.Name())
	if err := s.repo.Create(ctx, job); err != nil {
		return CreateOutput{}, fmt.Errorf("create job: %w", err)
	}
	metrics.JobsCreatedTotal.Inc()

	log := s.logger.With(slog.String("job_id", job.ID), slog.String("provider", job.Provider))
	log.Info("job created", slog.Int("duration_seconds", job.DurationSeconds))

	start := time.Now()
	res, err := s.gen.Submit(ctx, generator.Request{
		Prompt:          job.Prompt,
		ImageURL:        job.ImageURL,
		DurationSeconds: job.DurationSeconds,
		WebhookURL:      s.webhookURL(job.ID),
	})
	metrics.ProviderSubmitDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues(errorKind(err)).Inc()
		log.Error("provider submit failed", slog.String("error", err.Error()))

		// The raw error may carry the upstream body; it stays in the log.
		failed, applyErr := s.apply(ctx, job.ID, Update{Status: StatusFailed, ErrorText: generator.PublicMessage(err)})
		if applyErr != nil {
			log.Error("failed to mark job failed", slog.String("error", applyErr.Error()))
		}
		return CreateOutput{Job: failed}, err
	}

	if res.Immediate() {
		resultURL, cdnURL := s.mirrorArtifact(ctx, log, res.VideoURL)
		done, err := s.apply(ctx, job.ID, Update{Status: StatusCompleted, ResultURL: resultURL})
		if err != nil {
			return CreateOutput{}, err
		}
		log.Info("job completed synchronously", slog.String("result_url", resultURL))
		return CreateOutput{Job: done, CDNURL: cdnURL}, nil
	}

	processing, err := s.apply(ctx, job.ID, Update{Status: StatusProcessing, ProviderJobID: res.ProviderJobID})
	if err != nil {
		return CreateOutput{}, err
	}
	log.Info("job deferred by provider", slog.String("provider_job_id", res.ProviderJobID))
	return CreateOutput{Job: processing}, nil
}

// Reconcile applies a completion signal to the matching job. Signals for jobs
// already in a terminal state are ignored and the current job is returned.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (*Job, error) {
	source := in.Source
	if source == "" {
		source = metrics.SourceWebhook
	}
	job, applied, err := s.reconcile(ctx, in)
	outcome := "applied"
	switch {
	case errors.Is(err, ErrJobNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	case !applied:
		outcome = "noop"
	}
	metrics.ReconcileTotal.WithLabelValues(source, outcome).Inc()
	return job, err
}

func (s *Service) reconcile(ctx context.Context, in ReconcileInput) (*Job, bool, error) {
	if in.JobID == "" && in.ProviderJobID == "" {
		return nil, false, fmt.Errorf("%w: job id or provider job id is required", ErrValidation)
	}

	var target Status
	switch generator.ParseStatus(in.Status) {
	case generator.StatusProcessing:
		target = StatusProcessing
	case generator.StatusCompleted:
		target = StatusCompleted
	case generator.StatusFailed:
		target = StatusFailed
	default:
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}
	if target == StatusCompleted && strings.TrimSpace(in.ResultURL) == "" {
		return nil, false, fmt.Errorf("%w: completed status requires a video URL", ErrValidation)
	}

	job, err := s.lookup(ctx, in.JobID, in.ProviderJobID)
	if err != nil {
		return nil, false, err
	}

	log := s.logger.With(slog.String("job_id", job.ID), slog.String("status", string(target)))

	if job.IsTerminal() {
		log.Debug("ignoring signal for terminal job", slog.String("current", string(job.Status)))
		return job, false, nil
	}
	if target == StatusProcessing && job.Status == StatusProcessing && job.ProviderJobID != nil {
		return job, false, nil
	}

	u := Update{Status: target, ProviderJobID: in.ProviderJobID, ErrorText: in.Error}
	if target == StatusCompleted {
		u.ResultURL, _ = s.mirrorArtifact(ctx, log, in.ResultURL)
	}

	updated, err := s.apply(ctx, job.ID, u)
	if err != nil {
		return nil, false, err
	}
	if updated.Status != target {
		log.Debug("lost race against another terminal update", slog.String("current", string(updated.Status)))
		return updated, false, nil
	}
	log.Info("job reconciled")
	return updated, true, nil
}

// lookup resolves a job by our id first, then by the provider reference.
func (s *Service) lookup(ctx context.Context, jobID, providerJobID string) (*Job, error) {
	if jobID != "" {
		job, err := s.repo.FindByID(ctx, jobID)
		if err == nil || !errors.Is(err, ErrJobNotFound) || providerJobID == "" {
			return job, err
		}
	}
	return s.repo.FindByProviderJobID(ctx, providerJobID)
}

// apply runs the conditional update and emits metrics and events for terminal
// transitions. Losing the race against another terminal update is not an error;
// the winner's job is returned.
func (s *Service) apply(ctx context.Context, id string, u Update) (*Job, error) {
	job, err := s.repo.Apply(ctx, id, u)
	if errors.Is(err, ErrAlreadyTerminal) {
		return job, nil
	}
	if errors.Is(err, ErrResultURLRequired) || errors.Is(err, ErrInvalidTransition) {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if job.IsTerminal() {
		s.finished(ctx, job)
	}
	return job, nil
}

func (s *Service) finished(ctx context.Context, job *Job) {
	e := events.Event{
		JobID:      job.ID,
		Provider:   job.Provider,
		Prompt:     job.Prompt,
		ResultURL:  Deref(job.ResultURL),
		Error:      Deref(job.ErrorText),
		OccurredAt: time.Now().UTC(),
	}
	if job.Status == StatusCompleted {
		metrics.JobsCompletedTotal.Inc()
		e.Type = events.TypeJobCompleted
	} else {
		metrics.JobsFailedTotal.Inc()
		e.Type = events.TypeJobFailed
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// mirrorArtifact copies src into owned storage. On failure the provider URL is kept.
func (s *Service) mirrorArtifact(ctx context.Context, log *slog.Logger, src string) (string, string) {
	if s.mirror == nil {
		return src, ""
	}
	owned, cdn, err := s.mirror.Mirror(ctx, src)
	if err != nil {
		log.Warn("artifact mirroring failed, keeping provider URL", slog.String("error", err.Error()))
		return src, ""
	}
	return owned, cdn
}

// GetStatus returns the current job. It never changes state.
func (s *Service) GetStatus(ctx context.Context, id string) (*Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrValidation)
	}
	return s.repo.FindByID(ctx, id)
}

// List returns the most recent jobs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	return s.repo.List(ctx, ListOptions{Limit: limit})
}

// SweepProcessing polls the provider for every processing job and reconciles
// the ones that reached a terminal state. Jobs are visited oldest first in
// pages of sweepPageSize. Per-job failures are logged and skipped.
// It returns the number of jobs that were finalized.
func (s *Service) SweepProcessing(ctx context.Context) (int, error) {
	pageSize := s.sweepPageSize
	if pageSize <= 0 {
		pageSize = MaxListLimit
	}

	finalized := 0
	var after *Cursor
	for {
		jobs, err := s.repo.List(ctx, ListOptions{
			Status:      StatusProcessing,
			Limit:       pageSize,
			OldestFirst: true,
			After:       after,
		})
		if err != nil {
			return finalized, fmt.Errorf("list processing jobs: %w", err)
		}

		for _, job := range jobs {
			if ctx.Err() != nil {
				return finalized, ctx.Err()
			}
			if s.sweepJob(ctx, job) {
				finalized++
			}
		}

		if len(jobs) < pageSize {
			return finalized, nil
		}
		after = CursorOf(jobs[len(jobs)-1])
	}
}

// sweepJob polls one processing job and reports whether it was finalized.
func (s *Service) sweepJob(ctx context.Context, job *Job) bool {
	if job.ProviderJobID == nil {
		return false
	}

	res, err := s.gen.Poll(ctx, *job.ProviderJobID)
	if err != nil {
		s.logger.Warn("sweep poll failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !res.Status.IsTerminal() {
		return false
	}

	updated, err := s.Reconcile(ctx, ReconcileInput{
		JobID:     job.ID,
		Status:    string(res.Status),
		ResultURL: res.VideoURL,
		Error:     res.Error,
		Source:    metrics.SourceSweep,
	})
	if err != nil {
		s.logger.Warn("sweep reconcile failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return updated.IsTerminal()
}

// RunSweeper calls SweepProcessing every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepProcessing(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Info("sweep finalized jobs", slog.Int("count", n))
			}
		}
	}
}

func (s *Service) webhookURL(jobID string) string {
	if s.webhookBaseURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("our_job_id", jobID)
	if s.webhookSecret != "" {
		q.Set("secret", s.webhookSecret)
	}
	return s.webhookBaseURL + WebhookPath + "?" + q.Encode()
}

// errorKind returns the ProviderErrorsTotal label for err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, generator.ErrNotConfigured):
		return metrics.KindNotConfigured
	case errors.Is(err, generator.ErrRateLimited):
		return metrics.KindRateLimited
	case errors.Is(err, generator.ErrPaymentRequired):
		return metrics.KindPaymentRequired
	default:
		return metrics.KindProvider
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
