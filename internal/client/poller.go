package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Poller defaults.
const (
	DefaultInitialDelay = 1500 * time.Millisecond
	DefaultInterval     = 3 * time.Second
)

// ErrGaveUp is returned when MaxAttempts polls did not observe a terminal state.
var ErrGaveUp = errors.New("client: gave up waiting for job")

var errNotDone = errors.New("job not finished")

// StatusFetcher reads the current state of a job. *Client implements it.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (Job, error)
}

// Poller waits for a job to reach completed or failed. Polls never overlap:
// the next one is scheduled only after the previous returned.
type Poller struct {
	fetcher StatusFetcher
	logger  *slog.Logger

	// InitialDelay is waited before the first poll.
	InitialDelay time.Duration
	// Interval is the fixed delay between polls.
	Interval time.Duration
	// MaxAttempts caps the number of polls; zero polls until ctx is done.
	MaxAttempts int
	// OnUpdate, when set, observes every successfully fetched job.
	OnUpdate func(Job)
}

// NewPoller creates a Poller with the default schedule.
func NewPoller(fetcher StatusFetcher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:      fetcher,
		logger:       logger,
		InitialDelay: DefaultInitialDelay,
		Interval:     DefaultInterval,
	}
}

// Wait polls jobID until it is terminal and returns the final job. A failed job
// is returned without error; the caller inspects Status. Transport errors and
// retryable API answers (5xx, 408, 429) are logged and the loop continues; any
// other 4xx, such as an unknown job, stops it with that *APIError.
func (p *Poller) Wait(ctx context.Context, jobID string) (Job, error) {
	if jobID == "" {
		return Job{}, ErrJobIDRequired
	}

	if p.InitialDelay > 0 {
		timer := time.NewTimer(p.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Job{}, ctx.Err()
		case <-timer.C:
		}
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	b := retry.NewConstant(interval)
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	}

	var (
		final     Job
		permanent error
		attempt   int
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		job, err := p.fetcher.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isPermanent(err) {
				permanent = err
				return err
			}
			p.logger.Warn("status poll failed",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}

		if p.OnUpdate != nil {
			p.OnUpdate(job)
		}
		if !job.IsTerminal() {
			return retry.RetryableError(errNotDone)
		}
		final = job
		return nil
	})

	switch {
	case err == nil:
		return final, nil
	case permanent != nil:
		return Job{}, permanent
	case ctx.Err() != nil:
		return Job{}, ctx.Err()
	case p.MaxAttempts > 0:
		return Job{}, fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, attempt, err)
	default:
		return Job{}, err
	}
}
