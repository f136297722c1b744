package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/maauso/adreel-api/internal/job"
)

// DefaultTTL is how long a terminal job snapshot stays cached.
const DefaultTTL = 10 * time.Minute

// CachedRepository decorates a job.Repository with a read-through cache.
// Only terminal jobs are cached: they can never change again, so a cached
// snapshot is never stale. Cache failures degrade to the underlying store.
type CachedRepository struct {
	job.Repository
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRepository wraps repo. A ttl <= 0 uses DefaultTTL.
func NewCachedRepository(repo job.Repository, c Cache, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRepository{Repository: repo, cache: c, ttl: ttl, logger: logger}
}

// FindByID serves terminal jobs from the cache.
func (r *CachedRepository) FindByID(ctx context.Context, id string) (*job.Job, error) {
	data, ok, err := r.cache.Get(ctx, JobKey(id))
	if err != nil {
		r.logger.Warn("job cache read failed", slog.String("job_id", id), slog.String("error", err.Error()))
	}
	if ok {
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return snap.toJob(), nil
		}
		r.logger.Warn("discarding undecodable job cache entry", slog.String("job_id", id))
		if err := r.cache.Delete(ctx, JobKey(id)); err != nil {
			r.logger.Warn("job cache delete failed", slog.String("job_id", id), slog.String("error", err.Error()))
		}
	}

	j, err := r.Repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, j)
	return j, nil
}

// Apply delegates to the store and caches the job once it is terminal.
func (r *CachedRepository) Apply(ctx context.Context, id string, u job.Update) (*job.Job, error) {
	j, err := r.Repository.Apply(ctx, id, u)
	if j != nil {
		r.store(ctx, j)
	}
	return j, err
}

func (r *CachedRepository) store(ctx context.Context, j *job.Job) {
	if !j.IsTerminal() {
		return
	}
	data, err := json.Marshal(fromJob(j))
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, JobKey(j.ID), data, r.ttl); err != nil {
		r.logger.Warn("job cache write failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
}

type snapshot struct {
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

func fromJob(j *job.Job) snapshot {
	return snapshot{
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

func (s snapshot) toJob() *job.Job {
	return &job.Job{
		ID:              s.ID,
		Prompt:          s.Prompt,
		ImageURL:        s.ImageURL,
		DurationSeconds: s.DurationSeconds,
		Provider:        s.Provider,
		ProviderJobID:   s.ProviderJobID,
		Status:          job.Status(s.Status),
		ResultURL:       s.ResultURL,
		ErrorText:       s.ErrorText,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		CompletedAt:     s.CompletedAt,
	}
}

var _ job.Repository = (*CachedRepository)(nil)
