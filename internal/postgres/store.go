package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maauso/adreel-api/internal/job"
)

const jobColumns = `id, prompt, image_url, duration_seconds, provider, provider_job_id,
	status, result_url, error_text, created_at, updated_at, completed_at`

// JobStore implements job.Repository using pgx/v5.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Ping checks database connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *JobStore) Create(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO video_jobs (id, prompt, image_url, duration_seconds, provider, provider_job_id,
			status, result_url, error_text, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.Prompt, j.ImageURL, j.DurationSeconds, j.Provider, j.ProviderJobID,
		string(j.Status), j.ResultURL, j.ErrorText, j.CreatedAt, j.UpdatedAt, j.CompletedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return job.ErrDuplicateJob
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *JobStore) FindByID(ctx context.Context, id string) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return j, nil
}

func (s *JobStore) FindByProviderJobID(ctx context.Context, providerJobID string) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE provider_job_id = $1`, providerJobID))
	if err != nil {
		return nil, fmt.Errorf("find job by provider id: %w", err)
	}
	return j, nil
}

func (s *JobStore) List(ctx context.Context, opts job.ListOptions) ([]*job.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = job.DefaultListLimit
	}

	order, cmp := "DESC", "<"
	if opts.OldestFirst {
		order, cmp = "ASC", ">"
	}
	var (
		afterAt *time.Time
		afterID string
	)
	if opts.After != nil {
		afterAt, afterID = &opts.After.CreatedAt, opts.After.ID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM video_jobs
		 WHERE ($1 = '' OR status = $1)
		   AND ($3::timestamptz IS NULL OR (created_at, id) `+cmp+` ($3::timestamptz, $4::text))
		 ORDER BY created_at `+order+`, id `+order+`
		 LIMIT $2`, string(opts.Status), limit, afterAt, afterID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Apply performs the transition as a single conditional UPDATE. Rows already
// in a terminal state never match, so concurrent terminal updates have
// exactly one winner. provider_job_id is only written while it is NULL.
func (s *JobStore) Apply(ctx context.Context, id string, u job.Update) (*job.Job, error) {
	u, err := u.Normalize()
	if err != nil {
		return nil, err
	}

	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE video_jobs SET
			status          = $2,
			provider_job_id = COALESCE(provider_job_id, NULLIF($3, '')),
			result_url      = CASE WHEN $2 = 'completed' THEN $4 ELSE NULL END,
			error_text      = CASE WHEN $2 = 'failed' THEN $5 ELSE NULL END,
			completed_at    = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE NULL END,
			updated_at      = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')
		 RETURNING `+jobColumns,
		id, string(u.Status), u.ProviderJobID, u.ResultURL, u.ErrorText))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, job.ErrJobNotFound) {
		return nil, fmt.Errorf("apply job update: %w", err)
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, job.ErrAlreadyTerminal
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j      job.Job
		status string
	)
	err := row.Scan(&j.ID, &j.Prompt, &j.ImageURL, &j.DurationSeconds, &j.Provider, &j.ProviderJobID,
		&status, &j.ResultURL, &j.ErrorText, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	return &j, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ job.Repository = (*JobStore)(nil)
