package job

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// ErrDuplicateJob is returned when a job with the same ID already exists.
var ErrDuplicateJob = errors.New("job already exists")

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; swap for postgres in production.
type MemoryRepository struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	byProvider map[string]string
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:       make(map[string]*Job),
		byProvider: make(map[string]string),
	}
}

// Create stores a clone of job.
func (r *MemoryRepository) Create(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	r.jobs[job.ID] = job.Clone()
	if job.ProviderJobID != nil {
		r.byProvider[*job.ProviderJobID] = job.ID
	}
	return nil
}

// FindByID retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// FindByProviderJobID retrieves a job by its provider reference.
func (r *MemoryRepository) FindByProviderJobID(_ context.Context, providerJobID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byProvider[providerJobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return r.jobs[id].Clone(), nil
}

// List returns jobs newest first.
func (r *MemoryRepository) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if opts.Status != "" && job.Status != opts.Status {
			continue
		}
		if opts.After != nil {
			d := opts.After.compare(job)
			if d == 0 || (d > 0) != opts.OldestFirst {
				continue
			}
		}
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(a, b int) bool {
		d := CursorOf(result[b]).compare(result[a])
		if opts.OldestFirst {
			return d < 0
		}
		return d > 0
	})
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Apply mutates the stored job under the write lock, so the terminal check
// and the write happen as one step.
func (r *MemoryRepository) Apply(_ context.Context, id string, u Update) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	hadProviderID := job.ProviderJobID != nil
	if err := job.Apply(u); err != nil {
		return job.Clone(), err
	}
	if !hadProviderID && job.ProviderJobID != nil {
		r.byProvider[*job.ProviderJobID] = job.ID
	}
	return job.Clone(), nil
}
