package job

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// DefaultListLimit caps List results when no limit is given.
const DefaultListLimit = 20

// ListOptions filters the jobs returned by Repository.List.
type ListOptions struct {
	// Status restricts the result to one status when non-empty.
	Status Status
	// Limit is the maximum number of jobs returned.
	Limit int
	// OldestFirst reverses the default newest-first order.
	OldestFirst bool
	// After, when set, starts the page strictly after this position in the
	// chosen order.
	After *Cursor
}

// Cursor is a position in the (created_at, id) ordering of jobs.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the position of j.
func CursorOf(j *Job) *Cursor {
	return &Cursor{CreatedAt: j.CreatedAt, ID: j.ID}
}

// compare orders j against c by (created_at, id): negative when j sorts
// first, zero when equal, positive when j sorts after.
func (c *Cursor) compare(j *Job) int {
	if !j.CreatedAt.Equal(c.CreatedAt) {
		return j.CreatedAt.Compare(c.CreatedAt)
	}
	return strings.Compare(j.ID, c.ID)
}
