package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "adreel.job.completed", Subject(TypeJobCompleted))
	assert.Equal(t, "adreel.job.failed", Subject(TypeJobFailed))
}

func TestNopPublisher(t *testing.T) {
	err := NopPublisher{}.Publish(context.Background(), Event{
		Type:       TypeJobCompleted,
		JobID:      "job-1",
		OccurredAt: time.Now(),
	})
	assert.NoError(t, err)
}
