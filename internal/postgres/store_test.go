package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maauso/adreel-api/internal/job"
	"github.com/maauso/adreel-api/internal/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("adreel_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, postgres.RunMigrations(connStr))
	// A second run is a no-op.
	require.NoError(t, postgres.RunMigrations(connStr))

	pool, err := postgres.Connect(ctx, connStr, postgres.PoolConfig{MaxConns: 30})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func TestJobStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := postgres.NewJobStore(setupTestDB(t))
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		j := job.New("neon sneaker ad", "https://img.example.com/a.png", 8, "replicate")
		require.NoError(t, store.Create(ctx, j))

		got, err := store.FindByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, j.Prompt, got.Prompt)
		assert.Equal(t, j.ImageURL, got.ImageURL)
		assert.Equal(t, 8, got.DurationSeconds)
		assert.Equal(t, job.StatusPending, got.Status)
		assert.Nil(t, got.ProviderJobID)
		assert.Nil(t, got.ResultURL)

		assert.ErrorIs(t, store.Create(ctx, j), job.ErrDuplicateJob)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, job.ErrJobNotFound)

		_, err = store.FindByProviderJobID(ctx, "missing")
		assert.ErrorIs(t, err, job.ErrJobNotFound)

		_, err = store.Apply(ctx, "missing", job.Update{Status: job.StatusFailed})
		assert.ErrorIs(t, err, job.ErrJobNotFound)
	})

	t.Run("apply lifecycle", func(t *testing.T) {
		j := job.New("p", "", 6, "replicate")
		require.NoError(t, store.Create(ctx, j))

		got, err := store.Apply(ctx, j.ID, job.Update{Status: job.StatusProcessing, ProviderJobID: "pred-life"})
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, got.Status)
		assert.Equal(t, "pred-life", job.Deref(got.ProviderJobID))

		byProvider, err := store.FindByProviderJobID(ctx, "pred-life")
		require.NoError(t, err)
		assert.Equal(t, j.ID, byProvider.ID)

		got, err = store.Apply(ctx, j.ID, job.Update{Status: job.StatusCompleted, ProviderJobID: "other", ResultURL: "https://x/a.mp4"})
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
		assert.Equal(t, "https://x/a.mp4", job.Deref(got.ResultURL))
		assert.Equal(t, "pred-life", job.Deref(got.ProviderJobID))
		assert.NotNil(t, got.CompletedAt)

		got, err = store.Apply(ctx, j.ID, job.Update{Status: job.StatusFailed, ErrorText: "late"})
		assert.ErrorIs(t, err, job.ErrAlreadyTerminal)
		assert.Equal(t, job.StatusCompleted, got.Status)
		assert.Nil(t, got.ErrorText)
	})

	t.Run("completed requires url", func(t *testing.T) {
		j := job.New("p", "", 6, "replicate")
		require.NoError(t, store.Create(ctx, j))

		_, err := store.Apply(ctx, j.ID, job.Update{Status: job.StatusCompleted})
		assert.ErrorIs(t, err, job.ErrResultURLRequired)
	})

	t.Run("concurrent terminal updates have one winner", func(t *testing.T) {
		j := job.New("p", "", 6, "replicate")
		require.NoError(t, store.Create(ctx, j))

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u := job.Update{Status: job.StatusCompleted, ResultURL: fmt.Sprintf("https://x/%d.mp4", i)}
				if i%2 == 1 {
					u = job.Update{Status: job.StatusFailed, ErrorText: "boom"}
				}
				if _, err := store.Apply(ctx, j.ID, u); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
		final, err := store.FindByID(ctx, j.ID)
		require.NoError(t, err)
		assert.True(t, final.IsTerminal())
	})

	t.Run("list newest first with status filter", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			j := job.New(fmt.Sprintf("list-%d", i), "", 6, "beam")
			j.CreatedAt = time.Now().Add(time.Duration(i) * time.Hour)
			require.NoError(t, store.Create(ctx, j))
			_, err := store.Apply(ctx, j.ID, job.Update{Status: job.StatusProcessing, ProviderJobID: fmt.Sprintf("list-pred-%d", i)})
			require.NoError(t, err)
		}

		jobs, err := store.List(ctx, job.ListOptions{Status: job.StatusProcessing, Limit: 2})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "list-2", jobs[0].Prompt)
		assert.Equal(t, "list-1", jobs[1].Prompt)

		all, err := store.List(ctx, job.ListOptions{Limit: 100})
		require.NoError(t, err)
		assert.Greater(t, len(all), 3)
	})

	t.Run("list oldest first from cursor", func(t *testing.T) {
		past := time.Now().Add(-100 * time.Hour)
		for i := 0; i < 3; i++ {
			j := job.New(fmt.Sprintf("cursor-%d", i), "", 6, "beam")
			j.CreatedAt = past.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.Create(ctx, j))
			_, err := store.Apply(ctx, j.ID, job.Update{Status: job.StatusProcessing, ProviderJobID: fmt.Sprintf("cursor-pred-%d", i)})
			require.NoError(t, err)
		}

		first, err := store.List(ctx, job.ListOptions{Status: job.StatusProcessing, Limit: 2, OldestFirst: true})
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "cursor-0", first[0].Prompt)
		assert.Equal(t, "cursor-1", first[1].Prompt)

		next, err := store.List(ctx, job.ListOptions{
			Status:      job.StatusProcessing,
			Limit:       1,
			OldestFirst: true,
			After:       job.CursorOf(first[1]),
		})
		require.NoError(t, err)
		require.Len(t, next, 1)
		assert.Equal(t, "cursor-2", next[0].Prompt)
	})
}
