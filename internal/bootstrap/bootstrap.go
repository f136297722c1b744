// Package bootstrap provides dependency initialization for the AdReel API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/adreel-api/internal/beam"
	"github.com/maauso/adreel-api/internal/cache"
	"github.com/maauso/adreel-api/internal/config"
	"github.com/maauso/adreel-api/internal/events"
	"github.com/maauso/adreel-api/internal/generator"
	"github.com/maauso/adreel-api/internal/job"
	"github.com/maauso/adreel-api/internal/postgres"
	"github.com/maauso/adreel-api/internal/replicate"
	"github.com/maauso/adreel-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	JobService *job.Service
	// MediaDir is the directory served under /media/ when videos are mirrored locally.
	MediaDir string

	closers []func() error
}

// Close releases database, cache and broker connections.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	fail := func(err error) (*Dependencies, error) {
		_ = deps.Close()
		return nil, err
	}

	// Initialize generation provider
	gen, err := initGenerator(cfg, logger)
	if err != nil {
		return fail(err)
	}

	// Initialize job repository
	repo, err := deps.initRepository(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}

	opts := []job.ServiceOption{
		job.WithWebhookBaseURL(cfg.PublicBaseURL),
		job.WithWebhookSecret(cfg.WebhookSecret),
	}

	// Initialize artifact mirroring
	store, err := deps.initStorage(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if store != nil {
		opts = append(opts, job.WithMirror(storage.NewMirrorer(store,
			storage.WithCDNBaseURL(cfg.CDNBaseURL),
			storage.WithAllowedHosts(cfg.MirrorAllowedHosts...),
			storage.WithTempDir(cfg.TempDir),
		)))
	}

	// Initialize event publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return fail(fmt.Errorf("connect to NATS: %w", err))
		}
		deps.closers = append(deps.closers, func() error { pub.Close(); return nil })
		opts = append(opts, job.WithPublisher(pub))
		logger.Info("NATS events configured", slog.String("url", cfg.NATSURL))
	}

	if cfg.PublicBaseURL == "" {
		logger.Warn("PUBLIC_BASE_URL not set: providers will not call back, use the sweeper or webhooks posted by hand")
	}

	deps.JobService = job.NewService(repo, gen, logger, opts...)
	return deps, nil
}

// initGenerator builds the adapter for the configured provider. Missing
// credentials yield a generator that fails every call with ErrNotConfigured.
func initGenerator(cfg *config.Config, logger *slog.Logger) (generator.Generator, error) {
	if !cfg.ProviderConfigured() {
		logger.Warn("provider credentials missing, generation requests will fail",
			slog.String("provider", cfg.Provider),
		)
		return generator.Unconfigured{Provider: cfg.Provider}, nil
	}

	switch cfg.Provider {
	case config.ProviderBeam:
		client, err := beam.NewClient(cfg.BeamQueueURL, beam.WithToken(cfg.BeamToken))
		if err != nil {
			return nil, fmt.Errorf("create Beam client: %w", err)
		}
		logger.Info("Beam provider configured", slog.String("queue_url", cfg.BeamQueueURL))
		return generator.NewBeamAdapter(client), nil
	default:
		opts := []replicate.ClientOption{replicate.WithToken(cfg.ReplicateAPIToken)}
		if cfg.ReplicateBaseURL != "" {
			opts = append(opts, replicate.WithBaseURL(cfg.ReplicateBaseURL))
		}
		client, err := replicate.NewClient(cfg.ReplicateModel, opts...)
		if err != nil {
			return nil, fmt.Errorf("create Replicate client: %w", err)
		}
		logger.Info("Replicate provider configured", slog.String("model", cfg.ReplicateModel))
		return generator.NewReplicateAdapter(client), nil
	}
}

// initRepository selects Postgres when DATABASE_URL is set and memory otherwise,
// optionally fronted by the Redis cache.
func (d *Dependencies) initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, error) {
	var repo job.Repository
	if cfg.DatabaseURL != "" {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		repo = postgres.NewJobStore(pool)
		logger.Info("postgres job store configured")
	} else {
		repo = job.NewMemoryRepository()
		logger.Warn("DATABASE_URL not set, jobs are kept in memory")
	}

	if cfg.RedisURL == "" {
		return repo, nil
	}
	rc, err := cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	d.closers = append(d.closers, rc.Close)
	if err := rc.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis job cache configured", slog.Duration("ttl", cfg.CacheTTL))
	return cache.NewCachedRepository(repo, rc, cfg.CacheTTL, logger), nil
}

// initStorage creates the artifact storage backend, or nil when mirroring is disabled.
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if !cfg.MirrorEnabled() {
		logger.Info("artifact mirroring disabled, provider URLs are stored as-is")
		return nil, nil
	}

	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.MediaDir, cfg.PublicBaseURL+"/media")
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	d.MediaDir = localStore.Dir()
	logger.Info("local storage configured", slog.String("media_dir", d.MediaDir))
	return localStore, nil
}
