// Package app wires configuration into the repositories, adapters and
// services shared by the API server and the indexer CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/motionmatch/internal/cache"
	"github.com/timmy/motionmatch/internal/config"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/encoder"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/logger"
	"github.com/timmy/motionmatch/internal/probe"
	"github.com/timmy/motionmatch/internal/ratelimit"
	"github.com/timmy/motionmatch/internal/repository"
	"github.com/timmy/motionmatch/internal/service"
	"github.com/timmy/motionmatch/internal/storage"
	"gorm.io/gorm"
)

// restoredJobs caps how many persisted jobs are loaded at startup.
const restoredJobs = 500

// App holds the assembled services.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *gorm.DB
	Index    repository.SimilarityIndex
	Pool     *encoder.Pool
	Cache    *cache.FeatureCache
	Registry *service.JobRegistry
	Indexer  *service.IndexService
	Search   *service.SearchService
	Stats    *service.StatsService

	closers []func() error
}

// NewLogger builds the process logger from configuration and installs it as
// the default.
func NewLogger(cfg *config.LogConfig, serviceName string) *logger.Logger {
	log := logger.New(&logger.Options{
		Level:       cfg.Level,
		Format:      cfg.Format,
		ServiceName: serviceName,
		Environment: cfg.Environment,
		File:        cfg.File,
		FileOnly:    cfg.FileOnly,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
		Compress:    cfg.Compress,
	})
	logger.SetDefaultLogger(log)
	return log
}

// New connects to every backend and builds the services. On error anything
// already opened is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.Logger
	var err error

	a.DB, err = repository.InitDB(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	metric, err := repository.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return err
	}
	index, err := a.newIndex(ctx, metric)
	if err != nil {
		return err
	}
	a.Index = repository.WithIndexTimeout(index, cfg.Index.Timeout)

	a.Pool = encoder.NewPool(newEncoder(cfg), cfg.Encoder.Concurrency, cfg.Encoder.Timeout)
	a.Cache = cache.New(cfg.Cache.Size, cfg.Cache.TTL)

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if b, ok := objectStorage.(interface{ EnsureBucket(context.Context) error }); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}

	a.Registry, err = a.newRegistry(ctx)
	if err != nil {
		return err
	}

	validator := newValidator(&cfg.Video)
	videos := repository.WithStoreTimeout(repository.NewVideoRepository(a.DB), cfg.Database.Timeout)

	a.Indexer = service.NewIndexService(videos, a.Index, a.Pool, a.Cache, validator, objectStorage, a.Registry, log,
		&service.IndexConfig{
			Workers:    cfg.Ingest.Workers,
			QueueSize:  cfg.Ingest.QueueSize,
			Schedulers: cfg.Ingest.Schedulers,
			Retry: errs.RetryPolicy{
				MaxAttempts:  cfg.Ingest.Retry.MaxAttempts,
				InitialDelay: cfg.Ingest.Retry.InitialDelay,
				MaxDelay:     cfg.Ingest.Retry.MaxDelay,
				Multiplier:   2,
			},
			UploadDir:     cfg.Server.UploadDir,
			StoragePrefix: cfg.Storage.Prefix,
		})
	a.Search = service.NewSearchService(videos, a.Index, a.Pool, a.Cache, validator,
		repository.NewSearchLogRepository(a.DB), log,
		&service.SearchConfig{
			DefaultTopK: cfg.Search.DefaultTopK,
			MaxTopK:     cfg.Search.MaxTopK,
			LogQueries:  cfg.Search.LogQueries,
		})
	a.Stats = service.NewStatsService(videos, a.Index, a.Registry, a.Cache, a.Pool)

	log.WithFields(logger.Fields{
		"index":   cfg.Index.Backend,
		"metric":  metric,
		"encoder": a.Pool.Model(),
		"storage": cfg.Storage.Type,
	}).Info("Services initialized")
	return nil
}

func (a *App) newIndex(ctx context.Context, metric repository.Metric) (repository.SimilarityIndex, error) {
	cfg := a.Config
	if cfg.Index.Backend == "memory" {
		return repository.NewMemoryIndex(metric, cfg.Index.Dimensions), nil
	}

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Index.Dimensions,
		Metric:          metric,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Qdrant repository: %w", err)
	}
	a.closers = append(a.closers, qdrantRepo.Close)

	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
	}
	return qdrantRepo, nil
}

func newEncoder(cfg *config.Config) encoder.Encoder {
	if cfg.Encoder.Provider == "http" {
		return encoder.NewHTTPEncoder(&encoder.HTTPConfig{
			BaseURL:    cfg.Encoder.BaseURL,
			APIKey:     cfg.Encoder.APIKey,
			Model:      cfg.Encoder.Model,
			NumFrames:  cfg.Encoder.NumFrames,
			Dimensions: cfg.Index.Dimensions,
		})
	}
	return encoder.NewHashEncoder(cfg.Index.Dimensions)
}

func newValidator(cfg *config.VideoConfig) *probe.Validator {
	opts := probe.Options{
		AllowedFormats:     cfg.AllowedFormats,
		MaxFileSizeBytes:   cfg.MaxFileSizeMB << 20,
		MaxDurationSeconds: cfg.MaxDurationSeconds,
	}
	if cfg.FFProbePath != "" {
		opts.Prober = probe.NewFFProbe(cfg.FFProbePath)
	}
	return probe.NewValidator(opts)
}

// newRegistry closes jobs a previous process left unfinished, then loads
// recent jobs so their status stays queryable.
func (a *App) newRegistry(ctx context.Context) (*service.JobRegistry, error) {
	if !a.Config.Ingest.PersistJobs {
		return service.NewJobRegistry(nil), nil
	}

	jobs := repository.NewJobRepository(a.DB)
	closed, err := jobs.FailUnfinished(ctx, domain.JobReasonInterrupted)
	if err != nil {
		return nil, err
	}
	registry := service.NewJobRegistry(jobs)
	loaded, err := registry.Load(ctx, restoredJobs)
	if err != nil {
		return nil, err
	}
	if closed > 0 || loaded > 0 {
		a.Logger.WithFields(logger.Fields{
			"interrupted": closed,
			"loaded":      loaded,
		}).Info("Restored index jobs")
	}
	return registry, nil
}

// NewLimiter returns the configured rate limiter, or nil when disabled.
func (a *App) NewLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	cfg := a.Config
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewMemoryLimiter(), nil
	}

	l, err := ratelimit.NewRedisLimiter(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	a.closers = append(a.closers, l.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := l.Ping(pingCtx); err != nil {
		// Requests are let through while Redis is down.
		a.Logger.WithError(err).Warn("Redis unreachable, rate limiting fails open")
	}
	return l, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.WithError(err).Warn("Failed to close resource")
		}
	}
	a.closers = nil
}
