package service

import (
	"context"
	"time"

	"github.com/timmy/motionmatch/internal/cache"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/encoder"
	"github.com/timmy/motionmatch/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Stats is the system summary served by the stats endpoint.
type Stats struct {
	TotalVideos    int64                    `json:"total_videos"`
	TotalFeatures  int64                    `json:"total_features"`
	PendingVideos  int64                    `json:"pending_videos"`
	FailedVideos   int64                    `json:"failed_videos"`
	DiskUsageBytes int64                    `json:"disk_usage_bytes"`
	LastIndexed    *time.Time               `json:"last_indexed,omitempty"`
	Metric         repository.Metric        `json:"metric"`
	Jobs           map[domain.JobStatus]int `json:"jobs"`
	Cache          cache.Stats              `json:"cache"`
	Encoder        *encoder.PoolStats       `json:"encoder,omitempty"`
}

// StatsService aggregates counters from the stores and in-process components.
type StatsService struct {
	videos   repository.MetadataStore
	index    repository.SimilarityIndex
	registry *JobRegistry
	cache    *cache.FeatureCache
	pool     *encoder.Pool
}

// NewStatsService creates a StatsService. pool may be nil.
func NewStatsService(videos repository.MetadataStore, index repository.SimilarityIndex, registry *JobRegistry, featureCache *cache.FeatureCache, pool *encoder.Pool) *StatsService {
	return &StatsService{
		videos:   videos,
		index:    index,
		registry: registry,
		cache:    featureCache,
		pool:     pool,
	}
}

// Stats queries the metadata store and the index concurrently.
func (s *StatsService) Stats(ctx context.Context) (*Stats, error) {
	var (
		videoStats *repository.VideoStats
		features   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		videoStats, err = s.videos.Stats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		features, err = s.index.Count(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Stats{
		TotalVideos:    videoStats.Indexed,
		TotalFeatures:  features,
		PendingVideos:  videoStats.Pending,
		FailedVideos:   videoStats.Failed,
		DiskUsageBytes: videoStats.DiskUsage,
		LastIndexed:    videoStats.LastIndexed,
		Metric:         s.index.Metric(),
		Jobs:           s.registry.Counts(),
		Cache:          s.cache.Stats(),
	}
	if s.pool != nil {
		ps := s.pool.Stats()
		out.Encoder = &ps
	}
	return out, nil
}

// Health pings both stores and reports each result by name.
func (s *StatsService) Health(ctx context.Context) map[string]error {
	checks := map[string]error{}
	var (
		dbErr  error
		idxErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, dbErr = s.videos.Stats(gctx)
		return nil
	})
	g.Go(func() error {
		idxErr = s.index.Ping(gctx)
		return nil
	})
	_ = g.Wait()
	checks["metadata"] = dbErr
	checks["index"] = idxErr
	return checks
}
