package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/motionmatch/internal/cache"
	"github.com/timmy/motionmatch/internal/config"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/encoder"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/logger"
	"github.com/timmy/motionmatch/internal/probe"
	"github.com/timmy/motionmatch/internal/repository"
	"github.com/timmy/motionmatch/internal/storage"
)

const testDims = 16

// stubEncoder wraps the hash encoder with call counting and fault injection.
// Files whose content starts with "corrupt" are rejected as unsupported.
type stubEncoder struct {
	*encoder.HashEncoder

	calls atomic.Int32

	mu       sync.Mutex
	failures map[string][]error // by base name, consumed in order

	// When gate is set, Encode signals entered and blocks until gate closes.
	gate    chan struct{}
	entered chan string
}

func newStubEncoder() *stubEncoder {
	return &stubEncoder{
		HashEncoder: encoder.NewHashEncoder(testDims),
		failures:    make(map[string][]error),
	}
}

func (e *stubEncoder) failNext(name string, errList ...error) {
	e.mu.Lock()
	e.failures[name] = append(e.failures[name], errList...)
	e.mu.Unlock()
}

func (e *stubEncoder) Encode(ctx context.Context, in encoder.Input) ([]float32, error) {
	e.calls.Add(1)
	if e.gate != nil {
		select {
		case e.entered <- filepath.Base(in.Path):
		default:
		}
		<-e.gate
	}

	data, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, []byte("corrupt")) {
		return nil, errs.New(errs.KindUnsupportedFormat, "cannot decode frames")
	}

	e.mu.Lock()
	name := filepath.Base(in.Path)
	if queue := e.failures[name]; len(queue) > 0 {
		e.failures[name] = queue[1:]
		e.mu.Unlock()
		return nil, queue[0]
	}
	e.mu.Unlock()
	return e.HashEncoder.Encode(ctx, in)
}

// errSlot holds an injectable error.
type errSlot struct {
	mu  sync.Mutex
	err error
}

func (s *errSlot) set(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *errSlot) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

var errUnreachable = errs.New(errs.KindInfrastructureUnavailable, "connection refused")

// flakyIndex injects failures into a MemoryIndex. With stall set, Upsert
// blocks until its context ends.
type flakyIndex struct {
	*repository.MemoryIndex
	upsertErr  errSlot
	deleteErr  errSlot
	nearestErr errSlot
	upserts    atomic.Int32
	stall      atomic.Bool
}

func (f *flakyIndex) Nearest(ctx context.Context, vec []float32, k int) ([]repository.Neighbor, error) {
	if err := f.nearestErr.get(); err != nil {
		return nil, err
	}
	return f.MemoryIndex.Nearest(ctx, vec, k)
}

func (f *flakyIndex) Upsert(ctx context.Context, id string, vec []float32, p repository.Payload) error {
	f.upserts.Add(1)
	if f.stall.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := f.upsertErr.get(); err != nil {
		return err
	}
	return f.MemoryIndex.Upsert(ctx, id, vec, p)
}

func (f *flakyIndex) Delete(ctx context.Context, id string) error {
	if err := f.deleteErr.get(); err != nil {
		return err
	}
	return f.MemoryIndex.Delete(ctx, id)
}

// flakyStore injects failures into the metadata store.
type flakyStore struct {
	*repository.VideoRepository
	markIndexedErr errSlot
	deleteErr      errSlot
}

func (f *flakyStore) MarkIndexed(ctx context.Context, v *domain.Video) error {
	if err := f.markIndexedErr.get(); err != nil {
		return err
	}
	return f.VideoRepository.MarkIndexed(ctx, v)
}

func (f *flakyStore) Delete(ctx context.Context, id string) error {
	if err := f.deleteErr.get(); err != nil {
		return err
	}
	return f.VideoRepository.Delete(ctx, id)
}

type harness struct {
	t         *testing.T
	dir       string
	enc       *stubEncoder
	pool      *encoder.Pool
	index     *flakyIndex
	videos    *flakyStore
	jobs      *repository.JobRepository
	queries   *repository.SearchLogRepository
	cache     *cache.FeatureCache
	registry  *JobRegistry
	store     storage.ObjectStorage
	validator *probe.Validator
	cfg       *IndexConfig
	indexer   *IndexService
	search    *SearchService
	stats     *StatsService
}

type harnessOption func(*IndexConfig)

func withWorkers(n int) harnessOption {
	return func(c *IndexConfig) { c.Workers = n }
}

func withAttempts(n int) harnessOption {
	return func(c *IndexConfig) { c.Retry.MaxAttempts = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	}, logger.GetDefault())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "archive"))
	require.NoError(t, err)

	h := &harness{
		t:       t,
		dir:     t.TempDir(),
		enc:     newStubEncoder(),
		index:   &flakyIndex{MemoryIndex: repository.NewMemoryIndex(repository.MetricCosine, testDims)},
		videos:  &flakyStore{VideoRepository: repository.NewVideoRepository(db)},
		jobs:    repository.NewJobRepository(db),
		queries: repository.NewSearchLogRepository(db),
		cache:   cache.New(100, 0),
		store:   store,
	}
	h.pool = encoder.NewPool(h.enc, 4, 5*time.Second)
	h.registry = NewJobRegistry(h.jobs)

	cfg := &IndexConfig{
		Workers:    2,
		QueueSize:  4,
		Schedulers: 1,
		Retry: errs.RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
		UploadDir:     filepath.Join(t.TempDir(), "uploads"),
		StoragePrefix: "test",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h.cfg = cfg
	h.validator = probe.NewValidator(probe.Options{
		AllowedFormats:   []string{"mp4", "avi", "mov", "mkv"},
		MaxFileSizeBytes: 1 << 20,
	})
	log := logger.GetDefault()
	h.indexer = NewIndexService(h.videos, h.index, h.pool, h.cache, h.validator, h.store, h.registry, log, cfg)
	h.search = NewSearchService(h.videos, h.index, h.pool, h.cache, h.validator, h.queries, log,
		&SearchConfig{DefaultTopK: 10, MaxTopK: 50, LogQueries: true})
	h.stats = NewStatsService(h.videos, h.index, h.registry, h.cache, h.pool)
	return h
}

// boundIndex rebuilds the indexer with every index call limited to d.
func (h *harness) boundIndex(d time.Duration) {
	h.indexer = NewIndexService(h.videos, repository.WithIndexTimeout(h.index, d), h.pool, h.cache,
		h.validator, h.store, h.registry, logger.GetDefault(), h.cfg)
}

// writeVideo creates a file under the harness directory with the given content.
func (h *harness) writeVideo(name, content string) string {
	h.t.Helper()
	p := filepath.Join(h.dir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// run starts the scheduler and stops it when the test ends.
func (h *harness) run() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.indexer.Run(ctx)
		close(done)
	}()
	h.t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitJob polls until the job reaches a terminal status.
func (h *harness) waitJob(id string) *domain.IndexJob {
	h.t.Helper()
	var job *domain.IndexJob
	require.Eventually(h.t, func() bool {
		j, err := h.registry.Get(id)
		if err != nil {
			return false
		}
		job = j
		return job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}
