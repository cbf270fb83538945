package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
)

// stalledIndex never answers Upsert or Nearest until its context ends.
type stalledIndex struct {
	*MemoryIndex
}

func (s stalledIndex) Upsert(ctx context.Context, _ string, _ []float32, _ Payload) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s stalledIndex) Nearest(ctx context.Context, _ []float32, _ int) ([]Neighbor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithIndexTimeout(t *testing.T) {
	idx := WithIndexTimeout(stalledIndex{NewMemoryIndex(MetricCosine, 2)}, 20*time.Millisecond)

	err := idx.Upsert(context.Background(), "v1", []float32{1, 0}, Payload{VideoID: "v1"})
	require.Error(t, err)
	assert.Equal(t, errs.KindTimeout, errs.KindOf(err))
	assert.True(t, errs.IsRetryable(err))

	_, err = idx.Nearest(context.Background(), []float32{1, 0}, 3)
	assert.True(t, errs.IsKind(err, errs.KindTimeout))

	// Calls that answer in time pass straight through.
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, MetricCosine, idx.Metric())
}

func TestWithIndexTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	idx := WithIndexTimeout(stalledIndex{NewMemoryIndex(MetricCosine, 2)}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := idx.Upsert(ctx, "v1", []float32{1, 0}, Payload{VideoID: "v1"})
	require.Error(t, err)
	assert.Equal(t, errs.KindCancelled, errs.KindOf(err))
}

func TestWithIndexTimeout_Disabled(t *testing.T) {
	mem := NewMemoryIndex(MetricCosine, 2)
	assert.Same(t, mem, WithIndexTimeout(mem, 0))

	repo := NewVideoRepository(newTestDB(t))
	assert.Same(t, repo, WithStoreTimeout(repo, -time.Second))
}

func TestWithStoreTimeout_PassesThrough(t *testing.T) {
	ctx := context.Background()
	store := WithStoreTimeout(NewVideoRepository(newTestDB(t)), time.Second)

	_, err := store.EnsurePending(ctx, &domain.Video{ID: "v1", SourcePath: "/a.mp4", Fingerprint: "fp1"})
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, "v1", "boom"))

	videos, err := store.List(ctx, domain.VideoStatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "v1", videos[0].ID)

	_, err = store.GetByID(ctx, "missing")
	assert.Equal(t, errs.KindVideoNotFound, errs.KindOf(err))
}
