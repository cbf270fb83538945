package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/repository"
)

// basis returns a unit vector mixing the given axes equally.
func basis(axes ...int) []float32 {
	v := make([]float32, testDims)
	w := float32(1 / math.Sqrt(float64(len(axes))))
	for _, a := range axes {
		v[a] = w
	}
	return v
}

// seed stores a vector and a metadata record directly, bypassing the encoder.
func (h *harness) seed(id string, vec []float32, indexed bool, duration float64, tags ...string) {
	h.t.Helper()
	ctx := context.Background()
	v := &domain.Video{
		ID:          id,
		SourcePath:  "/videos/" + id + ".mp4",
		Fingerprint: "fp-" + id,
		Format:      "mp4",
		FileSize:    100,
		Duration:    duration,
		Tags:        tags,
	}
	_, err := h.videos.EnsurePending(ctx, v)
	require.NoError(h.t, err)
	require.NoError(h.t, h.index.MemoryIndex.Upsert(ctx, id, vec, repository.Payload{VideoID: id, Fingerprint: v.Fingerprint, SourcePath: v.SourcePath}))
	if indexed {
		require.NoError(h.t, h.videos.VideoRepository.MarkIndexed(ctx, v))
	}
}

func ptr[T any](v T) *T { return &v }

func resultIDs(results []SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.VideoID
	}
	return ids
}

func TestSearch_RankingAndTies(t *testing.T) {
	h := newHarness(t)
	h.seed("v-d", basis(1), true, 10)
	h.seed("v-c", basis(0, 1), true, 10)
	h.seed("v-b", basis(0, 1), true, 10)
	h.seed("v-a", basis(0), true, 10)

	resp, err := h.search.Search(context.Background(), &SearchRequest{QueryVector: basis(0), TopK: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"v-a", "v-b", "v-c", "v-d"}, resultIDs(resp.Results))
	assert.Equal(t, 4, resp.TotalResults)
	assert.NotEmpty(t, resp.QueryID)
	assert.InDelta(t, 1.0, resp.Results[0].SimilarityScore, 1e-5)
	assert.InDelta(t, 0.0, resp.Results[0].Distance, 1e-5)
	assert.InDelta(t, 1/math.Sqrt2, resp.Results[1].SimilarityScore, 1e-5)
	assert.Equal(t, resp.Results[1].SimilarityScore, resp.Results[2].SimilarityScore)
	assert.Equal(t, "/videos/v-a.mp4", resp.Results[0].VideoPath)
	require.NotNil(t, resp.Results[0].Metadata)
	assert.Equal(t, "v-a", resp.Results[0].Metadata.ID)
}

func TestSearch_ThresholdAndTopK(t *testing.T) {
	h := newHarness(t)
	h.seed("v-a", basis(0), true, 10)
	h.seed("v-b", basis(0, 1), true, 10)
	h.seed("v-c", basis(1), true, 10)

	tests := []struct {
		name      string
		topK      int
		threshold *float32
		want      []string
	}{
		{"top 1", 1, nil, []string{"v-a"}},
		{"threshold drops orthogonal", 10, ptr(float32(0.5)), []string{"v-a", "v-b"}},
		{"threshold keeps exact match only", 10, ptr(float32(0.99)), []string{"v-a"}},
		{"threshold at minimum", 10, ptr(float32(-1)), []string{"v-a", "v-b", "v-c"}},
		{"top k caps thresholded", 1, ptr(float32(0.5)), []string{"v-a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.search.Search(context.Background(), &SearchRequest{
				QueryVector: basis(0),
				TopK:        tt.topK,
				Threshold:   tt.threshold,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resultIDs(resp.Results))
			for _, r := range resp.Results {
				if tt.threshold != nil {
					assert.GreaterOrEqual(t, r.SimilarityScore, *tt.threshold)
				}
			}
		})
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	h := newHarness(t)
	resp, err := h.search.Search(context.Background(), &SearchRequest{QueryVector: basis(0), TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.TotalResults)
}

func TestSearch_ExcludesUncommittedVectors(t *testing.T) {
	h := newHarness(t)
	h.seed("v-a", basis(0), true, 10)
	h.seed("v-pending", basis(0), false, 10)

	resp, err := h.search.Search(context.Background(), &SearchRequest{QueryVector: basis(0), TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"v-a"}, resultIDs(resp.Results))
}

func TestSearch_Filters(t *testing.T) {
	h := newHarness(t)
	h.seed("short", basis(0), true, 5, "cat")
	h.seed("medium", basis(0, 1), true, 30, "cat", "funny")
	h.seed("long", basis(0, 2), true, 120, "dog")

	tests := []struct {
		name    string
		filters *SearchFilters
		want    []string
	}{
		{"none", nil, []string{"short", "long", "medium"}},
		{"min duration", &SearchFilters{DurationMin: ptr(10.0)}, []string{"long", "medium"}},
		{"max duration", &SearchFilters{DurationMax: ptr(30.0)}, []string{"short", "medium"}},
		{"range", &SearchFilters{DurationMin: ptr(10.0), DurationMax: ptr(60.0)}, []string{"medium"}},
		{"single tag", &SearchFilters{Tags: []string{"cat"}}, []string{"short", "medium"}},
		{"all tags required", &SearchFilters{Tags: []string{"cat", "funny"}}, []string{"medium"}},
		{"no match", &SearchFilters{Tags: []string{"bird"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.search.Search(context.Background(), &SearchRequest{
				QueryVector: basis(0),
				TopK:        10,
				Filters:     tt.filters,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resultIDs(resp.Results))
		})
	}
}

func TestSearch_Validation(t *testing.T) {
	h := newHarness(t)
	video := h.writeVideo("q.mp4", "query")

	tests := []struct {
		name string
		req  *SearchRequest
		kind errs.Kind
	}{
		{"no query", &SearchRequest{TopK: 5}, errs.KindInvalidParameter},
		{"both queries", &SearchRequest{QueryPath: video, QueryVector: basis(0), TopK: 5}, errs.KindInvalidParameter},
		{"zero top k", &SearchRequest{QueryVector: basis(0)}, errs.KindInvalidParameter},
		{"top k above max", &SearchRequest{QueryVector: basis(0), TopK: 51}, errs.KindInvalidParameter},
		{"threshold above range", &SearchRequest{QueryVector: basis(0), TopK: 5, Threshold: ptr(float32(1.5))}, errs.KindInvalidParameter},
		{"threshold below range", &SearchRequest{QueryVector: basis(0), TopK: 5, Threshold: ptr(float32(-1.5))}, errs.KindInvalidParameter},
		{"threshold NaN", &SearchRequest{QueryVector: basis(0), TopK: 5, Threshold: ptr(float32(math.NaN()))}, errs.KindInvalidParameter},
		{"inverted duration", &SearchRequest{QueryVector: basis(0), TopK: 5, Filters: &SearchFilters{DurationMin: ptr(10.0), DurationMax: ptr(5.0)}}, errs.KindInvalidParameter},
		{"wrong dimensions", &SearchRequest{QueryVector: []float32{1, 0}, TopK: 5}, errs.KindInvalidParameter},
		{"missing query file", &SearchRequest{QueryPath: video + ".gone.mp4", TopK: 5}, errs.KindVideoNotFound},
		{"unsupported query file", &SearchRequest{QueryPath: h.writeVideo("q.txt", "x"), TopK: 5}, errs.KindUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.search.Search(context.Background(), tt.req)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}
	assert.Zero(t, h.enc.calls.Load())
}

func TestSearch_AdapterFailureFailsQuery(t *testing.T) {
	h := newHarness(t)
	h.seed("v-a", basis(0), true, 10)
	h.index.nearestErr.set(errUnreachable)

	_, err := h.search.Search(context.Background(), &SearchRequest{QueryVector: basis(0), TopK: 5})
	assert.Equal(t, errs.KindInfrastructureUnavailable, errs.KindOf(err))
}

func TestSearch_EncoderFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	q := h.writeVideo("q.mp4", "corrupt query")

	_, err := h.search.Search(context.Background(), &SearchRequest{QueryPath: q, TopK: 5})
	assert.Equal(t, errs.KindUnsupportedFormat, errs.KindOf(err))
}

func TestSearch_ConcurrentQueriesShareOneEncode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.seed(fmt.Sprintf("v-%d", i), basis(i), true, 10)
	}
	q := h.writeVideo("query.mp4", "popular query clip")

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		queryIDs = make(map[string]struct{})
		errList  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.search.Search(ctx, &SearchRequest{QueryPath: q, TopK: 3})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errList = append(errList, err)
				return
			}
			queryIDs[resp.QueryID] = struct{}{}
		}()
	}
	wg.Wait()

	require.Empty(t, errList)
	assert.Len(t, queryIDs, n)
	assert.EqualValues(t, 1, h.enc.calls.Load())
}

func TestSearch_FindsIndexedVideoByContent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.run()
	h.writeVideo("a.mp4", "clip a")
	h.writeVideo("b.mp4", "clip b")
	query := h.writeVideo("query/copy-of-a.mp4", "clip a")

	handle, err := h.indexer.SubmitBatch(ctx, BatchRequest{Directory: h.dir, Patterns: []string{"*.mp4"}})
	require.NoError(t, err)
	job := h.waitJob(handle.JobID)
	require.Equal(t, domain.JobStatusCompleted, job.Status)

	resp, err := h.search.Search(ctx, &SearchRequest{QueryPath: query, TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, VideoIDForPath(h.dir+"/a.mp4"), resp.Results[0].VideoID)
	// The query reused the vector cached during indexing.
	assert.EqualValues(t, 2, h.enc.calls.Load())
}

func TestSearch_RecordsQueries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed("v-a", basis(0), true, 10)

	resp, err := h.search.Search(ctx, &SearchRequest{QueryVector: basis(0), TopK: 3, Threshold: ptr(float32(0.2))})
	require.NoError(t, err)

	recent, err := h.queries.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, resp.QueryID, recent[0].ID)
	assert.Equal(t, 3, recent[0].TopK)
	assert.Equal(t, 1, recent[0].ResultCount)
	require.NotNil(t, recent[0].Threshold)
	assert.InDelta(t, 0.2, *recent[0].Threshold, 1e-6)
}

func TestSearchService_Defaults(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 10, h.search.DefaultTopK())
	assert.Equal(t, repository.MetricCosine, h.search.Metric())

	s := NewSearchService(h.videos, h.index, h.pool, h.cache, nil, nil, nil, &SearchConfig{MaxTopK: 5})
	assert.Equal(t, 5, s.DefaultTopK())
}
