package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/motionmatch/internal/cache"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/encoder"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/logger"
	"github.com/timmy/motionmatch/internal/probe"
	"github.com/timmy/motionmatch/internal/repository"
)

// SearchLog records queries for analytics.
type SearchLog interface {
	Create(ctx context.Context, q *domain.SearchQuery) error
}

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	DefaultTopK int
	MaxTopK     int
	// FilterOverfetch multiplies top_k when metadata filters may drop candidates.
	FilterOverfetch int
	LogQueries      bool
}

// SearchFilters narrow results by metadata after the vector lookup.
type SearchFilters struct {
	DurationMin *float64 `json:"duration_min,omitempty"`
	DurationMax *float64 `json:"duration_max,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (f *SearchFilters) empty() bool {
	return f == nil || (f.DurationMin == nil && f.DurationMax == nil && len(f.Tags) == 0)
}

func (f *SearchFilters) match(v *domain.Video) bool {
	if f.empty() {
		return true
	}
	if f.DurationMin != nil && v.Duration < *f.DurationMin {
		return false
	}
	if f.DurationMax != nil && v.Duration > *f.DurationMax {
		return false
	}
	if len(f.Tags) > 0 {
		have := make(map[string]struct{}, len(v.Tags))
		for _, t := range v.Tags {
			have[t] = struct{}{}
		}
		for _, t := range f.Tags {
			if _, ok := have[t]; !ok {
				return false
			}
		}
	}
	return true
}

// SearchRequest is a similarity query. Exactly one of QueryPath and
// QueryVector must be set.
type SearchRequest struct {
	QueryPath   string
	QueryVector []float32
	TopK        int
	Threshold   *float32
	Filters     *SearchFilters
}

// SearchResult represents a single search result.
type SearchResult struct {
	VideoID         string        `json:"video_id"`
	SimilarityScore float32       `json:"similarity_score"`
	Distance        float32       `json:"distance"`
	VideoPath       string        `json:"video_path"`
	Metadata        *domain.Video `json:"metadata"`
}

// SearchResponse represents the search response.
type SearchResponse struct {
	QueryID          string         `json:"query_id"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
	Results          []SearchResult `json:"results"`
	TotalResults     int            `json:"total_results"`
}

// SearchService answers similarity queries against the committed index.
type SearchService struct {
	videos    repository.MetadataStore
	index     repository.SimilarityIndex
	encoder   encoder.Encoder
	cache     *cache.FeatureCache
	validator *probe.Validator
	queryLog  SearchLog
	logger    *logger.Logger
	cfg       SearchConfig
}

// NewSearchService creates a new search service.
// Parameters:
//   - videos: metadata store used to join results.
//   - index: similarity index holding committed vectors.
//   - enc: encoder (usually the shared Pool) for query videos.
//   - featureCache: cache shared with the index service.
//   - validator: input validation for query files.
//   - queryLog: optional query analytics sink.
//   - log: logger instance.
//   - cfg: search configuration settings.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	videos repository.MetadataStore,
	index repository.SimilarityIndex,
	enc encoder.Encoder,
	featureCache *cache.FeatureCache,
	validator *probe.Validator,
	queryLog SearchLog,
	log *logger.Logger,
	cfg *SearchConfig,
) *SearchService {
	c := *cfg
	if c.MaxTopK <= 0 {
		c.MaxTopK = 100
	}
	if c.DefaultTopK <= 0 || c.DefaultTopK > c.MaxTopK {
		c.DefaultTopK = min(20, c.MaxTopK)
	}
	if c.FilterOverfetch <= 0 {
		c.FilterOverfetch = 4
	}
	return &SearchService{
		videos:    videos,
		index:     index,
		encoder:   enc,
		cache:     featureCache,
		validator: validator,
		queryLog:  queryLog,
		logger:    log,
		cfg:       c,
	}
}

func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil && l != logger.GetDefault() {
		return l
	}
	return s.logger
}

// DefaultTopK is used by callers that omit top_k.
func (s *SearchService) DefaultTopK() int {
	return s.cfg.DefaultTopK
}

// Metric returns the similarity metric of the underlying index.
func (s *SearchService) Metric() repository.Metric {
	return s.index.Metric()
}

func (s *SearchService) validate(req *SearchRequest) error {
	if (req.QueryPath == "") == (len(req.QueryVector) == 0) {
		return errs.New(errs.KindInvalidParameter, "exactly one of query path and query vector is required")
	}
	if req.TopK < 1 || req.TopK > s.cfg.MaxTopK {
		return errs.Newf(errs.KindInvalidParameter, "top_k must be between 1 and %d", s.cfg.MaxTopK).
			WithDetail("top_k", strconv.Itoa(req.TopK))
	}
	if req.Threshold != nil {
		if err := s.index.Metric().ValidateThreshold(*req.Threshold); err != nil {
			return err
		}
	}
	if f := req.Filters; f != nil && f.DurationMin != nil && f.DurationMax != nil && *f.DurationMin > *f.DurationMax {
		return errs.New(errs.KindInvalidParameter, "duration_min must not exceed duration_max")
	}
	if n := len(req.QueryVector); n > 0 {
		if dim := s.encoder.Dimensions(); dim > 0 && n != dim {
			return errs.Newf(errs.KindInvalidParameter, "query vector has %d dimensions, expected %d", n, dim)
		}
	}
	return nil
}

// Search finds the committed videos most similar to the query.
// Results are sorted by descending similarity, ties by ascending video ID;
// every score is at least the threshold and there are at most TopK results.
// Any adapter failure fails the whole call.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	if err := s.validate(req); err != nil {
		return nil, err
	}

	queryID := uuid.New().String()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "search",
		logger.FieldSearchID:  queryID,
	})

	vector, fingerprint, err := s.queryVector(ctx, req)
	if err != nil {
		return nil, err
	}

	k := req.TopK
	if !req.Filters.empty() {
		k = req.TopK * s.cfg.FilterOverfetch
	}
	neighbors, err := s.index.Nearest(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	candidates := neighbors[:0:0]
	for _, n := range neighbors {
		if req.Threshold != nil && n.Score < *req.Threshold {
			continue
		}
		candidates = append(candidates, n)
	}

	ids := make([]string, len(candidates))
	for i, n := range candidates {
		ids[i] = n.VideoID
	}
	records, err := s.videos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, n := range candidates {
		v, ok := records[n.VideoID]
		// A vector without an indexed record is mid-commit or mid-rollback.
		if !ok || !v.IsIndexed() || !req.Filters.match(v) {
			continue
		}
		results = append(results, SearchResult{
			VideoID:         n.VideoID,
			SimilarityScore: n.Score,
			Distance:        n.Distance,
			VideoPath:       v.SourcePath,
			Metadata:        v,
		})
	}
	sortResults(results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	elapsed := time.Since(start)
	resp := &SearchResponse{
		QueryID:          queryID,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
		Results:          results,
		TotalResults:     len(results),
	}

	logger.With(logger.Fields{"top_k": req.TopK}).
		WithCount(len(results)).
		WithDuration(elapsed).
		Info(ctx, "Search completed")

	s.record(ctx, queryID, req, fingerprint, resp)
	return resp, nil
}

// sortResults orders by descending score, then ascending video ID.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].VideoID < results[j].VideoID
	})
}

// queryVector resolves the query through the shared cache so a query file
// that is being indexed, or queried concurrently, is encoded once.
func (s *SearchService) queryVector(ctx context.Context, req *SearchRequest) ([]float32, string, error) {
	if len(req.QueryVector) > 0 {
		return req.QueryVector, "", nil
	}
	info, err := s.validator.Inspect(ctx, req.QueryPath)
	if err != nil {
		return nil, "", err
	}
	vec, _, err := s.cache.GetOrCompute(ctx, info.Fingerprint, func(ctx context.Context) ([]float32, error) {
		return s.encoder.Encode(ctx, encoder.Input{Path: info.Path, Fingerprint: info.Fingerprint})
	})
	if err != nil {
		return nil, "", err
	}
	return vec, info.Fingerprint, nil
}

func (s *SearchService) record(ctx context.Context, queryID string, req *SearchRequest, fingerprint string, resp *SearchResponse) {
	if !s.cfg.LogQueries || s.queryLog == nil {
		return
	}
	q := &domain.SearchQuery{
		ID:               queryID,
		QueryPath:        req.QueryPath,
		QueryFingerprint: fingerprint,
		TopK:             req.TopK,
		Threshold:        req.Threshold,
		ResultCount:      resp.TotalResults,
		ProcessingMs:     int64(resp.ProcessingTimeMs),
	}
	if err := s.queryLog.Create(context.WithoutCancel(ctx), q); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to record search query")
	}
}
