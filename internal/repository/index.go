package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
)

// Metric names the distance function of the similarity index.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricEuclid Metric = "euclid"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricEuclid:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// ScoreRange returns the closed interval of similarity scores the metric produces.
// Cosine similarity spans [-1, 1]; Euclidean distance d maps to 1/(1+d) in (0, 1].
func (m Metric) ScoreRange() (lo, hi float32) {
	if m == MetricEuclid {
		return 0, 1
	}
	return -1, 1
}

// ValidateThreshold rejects thresholds outside the metric's score range.
func (m Metric) ValidateThreshold(t float32) error {
	lo, hi := m.ScoreRange()
	if math.IsNaN(float64(t)) || t < lo || t > hi {
		return errs.Newf(errs.KindInvalidParameter, "threshold %v outside [%v, %v] for %s", t, lo, hi, m).
			WithDetail("threshold", fmt.Sprint(t))
	}
	return nil
}

// FromDistance converts a raw distance into (similarity, distance).
func (m Metric) FromDistance(d float32) (score, distance float32) {
	if m == MetricEuclid {
		return 1 / (1 + d), d
	}
	return 1 - d, d
}

// FromSimilarity converts a raw cosine similarity into (similarity, distance).
func (m Metric) FromSimilarity(s float32) (score, distance float32) {
	return s, 1 - s
}

// Neighbor is one hit from a nearest-neighbour query. Score is higher-is-better.
type Neighbor struct {
	VideoID  string
	Score    float32
	Distance float32
}

// Payload is the metadata stored next to each vector.
type Payload struct {
	VideoID     string
	Fingerprint string
	SourcePath  string
}

// SimilarityIndex stores one feature vector per video_id and answers
// nearest-neighbour queries. Implementations map transport failures to
// errs.KindInfrastructureUnavailable.
type SimilarityIndex interface {
	Metric() Metric
	Upsert(ctx context.Context, videoID string, vector []float32, payload Payload) error
	Fetch(ctx context.Context, videoID string) ([]float32, bool, error)
	Delete(ctx context.Context, videoID string) error
	Nearest(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// MetadataStore is the relational half of the video record.
type MetadataStore interface {
	EnsurePending(ctx context.Context, v *domain.Video) (*domain.Video, error)
	MarkIndexed(ctx context.Context, v *domain.Video) error
	MarkFailed(ctx context.Context, id, reason string) error
	GetByID(ctx context.Context, id string) (*domain.Video, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Video, error)
	FindIndexedByFingerprint(ctx context.Context, fingerprint string) (*domain.Video, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, status domain.VideoStatus, limit, offset int) ([]domain.Video, error)
	Stats(ctx context.Context) (*VideoStats, error)
}

var (
	_ SimilarityIndex = (*MemoryIndex)(nil)
	_ SimilarityIndex = (*QdrantRepository)(nil)
	_ MetadataStore   = (*VideoRepository)(nil)
	_ SimilarityIndex = (*timeoutIndex)(nil)
	_ MetadataStore   = (*timeoutStore)(nil)
)
