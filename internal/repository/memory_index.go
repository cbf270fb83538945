package repository

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/timmy/motionmatch/internal/errs"
)

type memoryPoint struct {
	vector  []float32
	payload Payload
}

// MemoryIndex is an exact, in-process similarity index. It backs local runs
// and tests; it is not persisted.
type MemoryIndex struct {
	mu         sync.RWMutex
	points     map[string]memoryPoint
	metric     Metric
	dimensions int
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex(metric Metric, dimensions int) *MemoryIndex {
	return &MemoryIndex{
		points:     make(map[string]memoryPoint),
		metric:     metric,
		dimensions: dimensions,
	}
}

// Metric returns the index metric.
func (m *MemoryIndex) Metric() Metric {
	return m.metric
}

// Upsert stores or replaces a vector.
func (m *MemoryIndex) Upsert(ctx context.Context, id string, vector []float32, payload Payload) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindOf(err), "upsert interrupted", err)
	}
	if m.dimensions > 0 && len(vector) != m.dimensions {
		return errs.Newf(errs.KindInternal, "vector has %d dimensions, index expects %d", len(vector), m.dimensions)
	}
	stored := append([]float32(nil), vector...)
	m.mu.Lock()
	m.points[id] = memoryPoint{vector: stored, payload: payload}
	m.mu.Unlock()
	return nil
}

// Fetch returns a stored vector.
func (m *MemoryIndex) Fetch(ctx context.Context, id string) ([]float32, bool, error) {
	m.mu.RLock()
	p, ok := m.points[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), p.vector...), true, nil
}

// Delete removes a vector. Deleting a missing id is not an error.
func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.points, id)
	m.mu.Unlock()
	return nil
}

// Nearest returns up to k neighbours ordered by score descending.
func (m *MemoryIndex) Nearest(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "search interrupted", err)
	}

	m.mu.RLock()
	out := make([]Neighbor, 0, len(m.points))
	for id, p := range m.points {
		var n Neighbor
		n.VideoID = id
		if m.metric == MetricEuclid {
			n.Score, n.Distance = m.metric.FromDistance(euclidean(vector, p.vector))
		} else {
			n.Score, n.Distance = m.metric.FromSimilarity(cosine(vector, p.vector))
		}
		out = append(out, n)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].VideoID < out[j].VideoID
	})
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Count returns the number of stored vectors.
func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.points)), nil
}

// Ping always succeeds.
func (m *MemoryIndex) Ping(ctx context.Context) error {
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(math.Max(-1, math.Min(1, s)))
}

func euclidean(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.Inf(1))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
