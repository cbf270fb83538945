// Package cache holds the feature cache: a bounded, expiring map from content
// fingerprint to feature vector with per-key request coalescing.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const DefaultSize = 1000

// ComputeFunc produces the feature vector for a fingerprint on a cache miss.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries      int   `json:"entries"`
	Capacity     int   `json:"capacity"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Coalesced    int64 `json:"coalesced"`
	Computations int64 `json:"computations"`
}

// FeatureCache maps fingerprints to feature vectors.
// At most one computation per fingerprint runs at a time; concurrent callers
// wait for it and receive the same vector. Errors are never cached.
type FeatureCache struct {
	lru      *expirable.LRU[string, []float32]
	group    singleflight.Group
	capacity int

	hits         atomic.Int64
	misses       atomic.Int64
	coalesced    atomic.Int64
	computations atomic.Int64
}

// New creates a FeatureCache holding up to size vectors. A zero ttl disables expiry.
func New(size int, ttl time.Duration) *FeatureCache {
	if size <= 0 {
		size = DefaultSize
	}
	return &FeatureCache{
		lru:      expirable.NewLRU[string, []float32](size, nil, ttl),
		capacity: size,
	}
}

// GetOrCompute returns the vector for fingerprint, running compute on a miss.
// The boolean reports whether the value came from the cache or from a
// computation shared with other callers.
//
// The computation runs under a context detached from any single caller so that
// one caller giving up does not fail the others waiting on the same key.
func (c *FeatureCache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) ([]float32, bool, error) {
	if vec, ok := c.lru.Get(fingerprint); ok {
		c.hits.Add(1)
		return vec, true, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(fingerprint, func() (interface{}, error) {
		// A caller that missed just before the previous flight stored its value.
		if vec, ok := c.lru.Get(fingerprint); ok {
			return vec, nil
		}
		c.computations.Add(1)
		vec, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.lru.Add(fingerprint, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			c.coalesced.Add(1)
		}
		return res.Val.([]float32), res.Shared, nil
	}
}

// Invalidate drops a fingerprint.
func (c *FeatureCache) Invalidate(fingerprint string) {
	c.lru.Remove(fingerprint)
}

// Len returns the number of cached vectors.
func (c *FeatureCache) Len() int {
	return c.lru.Len()
}

// Stats returns the cache counters.
func (c *FeatureCache) Stats() Stats {
	return Stats{
		Entries:      c.lru.Len(),
		Capacity:     c.capacity,
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Coalesced:    c.coalesced.Load(),
		Computations: c.computations.Load(),
	}
}
