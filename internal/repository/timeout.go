package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
)

// bounded runs fn under a per-call deadline of d. A deadline that fires while
// the parent context is still live becomes a retryable KindTimeout.
func bounded(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(callCtx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, op+" timed out", err).WithDetail("timeout", d.String())
	}
	return err
}

type timeoutIndex struct {
	next    SimilarityIndex
	timeout time.Duration
}

// WithIndexTimeout bounds every index call by d. A non-positive d returns idx
// unchanged.
func WithIndexTimeout(idx SimilarityIndex, d time.Duration) SimilarityIndex {
	if d <= 0 {
		return idx
	}
	return &timeoutIndex{next: idx, timeout: d}
}

func (t *timeoutIndex) Metric() Metric { return t.next.Metric() }

func (t *timeoutIndex) Upsert(ctx context.Context, videoID string, vector []float32, payload Payload) error {
	return bounded(ctx, t.timeout, "index upsert", func(ctx context.Context) error {
		return t.next.Upsert(ctx, videoID, vector, payload)
	})
}

func (t *timeoutIndex) Fetch(ctx context.Context, videoID string) (vec []float32, ok bool, err error) {
	err = bounded(ctx, t.timeout, "index fetch", func(ctx context.Context) error {
		var ferr error
		vec, ok, ferr = t.next.Fetch(ctx, videoID)
		return ferr
	})
	return vec, ok, err
}

func (t *timeoutIndex) Delete(ctx context.Context, videoID string) error {
	return bounded(ctx, t.timeout, "index delete", func(ctx context.Context) error {
		return t.next.Delete(ctx, videoID)
	})
}

func (t *timeoutIndex) Nearest(ctx context.Context, vector []float32, k int) (hits []Neighbor, err error) {
	err = bounded(ctx, t.timeout, "index query", func(ctx context.Context) error {
		var qerr error
		hits, qerr = t.next.Nearest(ctx, vector, k)
		return qerr
	})
	return hits, err
}

func (t *timeoutIndex) Count(ctx context.Context) (n int64, err error) {
	err = bounded(ctx, t.timeout, "index count", func(ctx context.Context) error {
		var cerr error
		n, cerr = t.next.Count(ctx)
		return cerr
	})
	return n, err
}

func (t *timeoutIndex) Ping(ctx context.Context) error {
	return bounded(ctx, t.timeout, "index ping", t.next.Ping)
}

type timeoutStore struct {
	next    MetadataStore
	timeout time.Duration
}

// WithStoreTimeout bounds every metadata store call by d. A non-positive d
// returns s unchanged.
func WithStoreTimeout(s MetadataStore, d time.Duration) MetadataStore {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

func (t *timeoutStore) EnsurePending(ctx context.Context, v *domain.Video) (out *domain.Video, err error) {
	err = bounded(ctx, t.timeout, "store ensure pending", func(ctx context.Context) error {
		var serr error
		out, serr = t.next.EnsurePending(ctx, v)
		return serr
	})
	return out, err
}

func (t *timeoutStore) MarkIndexed(ctx context.Context, v *domain.Video) error {
	return bounded(ctx, t.timeout, "store mark indexed", func(ctx context.Context) error {
		return t.next.MarkIndexed(ctx, v)
	})
}

func (t *timeoutStore) MarkFailed(ctx context.Context, id, reason string) error {
	return bounded(ctx, t.timeout, "store mark failed", func(ctx context.Context) error {
		return t.next.MarkFailed(ctx, id, reason)
	})
}

func (t *timeoutStore) GetByID(ctx context.Context, id string) (v *domain.Video, err error) {
	err = bounded(ctx, t.timeout, "store get", func(ctx context.Context) error {
		var serr error
		v, serr = t.next.GetByID(ctx, id)
		return serr
	})
	return v, err
}

func (t *timeoutStore) GetByIDs(ctx context.Context, ids []string) (m map[string]*domain.Video, err error) {
	err = bounded(ctx, t.timeout, "store get many", func(ctx context.Context) error {
		var serr error
		m, serr = t.next.GetByIDs(ctx, ids)
		return serr
	})
	return m, err
}

func (t *timeoutStore) FindIndexedByFingerprint(ctx context.Context, fingerprint string) (v *domain.Video, err error) {
	err = bounded(ctx, t.timeout, "store find fingerprint", func(ctx context.Context) error {
		var serr error
		v, serr = t.next.FindIndexedByFingerprint(ctx, fingerprint)
		return serr
	})
	return v, err
}

func (t *timeoutStore) Delete(ctx context.Context, id string) error {
	return bounded(ctx, t.timeout, "store delete", func(ctx context.Context) error {
		return t.next.Delete(ctx, id)
	})
}

func (t *timeoutStore) List(ctx context.Context, status domain.VideoStatus, limit, offset int) (videos []domain.Video, err error) {
	err = bounded(ctx, t.timeout, "store list", func(ctx context.Context) error {
		var serr error
		videos, serr = t.next.List(ctx, status, limit, offset)
		return serr
	})
	return videos, err
}

func (t *timeoutStore) Stats(ctx context.Context) (st *VideoStats, err error) {
	err = bounded(ctx, t.timeout, "store stats", func(ctx context.Context) error {
		var serr error
		st, serr = t.next.Stats(ctx)
		return serr
	})
	return st, err
}
