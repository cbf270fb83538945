package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/logger"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent calls to an Encoder and normalizes its failures:
// deadline expiry becomes KindTimeout, wrong-sized output and any other
// failure without a kind become KindEncodingFailed.
type Pool struct {
	inner   Encoder
	sem     *semaphore.Weighted
	size    int64
	timeout time.Duration

	inFlight atomic.Int64
	calls    atomic.Int64
	failures atomic.Int64
}

// NewPool wraps enc with a concurrency limit of size and a per-call timeout.
// A zero timeout means no limit beyond the caller's context.
func NewPool(enc Encoder, size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		inner:   enc,
		sem:     semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		timeout: timeout,
	}
}

// Encode waits for a free slot and runs the wrapped encoder.
func (p *Pool) Encode(ctx context.Context, in Input) ([]float32, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "waiting for encoder slot", err)
	}
	defer p.sem.Release(1)

	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	p.calls.Add(1)

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := p.inner.Encode(callCtx, in)
	if err != nil {
		p.failures.Add(1)
		return nil, p.classify(ctx, callCtx, err)
	}
	if dim := p.inner.Dimensions(); dim > 0 && len(vec) != dim {
		p.failures.Add(1)
		return nil, errs.Newf(errs.KindEncodingFailed, "encoder returned %d dimensions, expected %d", len(vec), dim).
			WithDetail("path", in.Path)
	}

	logger.With(logger.Fields{"model": p.inner.Model()}).
		WithDuration(time.Since(start)).
		Debug(ctx, "Encoded %s", in.Path)
	return vec, nil
}

func (p *Pool) classify(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return errs.Wrap(errs.KindOf(parent.Err()), "encode interrupted", err)
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, fmt.Sprintf("encoder exceeded %s", p.timeout), err).
			WithDetail("timeout", p.timeout.String())
	}
	if e, ok := errs.As(err); ok {
		return e
	}
	return errs.Wrap(errs.KindEncodingFailed, "encoder failed", err)
}

// Dimensions returns the wrapped encoder's output size.
func (p *Pool) Dimensions() int {
	return p.inner.Dimensions()
}

// Model returns the wrapped encoder's model name.
func (p *Pool) Model() string {
	return p.inner.Model()
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Size     int64 `json:"size"`
	InFlight int64 `json:"in_flight"`
	Calls    int64 `json:"calls"`
	Failures int64 `json:"failures"`
}

// Stats returns current pool usage.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:     p.size,
		InFlight: p.inFlight.Load(),
		Calls:    p.calls.Load(),
		Failures: p.failures.Load(),
	}
}
