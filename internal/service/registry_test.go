package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
)

// memJobStore records every saved snapshot.
type memJobStore struct {
	mu      sync.Mutex
	saves   []domain.IndexJob
	latest  map[string]domain.IndexJob
	saveErr error
}

func newMemJobStore() *memJobStore {
	return &memJobStore{latest: make(map[string]domain.IndexJob)}
}

func (s *memJobStore) Save(_ context.Context, job *domain.IndexJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, *job.Clone())
	s.latest[job.ID] = *job.Clone()
	return nil
}

func (s *memJobStore) List(_ context.Context, limit int) ([]domain.IndexJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.IndexJob, 0, len(s.latest))
	for _, j := range s.latest {
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memJobStore) statuses(id string) []domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobStatus
	for _, j := range s.saves {
		if j.ID == id {
			out = append(out, j.Status)
		}
	}
	return out
}

func TestJobRegistry_NotFound(t *testing.T) {
	r := NewJobRegistry(nil)
	ctx := context.Background()

	_, err := r.Get("nope")
	assert.Equal(t, errs.KindJobNotFound, errs.KindOf(err))
	_, err = r.Start(ctx, "nope")
	assert.Equal(t, errs.KindJobNotFound, errs.KindOf(err))
	_, err = r.RequestCancel(ctx, "nope")
	assert.Equal(t, errs.KindJobNotFound, errs.KindOf(err))
	_, err = r.Finish(ctx, "nope", "")
	assert.Equal(t, errs.KindJobNotFound, errs.KindOf(err))
	assert.False(t, r.CancelRequested("nope"))
}

func TestJobRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemJobStore()
	r := NewJobRegistry(store)

	job := r.Create(ctx, "/videos", []string{"*.mp4"}, true, 2)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 2, job.Total)
	assert.Zero(t, job.Progress())

	_, err := r.RecordSuccess(job.ID)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err), "items only count while processing")

	started, err := r.Start(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, started.Status)
	assert.NotNil(t, started.StartedAt)

	_, err = r.Start(ctx, job.ID)
	assert.Error(t, err)

	_, err = r.Finish(ctx, job.ID, "")
	assert.Error(t, err, "cannot finish before every item is accounted for")

	snap, err := r.RecordSuccess(job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, snap.Progress(), 1e-9)

	_, err = r.RecordFailure(job.ID, domain.FailedItem{VideoID: "b", Kind: string(errs.KindEncodingFailed), Attempts: 3})
	require.NoError(t, err)

	_, err = r.RecordSuccess(job.ID)
	assert.Error(t, err, "completed never passes total")

	done, err := r.Finish(ctx, job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompletedWithErrors, done.Status)
	assert.Equal(t, 2, done.Completed)
	assert.Equal(t, 1, done.Succeeded)
	assert.Equal(t, 1, done.Failed())
	assert.NotNil(t, done.FinishedAt)

	_, err = r.Finish(ctx, job.ID, "")
	assert.Error(t, err, "terminal status is final")

	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusQueued,
		domain.JobStatusProcessing,
		domain.JobStatusCompletedWithErrors,
	}, store.statuses(job.ID))
}

func TestJobRegistry_FinishStatus(t *testing.T) {
	tests := []struct {
		name       string
		total      int
		succeeded  int
		reason     string
		wantStatus domain.JobStatus
		wantReason string
	}{
		{"all succeeded", 3, 3, "", domain.JobStatusCompleted, ""},
		{"some succeeded", 3, 1, "", domain.JobStatusCompletedWithErrors, ""},
		{"none succeeded", 3, 0, "", domain.JobStatusFailed, domain.JobReasonNoItemsSucceeded},
		{"cancelled", 3, 3, domain.JobReasonCancelled, domain.JobStatusFailed, domain.JobReasonCancelled},
		{"infrastructure", 3, 1, domain.JobReasonInfrastructure, domain.JobStatusFailed, domain.JobReasonInfrastructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r := NewJobRegistry(nil)
			job := r.Create(ctx, "/videos", nil, false, tt.total)
			_, err := r.Start(ctx, job.ID)
			require.NoError(t, err)
			for i := 0; i < tt.total; i++ {
				if i < tt.succeeded {
					_, err = r.RecordSuccess(job.ID)
				} else {
					_, err = r.RecordFailure(job.ID, domain.FailedItem{VideoID: "x"})
				}
				require.NoError(t, err)
			}

			done, err := r.Finish(ctx, job.ID, tt.reason)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, done.Status)
			assert.Equal(t, tt.wantReason, done.FailureReason)
			assert.Equal(t, tt.total, done.Completed)
		})
	}
}

func TestJobRegistry_ConcurrentProgress(t *testing.T) {
	ctx := context.Background()
	r := NewJobRegistry(nil)
	const total = 200
	job := r.Create(ctx, "/videos", nil, false, total)
	_, err := r.Start(ctx, job.ID)
	require.NoError(t, err)

	stop := make(chan struct{})
	var (
		readerWG  sync.WaitGroup
		regressed bool
	)
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		last := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap, err := r.Get(job.ID)
			if err != nil {
				continue
			}
			if snap.Completed < last || snap.Completed != snap.Succeeded+snap.Failed() {
				regressed = true
			}
			last = snap.Completed
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_, _ = r.RecordFailure(job.ID, domain.FailedItem{VideoID: "x"})
				return
			}
			_, _ = r.RecordSuccess(job.ID)
		}(i)
	}
	wg.Wait()
	close(stop)
	readerWG.Wait()

	assert.False(t, regressed, "snapshots must be monotonic and consistent")
	snap, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, total, snap.Completed)
	assert.Equal(t, total/4, snap.Failed())
	assert.Equal(t, total-total/4, snap.Succeeded)
}

func TestJobRegistry_Cancel(t *testing.T) {
	ctx := context.Background()
	store := newMemJobStore()
	r := NewJobRegistry(store)
	job := r.Create(ctx, "/videos", nil, false, 1)

	snap, err := r.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, snap.CancelRequested)
	assert.True(t, r.CancelRequested(job.ID))

	// Repeating the request changes nothing and writes nothing.
	_, err = r.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, store.statuses(job.ID), 2)

	_, err = r.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = r.RecordSuccess(job.ID)
	require.NoError(t, err)
	done, err := r.Finish(ctx, job.ID, domain.JobReasonCancelled)
	require.NoError(t, err)

	after, err := r.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Status, after.Status)
}

func TestJobRegistry_SnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	r := NewJobRegistry(nil)
	job := r.Create(ctx, "/videos", []string{"*.mp4"}, false, 1)

	job.Status = domain.JobStatusCompleted
	job.Patterns[0] = "*.mov"

	got, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, domain.StringArray{"*.mp4"}, got.Patterns)
}

func TestJobRegistry_ListAndCounts(t *testing.T) {
	ctx := context.Background()
	r := NewJobRegistry(nil)
	first := r.Create(ctx, "/a", nil, false, 1)
	time.Sleep(2 * time.Millisecond)
	second := r.Create(ctx, "/b", nil, false, 1)
	_, err := r.Start(ctx, second.ID)
	require.NoError(t, err)

	all := r.List("")
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
	assert.Equal(t, first.ID, all[1].ID)

	queued := r.List(domain.JobStatusQueued)
	require.Len(t, queued, 1)
	assert.Equal(t, first.ID, queued[0].ID)

	assert.Equal(t, map[domain.JobStatus]int{
		domain.JobStatusQueued:     1,
		domain.JobStatusProcessing: 1,
	}, r.Counts())
}

func TestJobRegistry_Purge(t *testing.T) {
	ctx := context.Background()
	r := NewJobRegistry(nil)
	finished := r.Create(ctx, "/a", nil, false, 0)
	_, err := r.Finish(ctx, finished.ID, "")
	require.NoError(t, err)
	active := r.Create(ctx, "/b", nil, false, 1)

	assert.Zero(t, r.Purge(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, r.Purge(time.Now().Add(time.Second)))

	_, err = r.Get(finished.ID)
	assert.Equal(t, errs.KindJobNotFound, errs.KindOf(err))
	_, err = r.Get(active.ID)
	assert.NoError(t, err)
}

func TestJobRegistry_Load(t *testing.T) {
	ctx := context.Background()
	store := newMemJobStore()
	old := NewJobRegistry(store)
	job := old.Create(ctx, "/videos", nil, false, 1)
	_, err := old.Finish(ctx, job.ID, domain.JobReasonCancelled)
	require.NoError(t, err)

	r := NewJobRegistry(store)
	n, err := r.Load(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.JobReasonCancelled, got.FailureReason)

	n, err = r.Load(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "jobs already present are kept")
}

func TestJobRegistry_PersistFailureDoesNotBlockTransitions(t *testing.T) {
	ctx := context.Background()
	store := newMemJobStore()
	store.saveErr = errors.New("disk full")
	r := NewJobRegistry(store)

	job := r.Create(ctx, "/videos", nil, false, 1)
	_, err := r.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = r.RecordSuccess(job.ID)
	require.NoError(t, err)
	done, err := r.Finish(ctx, job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
}

func TestJobRegistry_PersistsThroughRepository(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job := h.registry.Create(ctx, "/videos", []string{"*.mp4"}, false, 1)
	_, err := h.registry.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = h.registry.RecordFailure(job.ID, domain.FailedItem{VideoID: "v", Kind: string(errs.KindTimeout), Message: "slow", Attempts: 3})
	require.NoError(t, err)
	_, err = h.registry.Finish(ctx, job.ID, "")
	require.NoError(t, err)

	stored, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.JobReasonNoItemsSucceeded, stored.FailureReason)
	require.Len(t, stored.FailedItems, 1)
	assert.Equal(t, 3, stored.FailedItems[0].Attempts)
	assert.Equal(t, domain.StringArray{"*.mp4"}, stored.Patterns)
}
