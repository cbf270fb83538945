package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/logger"
)

// JobStore mirrors job snapshots to durable storage.
type JobStore interface {
	Save(ctx context.Context, job *domain.IndexJob) error
	List(ctx context.Context, limit int) ([]domain.IndexJob, error)
}

type jobEntry struct {
	mu  sync.Mutex
	job *domain.IndexJob
}

// JobRegistry holds the state of every index job known to this process.
// Each job has its own lock, so transitions on one job are linearized while
// status reads of other jobs proceed. Callers only ever see copies.
type JobRegistry struct {
	mu    sync.RWMutex
	jobs  map[string]*jobEntry
	store JobStore
}

// NewJobRegistry creates a registry. store may be nil.
func NewJobRegistry(store JobStore) *JobRegistry {
	return &JobRegistry{
		jobs:  make(map[string]*jobEntry),
		store: store,
	}
}

// Load imports persisted jobs, e.g. after a restart. Jobs already present win.
func (r *JobRegistry) Load(ctx context.Context, limit int) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	jobs, err := r.store.List(ctx, limit)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range jobs {
		if _, ok := r.jobs[jobs[i].ID]; ok {
			continue
		}
		r.jobs[jobs[i].ID] = &jobEntry{job: jobs[i].Clone()}
		n++
	}
	return n, nil
}

// Create registers a new queued job with the given total and returns a snapshot.
func (r *JobRegistry) Create(ctx context.Context, directory string, patterns []string, recursive bool, total int) *domain.IndexJob {
	now := time.Now()
	job := &domain.IndexJob{
		ID:          uuid.New().String(),
		Status:      domain.JobStatusQueued,
		Directory:   directory,
		Patterns:    append(domain.StringArray(nil), patterns...),
		Recursive:   recursive,
		Total:       total,
		FailedItems: domain.FailedItems{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = &jobEntry{job: job}
	r.mu.Unlock()

	snapshot := job.Clone()
	r.persist(ctx, snapshot)
	return snapshot
}

func (r *JobRegistry) entry(id string) (*jobEntry, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindJobNotFound, "job %s not found", id).WithDetail("job_id", id)
	}
	return e, nil
}

// update runs fn under the job's lock and returns a snapshot taken inside it.
func (r *JobRegistry) update(id string, fn func(job *domain.IndexJob) error) (*domain.IndexJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.job); err != nil {
		return nil, err
	}
	e.job.UpdatedAt = time.Now()
	return e.job.Clone(), nil
}

// Get returns a snapshot of the job.
func (r *JobRegistry) Get(id string) (*domain.IndexJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// List returns snapshots, newest first, optionally filtered by status.
func (r *JobRegistry) List(status domain.JobStatus) []*domain.IndexJob {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*domain.IndexJob, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if status == "" || e.job.Status == status {
			out = append(out, e.job.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Start moves a queued job to processing.
func (r *JobRegistry) Start(ctx context.Context, id string) (*domain.IndexJob, error) {
	snapshot, err := r.update(id, func(job *domain.IndexJob) error {
		if job.Status != domain.JobStatusQueued {
			return errs.Newf(errs.KindInternal, "job %s cannot start from %s", id, job.Status)
		}
		now := time.Now()
		job.Status = domain.JobStatusProcessing
		job.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.persist(ctx, snapshot)
	return snapshot, nil
}

// RecordSuccess counts one indexed item.
func (r *JobRegistry) RecordSuccess(id string) (*domain.IndexJob, error) {
	return r.update(id, func(job *domain.IndexJob) error {
		if err := advance(job); err != nil {
			return err
		}
		job.Succeeded++
		return nil
	})
}

// RecordFailure counts one failed item and keeps its reason.
func (r *JobRegistry) RecordFailure(id string, item domain.FailedItem) (*domain.IndexJob, error) {
	return r.update(id, func(job *domain.IndexJob) error {
		if err := advance(job); err != nil {
			return err
		}
		job.FailedItems = append(job.FailedItems, item)
		return nil
	})
}

// advance increments Completed; it never passes Total.
func advance(job *domain.IndexJob) error {
	if job.Status != domain.JobStatusProcessing {
		return errs.Newf(errs.KindInternal, "job %s is %s, not processing", job.ID, job.Status)
	}
	if job.Completed >= job.Total {
		return errs.Newf(errs.KindInternal, "job %s already completed %d/%d items", job.ID, job.Completed, job.Total)
	}
	job.Completed++
	return nil
}

// RequestCancel marks a job for cooperative cancellation. Terminal jobs are
// returned unchanged.
func (r *JobRegistry) RequestCancel(ctx context.Context, id string) (*domain.IndexJob, error) {
	changed := false
	snapshot, err := r.update(id, func(job *domain.IndexJob) error {
		if job.Status.Terminal() || job.CancelRequested {
			return nil
		}
		job.CancelRequested = true
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		r.persist(ctx, snapshot)
	}
	return snapshot, nil
}

// CancelRequested reports whether the job was marked for cancellation.
func (r *JobRegistry) CancelRequested(id string) bool {
	job, err := r.Get(id)
	return err == nil && job.CancelRequested
}

// Finish moves the job to its terminal status. With an abort reason
// (Cancelled, InfrastructureUnavailable) the job fails regardless of counts;
// otherwise the status follows from how many items succeeded.
func (r *JobRegistry) Finish(ctx context.Context, id string, abortReason string) (*domain.IndexJob, error) {
	snapshot, err := r.update(id, func(job *domain.IndexJob) error {
		if job.Status.Terminal() {
			return errs.Newf(errs.KindInternal, "job %s already finished as %s", id, job.Status)
		}
		if job.Status == domain.JobStatusProcessing && job.Completed != job.Total {
			return errs.Newf(errs.KindInternal, "job %s finishing with %d/%d items", id, job.Completed, job.Total)
		}
		now := time.Now()
		job.FinishedAt = &now
		switch {
		case abortReason != "":
			job.Status = domain.JobStatusFailed
			job.FailureReason = abortReason
		case job.Succeeded == job.Total:
			job.Status = domain.JobStatusCompleted
		case job.Succeeded == 0:
			job.Status = domain.JobStatusFailed
			job.FailureReason = domain.JobReasonNoItemsSucceeded
		default:
			job.Status = domain.JobStatusCompletedWithErrors
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.persist(ctx, snapshot)
	return snapshot, nil
}

// Purge drops terminal jobs that finished before the cutoff.
func (r *JobRegistry) Purge(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.jobs {
		e.mu.Lock()
		expired := e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(olderThan)
		e.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

// remove forgets a job that was never handed to the scheduler.
func (r *JobRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Counts returns the number of jobs per status.
func (r *JobRegistry) Counts() map[domain.JobStatus]int {
	counts := make(map[domain.JobStatus]int)
	for _, job := range r.List("") {
		counts[job.Status]++
	}
	return counts
}

func (r *JobRegistry) persist(ctx context.Context, job *domain.IndexJob) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.WithoutCancel(ctx), job); err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldJobID, job.ID).
			Warn("Failed to persist job snapshot")
	}
}
