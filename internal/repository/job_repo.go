package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepository persists index job snapshots.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save inserts or replaces a job snapshot.
func (r *JobRepository) Save(ctx context.Context, job *domain.IndexJob) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(job).Error
	return storeErr("failed to save job", err)
}

// Get loads a job snapshot.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.IndexJob, error) {
	var job domain.IndexJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindJobNotFound, "job %s not found", id)
		}
		return nil, storeErr("failed to get job", err)
	}
	return &job, nil
}

// List returns the most recent jobs first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]domain.IndexJob, error) {
	var jobs []domain.IndexJob
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, storeErr("failed to list jobs", err)
	}
	return jobs, nil
}

// FailUnfinished marks jobs left queued or processing by a previous process as failed.
// Returns the number of rows updated.
func (r *JobRepository) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.IndexJob{}).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":         domain.JobStatusFailed,
			"failure_reason": reason,
			"finished_at":    time.Now(),
		})
	if res.Error != nil {
		return 0, storeErr("failed to close unfinished jobs", res.Error)
	}
	return res.RowsAffected, nil
}
