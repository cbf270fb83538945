package repository

import (
	"context"

	"github.com/timmy/motionmatch/internal/domain"
	"gorm.io/gorm"
)

// SearchLogRepository stores search analytics records.
type SearchLogRepository struct {
	db *gorm.DB
}

// NewSearchLogRepository creates a new SearchLogRepository.
func NewSearchLogRepository(db *gorm.DB) *SearchLogRepository {
	return &SearchLogRepository{db: db}
}

// Create inserts a search record.
func (r *SearchLogRepository) Create(ctx context.Context, q *domain.SearchQuery) error {
	return storeErr("failed to log search", r.db.WithContext(ctx).Create(q).Error)
}

// Recent returns the latest search records.
func (r *SearchLogRepository) Recent(ctx context.Context, limit int) ([]domain.SearchQuery, error) {
	var out []domain.SearchQuery
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, storeErr("failed to list searches", err)
	}
	return out, nil
}

// Count returns the number of logged searches.
func (r *SearchLogRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.SearchQuery{}).Count(&n).Error; err != nil {
		return 0, storeErr("failed to count searches", err)
	}
	return n, nil
}
