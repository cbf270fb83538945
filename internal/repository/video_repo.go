package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/errs"
	"gorm.io/gorm"
)

// VideoRepository is the metadata store for video records.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *VideoRepository: repository instance bound to db.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// EnsurePending returns the record for v.ID, creating it as pending if absent.
// An existing record that is not indexed is refreshed from v and reset to
// pending; an indexed record is returned unchanged so the caller can decide
// whether a re-index is needed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - v: desired record; ID must be set.
// Returns:
//   - *domain.Video: the stored record.
//   - error: non-nil if the store fails.
func (r *VideoRepository) EnsurePending(ctx context.Context, v *domain.Video) (*domain.Video, error) {
	var out domain.Video
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&out, "id = ?", v.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = *v
			out.Status = domain.VideoStatusPending
			out.LastError = ""
			out.IndexedAt = nil
			return tx.Create(&out).Error
		}
		if err != nil {
			return err
		}
		if out.IsIndexed() {
			return nil
		}
		updates := map[string]interface{}{
			"source_path": v.SourcePath,
			"fingerprint": v.Fingerprint,
			"format":      v.Format,
			"file_size":   v.FileSize,
			"duration":    v.Duration,
			"status":      domain.VideoStatusPending,
			"last_error":  "",
		}
		if v.Title != "" {
			updates["title"] = v.Title
		}
		if len(v.Tags) > 0 {
			updates["tags"] = v.Tags
		}
		if v.StorageKey != "" {
			updates["storage_key"] = v.StorageKey
		}
		if err := tx.Model(&out).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&out, "id = ?", v.ID).Error
	})
	if err != nil {
		return nil, storeErr("failed to upsert pending video", err)
	}
	return &out, nil
}

// MarkIndexed commits the metadata half of an index operation.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - v: record carrying the ID and the fingerprint/file facts that were encoded.
// Returns:
//   - error: KindVideoNotFound if the record vanished, otherwise store failures.
func (r *VideoRepository) MarkIndexed(ctx context.Context, v *domain.Video) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      domain.VideoStatusIndexed,
		"fingerprint": v.Fingerprint,
		"source_path": v.SourcePath,
		"format":      v.Format,
		"file_size":   v.FileSize,
		"duration":    v.Duration,
		"last_error":  "",
		"indexed_at":  now,
	}
	if v.StorageKey != "" {
		updates["storage_key"] = v.StorageKey
	}
	res := r.db.WithContext(ctx).Model(&domain.Video{}).Where("id = ?", v.ID).Updates(updates)
	if res.Error != nil {
		return storeErr("failed to mark video indexed", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Newf(errs.KindVideoNotFound, "video %s not found", v.ID)
	}
	v.Status = domain.VideoStatusIndexed
	v.IndexedAt = &now
	return nil
}

// MarkFailed records a terminal failure for a video that has no committed vector.
// Indexed records are left untouched.
func (r *VideoRepository) MarkFailed(ctx context.Context, id, reason string) error {
	err := r.db.WithContext(ctx).Model(&domain.Video{}).
		Where("id = ? AND status <> ?", id, domain.VideoStatusIndexed).
		Updates(map[string]interface{}{
			"status":     domain.VideoStatusFailed,
			"last_error": reason,
		}).Error
	return storeErr("failed to mark video failed", err)
}

// GetByID retrieves a video by its ID.
// Returns:
//   - *domain.Video: the record if found.
//   - error: KindVideoNotFound when absent.
func (r *VideoRepository) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	var v domain.Video
	if err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindVideoNotFound, "video %s not found", id)
		}
		return nil, storeErr("failed to get video", err)
	}
	return &v, nil
}

// GetByIDs retrieves videos by ID. Missing IDs are absent from the map.
func (r *VideoRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Video, error) {
	out := make(map[string]*domain.Video, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var videos []domain.Video
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&videos).Error; err != nil {
		return nil, storeErr("failed to get videos", err)
	}
	for i := range videos {
		out[videos[i].ID] = &videos[i]
	}
	return out, nil
}

// FindIndexedByFingerprint returns any indexed video with the given content
// fingerprint, or nil when none exists.
func (r *VideoRepository) FindIndexedByFingerprint(ctx context.Context, fingerprint string) (*domain.Video, error) {
	var v domain.Video
	err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND status = ?", fingerprint, domain.VideoStatusIndexed).
		Order("indexed_at ASC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("failed to look up fingerprint", err)
	}
	return &v, nil
}

// Delete removes a video record.
// Returns:
//   - error: KindVideoNotFound when no row matched.
func (r *VideoRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Video{}, "id = ?", id)
	if res.Error != nil {
		return storeErr("failed to delete video", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Newf(errs.KindVideoNotFound, "video %s not found", id)
	}
	return nil
}

// List returns videos ordered by creation time, optionally filtered by status.
func (r *VideoRepository) List(ctx context.Context, status domain.VideoStatus, limit, offset int) ([]domain.Video, error) {
	q := r.db.WithContext(ctx).Model(&domain.Video{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var videos []domain.Video
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&videos).Error; err != nil {
		return nil, storeErr("failed to list videos", err)
	}
	return videos, nil
}

// VideoStats summarizes the metadata store.
type VideoStats struct {
	Indexed     int64      `json:"indexed"`
	Pending     int64      `json:"pending"`
	Failed      int64      `json:"failed"`
	DiskUsage   int64      `json:"disk_usage_bytes"`
	LastIndexed *time.Time `json:"last_indexed,omitempty"`
}

// Stats counts videos by status and sums the size of indexed files.
func (r *VideoRepository) Stats(ctx context.Context) (*VideoStats, error) {
	db := r.db.WithContext(ctx)

	var rows []struct {
		Status domain.VideoStatus
		Count  int64
	}
	if err := db.Model(&domain.Video{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, storeErr("failed to count videos", err)
	}

	stats := &VideoStats{}
	for _, row := range rows {
		switch row.Status {
		case domain.VideoStatusIndexed:
			stats.Indexed = row.Count
		case domain.VideoStatusPending:
			stats.Pending = row.Count
		case domain.VideoStatusFailed:
			stats.Failed = row.Count
		}
	}

	if err := db.Model(&domain.Video{}).
		Where("status = ?", domain.VideoStatusIndexed).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&stats.DiskUsage).Error; err != nil {
		return nil, storeErr("failed to sum file sizes", err)
	}

	var last domain.Video
	err := db.Where("status = ?", domain.VideoStatusIndexed).Order("indexed_at DESC").First(&last).Error
	switch {
	case err == nil:
		stats.LastIndexed = last.IndexedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, storeErr("failed to read last indexed video", err)
	}
	return stats, nil
}
