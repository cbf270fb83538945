package domain

import "time"

// VideoStatus is the lifecycle state of a video record.
type VideoStatus string

const (
	VideoStatusPending VideoStatus = "pending"
	VideoStatusIndexed VideoStatus = "indexed"
	VideoStatusFailed  VideoStatus = "failed"
)

// Video is the metadata record for one video file. Its ID doubles as the
// point ID of its feature vector in the similarity index.
type Video struct {
	ID          string      `gorm:"type:text;primaryKey" json:"video_id"`
	SourcePath  string      `gorm:"type:text;not null;index:idx_videos_source_path" json:"source_path"`
	Fingerprint string      `gorm:"type:text;index:idx_videos_fingerprint" json:"fingerprint"`
	Format      string      `gorm:"type:text" json:"format"`
	FileSize    int64       `json:"file_size"`
	Duration    float64     `json:"duration"` // seconds, 0 when unknown
	Title       string      `gorm:"type:text" json:"title,omitempty"`
	Tags        StringArray `gorm:"type:text" json:"tags"`
	StorageKey  string      `gorm:"type:text" json:"storage_key,omitempty"`
	ArchiveURL  string      `gorm:"-" json:"archive_url,omitempty"`
	Status      VideoStatus `gorm:"type:text;index:idx_videos_status;default:pending" json:"status"`
	LastError   string      `gorm:"type:text" json:"last_error,omitempty"`
	IndexedAt   *time.Time  `json:"indexed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Video.
func (Video) TableName() string {
	return "videos"
}

// IsIndexed reports whether the video has a committed feature vector.
func (v *Video) IsIndexed() bool {
	return v.Status == VideoStatusIndexed
}
