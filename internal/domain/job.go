package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the status of an index job.
// Transitions: queued -> processing -> completed | completed_with_errors | failed.
type JobStatus string

const (
	JobStatusQueued              JobStatus = "queued"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	}
	return false
}

// Job failure reasons recorded when a job ends in JobStatusFailed.
const (
	JobReasonCancelled        = "Cancelled"
	JobReasonInfrastructure   = "InfrastructureUnavailable"
	JobReasonNoItemsSucceeded = "NoItemsSucceeded"
	JobReasonInterrupted      = "Interrupted" // process stopped while the job was unfinished
)

// FailedItem records why one video in a job did not get indexed.
type FailedItem struct {
	VideoID  string `json:"video_id"`
	Path     string `json:"path"`
	Kind     string `json:"error_kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// FailedItems is stored as a JSON column.
type FailedItems []FailedItem

// Value implements the driver.Valuer interface.
func (f FailedItems) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (f *FailedItems) Scan(value interface{}) error {
	if value == nil {
		*f = FailedItems{}
		return nil
	}
	raw, err := jsonBytes(value)
	if err != nil {
		return errors.New("failed to scan FailedItems")
	}
	return json.Unmarshal(raw, f)
}

// IndexJob tracks a batch indexing request and its progress.
type IndexJob struct {
	ID              string      `gorm:"type:text;primaryKey" json:"job_id"`
	Status          JobStatus   `gorm:"type:text;index:idx_index_jobs_status;default:queued" json:"status"`
	Directory       string      `gorm:"type:text" json:"directory,omitempty"`
	Patterns        StringArray `gorm:"type:text" json:"patterns,omitempty"`
	Recursive       bool        `json:"recursive"`
	Total           int         `json:"total_videos"`
	Completed       int         `json:"completed"`
	Succeeded       int         `json:"succeeded"`
	FailedItems     FailedItems `gorm:"type:text" json:"failed_items"`
	FailureReason   string      `gorm:"type:text" json:"failure_reason,omitempty"`
	CancelRequested bool        `json:"cancel_requested"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName returns the database table name for IndexJob.
func (IndexJob) TableName() string {
	return "index_jobs"
}

// Failed returns the number of failed items.
func (j *IndexJob) Failed() int {
	return len(j.FailedItems)
}

// Progress returns completed/total in [0,1]. An empty job reports 1 once terminal.
func (j *IndexJob) Progress() float64 {
	if j.Total == 0 {
		if j.Status.Terminal() {
			return 1
		}
		return 0
	}
	return float64(j.Completed) / float64(j.Total)
}

// Clone returns a deep copy safe to hand to callers.
func (j *IndexJob) Clone() *IndexJob {
	c := *j
	c.Patterns = append(StringArray(nil), j.Patterns...)
	c.FailedItems = append(FailedItems(nil), j.FailedItems...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
