package domain

import "time"

// SearchQuery is an analytics record of one similarity search.
type SearchQuery struct {
	ID               string    `gorm:"type:text;primaryKey" json:"query_id"`
	QueryPath        string    `gorm:"type:text" json:"query_path,omitempty"`
	QueryFingerprint string    `gorm:"type:text" json:"query_fingerprint,omitempty"`
	TopK             int       `json:"top_k"`
	Threshold        *float32  `json:"threshold,omitempty"`
	ResultCount      int       `json:"result_count"`
	ProcessingMs     int64     `json:"processing_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for SearchQuery.
func (SearchQuery) TableName() string {
	return "search_queries"
}
