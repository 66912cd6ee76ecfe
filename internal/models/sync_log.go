package models

import "time"

// SyncLogEntry records the watermark of one (resource type, filter) pull.
type SyncLogEntry struct {
	ID           int64      `json:"id"`
	ResourceType string     `json:"resource_type"`
	Filter       string     `json:"filter"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LastETag     string     `json:"last_etag,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
}

// SyncLogQuery is an open, resumable paginated query against the upstream.
type SyncLogQuery struct {
	ID          int64      `json:"id"`
	LogID       int64      `json:"log_id"`
	QueryID     string     `json:"query_id"`
	Offset      int        `json:"offset"`
	StartTime   time.Time  `json:"start_time"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsStale reports whether the query started longer than maxAge before now.
func (q *SyncLogQuery) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.StartTime) > maxAge
}

// IsComplete reports whether the query was completed.
func (q *SyncLogQuery) IsComplete() bool {
	return q.CompletedAt != nil
}
