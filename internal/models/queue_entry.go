package models

import "time"

// QueueEntry represents one unit of work owned by a queue.
type QueueEntry struct {
	ID             int64     `json:"id"`
	CorrelationKey string    `json:"correlation_key"`
	CreationTime   time.Time `json:"creation_time"`
	ResourceType   string    `json:"resource_type"`
	Operation      Operation `json:"operation"`
	RetryCount     *int      `json:"retry_count,omitempty"`
	Queue          string    `json:"queue"`

	// Data is the transient payload; DataFileKey references it when stored out of line.
	Data        Payload `json:"-"`
	DataFileKey string  `json:"data_file_key,omitempty"`

	// OriginalQueue is only set on dead-letter entries. Reason records why an
	// entry was copied from another queue.
	OriginalQueue string `json:"original_queue,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Retries returns the retry count, treating an absent value as zero.
func (e *QueueEntry) Retries() int {
	if e == nil || e.RetryCount == nil {
		return 0
	}
	return *e.RetryCount
}

// IsRetry reports whether this is not the first delivery attempt.
func (e *QueueEntry) IsRetry() bool {
	return e.Retries() > 0
}

// IsDeadLetter reports whether the entry carries dead-letter provenance.
func (e *QueueEntry) IsDeadLetter() bool {
	return e != nil && e.OriginalQueue != ""
}

// IntPtr is a small helper for nullable int fields.
func IntPtr(v int) *int {
	return &v
}

// QueueRecord is the stored form of a queue entry: the entry metadata plus the
// encoded payload when it is kept inline.
type QueueRecord struct {
	QueueEntry
	Payload []byte `json:"payload,omitempty"`
	Codec   string `json:"codec,omitempty"`
}
