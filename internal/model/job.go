package model

import "time"

// JobStatus tracks a match job through enrichment and recovery.
type JobStatus string

const (
	JobPending  JobStatus = "pending"  // Created, enrichment not started
	JobLoading  JobStatus = "loading"  // Initial enrichment in flight
	JobRetrying JobStatus = "retrying" // Missing sources scheduled for retry
	JobComplete JobStatus = "complete" // Every (candidate, source) pair resolved
	JobPartial  JobStatus = "partial"  // Retry ceiling expired with pairs still missing
)

// Terminal reports whether no further retries will be attempted.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobPartial
}

// JobState is the persisted view of a match job's data completeness.
type JobState struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TotalPairs   int                 `json:"total_pairs"` // candidates x enabled sources
	Missing      []MissingDataSource `json:"missing,omitempty"`
	Completeness float64             `json:"completeness"` // 0-100
	Partial      bool                `json:"partial"`
}
