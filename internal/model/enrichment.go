package model

import (
	"sort"
	"time"
)

// OutcomeStatus is the terminal state of one (candidate, source) attempt.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success" // Source returned a complete payload
	OutcomePartial OutcomeStatus = "partial" // Source answered but flagged the payload incomplete
	OutcomeTimeout OutcomeStatus = "timeout" // Per-source deadline expired before an answer
	OutcomeFailed  OutcomeStatus = "failed"  // Source returned an error
)

// Resolved reports whether the attempt produced usable data.
func (s OutcomeStatus) Resolved() bool {
	return s == OutcomeSuccess || s == OutcomePartial
}

// EnrichmentOutcome records one attempt against one source for one candidate.
// A later retry replaces the outcome wholesale; it is never mutated in place.
type EnrichmentOutcome struct {
	Source    string         `json:"source"`
	Status    OutcomeStatus  `json:"status"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// EnrichmentRecord is the per-candidate aggregate of latest outcomes,
// one per source.
type EnrichmentRecord struct {
	CandidateID string                       `json:"candidate_id"`
	Outcomes    map[string]EnrichmentOutcome `json:"outcomes"`
}

// NewEnrichmentRecord creates an empty record for a candidate.
func NewEnrichmentRecord(candidateID string) *EnrichmentRecord {
	return &EnrichmentRecord{
		CandidateID: candidateID,
		Outcomes:    make(map[string]EnrichmentOutcome),
	}
}

// SetOutcome replaces the outcome for the outcome's source.
func (r *EnrichmentRecord) SetOutcome(o EnrichmentOutcome) {
	r.Outcomes[o.Source] = o
}

// SourcesUsed returns the names of sources that produced usable data,
// sorted for deterministic output.
func (r *EnrichmentRecord) SourcesUsed() []string {
	return r.sourcesWhere(func(o EnrichmentOutcome) bool { return o.Status.Resolved() })
}

// SourcesFailed returns the names of sources that failed or timed out,
// sorted for deterministic output.
func (r *EnrichmentRecord) SourcesFailed() []string {
	return r.sourcesWhere(func(o EnrichmentOutcome) bool { return !o.Status.Resolved() })
}

func (r *EnrichmentRecord) sourcesWhere(keep func(EnrichmentOutcome) bool) []string {
	names := make([]string, 0, len(r.Outcomes))
	for name, o := range r.Outcomes {
		if keep(o) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MergedFields overlays all resolved payloads onto the base field set.
// Sources are applied in name order so the result never depends on
// completion order; base values win only where no source supplies the key.
func (r *EnrichmentRecord) MergedFields(base map[string]any) map[string]any {
	merged := make(map[string]any, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for _, name := range r.SourcesUsed() {
		for k, v := range r.Outcomes[name].Payload {
			if v != nil {
				merged[k] = v
			}
		}
	}
	return merged
}

// MissingDataSource tracks one failed (candidate, source) pair awaiting retry.
type MissingDataSource struct {
	CandidateID string    `json:"candidate_id"`
	Source      string    `json:"source"`
	RetryCount  int       `json:"retry_count"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// Key identifies the tuple within a job.
func (m MissingDataSource) Key() string {
	return m.CandidateID + "|" + m.Source
}
