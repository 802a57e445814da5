package model

import "time"

// FieldMatchKind classifies how a single scoring field resolved.
type FieldMatchKind string

const (
	FieldMatch      FieldMatchKind = "match"       // Primary field present and satisfied
	FieldNoMatch    FieldMatchKind = "no_match"    // Primary field present and not satisfied
	FieldProxyMatch FieldMatchKind = "proxy_match" // Inferred from a proxy field at reduced confidence
	FieldUnknown    FieldMatchKind = "unknown"     // Neither primary nor any proxy resolved
)

// FieldMatchResult is the outcome of evaluating one scoring field.
type FieldMatchResult struct {
	Field           string         `json:"field"`
	Result          FieldMatchKind `json:"result"`
	ScoreMultiplier float64        `json:"score_multiplier"` // Applied to the field's category contribution
	Confidence      float64        `json:"confidence"`       // 1.0 for direct values, proxy weight otherwise, 0 for unknown
	ProxyUsed       string         `json:"proxy_used,omitempty"`
}

// MatchStatus is the triage verdict for a candidate.
type MatchStatus string

const (
	StatusDisqualified MatchStatus = "disqualified" // Critical capability explicitly absent
	StatusUncertain    MatchStatus = "uncertain"    // More unknowns than resolved fields
	StatusPartial      MatchStatus = "partial"      // Scored, but proxies or gaps reduced confidence
	StatusMatched      MatchStatus = "matched"      // High completeness, no critical unknowns
)

// MatchVerdict is the full scoring result for one candidate. It is recomputed
// fresh on every scoring pass and identical inputs always produce an
// identical verdict.
type MatchVerdict struct {
	CandidateID   string      `json:"candidate_id"`
	CandidateName string      `json:"candidate_name,omitempty"`
	Status        MatchStatus `json:"status"`
	Score         float64     `json:"score"` // 0-100

	MatchedFields []string           `json:"matched_fields,omitempty"`
	ProxyMatched  []FieldMatchResult `json:"proxy_matched,omitempty"`
	UnknownFields []string           `json:"unknown_fields,omitempty"`

	CategoryScores   map[string]float64 `json:"category_scores,omitempty"`
	DataCompleteness float64            `json:"data_completeness"` // Percent of fields resolved
	Reasons          []string           `json:"reasons,omitempty"`
}

// ScoringWeights maps scoring category to its percentage share.
// A derived vector always sums to 100 within rounding epsilon.
type ScoringWeights map[string]float64

// Sum returns the total of all category percentages.
func (w ScoringWeights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Clone returns an independent copy.
func (w ScoringWeights) Clone() ScoringWeights {
	out := make(ScoringWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// MatchReport is the assembled result of one match run, handed to the
// surrounding API/report layer as an in-memory structure.
type MatchReport struct {
	JobID       string    `json:"job_id"`
	GeneratedAt time.Time `json:"generated_at"`

	Weights           ScoringWeights `json:"weights"`
	AppliedConditions []string       `json:"applied_conditions,omitempty"` // Weight rules that fired

	Verdicts []MatchVerdict `json:"verdicts"` // Ranked best-first, disqualified last

	Candidates    int      `json:"candidates"`
	SourcesFailed []string `json:"sources_failed,omitempty"` // Distinct source names with unresolved outcomes
	Completeness  float64  `json:"completeness"`             // Job-level percent of (candidate, source) pairs resolved
	Partial       bool     `json:"partial"`                  // True when the retry ceiling expired with data missing

	Narrative *NarrativeSummary `json:"narrative,omitempty"` // Optional LLM narrative, never affects scores
}

// NarrativeSummary contains an optional LLM-generated explanation of the
// ranked results. It is produced after scoring from report data only and
// never feeds back into any score.
type NarrativeSummary struct {
	Enabled   bool     `json:"enabled"`
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	SummaryMD string   `json:"summary_md,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}
