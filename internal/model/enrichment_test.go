package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeResolved(t *testing.T) {
	assert.True(t, OutcomeSuccess.Resolved())
	assert.True(t, OutcomePartial.Resolved())
	assert.False(t, OutcomeTimeout.Resolved())
	assert.False(t, OutcomeFailed.Resolved())
}

func TestRecordSourcePartition(t *testing.T) {
	rec := NewEnrichmentRecord("c1")
	rec.SetOutcome(EnrichmentOutcome{Source: "reviews", Status: OutcomeSuccess})
	rec.SetOutcome(EnrichmentOutcome{Source: "funding", Status: OutcomePartial})
	rec.SetOutcome(EnrichmentOutcome{Source: "regulator", Status: OutcomeTimeout})

	assert.Equal(t, []string{"funding", "reviews"}, rec.SourcesUsed())
	assert.Equal(t, []string{"regulator"}, rec.SourcesFailed())
}

func TestSetOutcomeReplacesWholesale(t *testing.T) {
	rec := NewEnrichmentRecord("c1")
	rec.SetOutcome(EnrichmentOutcome{Source: "reviews", Status: OutcomeFailed, Error: "boom"})
	rec.SetOutcome(EnrichmentOutcome{Source: "reviews", Status: OutcomeSuccess, Payload: map[string]any{"review_score": 9.0}})

	out := rec.Outcomes["reviews"]
	assert.Equal(t, OutcomeSuccess, out.Status)
	assert.Empty(t, out.Error, "a retry replaces the outcome, it never merges")
}

func TestMergedFieldsOverlayOrder(t *testing.T) {
	rec := NewEnrichmentRecord("c1")
	rec.SetOutcome(EnrichmentOutcome{
		Source: "a", Status: OutcomeSuccess,
		Payload: map[string]any{"rating_overall": "Good", "shared": "from-a"},
	})
	rec.SetOutcome(EnrichmentOutcome{
		Source: "b", Status: OutcomeSuccess,
		Payload: map[string]any{"shared": "from-b", "nullish": nil},
	})
	rec.SetOutcome(EnrichmentOutcome{
		Source: "c", Status: OutcomeFailed,
		Payload: map[string]any{"shared": "from-failed"},
	})

	base := map[string]any{"location_id": "1-101", "shared": "from-base"}
	merged := rec.MergedFields(base)

	assert.Equal(t, "1-101", merged["location_id"], "base values survive where no source writes")
	assert.Equal(t, "Good", merged["rating_overall"])
	assert.Equal(t, "from-b", merged["shared"], "later source name wins regardless of completion order")
	assert.NotContains(t, merged, "nullish", "null payload values never overwrite")

	// The input base map is left untouched.
	assert.Equal(t, "from-base", base["shared"])
}

func TestMissingDataSourceKey(t *testing.T) {
	m := MissingDataSource{CandidateID: "c1", Source: "reviews"}
	assert.Equal(t, "c1|reviews", m.Key())
}

func TestCandidateFieldNilIsAbsent(t *testing.T) {
	cand := Candidate{ID: "c1", Fields: map[string]any{"a": nil, "b": true}}

	_, ok := cand.Field("a")
	assert.False(t, ok)
	v, ok := cand.Field("b")
	assert.True(t, ok)
	assert.Equal(t, true, v)
}
