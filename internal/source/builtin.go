package source

import (
	"net/http"
	"time"

	"github.com/spf13/cast"

	"github.com/carelens/carematch/internal/model"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		// Backstop only; the orchestrator's per-call context deadline is
		// the real timeout.
		Timeout: timeout + 5*time.Second,
	}
}

// NewRegulatorSource adapts the care regulator's location API. It supplies
// the inspection rating and the registered care-type flags.
func NewRegulatorSource(cfg model.SourceConfig) Source {
	return &httpJSONSource{
		name:       cfg.Name,
		capability: cfg.Capability,
		baseURL:    cfg.BaseURL,
		path:       "/locations",
		apiKey:     cfg.APIKey,
		idAttr:     "location_id",
		param:      "location_id",
		client:     newHTTPClient(cfg.Timeout),
		mapFields:  mapRegulatorFields,
	}
}

func mapRegulatorFields(raw map[string]any) (map[string]any, bool) {
	out := make(map[string]any)
	setIfPresent(out, "rating_overall", raw, "overall_rating")
	setIfPresent(out, "rating_safety", raw, "safe_rating")
	setIfPresent(out, "care_dementia", raw, "provides_dementia_care")
	setIfPresent(out, "care_residential", raw, "provides_residential_care")
	setIfPresent(out, "care_nursing", raw, "provides_nursing_care")
	setIfPresent(out, "registered_beds", raw, "registered_beds")
	setIfPresent(out, "last_inspection", raw, "last_inspection_date")

	// Locations awaiting their first inspection come back without ratings
	// and the registry marks them as such.
	partial := cast.ToBool(raw["awaiting_inspection"])
	if _, ok := out["rating_overall"]; !ok {
		partial = true
	}
	return out, partial
}

// NewReviewsSource adapts the review aggregator. It supplies the average
// review score and sample size.
func NewReviewsSource(cfg model.SourceConfig) Source {
	return &httpJSONSource{
		name:       cfg.Name,
		capability: cfg.Capability,
		baseURL:    cfg.BaseURL,
		path:       "/scores",
		apiKey:     cfg.APIKey,
		idAttr:     "provider_id",
		param:      "provider_id",
		client:     newHTTPClient(cfg.Timeout),
		mapFields:  mapReviewFields,
	}
}

func mapReviewFields(raw map[string]any) (map[string]any, bool) {
	out := make(map[string]any)
	setIfPresent(out, "review_score", raw, "average_score")
	setIfPresent(out, "review_count", raw, "review_count")
	setIfPresent(out, "review_recent", raw, "reviewed_last_year")

	partial := !cast.ToBool(raw["sample_complete"])
	return out, partial
}

// NewFundingSource adapts the funding directory. It supplies which funding
// routes the home accepts and its cost band.
func NewFundingSource(cfg model.SourceConfig) Source {
	return &httpJSONSource{
		name:       cfg.Name,
		capability: cfg.Capability,
		baseURL:    cfg.BaseURL,
		path:       "/providers",
		apiKey:     cfg.APIKey,
		idAttr:     "provider_id",
		param:      "provider_id",
		client:     newHTTPClient(cfg.Timeout),
		mapFields:  mapFundingFields,
	}
}

func mapFundingFields(raw map[string]any) (map[string]any, bool) {
	out := make(map[string]any)
	setIfPresent(out, "accepts_local_funding", raw, "accepts_la_funding")
	setIfPresent(out, "accepts_nhs_funding", raw, "accepts_chc_funding")
	setIfPresent(out, "accepts_top_up", raw, "accepts_top_up")
	setIfPresent(out, "weekly_cost_band", raw, "cost_band")

	return out, len(out) < 2
}
