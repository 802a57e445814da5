package source

import (
	"context"
	"time"
)

// Source is an external capability that supplies additional data about a
// candidate. Implementations must honor cancellation and return promptly
// after the context is done; they report failure through the returned
// error, never by panicking.
type Source interface {
	// Name returns the unique source name.
	Name() string

	// Capability returns the capability tag (e.g. "regulator", "reviews").
	Capability() string

	// Fetch looks the candidate up by its identifying attributes and
	// returns the canonical field payload.
	Fetch(ctx context.Context, attrs map[string]any) (*FetchResult, error)
}

// FetchResult is the payload returned by one source lookup.
type FetchResult struct {
	// Data maps canonical field names to values.
	Data map[string]any

	// Partial is set when the source answered but flagged its own
	// response as incomplete. Partial data is still merged; it is
	// better than none.
	Partial bool
}

// Descriptor is the static per-source configuration the orchestrator needs.
type Descriptor struct {
	Name       string
	Capability string
	Timeout    time.Duration
	CacheTTL   time.Duration
}
