package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cast"
)

const userAgent = "carematch/0.1 (+https://github.com/carelens/carematch)"

// mapperFunc converts a raw source response into canonical candidate fields
// and reports whether the source flagged the record incomplete.
type mapperFunc func(raw map[string]any) (fields map[string]any, partial bool)

// httpJSONSource is the shared adapter for JSON-over-HTTP partner APIs.
// Each concrete source is this adapter plus a path, a lookup parameter and
// a field mapper; nothing else differs between partners.
type httpJSONSource struct {
	name       string
	capability string
	baseURL    string
	path       string
	apiKey     string
	idAttr     string // candidate attribute used as the lookup key
	param      string // query parameter carrying the lookup key
	client     *http.Client
	mapFields  mapperFunc
}

// Name returns the source name.
func (s *httpJSONSource) Name() string { return s.name }

// Capability returns the capability tag.
func (s *httpJSONSource) Capability() string { return s.capability }

// Fetch looks up the candidate and maps the response to canonical fields.
// The caller's context carries the per-source deadline; cancellation aborts
// the request in flight.
func (s *httpJSONSource) Fetch(ctx context.Context, attrs map[string]any) (*FetchResult, error) {
	id := cast.ToString(attrs[s.idAttr])
	if id == "" {
		return nil, fmt.Errorf("candidate has no %q attribute", s.idAttr)
	}

	endpoint := fmt.Sprintf("%s%s?%s=%s", s.baseURL, s.path, s.param, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: no record for %s=%s", s.name, s.param, id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", s.name, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", s.name, err)
	}

	fields, partial := s.mapFields(raw)
	return &FetchResult{Data: fields, Partial: partial}, nil
}

// setIfPresent copies a raw value into the canonical field set under the
// given name, skipping absent keys so null never overwrites anything.
func setIfPresent(out map[string]any, name string, raw map[string]any, key string) {
	if v, ok := raw[key]; ok && v != nil {
		out[name] = v
	}
}
