package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelens/carematch/internal/model"
)

func regulatorServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/locations", r.URL.Path)
		assert.Equal(t, "1-101", r.URL.Query().Get("location_id"))
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegulatorSourceMapsFields(t *testing.T) {
	srv := regulatorServer(t, `{
		"overall_rating": "Good",
		"safe_rating": "Outstanding",
		"provides_dementia_care": true,
		"provides_residential_care": true,
		"registered_beds": 42,
		"awaiting_inspection": false
	}`, http.StatusOK)

	src := NewRegulatorSource(model.SourceConfig{
		Name:       "regulator",
		Capability: "regulator",
		BaseURL:    srv.URL,
		APIKey:     "sekrit",
		Timeout:    time.Second,
	})

	res, err := src.Fetch(context.Background(), map[string]any{"location_id": "1-101"})
	require.NoError(t, err)

	assert.False(t, res.Partial)
	assert.Equal(t, "Good", res.Data["rating_overall"])
	assert.Equal(t, "Outstanding", res.Data["rating_safety"])
	assert.Equal(t, true, res.Data["care_dementia"])
	assert.Equal(t, true, res.Data["care_residential"])
	assert.NotContains(t, res.Data, "care_nursing", "absent keys are never mapped")
}

func TestRegulatorSourceAwaitingInspectionIsPartial(t *testing.T) {
	srv := regulatorServer(t, `{"provides_residential_care": true, "awaiting_inspection": true}`, http.StatusOK)

	src := NewRegulatorSource(model.SourceConfig{
		Name: "regulator", BaseURL: srv.URL, APIKey: "sekrit", Timeout: time.Second,
	})

	res, err := src.Fetch(context.Background(), map[string]any{"location_id": "1-101"})
	require.NoError(t, err)
	assert.True(t, res.Partial)
}

func TestRegulatorSourceNullsAreDropped(t *testing.T) {
	srv := regulatorServer(t, `{"overall_rating": "Good", "provides_dementia_care": null}`, http.StatusOK)

	src := NewRegulatorSource(model.SourceConfig{
		Name: "regulator", BaseURL: srv.URL, APIKey: "sekrit", Timeout: time.Second,
	})

	res, err := src.Fetch(context.Background(), map[string]any{"location_id": "1-101"})
	require.NoError(t, err)
	assert.NotContains(t, res.Data, "care_dementia", "explicit null must not become a value")
}

func TestHTTPSourceNotFound(t *testing.T) {
	srv := regulatorServer(t, `{"error":"not found"}`, http.StatusNotFound)

	src := NewRegulatorSource(model.SourceConfig{
		Name: "regulator", BaseURL: srv.URL, APIKey: "sekrit", Timeout: time.Second,
	})

	_, err := src.Fetch(context.Background(), map[string]any{"location_id": "1-101"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no record")
}

func TestHTTPSourceMissingLookupAttribute(t *testing.T) {
	src := NewRegulatorSource(model.SourceConfig{Name: "regulator", BaseURL: "http://unused"})

	_, err := src.Fetch(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "location_id")
}

func TestReviewsSourcePartialSample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scores", r.URL.Path)
		_, _ = w.Write([]byte(`{"average_score": 8.7, "review_count": 3, "reviewed_last_year": true, "sample_complete": false}`))
	}))
	defer srv.Close()

	src := NewReviewsSource(model.SourceConfig{Name: "reviews", BaseURL: srv.URL, Timeout: time.Second})

	res, err := src.Fetch(context.Background(), map[string]any{"provider_id": "p-9"})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, 8.7, res.Data["review_score"])
	assert.Equal(t, true, res.Data["review_recent"])
}

func TestFundingSourceSparseRecordIsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/providers", r.URL.Path)
		_, _ = w.Write([]byte(`{"cost_band": "mid"}`))
	}))
	defer srv.Close()

	src := NewFundingSource(model.SourceConfig{Name: "funding", BaseURL: srv.URL, Timeout: time.Second})

	res, err := src.Fetch(context.Background(), map[string]any{"provider_id": "p-9"})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, "mid", res.Data["weekly_cost_band"])
}

func TestFetchHonoursContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	src := NewRegulatorSource(model.SourceConfig{Name: "regulator", BaseURL: srv.URL, Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Fetch(ctx, map[string]any{"location_id": "1-101"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryResolve(t *testing.T) {
	cfg := model.DefaultConfig()
	reg, err := BuildRegistry(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"funding", "regulator", "reviews"}, reg.Names())

	all, err := reg.Resolve(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := reg.Resolve([]string{"regulator"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "regulator", some[0].Name())

	_, err = reg.Resolve([]string{"ghost"})
	require.Error(t, err)
}

func TestBuildRegistryRejectsUnknownCapability(t *testing.T) {
	cfg := &model.Config{Sources: []model.SourceConfig{
		{Name: "weird", Capability: "astrology", Enabled: true},
	}}

	_, err := BuildRegistry(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported capability")
}

func TestBuildRegistrySkipsDisabledSources(t *testing.T) {
	cfg := model.DefaultConfig()
	for i := range cfg.Sources {
		cfg.Sources[i].Enabled = false
	}

	_, err := BuildRegistry(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled sources")
}
