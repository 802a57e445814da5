package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelens/carematch/internal/model"
)

// fakeEnricher scripts per-tuple outcomes: a tuple fails until its budgeted
// failure count is spent, then succeeds.
type fakeEnricher struct {
	failuresLeft map[string]int
	calls        map[string]int
}

func newFakeEnricher(failures map[string]int) *fakeEnricher {
	if failures == nil {
		failures = make(map[string]int)
	}
	return &fakeEnricher{failuresLeft: failures, calls: make(map[string]int)}
}

func (f *fakeEnricher) EnrichOne(ctx context.Context, cand model.Candidate, sourceName string) model.EnrichmentOutcome {
	key := cand.ID + "|" + sourceName
	f.calls[key]++

	if f.failuresLeft[key] > 0 {
		f.failuresLeft[key]--
		return model.EnrichmentOutcome{
			Source:    sourceName,
			Status:    model.OutcomeFailed,
			Error:     "still down",
			FetchedAt: time.Now().UTC(),
		}
	}
	return model.EnrichmentOutcome{
		Source:    sourceName,
		Status:    model.OutcomeSuccess,
		Payload:   map[string]any{"recovered": true},
		FetchedAt: time.Now().UTC(),
	}
}

// alwaysFailing never spends its budget.
func alwaysFailing(keys ...string) map[string]int {
	failures := make(map[string]int, len(keys))
	for _, k := range keys {
		failures[k] = 1 << 20
	}
	return failures
}

func testRetryConfig() model.RetryConfig {
	return model.RetryConfig{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2,
		MaxRetries:        3,
		MaxTotalTime:      time.Hour,
	}
}

// setupJob registers a two-source job where source "reg" succeeded and
// source "rev" failed on the initial pass, and pins the coordinator clock.
func setupJob(t *testing.T, enricher Enricher, cfg model.RetryConfig) (*Coordinator, *MemoryJobStore, *time.Time) {
	t.Helper()

	store := NewMemoryJobStore()
	coord := NewCoordinator(store, enricher, cfg, nil)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	coord.now = func() time.Time { return clock }

	cand := model.Candidate{ID: "c1", Name: "Oakview"}
	record := model.NewEnrichmentRecord("c1")
	record.SetOutcome(model.EnrichmentOutcome{Source: "reg", Status: model.OutcomeSuccess, FetchedAt: clock})
	record.SetOutcome(model.EnrichmentOutcome{Source: "rev", Status: model.OutcomeFailed, Error: "boom", FetchedAt: clock})
	records := []*model.EnrichmentRecord{record}

	coord.RegisterJob("job-1", []model.Candidate{cand}, []string{"reg", "rev"}, records)
	require.NoError(t, coord.TrackMissing("job-1", CollectMissing(records)))

	return coord, store, &clock
}

func TestCollectMissing(t *testing.T) {
	rec := model.NewEnrichmentRecord("c1")
	rec.SetOutcome(model.EnrichmentOutcome{Source: "a", Status: model.OutcomeSuccess})
	rec.SetOutcome(model.EnrichmentOutcome{Source: "b", Status: model.OutcomeTimeout, Error: "timed out"})
	rec.SetOutcome(model.EnrichmentOutcome{Source: "c", Status: model.OutcomeFailed, Error: "500"})

	missing := CollectMissing([]*model.EnrichmentRecord{rec})

	require.Len(t, missing, 2)
	assert.Equal(t, "b", missing[0].Source)
	assert.Equal(t, "c", missing[1].Source)
	assert.Equal(t, 0, missing[0].RetryCount)
}

func TestRetryMissingRespectsBackoff(t *testing.T) {
	enricher := newFakeEnricher(alwaysFailing("c1|rev"))
	coord, _, clock := setupJob(t, enricher, testRetryConfig())

	// Base delay has not elapsed yet; nothing is eligible.
	res, err := coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retried)
	assert.Equal(t, 1, res.StillMissing)

	// After the base delay the first retry fires.
	*clock = clock.Add(time.Second)
	res, err = coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	// The next delay doubles; one more second is not enough.
	*clock = clock.Add(time.Second)
	res, err = coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retried, "backoff delay must double after each attempt")

	*clock = clock.Add(time.Second)
	res, err = coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
}

func TestRetrySuccessRemovesTupleAndCompletesJob(t *testing.T) {
	enricher := newFakeEnricher(nil) // succeeds immediately
	coord, store, clock := setupJob(t, enricher, testRetryConfig())

	*clock = clock.Add(time.Second)
	res, err := coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, res.StillMissing)

	state, ok := store.GetJobStatus("job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobComplete, state.Status)
	assert.Equal(t, 100.0, state.Completeness)
	assert.False(t, state.Partial)
	assert.Empty(t, state.Missing)

	// The recovered payload is merged into the job's records.
	records := coord.Records("job-1")
	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomeSuccess, records[0].Outcomes["rev"].Status)
	assert.Equal(t, true, records[0].Outcomes["rev"].Payload["recovered"])
}

func TestRetryExhaustionFinalizesPartial(t *testing.T) {
	enricher := newFakeEnricher(alwaysFailing("c1|rev"))
	cfg := testRetryConfig()
	coord, store, clock := setupJob(t, enricher, cfg)

	// Burn through every retry: delays are 1s, 2s, 4s.
	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		*clock = clock.Add(wait)
		res, err := coord.RetryMissing(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retried)
	}
	assert.Equal(t, 3, enricher.calls["c1|rev"])

	state, ok := store.GetJobStatus("job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobPartial, state.Status)
	assert.True(t, state.Partial)
	assert.Equal(t, 50.0, state.Completeness, "one of two tuples resolved")
	require.Len(t, state.Missing, 1)
	assert.Equal(t, cfg.MaxRetries, state.Missing[0].RetryCount)

	// A finalized job refuses further retries.
	*clock = clock.Add(time.Hour)
	res, err := coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retried)
	assert.Equal(t, 3, enricher.calls["c1|rev"], "retry count never exceeds the maximum")
}

func TestRetryCeilingFinalizesPartial(t *testing.T) {
	enricher := newFakeEnricher(alwaysFailing("c1|rev"))
	cfg := testRetryConfig()
	cfg.MaxTotalTime = 10 * time.Second
	coord, store, clock := setupJob(t, enricher, cfg)

	*clock = clock.Add(11 * time.Second)
	res, err := coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retried, "ceiling expiry finalizes without retrying")

	state, ok := store.GetJobStatus("job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobPartial, state.Status)
	assert.True(t, state.Partial)
	assert.Less(t, state.Completeness, 100.0)
}

func TestRetryCountMonotonic(t *testing.T) {
	enricher := newFakeEnricher(alwaysFailing("c1|rev"))
	coord, store, clock := setupJob(t, enricher, testRetryConfig())

	last := 0
	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		*clock = clock.Add(wait)
		_, err := coord.RetryMissing(context.Background(), "job-1")
		require.NoError(t, err)

		state, ok := store.GetJobStatus("job-1")
		require.True(t, ok)
		require.Len(t, state.Missing, 1)
		assert.Greater(t, state.Missing[0].RetryCount, last)
		last = state.Missing[0].RetryCount
	}
}

func TestTrackMissingPreservesRetryCounts(t *testing.T) {
	enricher := newFakeEnricher(alwaysFailing("c1|rev"))
	coord, _, clock := setupJob(t, enricher, testRetryConfig())

	*clock = clock.Add(time.Second)
	_, err := coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)

	// Re-tracking the same tuple must not reset its retry count.
	require.NoError(t, coord.TrackMissing("job-1", []model.MissingDataSource{
		{CandidateID: "c1", Source: "rev", LastError: "fresh error", LastAttempt: *clock},
	}))

	*clock = clock.Add(time.Second)
	res, err := coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retried, "doubled backoff still applies after re-track")
}

func TestActiveJobsAndDrop(t *testing.T) {
	enricher := newFakeEnricher(nil)
	coord, _, clock := setupJob(t, enricher, testRetryConfig())

	assert.Equal(t, []string{"job-1"}, coord.ActiveJobs())

	*clock = clock.Add(time.Second)
	_, err := coord.RetryMissing(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Empty(t, coord.ActiveJobs(), "completed jobs are not active")

	coord.Drop("job-1")
	assert.Nil(t, coord.Records("job-1"))
}

func TestRetryMissingUnknownJob(t *testing.T) {
	coord := NewCoordinator(NewMemoryJobStore(), newFakeEnricher(nil), testRetryConfig(), nil)

	_, err := coord.RetryMissing(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}
