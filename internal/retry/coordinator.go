package retry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carelens/carematch/internal/model"
)

// Enricher is the orchestrator's single-source path, which retries delegate
// to. Satisfied by *enrich.Orchestrator.
type Enricher interface {
	EnrichOne(ctx context.Context, cand model.Candidate, sourceName string) model.EnrichmentOutcome
}

// Result summarizes one retry pass over a job.
type Result struct {
	Retried      int // Tuples re-invoked this pass
	Succeeded    int // Tuples that resolved this pass
	StillMissing int // Tuples remaining after the pass
}

// Coordinator tracks the (candidate, source) tuples that failed or timed
// out for each job and retries them with exponential backoff until the job
// completes, every tuple exhausts its retries, or the wall-clock ceiling
// expires. Jobs are always finalized; a partial result is deliverable.
type Coordinator struct {
	store    JobStore
	enricher Enricher
	cfg      model.RetryConfig
	log      *zap.Logger

	// Injectable for tests
	now func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobTracking
}

// jobTracking is the coordinator's working state for one job.
type jobTracking struct {
	startedAt  time.Time
	totalPairs int
	candidates map[string]model.Candidate
	records    map[string]*model.EnrichmentRecord
	missing    map[string]*model.MissingDataSource
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store JobStore, enricher Enricher, cfg model.RetryConfig, log *zap.Logger) *Coordinator {
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		enricher: enricher,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		jobs:     make(map[string]*jobTracking),
	}
}

// CollectMissing extracts the failed (candidate, source) tuples from a
// batch's enrichment records.
func CollectMissing(records []*model.EnrichmentRecord) []model.MissingDataSource {
	var missing []model.MissingDataSource
	for _, record := range records {
		for _, name := range record.SourcesFailed() {
			outcome := record.Outcomes[name]
			missing = append(missing, model.MissingDataSource{
				CandidateID: record.CandidateID,
				Source:      name,
				LastAttempt: outcome.FetchedAt,
				LastError:   outcome.Error,
			})
		}
	}
	return missing
}

// RegisterJob starts tracking a job after its initial enrichment pass.
func (c *Coordinator) RegisterJob(jobID string, candidates []model.Candidate, sources []string, records []*model.EnrichmentRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracking := &jobTracking{
		startedAt:  c.now(),
		totalPairs: len(candidates) * len(sources),
		candidates: make(map[string]model.Candidate, len(candidates)),
		records:    make(map[string]*model.EnrichmentRecord, len(records)),
		missing:    make(map[string]*model.MissingDataSource),
	}
	for _, cand := range candidates {
		tracking.candidates[cand.ID] = cand
	}
	for _, record := range records {
		tracking.records[record.CandidateID] = record
	}
	c.jobs[jobID] = tracking

	_ = c.store.UpdateJobStatus(jobID, func(state *model.JobState) {
		state.Status = model.JobLoading
		state.StartedAt = tracking.startedAt
		state.TotalPairs = tracking.totalPairs
	})
}

// TrackMissing merges newly-failed tuples into the job's tracked set.
// Retry counts are preserved across merges; only the error metadata is
// last-write-wins.
func (c *Coordinator) TrackMissing(jobID string, missing []model.MissingDataSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracking, ok := c.jobs[jobID]
	if !ok {
		return fmt.Errorf("unknown job %q", jobID)
	}

	for _, m := range missing {
		m := m
		if existing, ok := tracking.missing[m.Key()]; ok {
			existing.LastAttempt = m.LastAttempt
			existing.LastError = m.LastError
			continue
		}
		tracking.missing[m.Key()] = &m
	}

	c.syncStoreLocked(jobID, tracking)
	return nil
}

// RetryMissing runs one retry pass over the job's missing tuples. A tuple
// is eligible only when its backoff delay has elapsed and it has retries
// left; eligible tuples are re-invoked one at a time per candidate. Every
// attempt bumps the retry count and last-attempt time regardless of
// outcome, so the count never decreases and never exceeds the maximum.
func (c *Coordinator) RetryMissing(ctx context.Context, jobID string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracking, ok := c.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("unknown job %q", jobID)
	}

	state, ok := c.store.GetJobStatus(jobID)
	if ok && state.Status.Terminal() {
		return &Result{StillMissing: len(tracking.missing)}, nil
	}

	now := c.now()
	if now.Sub(tracking.startedAt) >= c.cfg.MaxTotalTime {
		c.finalizeLocked(jobID, tracking)
		return &Result{StillMissing: len(tracking.missing)}, nil
	}

	result := &Result{}
	for _, key := range sortedKeys(tracking.missing) {
		m := tracking.missing[key]
		if !c.eligible(m, now) {
			continue
		}

		cand, ok := tracking.candidates[m.CandidateID]
		if !ok {
			// Tuple for a candidate the job no longer tracks; drop it.
			delete(tracking.missing, key)
			continue
		}

		outcome := c.enricher.EnrichOne(ctx, cand, m.Source)
		m.RetryCount++
		m.LastAttempt = c.now()
		result.Retried++

		if outcome.Status.Resolved() {
			result.Succeeded++
			delete(tracking.missing, key)
			if record, ok := tracking.records[m.CandidateID]; ok {
				record.SetOutcome(outcome)
			}
			c.log.Info("retry resolved source",
				zap.String("job", jobID),
				zap.String("candidate", m.CandidateID),
				zap.String("source", m.Source))
		} else {
			m.LastError = outcome.Error
			c.log.Debug("retry failed",
				zap.String("job", jobID),
				zap.String("candidate", m.CandidateID),
				zap.String("source", m.Source),
				zap.Int("retry_count", m.RetryCount))
		}
	}

	result.StillMissing = len(tracking.missing)

	if len(tracking.missing) == 0 || c.exhaustedLocked(tracking) {
		c.finalizeLocked(jobID, tracking)
	} else {
		c.syncStoreLocked(jobID, tracking)
	}

	return result, nil
}

// eligible reports whether a tuple may be retried now.
func (c *Coordinator) eligible(m *model.MissingDataSource, now time.Time) bool {
	if m.RetryCount >= c.cfg.MaxRetries {
		return false
	}
	delay := time.Duration(float64(c.cfg.BaseDelay) * math.Pow(c.cfg.BackoffMultiplier, float64(m.RetryCount)))
	return now.Sub(m.LastAttempt) >= delay
}

// exhaustedLocked reports whether every remaining tuple is out of retries.
func (c *Coordinator) exhaustedLocked(tracking *jobTracking) bool {
	for _, m := range tracking.missing {
		if m.RetryCount < c.cfg.MaxRetries {
			return false
		}
	}
	return len(tracking.missing) > 0
}

// finalizeLocked marks the job complete or partial depending on whether
// any tuples remain missing.
func (c *Coordinator) finalizeLocked(jobID string, tracking *jobTracking) {
	missing := missingSlice(tracking)
	completeness := c.completeness(tracking)

	_ = c.store.UpdateJobStatus(jobID, func(state *model.JobState) {
		state.Missing = missing
		state.Completeness = completeness
		if len(missing) == 0 {
			state.Status = model.JobComplete
			state.Completeness = 100
			state.Partial = false
		} else {
			state.Status = model.JobPartial
			state.Partial = true
		}
	})
}

// syncStoreLocked pushes the tracked missing set into the job store.
func (c *Coordinator) syncStoreLocked(jobID string, tracking *jobTracking) {
	missing := missingSlice(tracking)
	completeness := c.completeness(tracking)

	_ = c.store.UpdateJobStatus(jobID, func(state *model.JobState) {
		state.Missing = missing
		state.Completeness = completeness
		if len(missing) == 0 {
			state.Status = model.JobComplete
			state.Partial = false
		} else {
			state.Status = model.JobRetrying
		}
	})
}

func (c *Coordinator) completeness(tracking *jobTracking) float64 {
	if tracking.totalPairs == 0 {
		return 100
	}
	resolved := tracking.totalPairs - len(tracking.missing)
	return math.Round(float64(resolved)/float64(tracking.totalPairs)*1000) / 10
}

// Records returns the job's enrichment records, including any data merged
// in by successful retries.
func (c *Coordinator) Records(jobID string) []*model.EnrichmentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracking, ok := c.jobs[jobID]
	if !ok {
		return nil
	}

	records := make([]*model.EnrichmentRecord, 0, len(tracking.records))
	for _, id := range sortedKeys(tracking.records) {
		records = append(records, tracking.records[id])
	}
	return records
}

// ActiveJobs returns the IDs of jobs that are not yet finalized.
func (c *Coordinator) ActiveJobs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var active []string
	for jobID := range c.jobs {
		state, ok := c.store.GetJobStatus(jobID)
		if !ok || !state.Status.Terminal() {
			active = append(active, jobID)
		}
	}
	sort.Strings(active)
	return active
}

// Drop stops tracking a finalized job and releases its working state.
func (c *Coordinator) Drop(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, jobID)
}

func missingSlice(tracking *jobTracking) []model.MissingDataSource {
	missing := make([]model.MissingDataSource, 0, len(tracking.missing))
	for _, key := range sortedKeys(tracking.missing) {
		missing = append(missing, *tracking.missing[key])
	}
	return missing
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
