package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/carelens/carematch/internal/cache"
	"github.com/carelens/carematch/internal/model"
	"github.com/carelens/carematch/internal/source"
)

const defaultSourceTimeout = 15 * time.Second

// ProgressFunc is invoked after each candidate finishes enrichment. It is
// called on its own goroutine and must never be able to block the batch.
type ProgressFunc func(percent float64, message string)

// Stats is a snapshot of the orchestrator's counters.
type Stats struct {
	Attempts  int64
	Successes int64
	Partials  int64
	Failures  int64
	Timeouts  int64
	CacheHits int64
}

// Orchestrator fans candidates out to the configured enrichment sources with
// bounded concurrency, per-source timeouts and read-through caching. Source
// failures become recorded outcomes; nothing inside a batch ever aborts
// sibling invocations.
type Orchestrator struct {
	registry *source.Registry
	cache    cache.Cache // nil disables caching
	limiter  *source.Limiter
	log      *zap.Logger

	concurrency int

	attempts  atomic.Int64
	successes atomic.Int64
	partials  atomic.Int64
	failures  atomic.Int64
	timeouts  atomic.Int64
	cacheHits atomic.Int64
}

// NewOrchestrator creates an orchestrator. A nil cache disables caching;
// concurrency bounds simultaneous outbound calls within one candidate's
// fan-out.
func NewOrchestrator(registry *source.Registry, c cache.Cache, limiter *source.Limiter, log *zap.Logger, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		registry:    registry,
		cache:       c,
		limiter:     limiter,
		log:         log,
		concurrency: concurrency,
	}
}

// Stats returns a snapshot of the internal counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Attempts:  o.attempts.Load(),
		Successes: o.successes.Load(),
		Partials:  o.partials.Load(),
		Failures:  o.failures.Load(),
		Timeouts:  o.timeouts.Load(),
		CacheHits: o.cacheHits.Load(),
	}
}

// EnrichBatch enriches each candidate from the named sources (all registered
// sources when empty). Candidates are processed one at a time to bound peak
// memory; sources within one candidate run concurrently. The returned
// records are complete best-effort aggregates; per-source failures are
// recorded in them, never returned as errors.
func (o *Orchestrator) EnrichBatch(ctx context.Context, candidates []model.Candidate, sourceNames []string, progress ProgressFunc) ([]*model.EnrichmentRecord, error) {
	sources, err := o.registry.Resolve(sourceNames)
	if err != nil {
		return nil, err
	}

	records := make([]*model.EnrichmentRecord, 0, len(candidates))
	for i, cand := range candidates {
		record := o.enrichCandidate(ctx, cand, sources)
		records = append(records, record)

		notify(progress, float64(i+1)/float64(len(candidates))*100, cand.Name)
	}

	return records, nil
}

// EnrichOne re-invokes a single source for one candidate, bypassing the
// cache read so a retry always attempts a fresh fetch. The resulting
// outcome is cached when it resolves.
func (o *Orchestrator) EnrichOne(ctx context.Context, cand model.Candidate, sourceName string) model.EnrichmentOutcome {
	src, desc, ok := o.registry.Get(sourceName)
	if !ok {
		return model.EnrichmentOutcome{
			Source:    sourceName,
			Status:    model.OutcomeFailed,
			Error:     fmt.Sprintf("unknown source %q", sourceName),
			FetchedAt: time.Now().UTC(),
		}
	}

	outcome := o.fetchOne(ctx, cand, src, desc)
	if outcome.Status.Resolved() {
		o.writeCache(cand.ID, desc, outcome)
	}
	return outcome
}

// enrichCandidate runs the fan-out for one candidate. Each source slot has
// exactly one writer; results are combined by source name so the record
// never depends on completion order.
func (o *Orchestrator) enrichCandidate(ctx context.Context, cand model.Candidate, sources []source.Source) *model.EnrichmentRecord {
	record := model.NewEnrichmentRecord(cand.ID)
	outcomes := make([]model.EnrichmentOutcome, len(sources))

	var wg sync.WaitGroup
	tokens := make(chan struct{}, o.concurrency)

	for i, src := range sources {
		_, desc, _ := o.registry.Get(src.Name())

		// Cache read-through: a resolved prior outcome is reused without
		// invoking the source at all.
		if cached, ok := o.readCache(cand.ID, src.Name()); ok {
			o.cacheHits.Add(1)
			outcomes[i] = cached
			continue
		}

		wg.Add(1)
		go func(idx int, src source.Source, desc source.Descriptor) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				outcomes[idx] = model.EnrichmentOutcome{
					Source:    src.Name(),
					Status:    model.OutcomeFailed,
					Error:     "batch cancelled",
					FetchedAt: time.Now().UTC(),
				}
				return
			case tokens <- struct{}{}:
			}
			// Token released on every exit path, including panic recovery
			// inside fetchOne.
			defer func() { <-tokens }()

			outcome := o.fetchOne(ctx, cand, src, desc)
			if outcome.Status.Resolved() {
				o.writeCache(cand.ID, desc, outcome)
			}
			outcomes[idx] = outcome
		}(i, src, desc)
	}

	wg.Wait()

	for _, outcome := range outcomes {
		record.SetOutcome(outcome)
	}
	return record
}

// fetchOne performs one source invocation with rate limiting, a per-source
// deadline and panic containment, and classifies the result.
func (o *Orchestrator) fetchOne(ctx context.Context, cand model.Candidate, src source.Source, desc source.Descriptor) model.EnrichmentOutcome {
	o.attempts.Add(1)
	start := time.Now()

	outcome := model.EnrichmentOutcome{
		Source:    src.Name(),
		FetchedAt: start.UTC(),
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, src.Name()); err != nil {
			o.failures.Add(1)
			outcome.Status = model.OutcomeFailed
			outcome.Error = fmt.Sprintf("rate limit wait: %v", err)
			outcome.Duration = time.Since(start)
			return outcome
		}
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := o.safeFetch(fetchCtx, src, cand.Fields)
	outcome.Duration = time.Since(start)

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded)):
		o.timeouts.Add(1)
		outcome.Status = model.OutcomeTimeout
		outcome.Error = fmt.Sprintf("timed out after %v", timeout)
		o.log.Debug("source timed out",
			zap.String("source", src.Name()),
			zap.String("candidate", cand.ID),
			zap.Duration("timeout", timeout))
	case err != nil:
		o.failures.Add(1)
		outcome.Status = model.OutcomeFailed
		outcome.Error = err.Error()
		o.log.Debug("source failed",
			zap.String("source", src.Name()),
			zap.String("candidate", cand.ID),
			zap.Error(err))
	case result.Partial:
		o.partials.Add(1)
		outcome.Status = model.OutcomePartial
		outcome.Payload = result.Data
	default:
		o.successes.Add(1)
		outcome.Status = model.OutcomeSuccess
		outcome.Payload = result.Data
	}

	return outcome
}

// safeFetch contains any panic from a source adapter and converts it into
// an error, so a misbehaving adapter cannot take down the batch.
func (o *Orchestrator) safeFetch(ctx context.Context, src source.Source, attrs map[string]any) (result *source.FetchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("source panicked: %v", r)
		}
	}()

	result, err = src.Fetch(ctx, attrs)
	if err == nil && result == nil {
		err = fmt.Errorf("source returned no result")
	}
	return result, err
}

func (o *Orchestrator) readCache(candidateID, sourceName string) (model.EnrichmentOutcome, bool) {
	if o.cache == nil {
		return model.EnrichmentOutcome{}, false
	}

	data, found := o.cache.Get(cache.Key(candidateID, sourceName))
	if !found {
		return model.EnrichmentOutcome{}, false
	}

	var outcome model.EnrichmentOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		// Corrupt entry; drop it and refetch.
		_ = o.cache.Delete(cache.Key(candidateID, sourceName))
		return model.EnrichmentOutcome{}, false
	}
	if !outcome.Status.Resolved() {
		return model.EnrichmentOutcome{}, false
	}
	return outcome, true
}

func (o *Orchestrator) writeCache(candidateID string, desc source.Descriptor, outcome model.EnrichmentOutcome) {
	if o.cache == nil {
		return
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	if err := o.cache.Set(cache.Key(candidateID, desc.Name), data, desc.CacheTTL); err != nil {
		o.log.Warn("cache write failed",
			zap.String("source", desc.Name),
			zap.String("candidate", candidateID),
			zap.Error(err))
	}
}

// Invalidate clears cached outcomes for one source across all candidates.
func (o *Orchestrator) Invalidate(sourceName string) error {
	if o.cache == nil {
		return nil
	}
	return o.cache.Clear(cache.SourcePrefix(sourceName))
}

func notify(progress ProgressFunc, percent float64, message string) {
	if progress == nil {
		return
	}
	// Observational only; never allowed to block the batch.
	go progress(percent, message)
}
