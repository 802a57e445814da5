package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carelens/carematch/internal/cache"
	"github.com/carelens/carematch/internal/enrich"
	"github.com/carelens/carematch/internal/llm"
	"github.com/carelens/carematch/internal/model"
	"github.com/carelens/carematch/internal/retry"
	"github.com/carelens/carematch/internal/score"
	"github.com/carelens/carematch/internal/source"
)

// MatchRequest is one complete matching task: a requester profile plus the
// candidates to score. An empty Sources list means every enabled source.
type MatchRequest struct {
	Profile    model.RequesterProfile `json:"profile"`
	Candidates []model.Candidate      `json:"candidates"`
	Sources    []string               `json:"sources,omitempty"`
}

// Matcher orchestrates the complete match: enrichment fan-out, weight
// derivation, candidate scoring, ranking and report assembly.
type Matcher struct {
	cfg        *model.Config
	orch       *enrich.Orchestrator
	engine     *score.Engine
	coord      *retry.Coordinator
	store      retry.JobStore
	summarizer *llm.Summarizer
	log        *zap.Logger
	progress   enrich.ProgressFunc
}

// NewMatcher wires the full pipeline from configuration. Malformed scoring
// tables or source configuration abort here, at startup, never per
// candidate.
func NewMatcher(cfg *model.Config, log *zap.Logger) (*Matcher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	scoringCfg, err := score.LoadConfig(cfg.Scoring.ConfigFile)
	if err != nil {
		return nil, err
	}
	engine, err := score.NewEngine(scoringCfg)
	if err != nil {
		return nil, err
	}

	registry, err := source.BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	enrichCache, err := buildCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	limiter := source.NewLimiter(5, 5)
	for _, sc := range cfg.Sources {
		if sc.Enabled && sc.RateLimit > 0 {
			limiter.SetSourceRate(sc.Name, sc.RateLimit, sc.Burst)
		}
	}

	orch := enrich.NewOrchestrator(registry, enrichCache, limiter, log, cfg.Concurrency.EnrichmentWorkers)
	store := retry.NewMemoryJobStore()
	coord := retry.NewCoordinator(store, orch, cfg.Retry, log)

	summarizer, err := llm.NewSummarizer(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, err
	}

	return &Matcher{
		cfg:        cfg,
		orch:       orch,
		engine:     engine,
		coord:      coord,
		store:      store,
		summarizer: summarizer,
		log:        log,
	}, nil
}

func buildCache(cfg model.CacheConfig) (cache.Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	local := cache.NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	if cfg.RedisAddr == "" {
		return local, nil
	}

	shared, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.MemoryTTL)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return cache.NewLayeredCache(local, shared), nil
}

// SetProgress installs a progress callback for enrichment. Observational
// only; it runs on its own goroutine.
func (m *Matcher) SetProgress(fn enrich.ProgressFunc) {
	m.progress = fn
}

// Coordinator exposes the retry coordinator for background sweeping.
func (m *Matcher) Coordinator() *retry.Coordinator {
	return m.coord
}

// JobStore exposes job completeness state.
func (m *Matcher) JobStore() retry.JobStore {
	return m.store
}

// Stats returns the orchestrator's counters.
func (m *Matcher) Stats() enrich.Stats {
	return m.orch.Stats()
}

// Match runs one complete match. The result is always best-effort: source
// failures degrade completeness metadata, they never block delivery.
func (m *Matcher) Match(ctx context.Context, req *MatchRequest) (*model.MatchReport, error) {
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates to match")
	}

	jobID := uuid.NewString()
	sources := req.Sources
	if len(sources) == 0 {
		sources = m.cfg.EnabledSources()
	}

	m.log.Info("starting match",
		zap.String("job", jobID),
		zap.Int("candidates", len(req.Candidates)),
		zap.Strings("sources", sources))

	records, err := m.orch.EnrichBatch(ctx, req.Candidates, sources, m.progress)
	if err != nil {
		return nil, fmt.Errorf("enrich: %w", err)
	}

	m.coord.RegisterJob(jobID, req.Candidates, sources, records)
	if err := m.coord.TrackMissing(jobID, retry.CollectMissing(records)); err != nil {
		return nil, err
	}

	return m.assembleReport(ctx, jobID, req, records)
}

// Reassemble rebuilds the report for a job after retries have merged more
// data into its records.
func (m *Matcher) Reassemble(ctx context.Context, jobID string, req *MatchRequest) (*model.MatchReport, error) {
	records := m.coord.Records(jobID)
	if records == nil {
		return nil, fmt.Errorf("unknown job %q", jobID)
	}
	return m.assembleReport(ctx, jobID, req, records)
}

func (m *Matcher) assembleReport(ctx context.Context, jobID string, req *MatchRequest, records []*model.EnrichmentRecord) (*model.MatchReport, error) {
	weights, applied := m.engine.DeriveWeights(&req.Profile)

	byID := make(map[string]*model.EnrichmentRecord, len(records))
	for _, record := range records {
		byID[record.CandidateID] = record
	}

	failed := make(map[string]bool)
	verdicts := make([]model.MatchVerdict, 0, len(req.Candidates))
	for _, cand := range req.Candidates {
		fields := cand.Fields
		if record, ok := byID[cand.ID]; ok {
			fields = record.MergedFields(cand.Fields)
			for _, name := range record.SourcesFailed() {
				failed[name] = true
			}
		}
		verdicts = append(verdicts, m.engine.EvaluateCandidate(cand, fields, &req.Profile, weights))
	}

	rankVerdicts(verdicts)

	report := &model.MatchReport{
		JobID:             jobID,
		GeneratedAt:       time.Now().UTC(),
		Weights:           weights,
		AppliedConditions: applied,
		Verdicts:          verdicts,
		Candidates:        len(req.Candidates),
		SourcesFailed:     sortedNames(failed),
		Completeness:      100,
	}

	if state, ok := m.store.GetJobStatus(jobID); ok {
		report.Completeness = state.Completeness
		report.Partial = state.Partial
	}

	if m.summarizer.IsEnabled() {
		narrative, err := m.summarizer.GenerateNarrative(ctx, report)
		if err != nil {
			// Narratives are decoration; a provider failure never fails
			// the match.
			m.log.Warn("narrative generation failed", zap.Error(err))
		} else {
			report.Narrative = narrative
		}
	}

	return report, nil
}

// rankVerdicts orders best-first: disqualified candidates sink to the
// bottom, then score descending, then completeness, then name for a
// stable, deterministic order.
func rankVerdicts(verdicts []model.MatchVerdict) {
	sort.SliceStable(verdicts, func(i, j int) bool {
		a, b := verdicts[i], verdicts[j]
		aDQ := a.Status == model.StatusDisqualified
		bDQ := b.Status == model.StatusDisqualified
		if aDQ != bDQ {
			return !aDQ
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DataCompleteness != b.DataCompleteness {
			return a.DataCompleteness > b.DataCompleteness
		}
		return a.CandidateName < b.CandidateName
	})
}

func sortedNames(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
