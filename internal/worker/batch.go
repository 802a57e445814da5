package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/carelens/carematch/internal/model"
	"github.com/carelens/carematch/internal/pipeline"
)

// Matcher defines the interface for running one match request.
type Matcher interface {
	Match(ctx context.Context, req *pipeline.MatchRequest) (*model.MatchReport, error)
}

// MatchJob runs one named match request.
type MatchJob struct {
	Name    string
	Request *pipeline.MatchRequest
	Matcher Matcher
}

// Execute executes the match job.
func (j *MatchJob) Execute(ctx context.Context) Result {
	report, err := j.Matcher.Match(ctx, j.Request)
	return &MatchResult{
		Name:   j.Name,
		Report: report,
		Error:  err,
	}
}

// MatchResult represents the result of a match job.
type MatchResult struct {
	Name   string
	Report *model.MatchReport
	Error  error
}

// GetError returns the error from the match result.
func (r *MatchResult) GetError() error {
	return r.Error
}

// BatchProcessor runs multiple match requests concurrently.
type BatchProcessor struct {
	matcher     Matcher
	concurrency int
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(matcher Matcher, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		matcher:     matcher,
		concurrency: concurrency,
	}
}

// Process runs all named requests through the pool and returns their results.
func (b *BatchProcessor) Process(ctx context.Context, requests map[string]*pipeline.MatchRequest) []*MatchResult {
	if len(requests) == 0 {
		return []*MatchResult{}
	}

	pool := NewPool(b.concurrency)
	pool.Start()

	for name, req := range requests {
		pool.Submit(&MatchJob{
			Name:    name,
			Request: req,
			Matcher: b.matcher,
		})
	}

	results := pool.Wait()

	matchResults := make([]*MatchResult, len(results))
	for i, result := range results {
		matchResults[i] = result.(*MatchResult)
	}
	sort.Slice(matchResults, func(i, j int) bool {
		return matchResults[i].Name < matchResults[j].Name
	})

	return matchResults
}

// ProcessDir loads every *.json request file in a directory and processes
// them concurrently. The file stem becomes the request name.
func (b *BatchProcessor) ProcessDir(ctx context.Context, dir string) ([]*MatchResult, error) {
	requests, err := ReadRequestsFromDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	return b.Process(ctx, requests), nil
}

// ReadRequestsFromDir reads match request files (*.json) from a directory.
func ReadRequestsFromDir(dir string) (map[string]*pipeline.MatchRequest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	requests := make(map[string]*pipeline.MatchRequest)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var req pipeline.MatchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), ".json")
		requests[name] = &req
	}

	if len(requests) == 0 {
		return nil, fmt.Errorf("no request files found in %s", dir)
	}

	return requests, nil
}
