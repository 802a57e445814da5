package llm

import (
	"context"
	"fmt"

	"github.com/carelens/carematch/internal/model"
)

// Summarizer wraps a provider and produces the optional report narrative.
// A nil provider means narratives are disabled; generation failures are
// surfaced as warnings and never fail the match.
type Summarizer struct {
	provider Provider
	config   Config
}

// NewSummarizer creates a summarizer from configuration.
func NewSummarizer(config Config) (*Summarizer, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	return &Summarizer{
		provider: provider,
		config:   config,
	}, nil
}

// IsEnabled reports whether a provider is configured.
func (s *Summarizer) IsEnabled() bool {
	return s != nil && s.provider != nil
}

// GenerateNarrative produces the narrative for a finished report.
func (s *Summarizer) GenerateNarrative(ctx context.Context, report *model.MatchReport) (*model.NarrativeSummary, error) {
	if !s.IsEnabled() {
		return nil, nil
	}

	resp, err := s.provider.Summarize(ctx, SummarizeRequest{
		Report:    report,
		MaxTokens: s.config.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	summary := &model.NarrativeSummary{
		Enabled:   true,
		Provider:  s.provider.Name(),
		Model:     resp.Model,
		SummaryMD: resp.Summary,
	}
	if resp.Summary == "" {
		summary.Warnings = append(summary.Warnings, "provider returned an empty narrative")
	}
	return summary, nil
}
