package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelens/carematch/internal/model"
)

type scriptedProvider struct {
	resp *SummarizeResponse
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	return p.resp, p.err
}

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.Nil(t, provider)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "clippy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown LLM provider")
}

func TestNewProviderOpenAI(t *testing.T) {
	provider, err := NewProvider(Config{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", provider.Name())
}

func TestSummarizerNilSafe(t *testing.T) {
	var s *Summarizer
	assert.False(t, s.IsEnabled())

	narrative, err := s.GenerateNarrative(context.Background(), &model.MatchReport{})
	require.NoError(t, err)
	assert.Nil(t, narrative)
}

func TestSummarizerDisabledByEmptyProvider(t *testing.T) {
	s, err := NewSummarizer(Config{})
	require.NoError(t, err)
	assert.False(t, s.IsEnabled())
}

func TestGenerateNarrative(t *testing.T) {
	s := &Summarizer{
		provider: &scriptedProvider{resp: &SummarizeResponse{Summary: "Oakview leads.", Model: "test-model"}},
	}

	narrative, err := s.GenerateNarrative(context.Background(), &model.MatchReport{})
	require.NoError(t, err)
	assert.True(t, narrative.Enabled)
	assert.Equal(t, "scripted", narrative.Provider)
	assert.Equal(t, "Oakview leads.", narrative.SummaryMD)
	assert.Empty(t, narrative.Warnings)
}

func TestGenerateNarrativeEmptyResponseWarns(t *testing.T) {
	s := &Summarizer{provider: &scriptedProvider{resp: &SummarizeResponse{}}}

	narrative, err := s.GenerateNarrative(context.Background(), &model.MatchReport{})
	require.NoError(t, err)
	assert.NotEmpty(t, narrative.Warnings)
}

func TestGenerateNarrativePropagatesProviderError(t *testing.T) {
	s := &Summarizer{provider: &scriptedProvider{err: errors.New("rate limited")}}

	_, err := s.GenerateNarrative(context.Background(), &model.MatchReport{})
	require.Error(t, err)
}

func TestBuildPromptContainsReportDataOnly(t *testing.T) {
	report := &model.MatchReport{
		Weights:           model.ScoringWeights{"care_quality": 60, "safety": 40},
		AppliedConditions: []string{"dementia"},
		Verdicts: []model.MatchVerdict{
			{CandidateName: "Oakview", Score: 97, Status: model.StatusPartial, DataCompleteness: 100,
				Reasons: []string{"serves_dementia_band inferred from care_dementia (confidence 0.90)"}},
			{CandidateName: "Riverbank", Score: 0, Status: model.StatusDisqualified, DataCompleteness: 100},
		},
		Partial:      true,
		Completeness: 83.3,
	}

	prompt := BuildPrompt(report)

	assert.Contains(t, prompt, "Oakview")
	assert.Contains(t, prompt, "dementia")
	assert.Contains(t, prompt, "inferred")
	assert.Contains(t, prompt, "83%")
	assert.Contains(t, prompt, "care_quality: 60%")
}

func TestBuildPromptTruncatesRanking(t *testing.T) {
	report := &model.MatchReport{Weights: model.ScoringWeights{}}
	for i := 0; i < 8; i++ {
		report.Verdicts = append(report.Verdicts, model.MatchVerdict{CandidateName: "Home", Score: 50})
	}

	prompt := BuildPrompt(report)
	assert.Contains(t, prompt, "and 3 more")
}
