package llm

import (
	"context"
	"fmt"

	"github.com/carelens/carematch/internal/model"
)

// Provider defines the interface for LLM providers.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Summarize generates a narrative for the match report.
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error)
}

// SummarizeRequest contains the input for narrative generation.
type SummarizeRequest struct {
	// Report is the finished match report. Scoring is already done; the
	// narrative describes it and can never feed back into it.
	Report *model.MatchReport

	// MaxTokens limits the response length.
	MaxTokens int
}

// SummarizeResponse contains the LLM's output.
type SummarizeResponse struct {
	Summary    string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration.
type Config struct {
	Provider  string // "openai" or "" (disabled)
	Model     string
	APIKey    string
	BaseURL   string
	Timeout   int // seconds
	MaxTokens int
}

// NewProvider creates a provider from configuration. An empty provider
// name returns (nil, nil): narratives disabled.
func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "openai":
		return NewOpenAIProvider(config)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config.
func ConfigFromModel(mc model.LLMConfig) Config {
	return Config{
		Provider:  mc.Provider,
		Model:     mc.Model,
		APIKey:    mc.APIKey,
		BaseURL:   mc.BaseURL,
		Timeout:   mc.Timeout,
		MaxTokens: mc.MaxTokens,
	}
}

// BuildPrompt constructs the default narrative prompt from report data.
// The prompt constrains the model to describing the scored results; it is
// given nothing that is not already in the report.
func BuildPrompt(report *model.MatchReport) string {
	prompt := fmt.Sprintf(`You are summarizing a care home match report for a family. The scoring is already final; describe it, do not second-guess it.

RULES:
1. Only mention candidates and numbers that appear below.
2. Flag any candidate whose data completeness is under 70%% as needing verification.
3. Mention that scores based on proxy data are inferred, not confirmed.
4. Do not recommend anything not in the list.

Weights applied (conditions: %v):
`, report.AppliedConditions)

	for cat, w := range report.Weights {
		prompt += fmt.Sprintf("- %s: %.0f%%\n", cat, w)
	}

	prompt += "\nRanked candidates:\n"
	for i, v := range report.Verdicts {
		if i >= 5 {
			prompt += fmt.Sprintf("... and %d more\n", len(report.Verdicts)-5)
			break
		}
		prompt += fmt.Sprintf("%d. %s: score %.1f, status %s, data completeness %.0f%%\n",
			i+1, v.CandidateName, v.Score, v.Status, v.DataCompleteness)
		for _, reason := range v.Reasons {
			prompt += fmt.Sprintf("   - %s\n", reason)
		}
	}

	if report.Partial {
		prompt += fmt.Sprintf("\nNote: %.0f%% of source data was retrievable; some results are provisional.\n", report.Completeness)
	}

	prompt += "\nWrite a 3-5 sentence plain-language summary of the top matches and any caveats."
	return prompt
}
