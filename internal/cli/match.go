package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/carelens/carematch/internal/logger"
	"github.com/carelens/carematch/internal/model"
	"github.com/carelens/carematch/internal/pipeline"
	"github.com/carelens/carematch/internal/retry"
)

var (
	outJSON        string
	matchTimeout   time.Duration
	noCache        bool
	resolveMissing bool
	resolveWait    time.Duration
	llmEnabled     bool
	llmModel       string
	jsonLogs       bool
)

// matchCmd represents the match command
var matchCmd = &cobra.Command{
	Use:   "match <request.json>",
	Short: "Match candidates in a request file against the requester profile",
	Long: `Match runs the full pipeline for one request file:
- Enrich every candidate concurrently from the configured data sources
- Derive scoring weights from the requester profile
- Score and rank candidates with proxy fallback for missing data
- Track failed sources and optionally retry them until resolved

The request file contains the requester profile and the candidate list:

  {
    "profile": {
      "attributes": {"dementia": true, "fall_risk": "high"},
      "required_capabilities": ["dementia"],
      "critical_capabilities": ["dementia"]
    },
    "candidates": [
      {"id": "1-101", "name": "Oaklands", "fields": {"location_id": "1-101", "provider_id": "P-9"}}
    ]
  }

Example:
  carematch match request.json
  carematch match request.json --json report.json --resolve --resolve-wait 30m
  carematch match request.json --llm --llm-model gpt-4o-mini`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVar(&outJSON, "json", "report.json", "output JSON path")
	matchCmd.Flags().DurationVar(&matchTimeout, "timeout", 5*time.Minute, "overall timeout for the initial enrichment pass")
	matchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable cache (force fresh fetches)")
	matchCmd.Flags().BoolVar(&resolveMissing, "resolve", false, "keep retrying missing sources after the first pass")
	matchCmd.Flags().DurationVar(&resolveWait, "resolve-wait", 30*time.Minute, "how long to wait for missing sources when --resolve is set")
	matchCmd.Flags().BoolVar(&llmEnabled, "llm", false, "generate an LLM narrative for the report")
	matchCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
	matchCmd.Flags().BoolVar(&jsonLogs, "log-json", false, "emit JSON logs")
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if llmEnabled {
		cfg.LLM.Provider = "openai"
		cfg.LLM.Model = llmModel
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	log, err := logger.New(jsonLogs || cfg.Output.JSONLogs, verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	req, err := readRequest(args[0])
	if err != nil {
		return err
	}

	matcher, err := pipeline.NewMatcher(cfg, log)
	if err != nil {
		return err
	}
	if verbose {
		matcher.SetProgress(func(percent float64, message string) {
			fmt.Fprintf(os.Stderr, "  enriched %5.1f%% (%s)\n", percent, message)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), matchTimeout)
	defer cancel()

	report, err := matcher.Match(ctx, req)
	if err != nil {
		return err
	}

	if resolveMissing && report.Completeness < 100 {
		report, err = resolveAndReassemble(ctx, matcher, cfg, req, report)
		if err != nil {
			return err
		}
	}

	if err := writeReport(report, outJSON); err != nil {
		return err
	}
	printSummary(report)

	return nil
}

// resolveAndReassemble runs background retry sweeps until the job is
// finalized or the wait budget runs out, then rebuilds the report from the
// merged records.
func resolveAndReassemble(ctx context.Context, matcher *pipeline.Matcher, cfg *model.Config, req *pipeline.MatchRequest, report *model.MatchReport) (*model.MatchReport, error) {
	sweeper := retry.NewSweeper(matcher.Coordinator(), cfg.Retry.SweepInterval, nil)
	if err := sweeper.Start(); err != nil {
		return nil, err
	}
	defer sweeper.Stop()

	deadline := time.NewTimer(resolveWait)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-deadline.C:
			return matcher.Reassemble(ctx, report.JobID, req)
		case <-tick.C:
			if state, ok := matcher.JobStore().GetJobStatus(report.JobID); ok && state.Status.Terminal() {
				return matcher.Reassemble(ctx, report.JobID, req)
			}
		}
	}
}

func readRequest(path string) (*pipeline.MatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}

	var req pipeline.MatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request %s: %w", path, err)
	}
	return &req, nil
}

func writeReport(report *model.MatchReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printSummary(report *model.MatchReport) {
	fmt.Printf("\nMatch %s: %d candidates, completeness %.1f%%", report.JobID, report.Candidates, report.Completeness)
	if report.Partial {
		fmt.Printf(" (partial)")
	}
	fmt.Println()

	for i, v := range report.Verdicts {
		if i >= 10 {
			fmt.Printf("  ... and %d more\n", len(report.Verdicts)-10)
			break
		}
		fmt.Printf("  %2d. %-30s %6.1f  %-12s completeness %.0f%%\n",
			i+1, v.CandidateName, v.Score, v.Status, v.DataCompleteness)
	}

	if len(report.SourcesFailed) > 0 {
		fmt.Printf("  degraded sources: %v\n", report.SourcesFailed)
	}
	if report.Narrative != nil && report.Narrative.SummaryMD != "" {
		fmt.Printf("\n%s\n", report.Narrative.SummaryMD)
	}
}
