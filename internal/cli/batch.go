package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/carelens/carematch/internal/logger"
	"github.com/carelens/carematch/internal/pipeline"
	"github.com/carelens/carematch/internal/worker"
)

var (
	batchWorkers int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Run every match request file in a directory in parallel",
	Long: `Batch processes a directory of request files (*.json) concurrently:
- Each request runs through the full match pipeline
- Requests run in parallel with a configurable worker count
- Each request's enrichment fan-out is bounded separately
- One report file is written per request

Example:
  carematch batch ./requests
  carematch batch ./requests --workers 4 --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&batchWorkers, "workers", 2, "number of concurrent match requests")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./carematch-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchWorkers > 0 {
		cfg.Concurrency.BatchWorkers = batchWorkers
	}

	log, err := logger.New(cfg.Output.JSONLogs, verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	matcher, err := pipeline.NewMatcher(cfg, log)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	processor := worker.NewBatchProcessor(matcher, cfg.Concurrency.BatchWorkers)
	results, err := processor.ProcessDir(ctx, args[0])
	if err != nil {
		return err
	}

	succeeded := 0
	for _, result := range results {
		if result.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Name, result.Error)
			continue
		}

		out := filepath.Join(outputDir, result.Name+".report.json")
		if err := writeReport(result.Report, out); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Name, err)
			continue
		}

		succeeded++
		if verbose {
			fmt.Printf("✓ %s → %s (completeness %.1f%%)\n", result.Name, out, result.Report.Completeness)
		}
	}

	fmt.Printf("\nProcessed %d requests: %d succeeded, %d failed\n",
		len(results), succeeded, len(results)-succeeded)

	if succeeded < len(results) {
		return fmt.Errorf("%d requests failed", len(results)-succeeded)
	}
	return nil
}
