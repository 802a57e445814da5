package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically re-runs RetryMissing over every active job. The
// sweep cadence is independent of any single source's timeout; eligibility
// (backoff, retry budget, ceiling) is enforced by the coordinator itself,
// so sweeping more often than needed is harmless.
type Sweeper struct {
	coord    *Coordinator
	cron     *cron.Cron
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper creates a sweeper with the given cadence.
func NewSweeper(coord *Coordinator, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		coord:    coord,
		cron:     cron.New(),
		interval: interval,
		log:      log,
	}
}

// Start begins background sweeps.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("schedule retry sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts sweeping and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	for _, jobID := range s.coord.ActiveJobs() {
		result, err := s.coord.RetryMissing(context.Background(), jobID)
		if err != nil {
			s.log.Warn("retry sweep failed", zap.String("job", jobID), zap.Error(err))
			continue
		}
		if result.Retried > 0 {
			s.log.Info("retry sweep",
				zap.String("job", jobID),
				zap.Int("retried", result.Retried),
				zap.Int("succeeded", result.Succeeded),
				zap.Int("still_missing", result.StillMissing))
		}
	}
}
