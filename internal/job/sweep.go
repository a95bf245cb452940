package job

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
)

// Sweeper periodically queues every snapshot that still has unresolved
// holdings, picking up work left behind by a crash or a transient failure.
type Sweeper struct {
	cron   *cron.Cron
	queue  *Queue
	source SweepSource
	logger *logging.Logger
}

// NewSweeper registers the sweep on a cron schedule such as "@every 6h"
// or "0 3 * * *".
func NewSweeper(schedule string, queue *Queue, source SweepSource, logger *logging.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Sweeper{
		cron:   cron.New(),
		queue:  queue,
		source: source,
		logger: logger.WithField("component", "resolution-sweep"),
	}

	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.logger.WithField("schedule", schedule).Info("Sweep registered")
	return s, nil
}

// Start starts the scheduler
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunNow sweeps immediately
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	return s.queue.EnqueueUnresolved(ctx, s.source)
}

func (s *Sweeper) runOnce() {
	ctx := logging.WithLogger(context.Background(), s.logger)
	added, err := s.RunNow(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Sweep failed")
		return
	}
	s.logger.WithField("queued", added).Info("Sweep queued unresolved snapshots")
}
