// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/metrics"
)

const (
	JobAutoRelease  = "auto_release"
	JobDisputeSweep = "dispute_sweep"
)

// Releaser pays out accrued stream balances in batches.
type Releaser interface {
	ReleaseDue(ctx context.Context, batchSize, maxItems int) (int, error)
}

// Escalator flags disputes that passed their deadline.
type Escalator interface {
	SweepOverdue(ctx context.Context, batchSize, maxItems int) (int, error)
}

type job func(ctx context.Context) (int, error)

// Scheduler runs the marketplace's periodic sweeps on cron specs. A run that
// is still in progress when its next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	cfg    config.SchedulerConfig
	jobs   map[string]job
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

func New(cfg config.SchedulerConfig, releaser Releaser, escalator Escalator) (*Scheduler, error) {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		cfg:    cfg,
		jobs:   make(map[string]job),
		ctx:    ctx,
		cancel: cancel,
	}

	s.jobs[JobAutoRelease] = func(ctx context.Context) (int, error) {
		return releaser.ReleaseDue(ctx, cfg.BatchSize, 0)
	}
	s.jobs[JobDisputeSweep] = func(ctx context.Context) (int, error) {
		return escalator.SweepOverdue(ctx, cfg.BatchSize, 0)
	}

	specs := map[string]string{
		JobAutoRelease:  cfg.AutoReleaseSpec,
		JobDisputeSweep: cfg.DisputeSweepSpec,
	}
	for name, spec := range specs {
		if spec == "" {
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx, name) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
		}
	}

	return s, nil
}

// RunOnce runs a job synchronously and reports how many items it processed.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (int, error) {
	run, ok := s.jobs[name]
	if !ok {
		return 0, apperrors.NotFound("unknown job %q", name)
	}

	processed, err := run(ctx)
	metrics.RecordJobRun(name, processed, err == nil)

	entry := logrus.WithFields(logrus.Fields{"job": name, "processed": processed})
	if err != nil {
		entry.WithError(err).Error("Scheduled job failed")
	} else if processed > 0 {
		entry.Info("Scheduled job finished")
	} else {
		entry.Debug("Scheduled job finished")
	}
	return processed, err
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Start()
	logrus.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
}

// Stop cancels in-flight jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		logrus.Info("Scheduler stopped")
	case <-ctx.Done():
		logrus.Warn("Scheduler stop timed out")
	}
}
