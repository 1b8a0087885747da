package livesync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher reloads the ticket collection.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler triggers periodic full refreshes. A run still in progress
// causes the next tick to be skipped.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	timeout   time.Duration
	logger    *zap.Logger
	refreshID cron.EntryID
}

// NewScheduler parses spec (standard cron or descriptors such as
// "@every 5m") and registers the refresh job.
func NewScheduler(spec string, refresher Refresher, timeout time.Duration, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	logger = logger.Named("scheduler")
	s := &Scheduler{
		refresher: refresher,
		timeout:   timeout,
		logger:    logger,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(logger)))),
	)
	id, err := s.cron.AddFunc(spec, s.RunOnce)
	if err != nil {
		return nil, fmt.Errorf("invalid resync schedule %q: %w", spec, err)
	}
	s.refreshID = id
	return s, nil
}

// AddJob schedules an extra maintenance job sharing the refresh timeout.
func (s *Scheduler) AddJob(spec, name string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := s.jobContext()
		defer cancel()
		if err := job(ctx); err != nil {
			s.logger.Warn("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	return nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("resync scheduler started", zap.Time("next", s.Next()))
}

// Stop halts scheduling and waits for a running job or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Next reports the next planned refresh.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.refreshID).Next
}

// RunOnce performs a single refresh with the configured timeout.
func (s *Scheduler) RunOnce() {
	ctx, cancel := s.jobContext()
	defer cancel()
	start := time.Now()
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn("scheduled resync failed", zap.Error(err))
		return
	}
	s.logger.Debug("scheduled resync done", zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(context.Background(), s.timeout)
	}
	return context.WithCancel(context.Background())
}
