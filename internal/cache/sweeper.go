package cache

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweepable is the part of Store the background sweeper needs.
type Sweepable interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// Sweeper runs Sweep on a cron schedule, in addition to the sweep every Exists performs.
type Sweeper struct {
	store  Sweepable
	cron   *cron.Cron
	logger *zap.Logger
}

// NewSweeper parses schedule (standard five-field cron or descriptors such as "@every 1h").
func NewSweeper(store Sweepable, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{store: store, cron: cron.New(), logger: logger}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("cache sweeper: schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and returns a context that is done once a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs one sweep and logs the outcome.
func (s *Sweeper) RunOnce(ctx context.Context) {
	res, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.Warn("scheduled cache sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("scheduled cache sweep",
		zap.Int("evicted", res.Evicted()),
		zap.Int("remaining", res.Remaining))
}
