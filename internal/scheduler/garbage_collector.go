package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// Sweeper is a backend with housekeeping to do: expired revocations, dangling
// index entries. Sweep returns how many entries it dropped.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// GarbageCollector runs a Sweeper periodically.
type GarbageCollector struct {
	sweeper  Sweeper
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewGarbageCollector(s Sweeper, log logger.Logger, interval time.Duration) *GarbageCollector {
	return &GarbageCollector{
		sweeper:  s,
		logger:   log.With(logger.String("backend", s.Name())),
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start sweeps once, then every interval until Stop or ctx ends.
func (gc *GarbageCollector) Start(ctx context.Context) {
	if _, err := gc.Collect(ctx); err != nil {
		gc.logger.Warn("initial sweep failed", logger.Error(err))
	}

	ticker := time.NewTicker(gc.interval)
	go func() {
		defer close(gc.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := gc.Collect(ctx); err != nil {
					gc.logger.Error("sweep failed", logger.Error(err))
				}
			case <-gc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep. Only valid after Start.
func (gc *GarbageCollector) Stop() {
	close(gc.stopCh)
	<-gc.doneCh
}

// Collect runs one sweep.
func (gc *GarbageCollector) Collect(ctx context.Context) (int, error) {
	start := gc.now()
	n, err := gc.sweeper.Sweep(ctx, start)
	if err != nil {
		return n, err
	}

	if n > 0 {
		gc.logger.Info("sweep completed",
			logger.Int("removed", n),
			logger.Duration("took", gc.now().Sub(start)))
	} else {
		gc.logger.Debug("nothing to sweep")
	}
	return n, nil
}
