// Package dispatcher fans a full-network crawl out over a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// Runner is one long-lived worker.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher starts a pool of workers and waits for all of them.
type Dispatcher struct {
	workers []Runner
	stagger time.Duration
	ids     crawler.IDGenerator
	logger  *zap.Logger
}

// New creates a Dispatcher. Worker i starts i*stagger after the first one.
func New(workers []Runner, stagger time.Duration, ids crawler.IDGenerator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		stagger: stagger,
		ids:     ids,
		logger:  logger,
	}
}

// Run starts all workers and blocks until every one has returned. The first
// worker error cancels the context handed to the others, which then stop
// claiming new work.
func (d *Dispatcher) Run(ctx context.Context) (string, error) {
	runID := ""
	if d.ids != nil {
		id, err := d.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}
	log := d.logger.With(zap.String("run_id", runID))
	log.Info("crawl started", zap.Int("workers", len(d.workers)), zap.Duration("stagger", d.stagger))
	start := time.Now()

	g, gCtx := errgroup.WithContext(ctx)
	for i, w := range d.workers {
		delay := time.Duration(i) * d.stagger
		g.Go(func() error {
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-gCtx.Done():
					timer.Stop()
					return nil
				case <-timer.C:
				}
			}
			if err := w.Run(gCtx); err != nil {
				return fmt.Errorf("worker %d failed: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("crawl aborted", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return runID, err
	}
	log.Info("crawl finished", zap.Duration("elapsed", time.Since(start)))
	return runID, nil
}
