// Package worker implements the crawl loops: the full-network worker, the
// ego-network traversal and the profile refresh pass.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/socialgraph-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
	"github.com/JakeFAU/socialgraph-crawler/internal/scheduler"
)

// Frontier hands out persons to full-network workers.
type Frontier interface {
	Next(ctx context.Context) (crawler.Person, bool, error)
	MarkProcessed()
	MarkFailed()
	Progress() scheduler.Progress
}

// Pacer delays each claim.
type Pacer interface {
	Wait(ctx context.Context) error
}

type latencySource interface {
	Latency() map[collyfetcher.Op]collyfetcher.LatencyStat
}

// Config controls Worker behavior.
type Config struct {
	// FetchProfiles adds a profile lookup to every person step.
	FetchProfiles bool
}

// Worker pulls persons from a shared frontier until it is exhausted.
type Worker struct {
	id        int
	frontier  Frontier
	processor *Processor
	pacer     Pacer
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	frontier Frontier,
	processor *Processor,
	pacer Pacer,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		frontier:  frontier,
		processor: processor,
		pacer:     pacer,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks until the frontier is exhausted or ctx is done. Cancellation only
// stops new claims: a claimed person always runs to completion. The returned
// error is non-nil only when the frontier itself fails.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping", zap.Error(ctx.Err()))
			return nil
		}
		if w.pacer != nil {
			if err := w.pacer.Wait(ctx); err != nil {
				w.logger.Info("worker stopping", zap.Error(err))
				return nil
			}
		}
		person, ok, err := w.frontier.Next(ctx)
		if err != nil {
			return fmt.Errorf("worker %d: %w", w.id, err)
		}
		if !ok {
			w.logger.Debug("frontier exhausted")
			return nil
		}
		w.process(context.WithoutCancel(ctx), person)
	}
}

func (w *Worker) process(ctx context.Context, person crawler.Person) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	before := w.frontier.Progress()
	w.logger.Info("processing person",
		zap.String("person_id", person.ID),
		zap.Int("position", before.Processed+before.Failed+1),
		zap.Int("total", before.Total),
	)

	res, err := w.processor.Process(ctx, person, StepOptions{
		FetchProfile:      w.cfg.FetchProfiles,
		FetchNeighborhood: true,
	})
	if err != nil {
		w.frontier.MarkFailed()
		metrics.ObserveEntity("failed")
		w.logger.Error("person step failed",
			zap.String("person_id", person.ID),
			zap.String("op", failedOp(err)),
			zap.Error(err),
		)
		return
	}
	w.frontier.MarkProcessed()
	metrics.ObserveEntity("processed")

	progress := w.frontier.Progress()
	fields := []zap.Field{
		zap.String("person_id", person.ID),
		zap.Int("relationships", res.Relationships),
		zap.Int("processed", progress.Processed),
		zap.Int("total", progress.Total),
		zap.Float64("hourly_rate", progress.HourlyRate),
		zap.String("eta", scheduler.FormatDuration(progress.ETA)),
		zap.Duration("avg_insert", w.processor.InsertLatency()),
	}
	if src, ok := w.processor.fetcher.(latencySource); ok {
		lat := src.Latency()
		fields = append(fields,
			zap.Duration("avg_followers", lat[collyfetcher.OpFollowers].Average),
			zap.Duration("avg_followees", lat[collyfetcher.OpFollowees].Average),
		)
	}
	w.logger.Info("person processed", fields...)
}
