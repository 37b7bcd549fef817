// Package scheduler hands out unprocessed persons to concurrent crawl workers
// and tracks crawl progress.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/clock/system"
	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
)

// Progress is a point-in-time view of a crawl run.
type Progress struct {
	Total      int           `json:"total"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Remaining  int           `json:"remaining"`
	StartedAt  time.Time     `json:"started_at"`
	Elapsed    time.Duration `json:"elapsed"`
	ETA        time.Duration `json:"eta"`
	HourlyRate float64       `json:"hourly_rate"`
	Exhausted  bool          `json:"exhausted"`
}

// Scheduler is the frontier of a full-network crawl. The cursor is opened
// lazily on the first Next call and covers only rows that were unprocessed at
// that moment.
type Scheduler struct {
	store  crawler.Store
	clock  crawler.Clock
	logger *zap.Logger

	cursorMu  sync.Mutex
	cursor    crawler.PersonCursor
	opened    bool
	exhausted bool

	totalMu sync.Mutex
	total   int
	started time.Time

	doneMu    sync.Mutex
	processed int
	failed    int
}

// New builds a Scheduler over store.
func New(store crawler.Store, clock crawler.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Scheduler{store: store, clock: clock, logger: logger}
}

// Next returns the next unprocessed person. ok is false once the snapshot is
// exhausted, and stays false for every later call. Each row is delivered to
// exactly one caller.
func (s *Scheduler) Next(ctx context.Context) (crawler.Person, bool, error) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	if s.exhausted {
		return crawler.Person{}, false, nil
	}
	if !s.opened {
		s.opened = true
		if err := s.open(ctx); err != nil {
			s.exhausted = true
			return crawler.Person{}, false, err
		}
	}
	if !s.cursor.Next() {
		err := s.cursor.Err()
		s.closeCursorLocked()
		if err != nil {
			return crawler.Person{}, false, fmt.Errorf("advance frontier cursor: %w", err)
		}
		return crawler.Person{}, false, nil
	}
	p, err := s.cursor.Person()
	if err != nil {
		s.closeCursorLocked()
		return crawler.Person{}, false, fmt.Errorf("read frontier row: %w", err)
	}
	return p, true, nil
}

func (s *Scheduler) open(ctx context.Context) error {
	total, err := s.store.CountByState(ctx, crawler.StateUnprocessed)
	if err != nil {
		return fmt.Errorf("count unprocessed persons: %w", err)
	}
	stuck, err := s.store.CountByState(ctx, crawler.StateProcessing)
	if err != nil {
		return fmt.Errorf("count processing persons: %w", err)
	}
	if stuck > 0 {
		s.logger.Warn("persons left in processing state by an earlier run will not be retried; run recover to requeue them",
			zap.Int("count", stuck))
	}
	cursor, err := s.store.IteratePending(ctx, crawler.StateUnprocessed)
	if err != nil {
		return fmt.Errorf("open frontier cursor: %w", err)
	}
	s.cursor = cursor

	s.totalMu.Lock()
	s.total = total
	s.started = s.clock.Now()
	s.totalMu.Unlock()

	metrics.SetFrontierRemaining(total)
	s.logger.Info("frontier opened", zap.Int("unprocessed", total))
	return nil
}

func (s *Scheduler) closeCursorLocked() {
	s.exhausted = true
	if s.cursor == nil {
		return
	}
	if err := s.cursor.Close(); err != nil {
		s.logger.Warn("close frontier cursor", zap.Error(err))
	}
	s.cursor = nil
}

// Close releases the cursor if it is still open.
func (s *Scheduler) Close() {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	s.closeCursorLocked()
}

// MarkProcessed records one completed person.
func (s *Scheduler) MarkProcessed() {
	s.doneMu.Lock()
	s.processed++
	done := s.processed + s.failed
	s.doneMu.Unlock()
	s.publishRemaining(done)
}

// MarkFailed records one person whose step aborted.
func (s *Scheduler) MarkFailed() {
	s.doneMu.Lock()
	s.failed++
	done := s.processed + s.failed
	s.doneMu.Unlock()
	s.publishRemaining(done)
}

func (s *Scheduler) publishRemaining(done int) {
	s.totalMu.Lock()
	total := s.total
	s.totalMu.Unlock()
	metrics.SetFrontierRemaining(max(total-done, 0))
}

// Progress returns counters and a completion estimate. ETA is zero until the
// first person completes.
func (s *Scheduler) Progress() Progress {
	s.totalMu.Lock()
	total, started := s.total, s.started
	s.totalMu.Unlock()

	s.doneMu.Lock()
	processed, failed := s.processed, s.failed
	s.doneMu.Unlock()

	s.cursorMu.Lock()
	exhausted := s.exhausted
	s.cursorMu.Unlock()

	p := Progress{
		Total:     total,
		Processed: processed,
		Failed:    failed,
		Remaining: max(total-processed-failed, 0),
		StartedAt: started,
		Exhausted: exhausted,
	}
	if started.IsZero() {
		return p
	}
	p.Elapsed = s.clock.Now().Sub(started)
	done := processed + failed
	if done > 0 && p.Elapsed > 0 {
		p.ETA = time.Duration(float64(p.Remaining) * float64(p.Elapsed) / float64(done))
		p.HourlyRate = float64(done) / p.Elapsed.Hours()
	}
	return p
}

// FormatDuration renders d as "Xd Yh Zmin Ws".
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	seconds := secs % 60
	minutes := (secs / 60) % 60
	hours := (secs / 3600) % 24
	days := secs / 86400
	return fmt.Sprintf("%dd %dh %dmin %ds", days, hours, minutes, seconds)
}
