// Package pacing implements the fixed inter-claim delay workers observe to
// stay under the remote's abuse detection threshold.
package pacing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
)

// DefaultDelay is the pause applied before each claim when none is configured.
const DefaultDelay = 125 * time.Millisecond

// Pacer holds a delay shared by every worker. There is no burst allowance:
// each Wait sleeps the full delay.
type Pacer struct {
	delay atomic.Int64
}

// New creates a Pacer. A negative delay is treated as zero.
func New(delay time.Duration) *Pacer {
	p := &Pacer{}
	if delay < 0 {
		delay = 0
	}
	p.store(delay)
	return p
}

// Delay returns the current delay.
func (p *Pacer) Delay() time.Duration {
	return time.Duration(p.delay.Load())
}

// SetDelay changes the delay for every wait that starts afterwards.
func (p *Pacer) SetDelay(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("pace must not be negative, got %s", d)
	}
	p.store(d)
	return nil
}

func (p *Pacer) store(d time.Duration) {
	p.delay.Store(int64(d))
	metrics.SetPace(d)
}

// Wait sleeps for the current delay or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	delay := p.Delay()
	if delay <= 0 {
		return ctx.Err() //nolint:wrapcheck // plain context error
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
