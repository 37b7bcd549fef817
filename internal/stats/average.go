// Package stats holds small concurrency-safe accumulators used for crawl
// instrumentation.
package stats

import (
	"sync"
	"time"
)

// MovingAverage tracks a latency average with the recurrence
// avg = avg*n/(n+1) + x/(n+1). It is safe for concurrent use.
type MovingAverage struct {
	mu  sync.Mutex
	avg float64
	n   int64
}

// Observe folds one sample into the average.
func (m *MovingAverage) Observe(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := float64(m.n)
	m.avg = m.avg*(n/(n+1)) + float64(elapsed)/(n+1)
	m.n++
}

// Snapshot returns the current average and sample count.
func (m *MovingAverage) Snapshot() (time.Duration, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.avg), m.n
}

// Average returns the current average.
func (m *MovingAverage) Average() time.Duration {
	avg, _ := m.Snapshot()
	return avg
}

// Since observes the time elapsed since start. It is meant for defer:
//
//	defer avg.Since(time.Now())
func (m *MovingAverage) Since(start time.Time) {
	m.Observe(time.Since(start))
}
