// Package governor caps how many extraction and scoring sections run at once.
package governor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"reportdedup/metrics"
)

// DefaultCapacity is the number of concurrent permits when none is configured
const DefaultCapacity = 5

// Governor is a counting semaphore. Waiters are served in FIFO order.
type Governor struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	peak     atomic.Int64
	metrics  *metrics.Metrics
}

// New creates a Governor with the given capacity (DefaultCapacity if <= 0)
func New(capacity int, m *metrics.Metrics) *Governor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Governor{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		metrics:  m,
	}
}

// Acquire blocks until a permit is free or ctx is done.
// Every successful Acquire must be paired with exactly one Release.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.metrics.SetInFlight(n)
	return nil
}

// Release returns a permit
func (g *Governor) Release() {
	n := g.inFlight.Add(-1)
	g.metrics.SetInFlight(n)
	g.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released on every exit path, panics included.
func (g *Governor) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Capacity returns the configured number of permits
func (g *Governor) Capacity() int {
	return int(g.capacity)
}

// InFlight returns the number of sections currently holding a permit
func (g *Governor) InFlight() int {
	return int(g.inFlight.Load())
}

// Peak returns the highest in-flight count observed
func (g *Governor) Peak() int {
	return int(g.peak.Load())
}
