package governor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernorCapsConcurrency(t *testing.T) {
	g := New(5, nil)

	var current, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				n := current.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(5))
	assert.LessOrEqual(t, g.Peak(), 5)
	assert.Equal(t, 0, g.InFlight())
}

func TestGovernorReleasesOnError(t *testing.T) {
	g := New(1, nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := g.Do(context.Background(), func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 0, g.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Acquire(ctx))
	g.Release()
}

func TestGovernorReleasesOnPanic(t *testing.T) {
	g := New(1, nil)

	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func() error { panic("bad image") })
	})
	assert.Equal(t, 0, g.InFlight())
}

func TestGovernorAcquireHonorsContext(t *testing.T) {
	g := New(1, nil)
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, g.InFlight())
}

func TestGovernorFIFO(t *testing.T) {
	g := New(1, nil)
	require.NoError(t, g.Acquire(context.Background()))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = g.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
		}(i)
		// let waiter i enqueue before waiter i+1
		time.Sleep(10 * time.Millisecond)
	}

	g.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestGovernorDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0, nil).Capacity())
	assert.Equal(t, 3, New(3, nil).Capacity())
}
