package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	d := NewDispatcher(cfg)
	t.Cleanup(d.Stop)
	return d
}

// blockJob returns a job that signals started and waits for release.
func blockJob(started chan<- struct{}, release <-chan struct{}) func(context.Context) error {
	return func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestSubmitReturnsJobResult(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})

	ran := false
	require.NoError(t, d.Submit(context.Background(), "alice@example.com", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	boom := errors.New("boom")
	err := d.Submit(context.Background(), "alice@example.com", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSubmitRecoversPanic(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	err := d.Submit(context.Background(), "alice@example.com", func(ctx context.Context) error { panic("bad input") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")

	// the worker survives
	assert.NoError(t, d.Submit(context.Background(), "alice@example.com", func(ctx context.Context) error { return nil }))
}

func TestConcurrencyIsBounded(t *testing.T) {
	const maxWorkers = 2
	d := newTestDispatcher(t, DispatcherConfig{MinWorkers: 0, MaxWorkers: maxWorkers, QueueSize: 16})

	var active, peak, total int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		owner := []string{"a", "b", "c"}[i%3]
		go func() {
			defer wg.Done()
			err := d.Submit(context.Background(), owner, func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				atomic.AddInt32(&total, 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), atomic.LoadInt32(&total))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(maxWorkers))
}

func TestEnqueueReportsBusy(t *testing.T) {
	var depth int32
	d := newTestDispatcher(t, DispatcherConfig{
		MinWorkers: 1,
		MaxWorkers: 1,
		QueueSize:  1,
		OnDepth:    func(n int) { atomic.StoreInt32(&depth, int32(n)) },
	})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	first, err := d.Enqueue(context.Background(), "alice@example.com", blockJob(started, release))
	require.NoError(t, err)
	<-started

	second, err := d.Enqueue(context.Background(), "bob@example.com", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, d.Pending())
	assert.Equal(t, int32(1), atomic.LoadInt32(&depth))

	_, err = d.Enqueue(context.Background(), "carol@example.com", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDispatcherBusy)

	close(release)
	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, int32(0), atomic.LoadInt32(&depth))
}

func TestOwnersAreServedRoundRobin(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 8})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocker, err := d.Enqueue(context.Background(), "blocker", blockJob(started, release))
	require.NoError(t, err)
	<-started

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	var results []<-chan error
	for _, job := range []struct{ owner, name string }{
		{"alice", "a1"}, {"alice", "a2"}, {"alice", "a3"}, {"bob", "b1"},
	} {
		done, err := d.Enqueue(context.Background(), job.owner, record(job.name))
		require.NoError(t, err)
		results = append(results, done)
	}

	close(release)
	require.NoError(t, <-blocker)
	for _, done := range results {
		require.NoError(t, <-done)
	}

	index := func(name string) int {
		for i, n := range order {
			if n == name {
				return i
			}
		}
		return -1
	}
	require.Len(t, order, 4)
	assert.Less(t, index("a1"), index("a2"))
	assert.Less(t, index("a2"), index("a3"))
	assert.Less(t, index("b1"), index("a3"), "bob must not wait behind all of alice's jobs: %v", order)
}

func TestSubmitHonoursContext(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	_, err := d.Enqueue(context.Background(), "alice", blockJob(started, release))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err = d.Submit(ctx, "bob", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
}

func TestStopFailsQueuedJobs(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4, Logger: zerolog.Nop()})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	running, err := d.Enqueue(context.Background(), "alice", blockJob(started, release))
	require.NoError(t, err)
	<-started
	queued, err := d.Enqueue(context.Background(), "bob", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	d.Stop()
	assert.ErrorIs(t, <-queued, ErrDispatcherStopped)
	_, err = d.Enqueue(context.Background(), "carol", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDispatcherStopped)

	close(release)
	assert.NoError(t, <-running)
	require.Eventually(t, func() bool {
		n, _ := d.pool.size()
		return n == 0
	}, time.Second, 5*time.Millisecond)
	d.Stop()
}

func TestIdleWorkersRetire(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{MinWorkers: 0, MaxWorkers: 3, QueueSize: 8, IdleTimeout: 20 * time.Millisecond})

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	var results []<-chan error
	for _, owner := range []string{"a", "b", "c"} {
		done, err := d.Enqueue(context.Background(), owner, blockJob(started, release))
		require.NoError(t, err)
		results = append(results, done)
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	running, _ := d.pool.size()
	assert.Equal(t, 3, running)

	close(release)
	for _, done := range results {
		require.NoError(t, <-done)
	}
	require.Eventually(t, func() bool {
		n, _ := d.pool.size()
		return n == 0
	}, time.Second, 5*time.Millisecond)
}
