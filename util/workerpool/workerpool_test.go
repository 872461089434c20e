package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestBasic(t *testing.T) {
	t.Run("1", func(t *testing.T) {
		require.Panics(t, func() {
			NewWorkerPool(0)
		})
	})
	t.Run("2", func(t *testing.T) {
		wp := NewWorkerPool(1)
		var wg sync.WaitGroup
		wg.Add(1)
		counter := 0
		wp.Work(func() {
			counter++
			wg.Done()
		})
		wg.Wait()
		require.EqualValues(t, 1, counter)
	})
	t.Run("bounded", func(t *testing.T) {
		const numWorkers = 3
		wp := NewWorkerPool(numWorkers)
		var wg sync.WaitGroup
		var nw, maxSeen atomic.Int32
		const howMany = 30
		wg.Add(howMany)
		for i := 0; i < howMany; i++ {
			wp.Work(func() {
				n := nw.Inc()
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				nw.Dec()
				wg.Done()
			})
		}
		wg.Wait()
		require.True(t, maxSeen.Load() <= numWorkers)
		require.EqualValues(t, numWorkers, wp.Cap())
	})
}

func TestWorkCtx(t *testing.T) {
	wp := NewWorkerPool(1)
	release := make(chan struct{})
	wp.Work(func() {
		<-release
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := wp.WorkCtx(ctx, func() {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	done := make(chan struct{})
	err = wp.WorkCtx(context.Background(), func() { close(done) })
	require.NoError(t, err)
	<-done
}
