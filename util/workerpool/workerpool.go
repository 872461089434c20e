package workerpool

import (
	"context"

	"github.com/synchrony-labs/synchrony/util"
)

// WorkerPool bounds the number of concurrently running goroutines
type WorkerPool chan struct{}

func NewWorkerPool(maxWorkers int) WorkerPool {
	util.Assertf(maxWorkers > 0, "maximum workers parameter must be positive")
	return make(chan struct{}, maxWorkers)
}

// Work blocks until a slot is free, then runs fun in a new goroutine
func (wp WorkerPool) Work(fun func()) {
	wp <- struct{}{}
	go func() {
		defer func() { <-wp }()
		fun()
	}()
}

// WorkCtx same as Work but gives up waiting for a free slot when ctx is done
func (wp WorkerPool) WorkCtx(ctx context.Context, fun func()) error {
	select {
	case wp <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	go func() {
		defer func() { <-wp }()
		fun()
	}()
	return nil
}

// Len number of busy workers
func (wp WorkerPool) Len() int {
	return len(wp)
}

func (wp WorkerPool) Cap() int {
	return cap(wp)
}
