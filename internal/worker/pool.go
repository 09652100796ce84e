package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrent remote calls and gives each call its
// own deadline. A call that outlives its deadline counts as failed, but its
// worker slot stays taken until fn actually returns.
type Pool struct {
	sem      *semaphore.Weighted
	timeout  time.Duration
	inFlight atomic.Int64
}

func NewPool(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), timeout: timeout}
}

// Do waits for a free worker slot and runs fn with a per-call timeout.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for remote worker: %w", err)
	}
	p.inFlight.Add(1)

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)

	done := make(chan error, 1)
	go func() {
		defer func() {
			cancel()
			p.inFlight.Add(-1)
			p.sem.Release(1)
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return fmt.Errorf("remote call: %w", callCtx.Err())
	}
}

// InFlight reports how many calls currently hold a worker slot, including
// calls that already timed out but have not returned.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}
