// Package rworker runs background jobs with bounded concurrency.
package rworker

import (
	"context"
	"sync"
)

// Job runs fn in its own goroutine once a slot in rate is free. wg is
// released when fn returns. A non-nil error is delivered to errCh unless the
// receiver is not ready, in which case it is dropped. Jobs still waiting for
// a slot when ctx is done report ctx.Err() instead of running.
func Job(ctx context.Context, wg *sync.WaitGroup, fn func() error, rate chan struct{}, errCh chan<- error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case rate <- struct{}{}:
		case <-ctx.Done():
			report(errCh, ctx.Err())
			return
		}
		defer func() { <-rate }()
		if err := fn(); err != nil {
			report(errCh, err)
		}
	}()
}

func report(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}
