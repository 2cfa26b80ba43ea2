// Package worker runs CPU-bound jobs on a bounded number of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/docseal/internal/logging"
)

var ErrPoolClosed = errors.New("worker pool closed")

type Job func(ctx context.Context) error

// Pool limits concurrent jobs. Submit blocks while the pool is full.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log logging.Logger

	mu     sync.RWMutex
	closed bool
}

func NewPool(size int, log logging.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), log: log.With("module", "worker")}
}

// Submit waits for a free slot and starts job. The job's context is not
// cancelled together with ctx so in-flight work can finish during shutdown.
func (p *Pool) Submit(ctx context.Context, name string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		jobCtx := context.WithoutCancel(ctx)
		if err := job(jobCtx); err != nil {
			p.log.Error(jobCtx, "job failed", "job", name, "error", err)
		}
	}()
	return nil
}

// Close stops accepting jobs and waits for running ones or ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
