package main

import (
	"context"
	"sync"
)

// Job is one unit of work run by the pool. Jobs report their outcome through
// their own sinks rather than a results channel, so a slow consumer can never
// stall the workers.
type Job interface {
	Execute(ctx context.Context)
}

// Pool runs submitted jobs on a fixed number of workers.
type Pool struct {
	workers   int
	jobQueue  chan Job
	wg        sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
}

// NewPool creates a pool bound to ctx. Cancelling ctx stops the workers and
// turns further submissions into no-ops.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:  workers,
		jobQueue: make(chan Job, workers*2),
		ctx:      ctx,
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			job.Execute(p.ctx)
		}
	}
}

// Submit queues a job, blocking while the queue is full. It returns false when
// the pool's context ended first and the job will never run.
func (p *Pool) Submit(job Job) bool {
	// Prefer the cancellation when both are ready
	if p.ctx.Err() != nil {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- job:
		return true
	}
}

// Wait closes the queue and blocks until every worker has returned.
func (p *Pool) Wait() {
	p.closeOnce.Do(func() {
		close(p.jobQueue)
	})
	p.wg.Wait()
}
