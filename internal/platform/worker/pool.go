// Package worker provides a worker pool for background task execution.
//
// The pool is used for refinement work that runs after a recommendation
// has already been returned to the caller. Failures of such work never
// surface to a request, so the pool guarantees every failed job is
// observed: OnFailure receives each failure when set, otherwise failures
// stay consumable from Results.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBackpressure is returned when the queue is full and the pool's drop
// policy rejects the job instead of blocking.
var ErrBackpressure = errors.New("worker pool queue full")

// DropPolicy controls what Submit does when the queue is full.
type DropPolicy int

const (
	// DropPolicyBlock blocks Submit until queue space is available
	DropPolicyBlock DropPolicy = iota
	// DropPolicyNewest rejects the incoming job with ErrBackpressure
	DropPolicyNewest
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID is an optional identifier for the job (useful for logging/debugging)
	ID string
	// Execute is the function to run. It receives a context and returns a result and error.
	Execute func(ctx context.Context) (interface{}, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	// JobID is the ID of the job that produced this result
	JobID string
	// Value is the result of the job execution (nil if error)
	Value interface{}
	// Err is the error from job execution (nil if successful)
	Err error
}

// PoolStats reports pool counters.
type PoolStats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsFailed    int64
	JobsDropped   int64
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent worker goroutines (default 1)
	Workers int

	// QueueSize is the job queue buffer size (0 for unbuffered)
	QueueSize int

	// DropPolicy controls Submit behavior when the queue is full
	DropPolicy DropPolicy

	// OnFailure receives every failed result as soon as the job finishes,
	// independent of whether anything drains the Results channel. With
	// OnFailure set, a failed background job can never sit unobserved in
	// the results buffer.
	OnFailure func(Result)
}

// Pool is a worker pool that processes jobs concurrently.
// It maintains a fixed number of worker goroutines that pull jobs from a queue.
type Pool struct {
	workers    int
	dropPolicy DropPolicy
	onFailure  func(Result)
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	dropped   int64
}

// NewPool creates a pool with the given worker count and queue size,
// using the blocking drop policy.
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	return NewPoolWithConfig(ctx, PoolConfig{
		Workers:   workers,
		QueueSize: queueSize,
	})
}

// NewPoolWithConfig creates a pool from explicit configuration.
// The pool starts immediately and workers begin waiting for jobs.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:    cfg.Workers,
		dropPolicy: cfg.DropPolicy,
		onFailure:  cfg.OnFailure,
		jobQueue:   make(chan Job, cfg.QueueSize),
		results:    make(chan Result, cfg.QueueSize),
		ctx:        poolCtx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// worker is the main worker goroutine loop.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return // Queue closed
			}

			value, err := job.Execute(p.ctx)

			atomic.AddInt64(&p.completed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}

			result := Result{JobID: job.ID, Value: value, Err: err}

			// A failure is routed the moment it happens; whether anything
			// drains Results must not decide if it is observed.
			if err != nil && p.onFailure != nil {
				p.onFailure(result)
			}

			select {
			case p.results <- result:
			default:
				// Results buffer full, drop the result. Failures were
				// already handed to OnFailure above.
			}
		}
	}
}

// Submit adds a job to the pool's queue. With DropPolicyBlock it blocks
// until space is available or the context is cancelled; with
// DropPolicyNewest it returns ErrBackpressure when the queue is full.
func (p *Pool) Submit(job Job) error {
	if p.dropPolicy == DropPolicyNewest {
		return p.TrySubmit(job)
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	}
}

// TrySubmit adds a job without blocking, returning ErrBackpressure when
// the queue is full.
func (p *Pool) TrySubmit(job Job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		return ErrBackpressure
	}
}

// SubmitAndWait submits multiple jobs and waits for all results.
// Returns results in the order they complete (not submission order).
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			// Context cancelled, return partial results
			break
		}
	}

	results := make([]Result, 0, len(jobs))
	for i := 0; i < len(jobs); i++ {
		select {
		case <-p.ctx.Done():
			return results
		case result := <-p.results:
			results = append(results, result)
		}
	}

	return results
}

// Results returns the results channel for consuming job outcomes.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stats returns pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		JobsSubmitted: atomic.LoadInt64(&p.submitted),
		JobsCompleted: atomic.LoadInt64(&p.completed),
		JobsFailed:    atomic.LoadInt64(&p.failed),
		JobsDropped:   atomic.LoadInt64(&p.dropped),
	}
}

// Close gracefully shuts down the pool.
// It stops accepting new jobs and waits for all workers to finish.
func (p *Pool) Close() {
	p.cancel()
	close(p.jobQueue)
	p.wg.Wait()
	close(p.results)
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// DropPolicy returns the pool's configured drop policy.
func (p *Pool) DropPolicy() DropPolicy {
	return p.dropPolicy
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}
