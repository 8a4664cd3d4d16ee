// Package workpool runs opaque jobs on a fixed set of worker goroutines.
//
// A process normally uses the lazily created Shared pool. Submit returns a Job
// handle that the caller can poll (Running, Finished) or block on (Wait,
// Done), so callers never need their own "is running" bookkeeping.
//
// Example:
//   job := workpool.Shared().Submit(func() { ... })
//   ...
//   job.Wait()
package workpool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
)

const (
	jobQueued int32 = iota
	jobRunning
	jobFinished
)

// Job is the handle of one submitted unit of work.
type Job struct {
	fn    func()
	state int32
	done  chan struct{}
}

// Done returns a channel that is closed once the job has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job has finished.
func (j *Job) Wait() { <-j.done }

// Running returns true while a worker is executing the job.
func (j *Job) Running() bool { return atomic.LoadInt32(&j.state) == jobRunning }

// Finished returns true once the job has run to completion.
func (j *Job) Finished() bool { return atomic.LoadInt32(&j.state) == jobFinished }

// Stats is a snapshot of the pool bookkeeping.
type Stats struct {
	Workers   int
	Submitted int64
	Completed int64
	// Active is the number of jobs being executed right now.
	Active int
	// Queued is the number of jobs waiting for a worker.
	Queued int
}

func (s Stats) String() string {
	return fmt.Sprintf("workers:%d submitted:%d completed:%d active:%d queued:%d",
		s.Workers, s.Submitted, s.Completed, s.Active, s.Queued)
}

// Pool is a fixed-size set of workers. Thread safe.
type Pool struct {
	nWorkers int
	wg       sync.WaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Job // FIFO of jobs not yet picked up.
	closed bool
	stats  Stats
}

// New creates a pool with the given number of workers. nWorkers <= 0 means
// runtime.NumCPU().
func New(nWorkers int) *Pool {
	if nWorkers <= 0 {
		nWorkers = runtime.NumCPU()
	}
	p := &Pool{nWorkers: nWorkers}
	p.cond = sync.NewCond(&p.mu)
	p.stats.Workers = nWorkers
	for i := 0; i < nWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

var (
	sharedOnce sync.Once
	shared     *Pool
)

// Shared returns the process-wide pool. It is created on first use with
// runtime.NumCPU() workers and is never closed.
func Shared() *Pool {
	sharedOnce.Do(func() {
		shared = New(runtime.NumCPU())
		log.Debug.Printf("workpool: started shared pool with %d workers", shared.nWorkers)
	})
	return shared
}

// NumWorkers returns the number of worker goroutines.
func (p *Pool) NumWorkers() int { return p.nWorkers }

// Submit enqueues fn and returns its handle. Submit never blocks on a busy
// pool; the job waits in a FIFO until a worker is free.
//
// REQUIRES: Close has not been called.
func (p *Pool) Submit(fn func()) *Job {
	job := &Job{fn: fn, state: jobQueued, done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("workpool: submit on a closed pool")
	}
	p.queue = append(p.queue, job)
	p.stats.Submitted++
	p.mu.Unlock()
	p.cond.Signal()
	return job
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Queued = len(p.queue)
	return s
}

// Close lets the workers finish every queued job, then stops them. It blocks
// until all the workers have exited.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) next() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		if p.closed {
			return nil
		}
		p.cond.Wait()
	}
	job := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.stats.Active++
	atomic.StoreInt32(&job.state, jobRunning)
	return job
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		job := p.next()
		if job == nil {
			return
		}
		job.fn()
		p.mu.Lock()
		p.stats.Active--
		p.stats.Completed++
		p.mu.Unlock()
		atomic.StoreInt32(&job.state, jobFinished)
		close(job.done)
	}
}
