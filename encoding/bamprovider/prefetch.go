package bamprovider

import (
	"fmt"
	"sync"

	"github.com/grailbio/dedup/workpool"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

const (
	// DefaultLowWater is the queue depth below which a PrefetchIterator starts
	// a new fill job.
	DefaultLowWater = 5000
	// DefaultHighWater is the queue depth at which a fill job stops.
	DefaultHighWater = 10000
)

// PrefetchOpts configures NewPrefetchIterator.
type PrefetchOpts struct {
	// LowWater and HighWater are the queue watermarks. Zero values are replaced
	// by DefaultLowWater and DefaultHighWater.
	LowWater, HighWater int
	// Pool runs the fill jobs. If nil, workpool.Shared() is used.
	Pool *workpool.Pool
}

// PrefetchStats describes the activity of a PrefetchIterator.
type PrefetchStats struct {
	// Jobs is the number of fill jobs submitted to the pool.
	Jobs int
	// MaxDepth is the largest queue depth observed by a fill job.
	MaxDepth int
	// MaxConcurrentJobs is the largest number of fill jobs that ran at once.
	MaxConcurrentJobs int
	// Records is the number of records handed to the consumer.
	Records int64
}

type prefetchState int

const (
	idle prefetchState = iota
	filling
)

// PrefetchIterator reads ahead from another Iterator on a worker pool. The
// records are kept in a channel of capacity HighWater. Whenever the consumer
// sees fewer than LowWater queued records and no fill job is in flight, Scan
// submits a job that reads from the source until the queue holds HighWater
// records or the source is exhausted. The end of the source is marked by a nil
// record in the queue.
//
// Scan, Record and Close must be called from one goroutine.
type PrefetchIterator struct {
	src       Iterator
	pool      *workpool.Pool
	low, high int
	queue     chan *sam.Record

	mu        sync.Mutex
	state     prefetchState
	job       *workpool.Job
	endQueued bool
	srcErr    error
	active    int // fill jobs running, always <= 1.
	stats     PrefetchStats

	rec    *sam.Record
	done   bool
	closed bool
}

// NewPrefetchIterator creates an Iterator that yields the records of src, in
// order. src must not be used by the caller afterwards; Close closes it.
func NewPrefetchIterator(src Iterator, opts PrefetchOpts) (*PrefetchIterator, error) {
	if opts.LowWater == 0 {
		opts.LowWater = DefaultLowWater
	}
	if opts.HighWater == 0 {
		opts.HighWater = DefaultHighWater
	}
	if opts.LowWater <= 0 || opts.HighWater < opts.LowWater {
		return nil, fmt.Errorf("bamprovider: invalid prefetch watermarks low=%d high=%d", opts.LowWater, opts.HighWater)
	}
	if opts.Pool == nil {
		opts.Pool = workpool.Shared()
	}
	return &PrefetchIterator{
		src:   src,
		pool:  opts.Pool,
		low:   opts.LowWater,
		high:  opts.HighWater,
		queue: make(chan *sam.Record, opts.HighWater),
	}, nil
}

// maybeFill submits a fill job if the queue is below the low watermark, the
// iterator is idle and the end of the source has not been queued. It returns
// the latest fill job, or nil if none was ever submitted.
func (p *PrefetchIterator) maybeFill() *workpool.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == idle && !p.endQueued && len(p.queue) < p.low {
		p.state = filling
		p.stats.Jobs++
		p.job = p.pool.Submit(p.fill)
	}
	return p.job
}

// fill runs on the pool. It is the only goroutine that touches p.src until
// it sets p.state back to idle.
func (p *PrefetchIterator) fill() {
	p.mu.Lock()
	p.active++
	if p.active > p.stats.MaxConcurrentJobs {
		p.stats.MaxConcurrentJobs = p.active
	}
	p.mu.Unlock()

	maxDepth := 0
	end := false
	var err error
	for len(p.queue) < p.high {
		if !p.src.Scan() {
			end, err = true, p.src.Err()
			break
		}
		p.queue <- p.src.Record()
		if d := len(p.queue); d > maxDepth {
			maxDepth = d
		}
	}

	p.mu.Lock()
	if end {
		p.srcErr = err
		p.endQueued = true
	}
	if maxDepth > p.stats.MaxDepth {
		p.stats.MaxDepth = maxDepth
	}
	p.active--
	p.state = idle
	p.mu.Unlock()
	if end {
		// The loop condition guarantees a free slot, so this never blocks.
		p.queue <- nil
	}
}

// Scan implements the Iterator interface.
func (p *PrefetchIterator) Scan() bool {
	if p.done {
		return false
	}
	for {
		job := p.maybeFill()
		select {
		case rec := <-p.queue:
			return p.take(rec)
		default:
		}
		// The queue is empty. Either the in-flight job produces a record, or it
		// finishes and the next maybeFill starts another one.
		select {
		case rec := <-p.queue:
			return p.take(rec)
		case <-job.Done():
		}
	}
}

func (p *PrefetchIterator) take(rec *sam.Record) bool {
	if rec == nil {
		p.done = true
		p.rec = nil
		return false
	}
	p.rec = rec
	p.stats.Records++
	return true
}

// Record implements the Iterator interface.
func (p *PrefetchIterator) Record() *sam.Record { return p.rec }

// Err implements the Iterator interface. It reports the error of the
// underlying iterator once the end of the stream has been reached.
func (p *PrefetchIterator) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.srcErr
}

// Stats returns a snapshot of the fill activity.
func (p *PrefetchIterator) Stats() PrefetchStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close waits for the in-flight fill job, if any, and closes the underlying
// iterator. Records still queued are dropped.
func (p *PrefetchIterator) Close() error {
	if p.closed {
		vlog.Fatalf("bamprovider: prefetch iterator closed twice")
	}
	p.closed = true
	p.mu.Lock()
	job := p.job
	p.mu.Unlock()
	if job != nil {
		job.Wait()
	}
	err := p.src.Close()
	if srcErr := p.Err(); srcErr != nil {
		err = srcErr
	}
	vlog.VI(1).Infof("bamprovider: prefetch done: %+v", p.Stats())
	return err
}
