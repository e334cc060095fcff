// Package workpool implements the fixed-size worker pool flush and
// compaction jobs run on. See stratumkv's SPEC_FULL.md §5.
//
// Grounded on nothing RocksDB-specific: the teacher dispatches background
// work through goroutines and channels in db/background.go rather than a
// generic pool type, so this is written fresh in that idiom — a buffered
// job channel and a fixed set of worker goroutines draining it.
package workpool

import "sync"

// Pool runs submitted jobs on a fixed number of worker goroutines.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// New starts a Pool with the given number of workers and job queue depth.
func New(workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{jobs: make(chan func(), queueDepth)}
	p.wg.Add(workers)
	for range workers {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Submit enqueues job, blocking if the queue is full. Submit must not be
// called after Shutdown.
func (p *Pool) Submit(job func()) {
	p.jobs <- job
}

// Shutdown closes the job queue and waits for every worker to drain it
// and exit. Jobs already queued run to completion; no new jobs may be
// submitted afterward.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}
