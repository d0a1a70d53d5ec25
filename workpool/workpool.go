// Package workpool provides a bounded pool of workers for background tasks.
//
// The pool runs a fixed number of core workers that take tasks from a
// bounded queue. When the queue is full, additional workers are started up to
// a maximum, and these exit after being idle for a while. When the queue is
// full and the maximum number of workers are running, a submitted task is
// discarded. Submitting never blocks the caller.
//
// Discarded tasks are logged, but no more than once per log interval, however
// many tasks are discarded.
package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("workpool")

// ErrClosed is returned when shutting down a pool that is already shut down.
var ErrClosed = errors.New("pool closed")

// Task is a unit of work run by the pool. The context is canceled if the pool
// is shut down before the task completes.
type Task func(context.Context)

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted  uint64
	Completed  uint64
	Rejected   uint64
	Discarded  uint64
	RejectLogs uint64
	Workers    int
	Queued     int
}

// Pool is a bounded worker pool.
type Pool struct {
	name string

	clock             clock.Clock
	coreSize          int
	keepAlive         time.Duration
	maxSize           int32
	rejectLogInterval time.Duration

	queue chan Task

	ctx    context.Context
	cancel context.CancelFunc

	// closeMutex protects closed and the queue channel from being closed
	// while a task is submitted.
	closeMutex sync.RWMutex
	closed     bool
	discard    atomic.Bool
	wg         sync.WaitGroup

	workers atomic.Int32

	submitted  atomic.Uint64
	completed  atomic.Uint64
	rejected   atomic.Uint64
	discarded  atomic.Uint64
	rejectLogs atomic.Uint64
	// lastRejectLog is one more than the time, in Unix milliseconds, that a
	// rejection was last logged. Zero means never logged.
	lastRejectLog atomic.Int64
}

// New creates a new named pool and starts its core workers.
func New(name string, options ...Option) (*Pool, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:              name,
		clock:             opts.clock,
		coreSize:          opts.coreSize,
		keepAlive:         opts.keepAlive,
		maxSize:           int32(opts.maxSize),
		rejectLogInterval: opts.rejectLogInterval,
		queue:             make(chan Task, opts.queueCapacity),
		ctx:               ctx,
		cancel:            cancel,
	}

	p.workers.Store(int32(opts.coreSize))
	p.wg.Add(opts.coreSize)
	for i := 0; i < opts.coreSize; i++ {
		go p.coreWorker()
	}

	log.Debugw("Started worker pool", "name", name, "core", opts.coreSize, "max", opts.maxSize,
		"queue", opts.queueCapacity)
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Submit hands a task to the pool without blocking. Returns false if the task
// was discarded because the pool is saturated or shut down.
func (p *Pool) Submit(task Task) bool {
	p.closeMutex.RLock()
	defer p.closeMutex.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		log.Debugw("Task rejected, pool closed", "pool", p.name)
		return false
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return true
	default:
	}

	// Queue is full, so try to start another worker to run the task.
	if !p.reserveWorker() {
		p.reject()
		return false
	}
	p.submitted.Add(1)
	p.wg.Add(1)
	go p.extraWorker(task)
	return true
}

// Shutdown stops the pool from accepting tasks and waits for queued and
// running tasks to complete. If ctx is canceled first, then tasks still in
// the queue are discarded, the context given to running tasks is canceled,
// and the ctx error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeMutex.Lock()
	if p.closed {
		p.closeMutex.Unlock()
		return ErrClosed
	}
	p.closed = true
	close(p.queue)
	p.closeMutex.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.cancel()

	select {
	case <-done:
		log.Debugw("Worker pool shutdown", "name", p.name, "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		p.discard.Store(true)
		log.Warnw("Worker pool shutdown before all tasks completed", "name", p.name, "queued", len(p.queue))
		return ctx.Err()
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Rejected:   p.rejected.Load(),
		Discarded:  p.discarded.Load(),
		RejectLogs: p.rejectLogs.Load(),
		Workers:    int(p.workers.Load()),
		Queued:     len(p.queue),
	}
}

func (p *Pool) reserveWorker() bool {
	for {
		n := p.workers.Load()
		if n >= p.maxSize {
			return false
		}
		if p.workers.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *Pool) coreWorker() {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	for task := range p.queue {
		p.run(task)
	}
}

// extraWorker runs the task it was started for, then takes tasks from the
// queue until it is idle for the keep-alive time.
func (p *Pool) extraWorker(task Task) {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	p.run(task)

	timer := p.clock.Timer(p.keepAlive)
	defer timer.Stop()
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(task)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.keepAlive)
		case <-timer.C:
			return
		}
	}
}

func (p *Pool) run(task Task) {
	if p.discard.Load() {
		p.discarded.Add(1)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Task panicked", "pool", p.name, "panic", r)
		}
		p.completed.Add(1)
	}()
	task(p.ctx)
}

// reject counts a discarded task and logs it, unless a rejection was already
// logged within the log interval. Only the submitter that swaps the
// last-logged time logs.
func (p *Pool) reject() {
	rejected := p.rejected.Add(1)

	now := p.clock.Now().UnixMilli()
	last := p.lastRejectLog.Load()
	if last != 0 && now-(last-1) < p.rejectLogInterval.Milliseconds() {
		return
	}
	if !p.lastRejectLog.CompareAndSwap(last, now+1) {
		return
	}
	p.rejectLogs.Add(1)
	log.Warnw("Task rejected, queue capacity exceeded", "pool", p.name, "rejected", rejected,
		"workers", p.workers.Load(), "queued", len(p.queue))
}
