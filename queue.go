// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// pollInterval is the granularity of Wait and WaitContext.
const pollInterval = time.Millisecond

// State is a queue lifecycle stage.
type State int32

const (
	StateCreated   State = iota // workers starting
	StateRunning                // accepting jobs
	StateDraining               // Destroy waiting for outstanding jobs
	StateDestroyed              // workers joined, memory cleared
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Queue is a fixed-capacity job queue drained by a pool of workers.
//
// Producers call Enqueue, which never blocks: a full queue returns
// ErrWouldBlock. Each accepted job publishes one entry into the ring and
// signals the wake-up semaphore once. An idle worker takes the permit,
// dequeues one entry, runs it and signals the completion semaphore.
//
// Capacity counts outstanding jobs: queued plus executing. Enqueue order
// is the order jobs enter the ring; it is not the execution or completion
// order, since any idle worker may dequeue next. Jobs run by a single
// worker run sequentially.
//
// All methods are safe for concurrent use. Once Destroy has begun,
// Enqueue returns ErrClosed.
type Queue struct {
	_           pad
	outstanding atomix.Int64 // queued + executing, bounded by capacity
	_           pad
	producers   atomix.Int32 // Enqueue calls in progress
	closing     atomix.Bool
	_           pad
	live        atomix.Int32 // workers not yet exited
	signalEnd   atomix.Bool
	state       atomix.Int32

	enqueued  atomix.Int64
	completed atomix.Int64
	rejected  atomix.Int64
	panicked  atomix.Int64

	wakeUp        Semaphore
	entryComplete Semaphore

	ring     *ring
	capacity int64
	workers  int
	threads  []Thread
	opts     Options
}

const queueHeaderSize = unsafe.Sizeof(Queue{})

func create(opts Options) (*Queue, error) {
	log := opts.logger.With(slog.String("queue", opts.name))

	need, err := MemoryRequirement(opts.threads, opts.maxEntries)
	if err != nil {
		log.Error("jobq: invalid configuration",
			slog.Int("threads", opts.threads),
			slog.Int("max_entries", opts.maxEntries),
			slog.Any("error", err),
		)
		return nil, err
	}
	if opts.memoryLimit != 0 && opts.memoryLimit < need {
		err := fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, opts.memoryLimit, need)
		log.Error("jobq: memory limit too small",
			slog.Uint64("limit", uint64(opts.memoryLimit)),
			slog.Uint64("required", uint64(need)),
		)
		return nil, err
	}

	q := &Queue{
		ring:     newRing(opts.maxEntries),
		capacity: int64(opts.maxEntries),
		threads:  make([]Thread, 0, opts.threads),
		opts:     opts,
	}
	q.state.StoreRelease(int32(StateCreated))
	if err := q.wakeUp.Init(0); err != nil {
		log.Error("jobq: wake-up semaphore", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", ErrSemaphoreCreate, err)
	}
	if err := q.entryComplete.Init(0); err != nil {
		log.Error("jobq: completion semaphore", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", ErrSemaphoreCreate, err)
	}

	var spawnErr error
	for range opts.threads {
		id := len(q.threads)
		q.live.Add(1)
		t, err := opts.spawner.Spawn(id, q.work, opts.stackSize)
		if err != nil {
			q.live.Add(-1)
			spawnErr = err
			continue
		}
		q.threads = append(q.threads, t)
	}

	if len(q.threads) == 0 {
		_ = q.wakeUp.Init(0)
		_ = q.entryComplete.Init(0)
		log.Error("jobq: no worker threads started",
			slog.Int("requested", opts.threads),
			slog.Any("error", spawnErr),
		)
		return nil, fmt.Errorf("%w: %w", ErrNoThreadsStarted, spawnErr)
	}
	q.workers = len(q.threads)
	if len(q.threads) < opts.threads {
		log.Warn("jobq: started fewer workers than requested",
			slog.Int("requested", opts.threads),
			slog.Int("started", len(q.threads)),
			slog.Any("error", spawnErr),
		)
	}

	opts.observer.WorkersLive(int(q.live.LoadAcquire()))
	q.state.StoreRelease(int32(StateRunning))
	log.Debug("jobq: queue running",
		slog.Int("workers", len(q.threads)),
		slog.Int("max_entries", opts.maxEntries),
		slog.Uint64("bytes", uint64(need)),
	)
	return q, nil
}

// Enqueue submits fn to run with arg on some worker.
//
// Enqueue never blocks. Returns ErrWouldBlock if maxEntries jobs are
// outstanding and ErrClosed once Destroy has begun. Panics if fn is nil.
func (q *Queue) Enqueue(fn JobFunc, arg any) error {
	if fn == nil {
		panic("jobq: nil job function")
	}

	q.producers.Add(1)
	defer q.producers.Add(-1)
	if q.closing.Load() {
		return ErrClosed
	}

	if !q.reserve() {
		q.rejected.Add(1)
		q.opts.observer.JobRejected()
		return ErrWouldBlock
	}

	// A reservation guarantees a ring slot; a consumer may still be
	// vacating it.
	sw := spin.Wait{}
	for !q.ring.enqueue(Entry{Func: fn, Arg: arg}) {
		sw.Once()
	}
	q.enqueued.Add(1)
	q.opts.observer.JobEnqueued()
	q.wakeUp.Signal()
	return nil
}

// reserve claims one unit of capacity.
func (q *Queue) reserve() bool {
	for {
		n := q.outstanding.LoadAcquire()
		if n >= q.capacity {
			return false
		}
		if q.outstanding.CompareAndSwapAcqRel(n, n+1) {
			return true
		}
	}
}

// work is the worker main loop.
func (q *Queue) work(id int) {
	defer q.live.Add(-1)

	for {
		q.wakeUp.Wait()
		if q.signalEnd.Load() {
			return
		}

		// Every permit follows a publication, but the slot at head can
		// belong to a producer that has not finished publishing.
		e, ok := q.ring.dequeue()
		sw := spin.Wait{}
		for !ok {
			sw.Once()
			e, ok = q.ring.dequeue()
		}

		q.run(id, e)
		q.completed.Add(1)
		q.entryComplete.Signal()
		q.outstanding.AddAcqRel(-1)
	}
}

// run invokes one job and contains its panics.
func (q *Queue) run(id int, e Entry) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			pe := newPanicError(id, r)
			q.panicked.Add(1)
			q.opts.logger.Error("jobq: job panicked",
				slog.String("queue", q.opts.name),
				slog.Int("worker_id", id),
				slog.Any("panic", r),
				slog.String("stack", pe.Stack),
			)
			q.opts.observer.JobPanicked()
			if q.opts.onPanic != nil {
				q.opts.onPanic(pe)
			}
		}
		q.opts.observer.JobCompleted(time.Since(start))
	}()
	e.Func(id, e.Arg)
}

// Wait blocks until no job is outstanding or timeout elapses.
//
// Wait polls once per millisecond, so it returns at most about one
// millisecond after the last job finishes. A zero timeout checks once;
// Infinite never expires. Returns false on timeout.
func (q *Queue) Wait(timeout time.Duration) bool {
	dl := newDeadline(timeout)
	for q.outstanding.LoadAcquire() > 0 {
		if dl.expired() {
			return false
		}
		time.Sleep(pollInterval)
	}
	return true
}

// WaitContext is Wait bounded by ctx instead of a timeout.
// Returns ctx.Err() if ctx is done first.
func (q *Queue) WaitContext(ctx context.Context) error {
	if q.outstanding.LoadAcquire() == 0 {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if q.outstanding.LoadAcquire() == 0 {
				return nil
			}
		}
	}
}

// AwaitCompletion consumes one completion signal, issued each time a
// worker finishes a job. Returns false on timeout.
func (q *Queue) AwaitCompletion(timeout time.Duration) bool {
	return q.entryComplete.WaitTimed(timeout)
}

// Destroy drains the queue and stops its workers.
//
// Destroy rejects new jobs with ErrClosed, waits for every outstanding
// job to finish, then wakes workers until all have exited, joins them
// and clears the ring. Calls after the first return immediately;
// concurrent calls return without waiting for the first to finish.
func (q *Queue) Destroy() {
	if !q.state.CompareAndSwapAcqRel(int32(StateRunning), int32(StateDraining)) {
		return
	}
	q.closing.Store(true)
	sw := spin.Wait{}
	for q.producers.Load() != 0 {
		sw.Once()
	}
	q.Wait(Infinite)

	q.signalEnd.Store(true)
	backoff := iox.Backoff{}
	for n := q.live.LoadAcquire(); n > 0; n = q.live.LoadAcquire() {
		for range n {
			q.wakeUp.Signal()
		}
		backoff.Wait()
	}
	for _, t := range q.threads {
		t.Join()
	}
	q.threads = nil
	q.opts.observer.WorkersLive(int(q.live.LoadAcquire()))

	_ = q.wakeUp.Init(0)
	_ = q.entryComplete.Init(0)
	q.ring.reset()
	q.state.StoreRelease(int32(StateDestroyed))

	q.opts.logger.Debug("jobq: queue destroyed",
		slog.String("queue", q.opts.name),
		slog.Int("workers", q.workers),
		slog.Int64("completed", q.completed.Load()),
	)
}

// Workers returns the number of workers started by Build.
func (q *Queue) Workers() int {
	return q.workers
}

// Len returns the number of jobs queued but not yet picked up by a worker.
// Always within [0, Cap()]. The value may be stale in concurrent contexts.
func (q *Queue) Len() int {
	return q.ring.len()
}

// Outstanding returns the number of jobs queued or executing.
func (q *Queue) Outstanding() int {
	return int(q.outstanding.LoadAcquire())
}

// Cap returns the maximum number of outstanding jobs.
func (q *Queue) Cap() int {
	return int(q.capacity)
}

// State returns the current lifecycle stage.
func (q *Queue) State() State {
	return State(q.state.LoadAcquire())
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Workers     int   // workers started by Build
	Live        int   // workers not yet exited
	Len         int   // jobs queued, not yet dequeued
	Cap         int   // capacity in outstanding jobs
	Outstanding int   // jobs queued or executing
	Enqueued    int64 // jobs accepted
	Completed   int64 // jobs finished, including panicked ones
	Rejected    int64 // Enqueue calls that returned ErrWouldBlock
	Panicked    int64 // jobs that panicked
}

// Stats returns a snapshot of the queue counters.
// Fields are read independently and may be mutually inconsistent while
// jobs are running.
func (q *Queue) Stats() Stats {
	return Stats{
		Workers:     q.Workers(),
		Live:        int(q.live.LoadAcquire()),
		Len:         q.Len(),
		Cap:         q.Cap(),
		Outstanding: q.Outstanding(),
		Enqueued:    q.enqueued.Load(),
		Completed:   q.completed.Load(),
		Rejected:    q.rejected.Load(),
		Panicked:    q.panicked.Load(),
	}
}
