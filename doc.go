// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package jobq provides a fixed-capacity job queue drained by a pool of
// worker threads, and the spin-based primitives it is built from.
//
// Components, leaves first:
//
//   - SpinUntil: busy-wait until an atomic word equals a sentinel
//   - Mutex: one atomic word, 0 unlocked and 1 locked
//   - Semaphore: an atomic count guarded by a Mutex
//   - Queue: a bounded MPMC ring of jobs, a wake-up semaphore, a
//     completion semaphore and N workers
//
// # Quick Start
//
//	q, err := jobq.Create(4, 256)
//	if err != nil {
//	    return err
//	}
//	defer q.Destroy()
//
//	var done atomix.Int64
//	for i := range 100 {
//	    for q.Enqueue(func(workerID int, arg any) {
//	        done.Add(1)
//	    }, i) != nil {
//	        q.Wait(jobq.Infinite) // full: let workers catch up
//	    }
//	}
//	q.Wait(jobq.Infinite)
//
// # Configuration
//
// Builder configures everything beyond the two counts:
//
//	q, err := jobq.New(8, 1024).
//	    Name("encoder").
//	    StackSize(256 << 10).
//	    MemoryLimit(64 << 10).
//	    Spawner(mySpawner).
//	    Logger(slog.Default()).
//	    Observer(metrics.NewCollector(prometheus.DefaultRegisterer, "encoder")).
//	    OnPanic(func(pe *jobq.PanicError) { report(pe) }).
//	    Build()
//
// Counts are validated eagerly: threads >= 1, maxEntries >= threads and
// maxEntries < math.MaxInt32, else [ErrInvalidConfig]. [MemoryRequirement]
// reports the bytes a queue occupies; a non-zero MemoryLimit below it
// fails with [ErrBufferTooSmall].
//
// Workers are started through a [Spawner]. If some fail to start, the
// queue runs with the rest and [Queue.Workers] reports the achieved
// count. If none start, Build fails with [ErrNoThreadsStarted].
//
// # Capacity
//
// Capacity counts outstanding jobs, queued plus executing. Enqueue
// returns [ErrWouldBlock] once maxEntries jobs are outstanding and never
// blocks; the caller owns the retry policy:
//
//	backoff := iox.Backoff{}
//	for {
//	    err := q.Enqueue(job, arg)
//	    if err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    if !jobq.IsWouldBlock(err) {
//	        return err // ErrClosed
//	    }
//	    backoff.Wait()
//	}
//
// [Queue.Len] reports jobs queued but not yet picked up by a worker and
// always lies in [0, Cap()].
//
// # Ordering
//
// Enqueue order is the order jobs enter the ring. It is not the order
// they run or complete: any idle worker may take the next job. Jobs run
// by one worker run sequentially.
//
// # Job Results and Panics
//
// Jobs have no result channel. A job that can fail writes its outcome
// into a location reachable through its argument. A panicking job is
// recovered on the worker, logged, counted and handed to the OnPanic
// handler as a [*PanicError]; the worker keeps running.
//
// # Waiting and Shutdown
//
// [Queue.Wait] polls the outstanding count once per millisecond until it
// reaches zero or the timeout elapses. [Queue.Destroy] rejects new jobs
// with [ErrClosed], drains, stops and joins every worker and clears the
// ring. Jobs already executing are never cancelled.
//
// # Busy Waiting
//
// Mutex and Semaphore spin instead of parking on an OS primitive. Idle
// workers therefore poll the wake-up semaphore, pausing the CPU between
// polls with [code.hybscloud.com/spin]. Size the worker count to the
// cores you are willing to dedicate.
//
// # Race Detection
//
// Ring slots and critical sections guarded by Mutex are plain memory
// ordered through atomix acquire-release operations. The race detector
// does not observe that ordering and may report false positives; tests
// that depend on it check [RaceEnabled] and skip.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors and
// backoff, [code.hybscloud.com/atomix] for atomic primitives with explicit
// memory ordering, and [code.hybscloud.com/spin] for CPU pause instructions.
package jobq
