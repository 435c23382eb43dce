// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import "time"

// JobFunc is the body of a job.
//
// workerID identifies the worker running the job, in [0, Workers()).
// arg is the value passed to Enqueue; the queue never inspects, copies
// or releases it, so ownership stays with the caller.
//
// A job has no result channel. A job that can fail writes its outcome
// into a location reachable through arg:
//
//	type resize struct {
//	    img *Image
//	    err error
//	}
//
//	q.Enqueue(func(_ int, arg any) {
//	    r := arg.(*resize)
//	    r.err = r.img.Resize(640, 480)
//	}, r)
type JobFunc func(workerID int, arg any)

// Entry is one ring slot: a job and its argument.
type Entry struct {
	Func JobFunc
	Arg  any
}

// Producer is the interface for submitting jobs.
type Producer interface {
	// Enqueue submits fn to run with arg on some worker (non-blocking).
	// Returns nil on success, ErrWouldBlock if the queue is full,
	// ErrClosed once the queue is being destroyed.
	Enqueue(fn JobFunc, arg any) error
}

// Waiter is the interface for draining outstanding work.
type Waiter interface {
	// Wait blocks until no job is outstanding or timeout elapses.
	// Returns false on timeout.
	Wait(timeout time.Duration) bool
}

// TimedLocker is a lock whose acquisition can be bounded in time.
// *Mutex implements TimedLocker.
type TimedLocker interface {
	Lock()
	Unlock()
	TryLock() bool
	LockTimed(timeout time.Duration) bool
}

// Observer receives queue events. Implementations must be safe for
// concurrent use and must not block; they run on producer and worker
// goroutines. See package metrics for a Prometheus implementation.
type Observer interface {
	// JobEnqueued is called after a job is accepted.
	JobEnqueued()
	// JobRejected is called when Enqueue returns ErrWouldBlock.
	JobRejected()
	// JobCompleted is called after a job returns or panics.
	JobCompleted(elapsed time.Duration)
	// JobPanicked is called when a job panics, before JobCompleted.
	JobPanicked()
	// WorkersLive reports the live worker count once Build has started
	// the workers and again once Destroy has joined them.
	WorkersLive(n int)
}

type nopObserver struct{}

func (nopObserver) JobEnqueued()               {}
func (nopObserver) JobRejected()               {}
func (nopObserver) JobCompleted(time.Duration) {}
func (nopObserver) JobPanicked()               {}
func (nopObserver) WorkersLive(int)            {}

var (
	_ Producer    = (*Queue)(nil)
	_ Waiter      = (*Queue)(nil)
	_ TimedLocker = (*Mutex)(nil)
)
