// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import (
	"errors"
	"fmt"
	"runtime"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates the queue is full.
//
// Enqueue returns ErrWouldBlock when maxEntries jobs are outstanding
// (queued or executing). It is a control flow signal, not a failure: the
// caller owns the retry policy.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
//
// Example:
//
//	backoff := iox.Backoff{}
//	for {
//	    err := q.Enqueue(job, arg)
//	    if err == nil {
//	        break
//	    }
//	    if jobq.IsWouldBlock(err) {
//	        backoff.Wait()
//	        continue
//	    }
//	    return err // ErrClosed
//	}
var ErrWouldBlock = iox.ErrWouldBlock

var (
	// ErrInvalidConfig reports a thread or entry count outside the
	// accepted range: threads >= 1, maxEntries >= threads and
	// maxEntries < math.MaxInt32.
	ErrInvalidConfig = errors.New("jobq: invalid configuration")

	// ErrBufferTooSmall reports a memory limit below MemoryRequirement.
	ErrBufferTooSmall = errors.New("jobq: memory limit below requirement")

	// ErrSemaphoreCreate reports a failure to initialize the queue's
	// wake-up or completion semaphore.
	ErrSemaphoreCreate = errors.New("jobq: semaphore creation failed")

	// ErrNoThreadsStarted reports that the spawner started no worker.
	ErrNoThreadsStarted = errors.New("jobq: no worker threads started")

	// ErrClosed is returned by Enqueue once Destroy has begun.
	ErrClosed = errors.New("jobq: queue is closed")

	// ErrNegativeCount is returned when a semaphore is initialized
	// with a negative count.
	ErrNegativeCount = errors.New("jobq: negative semaphore count")
)

// IsWouldBlock reports whether err indicates the queue is full.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Returns true for nil and ErrWouldBlock.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

// PanicError carries a panic recovered from a job function.
//
// A job must not unwind across the worker boundary. When one does, the
// worker recovers, wraps the value in a PanicError and keeps running.
type PanicError struct {
	// WorkerID is the id of the worker that ran the job.
	WorkerID int

	// Value is the value passed to panic().
	Value any

	// Stack is the goroutine stack captured at recovery.
	Stack string
}

// Error returns the panic value and the captured stack.
func (e *PanicError) Error() string {
	return fmt.Sprintf("jobq: job panicked on worker %d: %v\n\n%s", e.WorkerID, e.Value, e.Stack)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(workerID int, v any) *PanicError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{
		WorkerID: workerID,
		Value:    v,
		Stack:    string(buf[:n]),
	}
}
