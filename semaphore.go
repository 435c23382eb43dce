// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import (
	"fmt"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Semaphore is a busy-wait counting semaphore.
//
// The count is an atomic word paired with a Mutex. Signal increments the
// count under the mutex. Wait takes the mutex, and if the count is
// positive decrements it; otherwise it releases the mutex and polls
// again. Waiters never park on an OS primitive.
//
// The count is never negative and has no upper bound. The number of
// successful waits never exceeds the initial count plus the number of
// signals.
//
// The zero value is a semaphore with count 0.
type Semaphore struct {
	count atomix.Int32
	mtx   Mutex
}

// NewSemaphore creates a semaphore holding initial permits.
// Returns ErrNegativeCount if initial < 0.
func NewSemaphore(initial int32) (*Semaphore, error) {
	s := &Semaphore{}
	if err := s.Init(initial); err != nil {
		return nil, err
	}
	return s, nil
}

// Init resets s to hold initial permits with its mutex unlocked.
// Init must not race with other operations on s.
func (s *Semaphore) Init(initial int32) error {
	if initial < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeCount, initial)
	}
	s.mtx.Unlock()
	s.count.StoreRelease(initial)
	return nil
}

// Signal adds one permit. It never fails.
func (s *Semaphore) Signal() {
	s.mtx.Lock()
	s.count.Add(1)
	s.mtx.Unlock()
}

// Wait blocks until a permit is available and takes it.
func (s *Semaphore) Wait() {
	s.WaitTimed(Infinite)
}

// TryWait takes a permit if one is available without waiting.
func (s *Semaphore) TryWait() bool {
	return s.WaitTimed(0)
}

// WaitTimed takes a permit, giving up after timeout.
// Both the mutex acquisition and the poll for a positive count draw on
// the same budget. Returns false on timeout.
func (s *Semaphore) WaitTimed(timeout time.Duration) bool {
	dl := newDeadline(timeout)
	sw := spin.Wait{}
	for {
		if !s.mtx.LockTimed(dl.remaining()) {
			return false
		}
		if s.count.LoadAcquire() > 0 {
			s.count.Add(-1)
			s.mtx.Unlock()
			return true
		}
		s.mtx.Unlock()
		if dl.expired() {
			return false
		}
		sw.Once()
	}
}

// Count returns the number of available permits.
// The value may be stale in concurrent contexts.
func (s *Semaphore) Count() int32 {
	return s.count.LoadAcquire()
}
