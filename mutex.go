// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import (
	"time"

	"code.hybscloud.com/atomix"
)

const (
	unlocked int32 = 0
	locked   int32 = 1
)

// Mutex is a spin-based mutual exclusion lock.
//
// The lock is a single atomic word: 0 when unlocked, 1 when locked.
// Waiters spin (SpinUntil) instead of parking, so Mutex suits short
// critical sections only. It is not reentrant, not fair and tracks no
// owner: any goroutine may unlock it. Unlocking a Mutex that is not
// locked is a caller error.
//
// The zero value is an unlocked Mutex. A Mutex must not be copied after
// first use.
type Mutex struct {
	word atomix.Int32
}

// Lock acquires m, spinning until it is available.
func (m *Mutex) Lock() {
	m.LockTimed(Infinite)
}

// TryLock acquires m if it is unlocked and reports whether it did.
func (m *Mutex) TryLock() bool {
	return m.word.CompareAndSwapAcqRel(unlocked, locked)
}

// LockTimed acquires m, giving up after timeout.
//
// Waiting for the word to read 0 and claiming it are separate steps; a
// racing locker may claim the word in between, in which case LockTimed
// resumes waiting on the remaining budget. Returns false on timeout
// without changing m.
func (m *Mutex) LockTimed(timeout time.Duration) bool {
	if m.TryLock() {
		return true
	}
	dl := newDeadline(timeout)
	for {
		if !SpinUntil(&m.word, unlocked, dl.remaining()) {
			return false
		}
		if m.TryLock() {
			return true
		}
		if dl.expired() {
			return false
		}
	}
}

// Unlock releases m.
func (m *Mutex) Unlock() {
	m.word.StoreRelease(unlocked)
}

// Locked reports whether m is currently held.
// The result may be stale by the time it is observed.
func (m *Mutex) Locked() bool {
	return m.word.LoadAcquire() == locked
}
