// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Infinite disables a deadline. Any negative duration behaves the same.
const Infinite time.Duration = -1

// SpinUntil blocks until word equals sentinel or timeout elapses.
//
// The word is re-read with acquire ordering between adaptive CPU pauses
// (spin.Wait). SpinUntil never writes to word; a caller that needs to
// claim the word must still transition it atomically afterwards.
//
// A timeout of zero checks once. A negative timeout (Infinite) never
// expires. Returns false on timeout.
func SpinUntil(word *atomix.Int32, sentinel int32, timeout time.Duration) bool {
	return spinUntil(word.LoadAcquire, sentinel, timeout)
}

// SpinUntil64 is SpinUntil for a 64-bit word.
func SpinUntil64(word *atomix.Int64, sentinel int64, timeout time.Duration) bool {
	return spinUntil(word.LoadAcquire, sentinel, timeout)
}

func spinUntil[T comparable](load func() T, sentinel T, timeout time.Duration) bool {
	if load() == sentinel {
		return true
	}
	dl := newDeadline(timeout)
	sw := spin.Wait{}
	for !dl.expired() {
		sw.Once()
		if load() == sentinel {
			return true
		}
	}
	return false
}

// deadline tracks a wall-clock budget on the monotonic clock.
type deadline struct {
	at       time.Time
	infinite bool
}

func newDeadline(timeout time.Duration) deadline {
	if timeout < 0 {
		return deadline{infinite: true}
	}
	return deadline{at: time.Now().Add(timeout)}
}

func (d deadline) expired() bool {
	return !d.infinite && !time.Now().Before(d.at)
}

// remaining returns the unspent budget, Infinite for an unbounded
// deadline and zero once expired.
func (d deadline) remaining() time.Duration {
	if d.infinite {
		return Infinite
	}
	if r := time.Until(d.at); r > 0 {
		return r
	}
	return 0
}
