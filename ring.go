// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// ring is a bounded multi-producer multi-consumer ring of entries.
//
// Each slot carries a sequence number. A slot at position p is free for
// the producer claiming p when seq == p, and holds a published entry for
// the consumer claiming p when seq == p+1. Releasing a slot sets
// seq = p+capacity, handing it to the producer one lap ahead.
//
// Positions are uint64 and compared through a signed distance, so the
// full and empty checks stay correct when the counters wrap. Capacity
// need not be a power of two.
//
// length counts published-or-publishing entries not yet claimed by a
// consumer. Producers add before publishing and consumers subtract
// before releasing, which keeps 0 <= length <= capacity at every point.
type ring struct {
	_        pad
	tail     atomix.Uint64 // Producer index
	_        pad
	head     atomix.Uint64 // Consumer index
	_        pad
	length   atomix.Int64
	_        pad
	slots    []ringSlot
	capacity uint64
}

type ringSlot struct {
	seq   atomix.Uint64
	entry Entry
}

// ringHeaderSize and ringSlotSize feed MemoryRequirement.
const (
	ringHeaderSize = unsafe.Sizeof(ring{})
	ringSlotSize   = unsafe.Sizeof(ringSlot{})
)

func newRing(capacity int) *ring {
	n := uint64(capacity)
	r := &ring{
		slots:    make([]ringSlot, n),
		capacity: n,
	}
	for i := uint64(0); i < n; i++ {
		r.slots[i].seq.StoreRelaxed(i)
	}
	return r
}

// enqueue publishes e. Returns false if every slot is occupied.
func (r *ring) enqueue(e Entry) bool {
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		slot := &r.slots[tail%r.capacity]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq - tail)

		if diff == 0 {
			if r.tail.CompareAndSwapAcqRel(tail, tail+1) {
				r.length.AddAcqRel(1)
				slot.entry = e
				slot.seq.StoreRelease(tail + 1)
				return true
			}
		} else if diff < 0 {
			return false
		}
		sw.Once()
	}
}

// dequeue claims the oldest published entry. Returns false if the slot
// at head is not yet published.
func (r *ring) dequeue() (Entry, bool) {
	sw := spin.Wait{}
	for {
		head := r.head.LoadAcquire()
		slot := &r.slots[head%r.capacity]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq - (head + 1))

		if diff == 0 {
			if r.head.CompareAndSwapAcqRel(head, head+1) {
				e := slot.entry
				slot.entry = Entry{}
				r.length.AddAcqRel(-1)
				slot.seq.StoreRelease(head + r.capacity)
				return e, true
			}
		} else if diff < 0 {
			return Entry{}, false
		}
		sw.Once()
	}
}

func (r *ring) len() int {
	return int(r.length.LoadAcquire())
}

// reset zero-fills every slot and rewinds the counters.
// The caller guarantees no producer or consumer is active.
func (r *ring) reset() {
	clear(r.slots)
	for i := uint64(0); i < r.capacity; i++ {
		r.slots[i].seq.StoreRelaxed(i)
	}
	r.tail.StoreRelaxed(0)
	r.head.StoreRelaxed(0)
	r.length.StoreRelease(0)
}

// pad is cache line padding to prevent false sharing.
type pad [64]byte
