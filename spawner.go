// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import "unsafe"

// Thread is a joinable handle to a spawned worker.
type Thread interface {
	// Join blocks until the worker's main function has returned.
	Join()
}

// Spawner starts worker threads for a Queue.
//
// Spawn runs main(id) on a new thread of execution and returns a handle
// to join it. stackSize is a hint; implementations that cannot honor it
// ignore it. A Spawn error makes the queue run with fewer workers; the
// queue never retries.
type Spawner interface {
	Spawn(id int, main func(id int), stackSize int) (Thread, error)
}

// GoroutineSpawner runs each worker on its own goroutine.
// Goroutine stacks grow on demand, so the stack size hint is ignored.
type GoroutineSpawner struct{}

// Spawn starts main(id) on a new goroutine.
func (GoroutineSpawner) Spawn(id int, main func(id int), _ int) (Thread, error) {
	t := &goroutine{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		main(id)
	}()
	return t, nil
}

type goroutine struct {
	done chan struct{}
}

func (t *goroutine) Join() {
	<-t.done
}

// threadHandleSize is the per-worker footprint counted by MemoryRequirement.
const threadHandleSize = unsafe.Sizeof(Thread(nil))
