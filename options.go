// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobq

import (
	"fmt"
	"log/slog"
	"math"
)

// Options configures queue creation.
type Options struct {
	threads    int
	maxEntries int

	// Resource hints
	stackSize   int
	memoryLimit uintptr // 0 means unlimited

	name     string
	spawner  Spawner
	logger   *slog.Logger
	observer Observer
	onPanic  func(*PanicError)
}

// Builder creates queues with fluent configuration.
//
// Example:
//
//	q, err := jobq.New(4, 256).
//	    Name("thumbnails").
//	    Logger(slog.Default()).
//	    Observer(metrics.NewCollector(prometheus.DefaultRegisterer, "thumbnails")).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer q.Destroy()
type Builder struct {
	opts Options
}

// New creates a queue builder for threads workers sharing a queue of at
// most maxEntries outstanding jobs.
//
// Counts are validated by Build, not here.
func New(threads, maxEntries int) *Builder {
	return &Builder{opts: Options{
		threads:    threads,
		maxEntries: maxEntries,
		name:       "default",
	}}
}

// StackSize passes a per-worker stack size hint to the Spawner.
func (b *Builder) StackSize(n int) *Builder {
	b.opts.stackSize = n
	return b
}

// MemoryLimit caps the bytes the queue may occupy.
// Build fails with ErrBufferTooSmall when n is below MemoryRequirement.
// Zero, the default, means unlimited.
func (b *Builder) MemoryLimit(n uintptr) *Builder {
	b.opts.memoryLimit = n
	return b
}

// Name labels the queue in log records.
func (b *Builder) Name(name string) *Builder {
	b.opts.name = name
	return b
}

// Spawner sets how worker threads are started. Default: GoroutineSpawner.
func (b *Builder) Spawner(s Spawner) *Builder {
	b.opts.spawner = s
	return b
}

// Logger sets the logger for configuration, startup and job panic
// diagnostics. Default: discard.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.opts.logger = l
	return b
}

// Observer sets the receiver of queue events. Default: none.
func (b *Builder) Observer(o Observer) *Builder {
	b.opts.observer = o
	return b
}

// OnPanic sets a handler for panics recovered from jobs.
// The handler runs on the worker that recovered the panic.
func (b *Builder) OnPanic(fn func(*PanicError)) *Builder {
	b.opts.onPanic = fn
	return b
}

// Build validates the configuration, allocates the queue and starts its
// workers.
//
// Returns ErrInvalidConfig, ErrBufferTooSmall, ErrSemaphoreCreate or
// ErrNoThreadsStarted (wrapped). If only some workers start, Build
// succeeds and Workers reports how many did.
func (b *Builder) Build() (*Queue, error) {
	opts := b.opts
	if opts.spawner == nil {
		opts.spawner = GoroutineSpawner{}
	}
	if opts.logger == nil {
		opts.logger = slog.New(slog.DiscardHandler)
	}
	if opts.observer == nil {
		opts.observer = nopObserver{}
	}
	return create(opts)
}

// Create builds a queue with default options.
// Equivalent to New(threads, maxEntries).Build().
func Create(threads, maxEntries int) (*Queue, error) {
	return New(threads, maxEntries).Build()
}

// MemoryRequirement returns the exact number of bytes a queue with the
// given counts occupies: the queue header, the entry ring and one thread
// handle per worker.
//
// Returns ErrInvalidConfig if threads < 1, maxEntries < threads or
// maxEntries >= math.MaxInt32.
func MemoryRequirement(threads, maxEntries int) (uintptr, error) {
	if err := validate(threads, maxEntries); err != nil {
		return 0, err
	}
	return queueHeaderSize +
		ringHeaderSize + uintptr(maxEntries)*ringSlotSize +
		uintptr(threads)*threadHandleSize, nil
}

func validate(threads, maxEntries int) error {
	switch {
	case threads < 1:
		return fmt.Errorf("%w: thread count %d < 1", ErrInvalidConfig, threads)
	case maxEntries < threads:
		return fmt.Errorf("%w: max entries %d < thread count %d", ErrInvalidConfig, maxEntries, threads)
	case maxEntries >= math.MaxInt32:
		return fmt.Errorf("%w: max entries %d >= %d", ErrInvalidConfig, maxEntries, math.MaxInt32)
	}
	return nil
}
