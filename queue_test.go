// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !race

// This file contains tests that run real workers. Ring slots and the
// spin primitives are ordered through atomix, which the race detector
// cannot observe, so the file is excluded from race testing.

package jobq_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/jobq"
)

// mustCreate builds a queue and registers Destroy as cleanup.
func mustCreate(t *testing.T, b *jobq.Builder) *jobq.Queue {
	t.Helper()
	q, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(q.Destroy)
	return q
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// flakySpawner refuses every attempt for which refuse returns true.
type flakySpawner struct {
	attempts   int
	stackSizes []int
	refuse     func(attempt int) bool
}

func (s *flakySpawner) Spawn(id int, main func(int), stackSize int) (jobq.Thread, error) {
	attempt := s.attempts
	s.attempts++
	s.stackSizes = append(s.stackSizes, stackSize)
	if s.refuse(attempt) {
		return nil, errSpawn
	}
	return jobq.GoroutineSpawner{}.Spawn(id, main, stackSize)
}

// =============================================================================
// Queue - Basic Lifecycle
// =============================================================================

// TestQueueScenario runs the reference scenario: drain, reuse, and
// rejection when every slot holds an in-flight job.
func TestQueueScenario(t *testing.T) {
	q := mustCreate(t, jobq.New(4, 8))

	if q.Workers() != 4 {
		t.Fatalf("Workers: got %d, want 4", q.Workers())
	}
	if q.Cap() != 8 {
		t.Fatalf("Cap: got %d, want 8", q.Cap())
	}
	if q.State() != jobq.StateRunning {
		t.Fatalf("State: got %v, want running", q.State())
	}

	var counter atomix.Int64
	inc := func(int, any) { counter.Add(1) }

	for i := range 8 {
		if err := q.Enqueue(inc, nil); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	if !q.Wait(jobq.Infinite) {
		t.Fatal("Wait(Infinite): got false")
	}
	if got := counter.Load(); got != 8 {
		t.Fatalf("counter after drain: got %d, want 8", got)
	}

	// Space freed by the drain
	if err := q.Enqueue(inc, nil); err != nil {
		t.Fatalf("Enqueue after drain: %v", err)
	}
	q.Wait(jobq.Infinite)

	// Fill with blocking jobs
	release := make(chan struct{})
	block := func(int, any) { <-release }
	for i := range 8 {
		if err := q.Enqueue(block, nil); err != nil {
			t.Fatalf("Enqueue blocking job %d: %v", i, err)
		}
	}

	// Four jobs execute, four stay queued.
	waitFor(t, "workers to pick up jobs", func() bool { return q.Len() == 4 })

	if err := q.Enqueue(inc, nil); !errors.Is(err, jobq.ErrWouldBlock) {
		t.Fatalf("Enqueue on full queue: got %v, want ErrWouldBlock", err)
	}
	if got := q.Len(); got != 4 {
		t.Fatalf("Len after rejected Enqueue: got %d, want 4", got)
	}
	if got := q.Outstanding(); got != 8 {
		t.Fatalf("Outstanding: got %d, want 8", got)
	}

	close(release)
	if !q.Wait(5 * time.Second) {
		t.Fatal("Wait after release: timed out")
	}
	if got := q.Stats().Rejected; got != 1 {
		t.Fatalf("Stats.Rejected: got %d, want 1", got)
	}
}

// TestQueueFullRejectionNoWorkersDraining tests rejection while all jobs
// are still queued, with every worker blocked.
func TestQueueFullRejectionNoWorkersDraining(t *testing.T) {
	q := mustCreate(t, jobq.New(1, 3))

	release := make(chan struct{})
	defer close(release)
	for range 3 {
		if err := q.Enqueue(func(int, any) { <-release }, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitFor(t, "worker to block", func() bool { return q.Len() == 2 })

	for range 10 {
		if err := q.Enqueue(func(int, any) {}, nil); !jobq.IsWouldBlock(err) {
			t.Fatalf("Enqueue on full queue: got %v, want ErrWouldBlock", err)
		}
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("Len: got %d, want 2", got)
	}
}

// TestQueueSingleWorkerOrder tests that one worker runs jobs in enqueue
// order, one at a time.
func TestQueueSingleWorkerOrder(t *testing.T) {
	q := mustCreate(t, jobq.New(1, 16))

	var order []int
	var running atomix.Int32
	var overlap atomix.Bool
	for i := range 16 {
		err := q.Enqueue(func(_ int, arg any) {
			if running.Add(1) != 1 {
				overlap.Store(true)
			}
			order = append(order, arg.(int))
			running.Add(-1)
		}, i)
		if err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	q.Wait(jobq.Infinite)

	if overlap.Load() {
		t.Fatal("single worker ran two jobs at once")
	}
	if len(order) != 16 {
		t.Fatalf("ran %d jobs, want 16", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d]: got %d, want %d", i, v, i)
		}
	}
}

// TestQueueRingWraparound tests many laps around a ring whose capacity
// is not a power of two. A single worker preserves enqueue order.
func TestQueueRingWraparound(t *testing.T) {
	const jobs = 1000

	q := mustCreate(t, jobq.New(1, 3))

	var order []int
	backoff := iox.Backoff{}
	for i := range jobs {
		for {
			err := q.Enqueue(func(_ int, arg any) {
				order = append(order, arg.(int))
			}, i)
			if err == nil {
				backoff.Reset()
				break
			}
			if !jobq.IsWouldBlock(err) {
				t.Fatalf("Enqueue(%d): %v", i, err)
			}
			backoff.Wait()
		}
	}
	if !q.Wait(10 * time.Second) {
		t.Fatal("Wait: timed out")
	}

	if len(order) != jobs {
		t.Fatalf("ran %d jobs, want %d", len(order), jobs)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d]: got %d, want %d", i, v, i)
		}
	}
}

// TestQueueWorkerIDs tests that jobs see worker ids in [0, Workers()).
func TestQueueWorkerIDs(t *testing.T) {
	q := mustCreate(t, jobq.New(3, 32))

	var bad atomix.Bool
	for range 32 {
		err := q.Enqueue(func(id int, _ any) {
			if id < 0 || id >= 3 {
				bad.Store(true)
			}
		}, nil)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Wait(jobq.Infinite)

	if bad.Load() {
		t.Fatal("job saw a worker id outside [0, 3)")
	}
}

// TestQueueArgOwnership tests that jobs write results through the
// caller-owned argument.
func TestQueueArgOwnership(t *testing.T) {
	type square struct {
		in, out int
	}

	q := mustCreate(t, jobq.New(2, 8))

	items := make([]square, 8)
	for i := range items {
		items[i].in = i
		err := q.Enqueue(func(_ int, arg any) {
			s := arg.(*square)
			s.out = s.in * s.in
		}, &items[i])
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Wait(jobq.Infinite)

	for i, s := range items {
		if s.out != i*i {
			t.Fatalf("items[%d].out: got %d, want %d", i, s.out, i*i)
		}
	}
}

// =============================================================================
// Queue - Waiting
// =============================================================================

// TestQueueWaitTimeout tests that Wait reports a timeout while a job is
// outstanding and succeeds once it finishes.
func TestQueueWaitTimeout(t *testing.T) {
	q := mustCreate(t, jobq.New(1, 1))

	if !q.Wait(0) {
		t.Fatal("Wait(0) on idle queue: got false")
	}

	release := make(chan struct{})
	if err := q.Enqueue(func(int, any) { <-release }, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if q.Wait(0) {
		t.Fatal("Wait(0) with outstanding job: got true")
	}
	start := time.Now()
	if q.Wait(10 * time.Millisecond) {
		t.Fatal("Wait(10ms) with blocked job: got true")
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("Wait returned after %v, want >= 10ms", elapsed)
	}

	close(release)
	if !q.Wait(5 * time.Second) {
		t.Fatal("Wait after release: got false")
	}
}

// TestQueueWaitContext tests context-bounded waiting.
func TestQueueWaitContext(t *testing.T) {
	q := mustCreate(t, jobq.New(1, 1))

	if err := q.WaitContext(context.Background()); err != nil {
		t.Fatalf("WaitContext on idle queue: %v", err)
	}

	release := make(chan struct{})
	if err := q.Enqueue(func(int, any) { <-release }, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitContext: got %v, want DeadlineExceeded", err)
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := q.WaitContext(ctx2); err != nil {
		t.Fatalf("WaitContext after release: %v", err)
	}
}

// TestQueueAwaitCompletion tests the per-job completion signal.
func TestQueueAwaitCompletion(t *testing.T) {
	q := mustCreate(t, jobq.New(2, 4))

	for range 3 {
		if err := q.Enqueue(func(int, any) {}, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for i := range 3 {
		if !q.AwaitCompletion(5 * time.Second) {
			t.Fatalf("AwaitCompletion #%d: timed out", i)
		}
	}
	if q.AwaitCompletion(5 * time.Millisecond) {
		t.Fatal("AwaitCompletion with no pending signal: got true")
	}
}

// =============================================================================
// Queue - Stress
// =============================================================================

// TestQueueNoLoss tests that every accepted job runs exactly once under
// concurrent producers competing for limited capacity.
func TestQueueNoLoss(t *testing.T) {
	const (
		numProducers = 8
		perProducer  = 2000
		timeout      = 10 * time.Second
	)

	q := mustCreate(t, jobq.New(4, 64))
	total := numProducers * perProducer
	seen := make([]atomix.Int32, total)

	var wg sync.WaitGroup
	var timedOut atomix.Bool
	var lenViolation atomix.Bool
	deadline := time.Now().Add(timeout)

	mark := func(_ int, arg any) {
		seen[arg.(int)].Add(1)
	}

	for p := range numProducers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			backoff := iox.Backoff{}
			for i := range perProducer {
				v := id*perProducer + i
				for {
					err := q.Enqueue(mark, v)
					if err == nil {
						break
					}
					if !jobq.IsWouldBlock(err) {
						t.Errorf("Enqueue: %v", err)
						return
					}
					if time.Now().After(deadline) {
						timedOut.Store(true)
						return
					}
					if n := q.Len(); n < 0 || n > q.Cap() {
						lenViolation.Store(true)
					}
					backoff.Wait()
				}
				backoff.Reset()
			}
		}(p)
	}
	wg.Wait()

	if timedOut.Load() {
		t.Fatal("timeout while producing")
	}
	if !q.Wait(timeout) {
		t.Fatalf("Wait: timed out with %d outstanding", q.Outstanding())
	}
	if lenViolation.Load() {
		t.Fatal("Len left [0, Cap()]")
	}

	var missing, duplicates int
	for i := range total {
		switch seen[i].Load() {
		case 0:
			missing++
		case 1:
		default:
			duplicates++
		}
	}
	if missing > 0 || duplicates > 0 {
		t.Fatalf("missing=%d duplicates=%d", missing, duplicates)
	}

	st := q.Stats()
	if st.Enqueued != int64(total) || st.Completed != int64(total) {
		t.Fatalf("Stats: enqueued=%d completed=%d, want %d", st.Enqueued, st.Completed, total)
	}
	if st.Len != 0 || st.Outstanding != 0 {
		t.Fatalf("Stats after drain: len=%d outstanding=%d", st.Len, st.Outstanding)
	}
}

// =============================================================================
// Queue - Shutdown
// =============================================================================

// TestQueueDestroyDrains tests that Destroy returns only after every
// accepted job has finished and every worker has exited.
func TestQueueDestroyDrains(t *testing.T) {
	q, err := jobq.Create(4, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var done atomix.Int64
	for range 16 {
		err := q.Enqueue(func(int, any) {
			time.Sleep(2 * time.Millisecond)
			done.Add(1)
		}, nil)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	q.Destroy()

	if got := done.Load(); got != 16 {
		t.Fatalf("jobs finished before Destroy returned: got %d, want 16", got)
	}
	st := q.Stats()
	if st.Live != 0 {
		t.Fatalf("live workers after Destroy: %d", st.Live)
	}
	if st.Len != 0 {
		t.Fatalf("Len after Destroy: %d", st.Len)
	}
	if q.State() != jobq.StateDestroyed {
		t.Fatalf("State: got %v, want destroyed", q.State())
	}

	if err := q.Enqueue(func(int, any) {}, nil); !errors.Is(err, jobq.ErrClosed) {
		t.Fatalf("Enqueue after Destroy: got %v, want ErrClosed", err)
	}

	// Idempotent
	q.Destroy()
}

// TestQueueDestroyIdle tests shutting down a queue that never ran a job.
func TestQueueDestroyIdle(t *testing.T) {
	q, err := jobq.Create(8, 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan struct{})
	go func() {
		q.Destroy()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Destroy of idle queue did not return")
	}
	if live := q.Stats().Live; live != 0 {
		t.Fatalf("live workers: %d", live)
	}
}

// =============================================================================
// Queue - Partial Startup
// =============================================================================

// TestQueuePartialStartup tests that the queue runs with the workers
// that did start and reports the achieved count.
func TestQueuePartialStartup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sp := &flakySpawner{refuse: func(attempt int) bool { return attempt%2 == 1 }}

	q := mustCreate(t, jobq.New(4, 16).Spawner(sp).StackSize(64<<10).Logger(logger))

	if q.Workers() != 2 {
		t.Fatalf("Workers: got %d, want 2", q.Workers())
	}
	if sp.attempts != 4 {
		t.Fatalf("spawn attempts: got %d, want 4", sp.attempts)
	}
	for i, n := range sp.stackSizes {
		if n != 64<<10 {
			t.Fatalf("stack size hint %d: got %d, want %d", i, n, 64<<10)
		}
	}
	if !strings.Contains(buf.String(), "started fewer workers") {
		t.Fatalf("log missing partial startup warning: %q", buf.String())
	}

	var ran atomix.Int64
	var badID atomix.Bool
	for range 16 {
		err := q.Enqueue(func(id int, _ any) {
			if id >= 2 {
				badID.Store(true)
			}
			ran.Add(1)
		}, nil)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if !q.Wait(5 * time.Second) {
		t.Fatal("Wait: timed out")
	}
	if got := ran.Load(); got != 16 {
		t.Fatalf("jobs run: got %d, want 16", got)
	}
	if badID.Load() {
		t.Fatal("worker id outside the started range")
	}
}

// =============================================================================
// Queue - Panics
// =============================================================================

// TestQueueRecoversPanics tests that a panicking job is contained,
// reported, and does not stop its worker.
func TestQueueRecoversPanics(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	panics := make(chan *jobq.PanicError, 4)
	boom := errors.New("boom")

	q := mustCreate(t, jobq.New(1, 4).Logger(logger).OnPanic(func(pe *jobq.PanicError) {
		panics <- pe
	}))

	var after atomix.Bool
	if err := q.Enqueue(func(int, any) { panic(boom) }, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(func(int, any) { after.Store(true) }, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !q.Wait(5 * time.Second) {
		t.Fatal("Wait: timed out")
	}

	if !after.Load() {
		t.Fatal("worker stopped after a panicking job")
	}
	select {
	case pe := <-panics:
		if !errors.Is(pe, boom) {
			t.Fatalf("PanicError does not wrap the panic value: %v", pe)
		}
		if pe.WorkerID != 0 {
			t.Fatalf("PanicError.WorkerID: got %d, want 0", pe.WorkerID)
		}
		if pe.Stack == "" {
			t.Fatal("PanicError.Stack is empty")
		}
	default:
		t.Fatal("OnPanic not called")
	}

	st := q.Stats()
	if st.Panicked != 1 || st.Completed != 2 {
		t.Fatalf("Stats: panicked=%d completed=%d, want 1 and 2", st.Panicked, st.Completed)
	}
	if !strings.Contains(buf.String(), "job panicked") {
		t.Fatalf("log missing panic record: %q", buf.String())
	}
}

// TestQueueNilJobPanics tests that a nil job is a caller error.
func TestQueueNilJobPanics(t *testing.T) {
	q := mustCreate(t, jobq.New(1, 1))

	defer func() {
		if recover() == nil {
			t.Fatal("Enqueue(nil): no panic")
		}
	}()
	_ = q.Enqueue(nil, nil)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a
// worker and reads of the test goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
