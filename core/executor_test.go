package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Test helpers
// =============================================================================

type pendCounter struct {
	n atomic.Int32
}

func (c *pendCounter) pender() Pender {
	return CallbackPender(func(any) { c.n.Add(1) }, nil)
}

func (c *pendCounter) count() int { return int(c.n.Load()) }

func newTestExecutor(t *testing.T, config *ExecutorConfig) (*Executor, *pendCounter) {
	t.Helper()
	pends := &pendCounter{}
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.Name == "" {
		config.Name = t.Name()
	}
	return NewExecutorWithConfig(pends.pender(), config), pends
}

func mustSpawn(t *testing.T, exec *Executor, token SpawnToken) TaskRef {
	t.Helper()
	if err := exec.Spawner().Spawn(token); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return token.Task()
}

// readyFuture completes on its first poll.
func readyFuture(polls *atomic.Int32) FutureFunc {
	return func(*Context) Poll {
		polls.Add(1)
		return Ready
	}
}

// parkedFuture parks its waker and stays pending until done is set.
type parkedFuture struct {
	waker *AtomicWaker
	polls *atomic.Int32
	done  *atomic.Bool
}

func newParkedFuture() parkedFuture {
	return parkedFuture{
		waker: &AtomicWaker{},
		polls: &atomic.Int32{},
		done:  &atomic.Bool{},
	}
}

func (f parkedFuture) Poll(cx *Context) Poll {
	f.polls.Add(1)
	if f.done.Load() {
		return Ready
	}
	f.waker.Register(cx.Waker())
	return Pending
}

type recordingPanicHandler struct {
	mu     sync.Mutex
	panics []any
	tasks  []TaskRef
}

func (h *recordingPanicHandler) HandlePanic(executorName string, task TaskRef, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics = append(h.panics, panicInfo)
	h.tasks = append(h.tasks, task)
}

func (h *recordingPanicHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.panics)
}

// =============================================================================
// Spawn and completion
// =============================================================================

// TestExecutor_SpawnPollComplete tests a task that completes on its first poll
// Main test items:
// 1. Spawning pends the executor once
// 2. Poll runs the future and frees the slot
// 3. The same slot can be spawned again
func TestExecutor_SpawnPollComplete(t *testing.T) {
	exec, pends := newTestExecutor(t, nil)
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32

	task := mustSpawn(t, exec, storage.Spawn(func() FutureFunc { return readyFuture(&polls) }))
	if pends.count() != 1 {
		t.Fatalf("pends after spawn = %d, want 1", pends.count())
	}

	exec.Poll()

	if polls.Load() != 1 {
		t.Fatalf("polls = %d, want 1", polls.Load())
	}
	if !task.Header().State().IsEmpty() {
		t.Fatalf("state after completion = %s, want empty", task.Header().State())
	}
	if storage.IsSpawned() {
		t.Fatal("storage still spawned after completion")
	}

	mustSpawn(t, exec, storage.Spawn(func() FutureFunc { return readyFuture(&polls) }))
	exec.Poll()
	if polls.Load() != 2 {
		t.Fatalf("polls after respawn = %d, want 2", polls.Load())
	}

	stats := exec.Stats()
	if stats.Spawned != 2 || stats.Completed != 2 {
		t.Fatalf("stats = %+v, want 2 spawned and 2 completed", stats)
	}
}

// TestExecutor_PollWithoutWork tests that an idle Poll is harmless
func TestExecutor_PollWithoutWork(t *testing.T) {
	exec, pends := newTestExecutor(t, nil)

	exec.Poll()
	exec.Poll()

	if pends.count() != 0 {
		t.Fatalf("pends = %d, want 0", pends.count())
	}
	if exec.Stats().Polls != 2 {
		t.Fatalf("Polls = %d, want 2", exec.Stats().Polls)
	}
}

// TestTaskStorage_ConcurrentSpawn tests that only one of many concurrent
// spawns on one slot wins
//
// Given: One empty slot and 32 goroutines racing to spawn into it
// When: They all call Spawn at once
// Then: Exactly one token is valid and the future is constructed once
func TestTaskStorage_ConcurrentSpawn(t *testing.T) {
	// Arrange
	const goroutines = 32
	exec, _ := newTestExecutor(t, nil)
	storage := NewTaskStorage[FutureFunc]()
	var constructed atomic.Int32
	var polls atomic.Int32

	tokens := make([]SpawnToken, goroutines)
	var wg sync.WaitGroup
	start := make(chan struct{})

	// Act
	for i := range goroutines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i] = storage.Spawn(func() FutureFunc {
				constructed.Add(1)
				return readyFuture(&polls)
			})
		}(i)
	}
	close(start)
	wg.Wait()

	// Assert
	good := 0
	var busy int
	for _, token := range tokens {
		err := exec.Spawner().Spawn(token)
		switch {
		case err == nil:
			good++
		case errors.Is(err, ErrSpawnBusy):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if good != 1 || busy != goroutines-1 {
		t.Fatalf("good = %d, busy = %d, want 1 and %d", good, busy, goroutines-1)
	}
	if constructed.Load() != 1 {
		t.Fatalf("future constructed %d times, want 1", constructed.Load())
	}
	if got := exec.Stats().SpawnConflicts; got != goroutines-1 {
		t.Fatalf("SpawnConflicts = %d, want %d", got, goroutines-1)
	}
}

// TestSpawner_ErrorDetails tests the error returned for a poisoned token
func TestSpawner_ErrorDetails(t *testing.T) {
	exec, _ := newTestExecutor(t, &ExecutorConfig{Name: "errs"})
	storage := NewTaskStorage[parkedFuture]()

	mustSpawn(t, exec, storage.Spawn(newParkedFuture))
	err := exec.Spawner().Spawn(storage.Spawn(newParkedFuture))

	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error %v is not a *SpawnError", err)
	}
	if spawnErr.Kind != SpawnBusy || spawnErr.Executor != "errs" {
		t.Fatalf("SpawnError = %+v", spawnErr)
	}
	if !strings.Contains(err.Error(), "busy") {
		t.Fatalf("error text %q does not mention busy", err.Error())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("MustSpawn did not panic on a poisoned token")
		}
	}()
	exec.Spawner().MustSpawn(storage.Spawn(newParkedFuture))
}

// TestExecutor_RespawnDifferentFuture tests that a reused slot carries no
// residue from its previous future
func TestExecutor_RespawnDifferentFuture(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	storage := NewTaskStorage[FutureFunc]()
	var log []string

	makeFuture := func(name string, steps int) func() FutureFunc {
		return func() FutureFunc {
			remaining := steps
			return func(cx *Context) Poll {
				log = append(log, fmt.Sprintf("%s:%d", name, remaining))
				if remaining == 0 {
					return Ready
				}
				remaining--
				cx.Waker().WakeByRef()
				return Pending
			}
		}
	}

	mustSpawn(t, exec, storage.Spawn(makeFuture("a", 1)))
	exec.Poll()
	exec.Poll()
	if storage.IsSpawned() {
		t.Fatal("first task did not finish")
	}

	mustSpawn(t, exec, storage.Spawn(makeFuture("b", 2)))
	for range 3 {
		exec.Poll()
	}

	want := "a:1 a:0 b:2 b:1 b:0"
	if got := strings.Join(log, " "); got != want {
		t.Fatalf("poll log = %q, want %q", got, want)
	}
}

// =============================================================================
// Wakes and pends
// =============================================================================

// TestExecutor_WakeFromAnotherGoroutine tests the cross-goroutine wake path
//
// Given: A task that parked its waker and returned Pending
// When: Another goroutine wakes it
// Then: The task is RUN_QUEUED, the executor pends once, and the next Poll polls it
func TestExecutor_WakeFromAnotherGoroutine(t *testing.T) {
	// Arrange
	exec, pends := newTestExecutor(t, nil)
	storage := NewTaskStorage[parkedFuture]()
	fut := newParkedFuture()
	task := mustSpawn(t, exec, storage.Spawn(func() parkedFuture { return fut }))
	exec.Poll()
	if fut.polls.Load() != 1 {
		t.Fatalf("polls = %d, want 1", fut.polls.Load())
	}

	// Act
	done := make(chan struct{})
	go func() {
		fut.waker.Wake()
		close(done)
	}()
	<-done

	// Assert
	if !task.Header().State().IsRunQueued() {
		t.Fatalf("state after wake = %s, want RUN_QUEUED", task.Header().State())
	}
	if pends.count() != 2 {
		t.Fatalf("pends = %d, want 2 (spawn and wake)", pends.count())
	}

	exec.Poll()
	if fut.polls.Load() != 2 {
		t.Fatalf("polls after wake = %d, want 2", fut.polls.Load())
	}
}

// TestExecutor_PendOncePerBatch tests that many wakes before a drain pend once
// Main test items:
// 1. Spawning several tasks pends once
// 2. Waking several parked tasks pends once
// 3. Repeated wakes of one task pend once
func TestExecutor_PendOncePerBatch(t *testing.T) {
	exec, pends := newTestExecutor(t, nil)
	storages := make([]TaskStorage[parkedFuture], 4)
	futures := make([]parkedFuture, len(storages))
	for i := range storages {
		futures[i] = newParkedFuture()
		mustSpawn(t, exec, storages[i].Spawn(func() parkedFuture { return futures[i] }))
	}
	if pends.count() != 1 {
		t.Fatalf("pends after spawning 4 tasks = %d, want 1", pends.count())
	}

	exec.Poll()
	for _, f := range futures {
		f.waker.Wake()
		f.waker.Wake()
	}
	if pends.count() != 2 {
		t.Fatalf("pends after waking 4 tasks = %d, want 2", pends.count())
	}

	exec.Poll()
	for i, f := range futures {
		if f.polls.Load() != 2 {
			t.Errorf("task %d polls = %d, want 2", i, f.polls.Load())
		}
	}
}

// TestExecutor_ConcurrentWakesEnqueueOnce tests that racing wakes queue a task once
func TestExecutor_ConcurrentWakesEnqueueOnce(t *testing.T) {
	// Arrange
	const goroutines = 64
	exec, pends := newTestExecutor(t, nil)
	storage := NewTaskStorage[parkedFuture]()
	fut := newParkedFuture()
	mustSpawn(t, exec, storage.Spawn(func() parkedFuture { return fut }))
	exec.Poll()

	// Act
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fut.waker.Wake()
		}()
	}
	close(start)
	wg.Wait()

	queued := 0
	exec.inner.runQueue.DequeueAll(func(p TaskRef) {
		queued++
		exec.inner.enqueueNoPend(p)
	})

	// Assert
	if queued != 1 {
		t.Fatalf("run queue held the task %d times, want 1", queued)
	}
	if pends.count() != 2 {
		t.Fatalf("pends = %d, want 2", pends.count())
	}
	exec.Poll()
	if fut.polls.Load() != 2 {
		t.Fatalf("polls = %d, want 2", fut.polls.Load())
	}
}

// TestExecutor_SelfWakeDefersToNextPoll tests a task that wakes itself
// Main test items:
// 1. The task is polled once per Poll call
// 2. The executor pends itself during the poll
func TestExecutor_SelfWakeDefersToNextPoll(t *testing.T) {
	exec, pends := newTestExecutor(t, nil)
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32
	mustSpawn(t, exec, storage.Spawn(func() FutureFunc {
		return func(cx *Context) Poll {
			if polls.Add(1) == 3 {
				return Ready
			}
			cx.Waker().WakeByRef()
			return Pending
		}
	}))

	for i := 1; i <= 3; i++ {
		exec.Poll()
		if got := polls.Load(); got != int32(i) {
			t.Fatalf("after Poll %d polls = %d, want %d", i, got, i)
		}
	}
	if pends.count() != 3 {
		t.Fatalf("pends = %d, want 3 (spawn and two self-wakes)", pends.count())
	}
	if storage.IsSpawned() {
		t.Fatal("task did not finish")
	}
}

// TestExecutor_StaleWakeIgnored tests a wake that lands during the poll that
// completes the task
//
// Given: A task that wakes itself and then returns Ready
// When: The executor drains the resulting queue entry
// Then: The finished task is not polled again and the slot is reusable
func TestExecutor_StaleWakeIgnored(t *testing.T) {
	// Arrange
	exec, _ := newTestExecutor(t, nil)
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32
	var saved Waker
	task := mustSpawn(t, exec, storage.Spawn(func() FutureFunc {
		return func(cx *Context) Poll {
			polls.Add(1)
			saved = cx.Waker()
			cx.Waker().WakeByRef()
			return Ready
		}
	}))

	// Act
	exec.Poll()
	if !task.Header().State().IsRunQueued() {
		t.Fatalf("state = %s, want a stale RUN_QUEUED entry", task.Header().State())
	}
	exec.Poll()
	saved.Wake()

	// Assert
	if polls.Load() != 1 {
		t.Fatalf("polls = %d, want 1", polls.Load())
	}
	if got := exec.Stats().StaleSkipped; got != 1 {
		t.Fatalf("StaleSkipped = %d, want 1", got)
	}
	if !task.Header().State().IsEmpty() {
		t.Fatalf("state = %s, want empty", task.Header().State())
	}
	if storage.Spawn(func() FutureFunc { return readyFuture(&polls) }).Failed() {
		t.Fatal("slot not reusable after stale entry")
	}
}

// TestExecutor_Isolation tests that wakes only touch the task's own executor
func TestExecutor_Isolation(t *testing.T) {
	// Arrange
	e1, pends1 := newTestExecutor(t, &ExecutorConfig{Name: "e1"})
	e2, pends2 := newTestExecutor(t, &ExecutorConfig{Name: "e2"})
	s1 := NewTaskStorage[parkedFuture]()
	s2 := NewTaskStorage[parkedFuture]()
	f1, f2 := newParkedFuture(), newParkedFuture()
	mustSpawn(t, e1, s1.Spawn(func() parkedFuture { return f1 }))
	mustSpawn(t, e2, s2.Spawn(func() parkedFuture { return f2 }))
	e1.Poll()
	e2.Poll()

	// Act
	f1.waker.Wake()

	// Assert
	if !e1.HasPendingWork() {
		t.Fatal("e1 has no pending work after waking its task")
	}
	if e2.HasPendingWork() {
		t.Fatal("waking a task of e1 queued work on e2")
	}
	if pends1.count() != 2 || pends2.count() != 1 {
		t.Fatalf("pends = (%d, %d), want (2, 1)", pends1.count(), pends2.count())
	}

	f2.waker.Wake()
	e2.Poll()
	if f1.polls.Load() != 1 || f2.polls.Load() != 2 {
		t.Fatalf("polls = (%d, %d), want (1, 2)", f1.polls.Load(), f2.polls.Load())
	}
}

// TestSpawnerFromContext tests spawning from inside a running task
func TestSpawnerFromContext(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	parent := NewTaskStorage[FutureFunc]()
	child := NewTaskStorage[FutureFunc]()
	var childPolls atomic.Int32
	var spawnErr error

	mustSpawn(t, exec, parent.Spawn(func() FutureFunc {
		return func(cx *Context) Poll {
			spawner, ok := SpawnerFromContext(cx)
			if !ok {
				spawnErr = errors.New("no spawner in context")
				return Ready
			}
			if spawner.Executor() != exec {
				spawnErr = errors.New("spawner targets another executor")
				return Ready
			}
			spawnErr = spawner.Spawn(child.Spawn(func() FutureFunc { return readyFuture(&childPolls) }))
			return Ready
		}
	}))

	exec.Poll()
	if spawnErr != nil {
		t.Fatal(spawnErr)
	}
	if childPolls.Load() != 0 {
		t.Fatal("child polled during the parent's Poll")
	}
	exec.Poll()
	if childPolls.Load() != 1 {
		t.Fatalf("child polls = %d, want 1", childPolls.Load())
	}

	if _, ok := SpawnerFromContext(NewContext(Waker{})); ok {
		t.Fatal("SpawnerFromContext accepted a foreign context")
	}
}

// =============================================================================
// Task pools
// =============================================================================

// TestTaskPool_Exhaustion tests pool capacity and reuse
// Main test items:
// 1. A pool spawns up to its size
// 2. Further spawns are poisoned
// 3. Finished slots are reused
func TestTaskPool_Exhaustion(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	pool := NewTaskPool[parkedFuture](2)
	futures := []parkedFuture{newParkedFuture(), newParkedFuture(), newParkedFuture()}

	mustSpawn(t, exec, pool.Spawn(func() parkedFuture { return futures[0] }))
	mustSpawn(t, exec, pool.Spawn(func() parkedFuture { return futures[1] }))
	if !pool.Spawn(func() parkedFuture { return futures[2] }).Failed() {
		t.Fatal("third spawn on a pool of 2 succeeded")
	}
	if pool.Size() != 2 || pool.Spawned() != 2 {
		t.Fatalf("Size = %d, Spawned = %d, want 2 and 2", pool.Size(), pool.Spawned())
	}

	exec.Poll()
	futures[0].done.Store(true)
	futures[0].waker.Wake()
	exec.Poll()
	if pool.Spawned() != 1 {
		t.Fatalf("Spawned after one finished = %d, want 1", pool.Spawned())
	}

	mustSpawn(t, exec, pool.Spawn(func() parkedFuture { return futures[2] }))
	exec.Poll()
	if futures[2].polls.Load() != 1 {
		t.Fatalf("respawned future polls = %d, want 1", futures[2].polls.Load())
	}
}

// =============================================================================
// Timers
// =============================================================================

// TestExecutor_TimerWakesTask tests integrated timers with a mock clock
//
// Given: A task awaiting a Timer 10 ticks ahead
// When: The clock moves 5 ticks and then 5 more
// Then: Nothing happens at 5, the alarm pends at 10 and the task completes
func TestExecutor_TimerWakesTask(t *testing.T) {
	// Arrange
	driver := NewMockTimeDriver(1)
	exec, pends := newTestExecutor(t, &ExecutorConfig{TimeDriver: driver})
	storage := NewTaskStorage[*Timer]()
	task := mustSpawn(t, exec, storage.Spawn(func() *Timer { return TimerAfter(driver, 10) }))

	exec.Poll()
	if got := task.Header().ExpiresAt(); got != 10 {
		t.Fatalf("ExpiresAt = %d, want 10", got)
	}
	if got := driver.AlarmAt(exec.inner.alarm); got != 10 {
		t.Fatalf("alarm armed at %d, want 10", got)
	}

	// Act
	driver.Advance(5)
	pendsAt5 := pends.count()
	exec.Poll()
	stillSpawned := storage.IsSpawned()

	driver.Advance(5)
	pendsAt10 := pends.count()
	exec.Poll()

	// Assert
	if pendsAt5 != 1 {
		t.Fatalf("pends at t=5 = %d, want 1", pendsAt5)
	}
	if !stillSpawned {
		t.Fatal("timer completed before its deadline")
	}
	if pendsAt10 != 2 {
		t.Fatalf("pends at t=10 = %d, want 2", pendsAt10)
	}
	if storage.IsSpawned() {
		t.Fatal("timer task did not complete at its deadline")
	}
	if exec.Stats().TimerQueued != 0 {
		t.Fatalf("TimerQueued = %d, want 0", exec.Stats().TimerQueued)
	}
	if driver.AlarmAt(exec.inner.alarm) != Forever {
		t.Fatal("alarm still armed with an empty timer queue")
	}
}

// TestExecutor_ScheduleWakeKeepsEarliest tests repeated deadlines within one poll
func TestExecutor_ScheduleWakeKeepsEarliest(t *testing.T) {
	driver := NewMockTimeDriver(1)
	exec, _ := newTestExecutor(t, &ExecutorConfig{TimeDriver: driver})
	storage := NewTaskStorage[FutureFunc]()
	task := mustSpawn(t, exec, storage.Spawn(func() FutureFunc {
		return func(cx *Context) Poll {
			RegisterTimer(cx.Waker(), 50)
			RegisterTimer(cx.Waker(), 30)
			RegisterTimer(cx.Waker(), 40)
			return Pending
		}
	}))

	exec.Poll()

	if got := task.Header().ExpiresAt(); got != 30 {
		t.Fatalf("ExpiresAt = %d, want 30", got)
	}
	if got := driver.AlarmAt(exec.inner.alarm); got != 30 {
		t.Fatalf("alarm at %d, want 30", got)
	}
}

// TestExecutor_DeadlineResetAfterPoll tests that a poll without a new
// deadline leaves the task off the timer queue
func TestExecutor_DeadlineResetAfterPoll(t *testing.T) {
	// Arrange
	driver := NewMockTimeDriver(1)
	exec, _ := newTestExecutor(t, &ExecutorConfig{TimeDriver: driver})
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32
	task := mustSpawn(t, exec, storage.Spawn(func() FutureFunc {
		return func(cx *Context) Poll {
			if polls.Add(1) == 1 {
				RegisterTimer(cx.Waker(), 100)
			}
			return Pending
		}
	}))
	exec.Poll()
	if exec.Stats().TimerQueued != 1 {
		t.Fatalf("TimerQueued = %d, want 1", exec.Stats().TimerQueued)
	}

	// Act
	WakeTask(task)
	exec.Poll()

	// Assert
	if got := task.Header().ExpiresAt(); got != Forever {
		t.Fatalf("ExpiresAt = %d, want Forever", got)
	}
	if task.Header().State().IsTimerQueued() {
		t.Fatal("task still TIMER_QUEUED")
	}
	if exec.Stats().TimerQueued != 0 {
		t.Fatalf("TimerQueued = %d, want 0", exec.Stats().TimerQueued)
	}
}
// TestExecutor_TimerQueuedTaskCompletesAndRespawnsElsewhere tests that a
// finished timer-queued task leaves its executor's timer queue before its
// slot is reused
//
// Given: A task with a deadline on executor one, woken early and completing
// When: The slot is spawned again on executor two with its own deadline
// Then: Executor one's timer queue stays empty and executor two holds the task
func TestExecutor_TimerQueuedTaskCompletesAndRespawnsElsewhere(t *testing.T) {
	// Arrange
	driver := NewMockTimeDriver(2)
	one, _ := newTestExecutor(t, &ExecutorConfig{Name: "one", TimeDriver: driver})
	two, _ := newTestExecutor(t, &ExecutorConfig{Name: "two", TimeDriver: driver})
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32
	deadlineThenDone := func() FutureFunc {
		return func(cx *Context) Poll {
			if polls.Add(1)%2 == 1 {
				RegisterTimer(cx.Waker(), driver.Now()+100)
				return Pending
			}
			return Ready
		}
	}
	task := mustSpawn(t, one, storage.Spawn(deadlineThenDone))
	one.Poll()
	if one.inner.timerQueue.Len() != 1 {
		t.Fatalf("one timer queue = %d, want 1", one.inner.timerQueue.Len())
	}

	// Act
	WakeTask(task)
	one.Poll()
	emptyAfterDone := task.Header().State().IsEmpty()
	respawned := storage.Spawn(deadlineThenDone)
	if err := two.Spawner().Spawn(respawned); err != nil {
		t.Fatalf("respawn on two: %v", err)
	}
	two.Poll()

	// Assert
	if !storage.IsSpawned() {
		t.Fatal("respawned task not spawned")
	}
	if !emptyAfterDone {
		t.Fatal("slot not empty after completion")
	}
	if one.inner.timerQueue.Len() != 0 {
		t.Fatalf("one timer queue = %d, want 0", one.inner.timerQueue.Len())
	}
	if two.inner.timerQueue.Len() != 1 {
		t.Fatalf("two timer queue = %d, want 1", two.inner.timerQueue.Len())
	}
	if driver.AlarmAt(one.inner.alarm) != Forever {
		t.Fatal("one still has an alarm armed")
	}
}

// TestExecutor_TimerQueuedTaskPanicReleasesSlot tests a propagated panic from
// a task sitting in the timer queue
func TestExecutor_TimerQueuedTaskPanicReleasesSlot(t *testing.T) {
	driver := NewMockTimeDriver(1)
	exec, _ := newTestExecutor(t, &ExecutorConfig{TimeDriver: driver})
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32
	task := mustSpawn(t, exec, storage.Spawn(func() FutureFunc {
		return func(cx *Context) Poll {
			if polls.Add(1) == 1 {
				RegisterTimer(cx.Waker(), 100)
				return Pending
			}
			panic("timed task")
		}
	}))
	exec.Poll()

	WakeTask(task)
	func() {
		defer func() { _ = recover() }()
		exec.Poll()
	}()

	if task.Header().State().IsTimerQueued() {
		t.Fatal("panicked task still TIMER_QUEUED")
	}
	if exec.inner.timerQueue.Len() != 0 {
		t.Fatalf("timer queue = %d, want 0", exec.inner.timerQueue.Len())
	}
	if _, ok := Claim(storage); !ok {
		t.Fatal("slot of the panicked task cannot be claimed")
	}
}

// TestExecutor_PastDeadlineRunsImmediately tests a deadline that has already passed
func TestExecutor_PastDeadlineRunsImmediately(t *testing.T) {
	driver := NewMockTimeDriver(1)
	driver.SetNow(100)
	exec, _ := newTestExecutor(t, &ExecutorConfig{TimeDriver: driver})
	storage := NewTaskStorage[*Timer]()
	mustSpawn(t, exec, storage.Spawn(func() *Timer { return TimerAt(driver, 50) }))

	exec.Poll()

	if storage.IsSpawned() {
		t.Fatal("timer with a past deadline did not complete within one Poll")
	}
}

// TestExecutor_AlarmExhaustion tests creating more timer executors than alarms
func TestExecutor_AlarmExhaustion(t *testing.T) {
	driver := NewMockTimeDriver(1)
	newTestExecutor(t, &ExecutorConfig{Name: "first", TimeDriver: driver})

	defer func() {
		if recover() == nil {
			t.Fatal("second executor did not panic without an alarm")
		}
	}()
	newTestExecutor(t, &ExecutorConfig{Name: "second", TimeDriver: driver})
}

// TestExecutor_StdTimeDriverTimer tests a timer against the wall clock
func TestExecutor_StdTimeDriverTimer(t *testing.T) {
	driver := NewStdTimeDriver(1000, 1)
	signal := NewSignal()
	exec := NewExecutorWithConfig(ThreadPender(signal), &ExecutorConfig{Name: "std", TimeDriver: driver})
	storage := NewTaskStorage[*Timer]()
	if err := exec.Spawner().Spawn(storage.Spawn(func() *Timer {
		return TimerAfter(driver, driver.Ticks(20*time.Millisecond))
	})); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for storage.IsSpawned() {
		select {
		case <-signal.C():
			exec.Poll()
		case <-deadline:
			t.Fatal("timer task did not complete")
		}
	}
}

// =============================================================================
// Panics and assertions
// =============================================================================

// TestExecutor_PanicHandler tests recovery of a panicking future
// Main test items:
// 1. The panic handler receives the panic value and task
// 2. The slot is released
// 3. Other tasks in the same Poll still run
func TestExecutor_PanicHandler(t *testing.T) {
	handler := &recordingPanicHandler{}
	exec, _ := newTestExecutor(t, &ExecutorConfig{PanicHandler: handler})
	bad := NewTaskStorage[FutureFunc]()
	good := NewTaskStorage[FutureFunc]()
	var goodPolls atomic.Int32

	badTask := mustSpawn(t, exec, bad.Spawn(func() FutureFunc {
		return func(*Context) Poll { panic("boom") }
	}))
	mustSpawn(t, exec, good.Spawn(func() FutureFunc { return readyFuture(&goodPolls) }))

	exec.Poll()

	if handler.count() != 1 {
		t.Fatalf("panics handled = %d, want 1", handler.count())
	}
	if handler.panics[0] != "boom" || handler.tasks[0] != badTask {
		t.Fatalf("handled %v for %s", handler.panics[0], handler.tasks[0])
	}
	if bad.IsSpawned() {
		t.Fatal("panicked slot still spawned")
	}
	if goodPolls.Load() != 1 {
		t.Fatal("task after the panicking one was not polled")
	}
	stats := exec.Stats()
	if stats.Panicked != 1 || stats.Completed != 1 {
		t.Fatalf("stats = %+v, want 1 panicked and 1 completed", stats)
	}
}

// TestExecutor_PanicPropagatesWithoutHandler tests the handler-less configuration
func TestExecutor_PanicPropagatesWithoutHandler(t *testing.T) {
	exec, _ := newTestExecutor(t, &ExecutorConfig{})
	storage := NewTaskStorage[FutureFunc]()
	mustSpawn(t, exec, storage.Spawn(func() FutureFunc {
		return func(*Context) Poll { panic("unhandled") }
	}))

	func() {
		defer func() {
			if rec := recover(); rec != "unhandled" {
				t.Fatalf("recovered %v, want unhandled", rec)
			}
		}()
		exec.Poll()
	}()

	if storage.IsSpawned() {
		t.Fatal("slot not released after a propagated panic")
	}
}

// TestExecutor_PanicWithoutHandlerKeepsQueuedTasks tests that a propagated
// panic does not strand tasks queued behind the panicking one
//
// Given: A parked task B and a task A that panics, both queued; A is polled first
// When: Poll panics out, is recovered, and Poll is called again
// Then: B is polled, the executor pended for it and B can still be woken
func TestExecutor_PanicWithoutHandlerKeepsQueuedTasks(t *testing.T) {
	// Arrange
	exec, pends := newTestExecutor(t, &ExecutorConfig{})
	storageB := NewTaskStorage[parkedFuture]()
	b := newParkedFuture()
	taskB := mustSpawn(t, exec, storageB.Spawn(func() parkedFuture { return b }))
	storageA := NewTaskStorage[FutureFunc]()
	mustSpawn(t, exec, storageA.Spawn(func() FutureFunc {
		return func(*Context) Poll { panic("task a") }
	}))
	pendsBefore := pends.count()

	// Act
	func() {
		defer func() {
			if rec := recover(); rec != "task a" {
				t.Fatalf("recovered %v, want task a", rec)
			}
		}()
		exec.Poll()
	}()
	pendedForRest := pends.count() > pendsBefore
	queuedAfterPanic := exec.HasPendingWork()
	exec.Poll()
	pollsAfterRecovery := b.polls.Load()

	WakeTask(taskB)
	exec.Poll()

	// Assert
	if !pendedForRest {
		t.Fatal("executor not pended for tasks left after the panic")
	}
	if !queuedAfterPanic {
		t.Fatal("run queue empty after the panic, task b was dropped")
	}
	if pollsAfterRecovery != 1 {
		t.Fatalf("b polls after recovery = %d, want 1", pollsAfterRecovery)
	}
	if got := b.polls.Load(); got != 2 {
		t.Fatalf("b polls after wake = %d, want 2", got)
	}
	if exec.HasPendingWork() {
		t.Fatal("run queue not empty after the last Poll")
	}
	if storageA.IsSpawned() || !storageB.IsSpawned() {
		t.Fatal("want a released and b still spawned")
	}
}

// TestExecutor_ReentrantPollAsserts tests the debug assertion on reentrant Poll
func TestExecutor_ReentrantPollAsserts(t *testing.T) {
	handler := &recordingPanicHandler{}
	var exec *Executor
	exec, _ = newTestExecutor(t, &ExecutorConfig{PanicHandler: handler, DebugAssertions: true})
	storage := NewTaskStorage[FutureFunc]()
	mustSpawn(t, exec, storage.Spawn(func() FutureFunc {
		return func(*Context) Poll {
			exec.Poll()
			return Ready
		}
	}))

	exec.Poll()

	if handler.count() != 1 {
		t.Fatalf("panics handled = %d, want 1", handler.count())
	}
	msg, _ := handler.panics[0].(string)
	if !strings.Contains(msg, "reentrantly") {
		t.Fatalf("panic = %v, want a reentrancy assertion", handler.panics[0])
	}

	// The outer Poll has returned, so a new Poll is allowed again.
	exec.Poll()
}

// =============================================================================
// Observability
// =============================================================================

type recordingMetrics struct {
	taskPolls      atomic.Int32
	completed      atomic.Int32
	pollPasses     atomic.Int32
	pends          atomic.Int32
	spawnConflicts atomic.Int32
}

func (m *recordingMetrics) RecordTaskPoll(executorName string, duration time.Duration, completed bool) {
	m.taskPolls.Add(1)
	if completed {
		m.completed.Add(1)
	}
}

func (m *recordingMetrics) RecordPollPass(executorName string, polled int, timerQueued int) {
	m.pollPasses.Add(1)
}

func (m *recordingMetrics) RecordPend(executorName string) { m.pends.Add(1) }

func (m *recordingMetrics) RecordSpawnConflict(executorName string) { m.spawnConflicts.Add(1) }

type recordingTracer struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracer) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingTracer) TaskNew(string, TaskRef)        { r.add("new") }
func (r *recordingTracer) TaskReadyBegin(string, TaskRef) { r.add("ready") }
func (r *recordingTracer) TaskExecBegin(string, TaskRef)  { r.add("exec-begin") }
func (r *recordingTracer) TaskExecEnd(string, TaskRef)    { r.add("exec-end") }
func (r *recordingTracer) SystemIdle(string)              { r.add("idle") }

// TestExecutor_MetricsAndTracer tests the observability hooks
func TestExecutor_MetricsAndTracer(t *testing.T) {
	// Arrange
	metrics := &recordingMetrics{}
	tracer := &recordingTracer{}
	exec, _ := newTestExecutor(t, &ExecutorConfig{Metrics: metrics, Tracer: tracer})
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32

	// Act
	mustSpawn(t, exec, storage.Spawn(func() FutureFunc { return readyFuture(&polls) }))
	exec.Poll()
	_ = exec.Spawner().Spawn(newFailedSpawnToken())

	// Assert
	if metrics.taskPolls.Load() != 1 || metrics.completed.Load() != 1 {
		t.Fatalf("task polls = %d, completed = %d", metrics.taskPolls.Load(), metrics.completed.Load())
	}
	if metrics.pollPasses.Load() != 1 || metrics.pends.Load() != 1 || metrics.spawnConflicts.Load() != 1 {
		t.Fatalf("passes = %d, pends = %d, conflicts = %d",
			metrics.pollPasses.Load(), metrics.pends.Load(), metrics.spawnConflicts.Load())
	}

	want := "new ready exec-begin exec-end idle"
	if got := strings.Join(tracer.events, " "); got != want {
		t.Fatalf("trace = %q, want %q", got, want)
	}
}

// TestExecutor_PollHistory tests the recent poll ring
func TestExecutor_PollHistory(t *testing.T) {
	exec, _ := newTestExecutor(t, &ExecutorConfig{PollHistory: 2})
	storages := make([]TaskStorage[FutureFunc], 3)
	var polls atomic.Int32
	tasks := make([]TaskRef, len(storages))

	for i := range storages {
		tasks[i] = mustSpawn(t, exec, storages[i].Spawn(func() FutureFunc { return readyFuture(&polls) }))
		exec.Poll()
	}

	recent := exec.RecentPolls(0)
	if len(recent) != 2 {
		t.Fatalf("RecentPolls = %d records, want 2", len(recent))
	}
	if recent[0].Task != tasks[2] || recent[1].Task != tasks[1] {
		t.Fatalf("RecentPolls order = [%s %s], want newest first", recent[0].Task, recent[1].Task)
	}
	if !recent[0].Completed || recent[0].ExecutorName != t.Name() {
		t.Fatalf("record = %+v", recent[0])
	}

	last, ok := exec.LastPoll()
	if !ok || last.Task != tasks[2] {
		t.Fatalf("LastPoll = %+v, %v", last, ok)
	}
}

// TestExecutor_NoHistoryByDefault tests that history is off unless configured
func TestExecutor_NoHistoryByDefault(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	storage := NewTaskStorage[FutureFunc]()
	var polls atomic.Int32
	mustSpawn(t, exec, storage.Spawn(func() FutureFunc { return readyFuture(&polls) }))
	exec.Poll()

	if got := exec.RecentPolls(10); len(got) != 0 {
		t.Fatalf("RecentPolls = %v, want none", got)
	}
	if _, ok := exec.LastPoll(); ok {
		t.Fatal("LastPoll reported a record")
	}
}

// TestExecutor_Identity tests names and ids
func TestExecutor_Identity(t *testing.T) {
	a := NewExecutor(CallbackPender(func(any) {}, nil))
	b := NewExecutor(CallbackPender(func(any) {}, nil))

	if a.ID() == b.ID() {
		t.Fatal("executors share an id")
	}
	if !strings.HasPrefix(a.Name(), "executor-") {
		t.Fatalf("default name = %q", a.Name())
	}
	if a.Stats().PenderKind != "callback" {
		t.Fatalf("PenderKind = %q", a.Stats().PenderKind)
	}
	if a.TimeDriver() != nil {
		t.Fatal("TimeDriver set without configuration")
	}
}
