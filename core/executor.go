package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// Executor: the public raw executor
// =============================================================================

// Executor polls the tasks spawned on it when its Pender asks to be polled.
//
// Executor is not a loop. The environment is told through the Pender that
// there is work, and is expected to call Poll soon, from a goroutine that is
// not currently inside Poll. An Executor must outlive every task spawned on it
// and must not be copied.
type Executor struct {
	_     noCopy
	inner syncExecutor
}

// NewExecutor creates an executor with default configuration.
func NewExecutor(pender Pender) *Executor {
	return NewExecutorWithConfig(pender, DefaultExecutorConfig())
}

// NewExecutorWithConfig creates an executor with custom configuration.
// It panics if config.TimeDriver has no alarm left.
func NewExecutorWithConfig(pender Pender, config *ExecutorConfig) *Executor {
	e := &Executor{}
	e.inner.init(e, pender, config)
	return e
}

// Spawn queues task to be polled by this executor. The task must have just
// been claimed and initialized (see SpawnToken) and must not be spawned twice.
func (e *Executor) Spawn(task TaskRef) {
	e.inner.spawn(task)
}

// Poll polls every task in the run queue once, in an unspecified order.
// Tasks woken while Poll runs are polled on the next call; in that case the
// executor pends itself again before Poll returns.
//
// Poll must not be called reentrantly, nor concurrently with itself.
// Calling it when no work is queued is harmless.
func (e *Executor) Poll() {
	e.inner.poll()
}

// Spawner returns a handle that spawns tasks on this executor.
func (e *Executor) Spawner() Spawner {
	return Spawner{executor: e}
}

// Name returns the executor's name.
func (e *Executor) Name() string { return e.inner.name }

// ID returns the executor's unique identifier.
func (e *Executor) ID() string { return e.inner.id }

// HasPendingWork reports whether the run queue is non-empty.
func (e *Executor) HasPendingWork() bool { return !e.inner.runQueue.IsEmpty() }

// TimeDriver returns the driver used for integrated timers, or nil.
func (e *Executor) TimeDriver() TimeDriver { return e.inner.driver }

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() ExecutorStats { return e.inner.stats() }

// RecentPolls returns up to limit recent task polls, newest first.
// It is empty unless ExecutorConfig.PollHistory was set.
func (e *Executor) RecentPolls(limit int) []PollRecord {
	return e.inner.history.Recent(limit)
}

// LastPoll returns the most recent task poll.
func (e *Executor) LastPoll() (PollRecord, bool) {
	return e.inner.history.Last()
}

// noCopy may be embedded into structs which must not be copied after first use.
// See https://golang.org/issues/8005#issuecomment-190753527
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// =============================================================================
// SpawnToken / Spawner
// =============================================================================

// ErrSpawnBusy is returned when a task slot (or every slot of a pool) was
// still running when a spawn was attempted.
var ErrSpawnBusy = errors.New("task slot busy")

// SpawnErrorKind classifies spawn failures.
type SpawnErrorKind uint8

const (
	// SpawnBusy: the storage was already spawned.
	SpawnBusy SpawnErrorKind = iota
)

func (k SpawnErrorKind) String() string {
	switch k {
	case SpawnBusy:
		return "busy"
	default:
		return fmt.Sprintf("SpawnErrorKind(%d)", uint8(k))
	}
}

// SpawnError reports a rejected spawn.
type SpawnError struct {
	Kind     SpawnErrorKind
	Executor string
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn on %s: %s", e.Executor, ErrSpawnBusy)
}

// Unwrap lets errors.Is(err, ErrSpawnBusy) match.
func (e *SpawnError) Unwrap() error { return ErrSpawnBusy }

// SpawnToken carries a freshly initialized task to a Spawner. A token whose
// claim failed is poisoned and reports Failed.
//
// A token must be handed to exactly one Spawner; dropping a good token
// leaks the slot.
type SpawnToken struct {
	task TaskRef
}

func newSpawnToken(task TaskRef) SpawnToken {
	return SpawnToken{task: task}
}

func newFailedSpawnToken() SpawnToken {
	return SpawnToken{}
}

// Failed reports whether the slot could not be claimed.
func (t SpawnToken) Failed() bool { return t.task.IsNil() }

// Task returns the task carried by the token.
func (t SpawnToken) Task() TaskRef { return t.task }

// Spawner spawns tasks on one executor. It is a small value and may be copied
// freely, and used from any goroutine.
type Spawner struct {
	executor *Executor
}

// Spawn spawns the task behind token, or returns a *SpawnError wrapping
// ErrSpawnBusy if the token is poisoned.
func (s Spawner) Spawn(token SpawnToken) error {
	inner := &s.executor.inner
	if token.Failed() {
		inner.spawnConflicts.Add(1)
		inner.metrics.RecordSpawnConflict(inner.name)
		inner.logger.Warn("spawn rejected: task slot busy", F("executor", inner.name))
		return &SpawnError{Kind: SpawnBusy, Executor: inner.name}
	}
	inner.spawn(token.task)
	return nil
}

// MustSpawn is Spawn that panics on error.
func (s Spawner) MustSpawn(token SpawnToken) {
	if err := s.Spawn(token); err != nil {
		panic(err)
	}
}

// Executor returns the executor this spawner targets.
func (s Spawner) Executor() *Executor { return s.executor }

// SpawnerFromContext returns a spawner for the executor running the task
// being polled with cx. It reports false if cx does not belong to an
// executor task.
func SpawnerFromContext(cx *Context) (Spawner, bool) {
	task, ok := TaskFromWaker(cx.Waker())
	if !ok {
		return Spawner{}, false
	}
	return Spawner{executor: task.ptr.executor.owner}, true
}
