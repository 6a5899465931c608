package core

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

// Forever is the "no pending timer" deadline.
const Forever uint64 = math.MaxUint64

// =============================================================================
// Future: the unit of asynchronous work
// =============================================================================

// Poll is the outcome of polling a future once.
type Poll uint8

const (
	// Pending: the future registered a waker and wants to be polled again later.
	Pending Poll = iota

	// Ready: the future completed. It is never polled again.
	Ready
)

func (p Poll) String() string {
	if p == Ready {
		return "Ready"
	}
	return "Pending"
}

// Future is a resumable computation. Poll must not block; it returns
// Pending after arranging for cx.Waker() to be woken when progress is possible.
type Future interface {
	Poll(cx *Context) Poll
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(cx *Context) Poll

// Poll calls f(cx).
func (f FutureFunc) Poll(cx *Context) Poll { return f(cx) }

// =============================================================================
// TaskHeader / TaskRef
// =============================================================================

// TaskHeader is the type-erased part of every task slot.
//
// executor and pollFn are written by the spawning goroutine before the task is
// made visible through an atomic (the claim CAS and the run-queue CAS) and are
// read-only afterwards. runQueueNext and timerQueueNext are owned by whichever
// queue currently holds the task.
type TaskHeader struct {
	state        State
	runQueueNext *TaskHeader
	executor     *syncExecutor
	pollFn       func(TaskRef) bool

	expiresAt      atomic.Uint64
	timerQueueNext *TaskHeader
}

// State exposes the task's lifecycle bits.
func (h *TaskHeader) State() *State { return &h.state }

// ExpiresAt returns the task's current wake deadline (Forever if none).
func (h *TaskHeader) ExpiresAt() uint64 { return h.expiresAt.Load() }

// TaskRef is a type-erased handle to a task slot. It is compared by identity.
type TaskRef struct {
	ptr *TaskHeader
}

func newTaskRef(h *TaskHeader) TaskRef {
	return TaskRef{ptr: h}
}

// Header returns the task header.
func (t TaskRef) Header() *TaskHeader { return t.ptr }

// IsNil reports whether t refers to no task.
func (t TaskRef) IsNil() bool { return t.ptr == nil }

// ID is the address of the task header, stable for the slot's lifetime.
func (t TaskRef) ID() uintptr { return uintptr(unsafe.Pointer(t.ptr)) }

func (t TaskRef) String() string { return fmt.Sprintf("task@%#x", t.ID()) }

// =============================================================================
// TaskStorage
// =============================================================================

// TaskStorage holds the memory for one task whose future is F.
//
// The zero value is an empty slot. A TaskStorage must outlive every TaskRef and
// Waker derived from it; declare it as a package-level variable or keep it
// in a TaskPool. It may be spawned again once its task has finished, possibly
// on a different executor.
type TaskStorage[F Future] struct {
	raw    TaskHeader // must stay the first field, see storageOf
	future F          // valid while spawned
}

// NewTaskStorage returns an empty slot.
func NewTaskStorage[F Future]() *TaskStorage[F] {
	return &TaskStorage[F]{}
}

// Spawn tries to start a task in this slot. newFuture is only called when the
// slot is free. If the slot is occupied, a poisoned token is returned and the
// error surfaces when the token is handed to a Spawner.
func (s *TaskStorage[F]) Spawn(newFuture func() F) SpawnToken {
	task, ok := Claim(s)
	if !ok {
		return newFailedSpawnToken()
	}
	return task.Initialize(newFuture)
}

// TaskRef returns the slot's handle.
func (s *TaskStorage[F]) TaskRef() TaskRef { return newTaskRef(&s.raw) }

// IsSpawned reports whether the slot currently runs a task.
func (s *TaskStorage[F]) IsSpawned() bool { return s.raw.state.IsSpawned() }

// storageOf recovers the concrete storage from a type-erased handle.
// This is the only downcast in the package: it is valid because pollFn for a
// header is always pollStorage[F] of the TaskStorage[F] embedding it at offset 0.
func storageOf[F Future](p TaskRef) *TaskStorage[F] {
	return (*TaskStorage[F])(unsafe.Pointer(p.ptr))
}

// pollStorage resumes the future once. It reports true when the task finished
// and the slot has been released.
func pollStorage[F Future](p TaskRef) (done bool) {
	s := storageOf[F](p)

	defer func() {
		if rec := recover(); rec != nil {
			s.release()
			panic(rec)
		}
	}()

	cx := Context{waker: wakerForTask(p)}
	if s.future.Poll(&cx) == Ready {
		s.release()
		return true
	}
	return false
}

// release drops the future in place and frees the slot. The deadline is reset
// before SPAWNED is cleared so a new claimer never races with this write.
func (s *TaskStorage[F]) release() {
	var zero F
	s.future = zero
	s.raw.expiresAt.Store(Forever)
	s.raw.state.Despawn()
}

// =============================================================================
// AvailableTask: two-step spawn
// =============================================================================

// AvailableTask is a claimed but not yet initialized slot.
type AvailableTask[F Future] struct {
	task *TaskStorage[F]
}

// Claim tries to reserve s. It returns false if the slot is spawned or still
// queued somewhere.
func Claim[F Future](s *TaskStorage[F]) (AvailableTask[F], bool) {
	if !s.raw.state.Spawn() {
		return AvailableTask[F]{}, false
	}
	return AvailableTask[F]{task: s}, true
}

// Initialize constructs the future in the slot and returns a token for it.
func (a AvailableTask[F]) Initialize(newFuture func() F) SpawnToken {
	s := a.task
	s.raw.pollFn = pollStorage[F]
	s.raw.expiresAt.Store(Forever)
	s.raw.runQueueNext = nil
	s.raw.timerQueueNext = nil
	s.future = newFuture()
	return newSpawnToken(newTaskRef(&s.raw))
}

// =============================================================================
// TaskPool
// =============================================================================

// TaskPool is a fixed set of slots for futures of one type. The slots are
// allocated once, when the pool is created.
type TaskPool[F Future] struct {
	pool []TaskStorage[F]
}

// NewTaskPool creates a pool of size empty slots.
func NewTaskPool[F Future](size int) *TaskPool[F] {
	if size < 1 {
		size = 1
	}
	return &TaskPool[F]{pool: make([]TaskStorage[F], size)}
}

// Spawn starts a task in the first free slot, or returns a poisoned token
// if every slot is busy.
func (p *TaskPool[F]) Spawn(newFuture func() F) SpawnToken {
	for i := range p.pool {
		if task, ok := Claim(&p.pool[i]); ok {
			return task.Initialize(newFuture)
		}
	}
	return newFailedSpawnToken()
}

// Size returns the number of slots.
func (p *TaskPool[F]) Size() int { return len(p.pool) }

// Spawned returns the number of slots currently running a task.
func (p *TaskPool[F]) Spawned() int {
	n := 0
	for i := range p.pool {
		if p.pool[i].IsSpawned() {
			n++
		}
	}
	return n
}
