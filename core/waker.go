package core

import "unsafe"

// WakerVTable is the behavior behind a Waker. Code outside this package may
// build its own wakers with NewWaker; TaskFromWaker only recognizes wakers
// created for executor tasks.
type WakerVTable struct {
	// Wake wakes the target, consuming the waker.
	Wake func(data unsafe.Pointer)

	// WakeByRef wakes the target without consuming the waker.
	WakeByRef func(data unsafe.Pointer)

	// Drop releases whatever data refers to.
	Drop func(data unsafe.Pointer)
}

// Waker is a copyable capability that marks some piece of work as ready.
type Waker struct {
	data   unsafe.Pointer
	vtable *WakerVTable
}

// NewWaker builds a waker from raw parts.
func NewWaker(data unsafe.Pointer, vtable *WakerVTable) Waker {
	return Waker{data: data, vtable: vtable}
}

// Wake wakes the target.
func (w Waker) Wake() {
	if w.vtable == nil {
		return
	}
	w.vtable.Wake(w.data)
}

// WakeByRef wakes the target without consuming the waker.
func (w Waker) WakeByRef() {
	if w.vtable == nil {
		return
	}
	w.vtable.WakeByRef(w.data)
}

// Drop releases the waker. It is a no-op for task wakers.
func (w Waker) Drop() {
	if w.vtable == nil || w.vtable.Drop == nil {
		return
	}
	w.vtable.Drop(w.data)
}

// IsZero reports whether w was never set.
func (w Waker) IsZero() bool { return w.vtable == nil }

// WillWake reports whether w and other wake the same target.
func (w Waker) WillWake(other Waker) bool {
	return w.data == other.data && w.vtable == other.vtable
}

// taskWakerVTable holds only a raw reference to the task header, so drop has
// nothing to release.
var taskWakerVTable = WakerVTable{
	Wake:      wakeRawTask,
	WakeByRef: wakeRawTask,
	Drop:      func(unsafe.Pointer) {},
}

func wakeRawTask(data unsafe.Pointer) {
	WakeTask(newTaskRef((*TaskHeader)(data)))
}

// wakerForTask builds the waker handed to a task's future. It does not allocate.
func wakerForTask(p TaskRef) Waker {
	return Waker{data: unsafe.Pointer(p.ptr), vtable: &taskWakerVTable}
}

// WakerForTask returns the waker that wakes task p.
func WakerForTask(p TaskRef) Waker {
	return wakerForTask(p)
}

// TaskFromWaker recovers the task a waker was created for. It reports false
// for wakers that were not built by this package.
func TaskFromWaker(w Waker) (TaskRef, bool) {
	if w.vtable != &taskWakerVTable || w.data == nil {
		return TaskRef{}, false
	}
	return newTaskRef((*TaskHeader)(w.data)), true
}

// MustTaskFromWaker is TaskFromWaker for callers that only ever see task
// wakers. It panics on a foreign waker.
func MustTaskFromWaker(w Waker) TaskRef {
	task, ok := TaskFromWaker(w)
	if !ok {
		panic("executor: waker was not created by this executor; task-local services only work inside executor tasks")
	}
	return task
}

// Context is passed to Future.Poll.
type Context struct {
	waker Waker
}

// NewContext wraps a waker, for polling futures outside an executor (tests,
// adapters).
func NewContext(w Waker) *Context {
	return &Context{waker: w}
}

// Waker returns the waker of the task being polled.
func (cx *Context) Waker() Waker { return cx.waker }
