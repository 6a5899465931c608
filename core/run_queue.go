package core

import "sync/atomic"

// RunQueue is an intrusive, lock-free list of ready tasks.
//
// Any goroutine may Enqueue. DequeueAll must only be called by the goroutine
// that owns Poll for the executor. The queue owns no tasks: it only threads
// through TaskHeader.runQueueNext, which belongs to the queue while the task's
// RUN_QUEUED bit is set.
type RunQueue struct {
	head atomic.Pointer[TaskHeader]
}

// Enqueue pushes task and reports whether the queue was empty before.
//
// The task must not already be in a run queue. The RUN_QUEUED CAS in
// State.RunEnqueue is what guarantees that.
func (q *RunQueue) Enqueue(task TaskRef) bool {
	h := task.ptr
	for {
		prev := q.head.Load()
		h.runQueueNext = prev
		if q.head.CompareAndSwap(prev, h) {
			return prev == nil
		}
	}
}

// DequeueAll detaches the whole list and calls onTask for every task in it.
// Each link is read and cleared before onTask runs, because onTask clears
// RUN_QUEUED and from then on the task may be enqueued again concurrently.
// Tasks enqueued during the walk are left for the next call.
//
// If onTask panics, the tasks not yet visited are pushed back before the
// panic continues; they are still RUN_QUEUED and would otherwise be lost.
func (q *RunQueue) DequeueAll(onTask func(TaskRef)) {
	next := q.head.Swap(nil)
	defer func() {
		for next != nil {
			h := next
			next = h.runQueueNext
			q.Enqueue(newTaskRef(h))
		}
	}()
	for next != nil {
		h := next
		next = h.runQueueNext
		h.runQueueNext = nil
		onTask(newTaskRef(h))
	}
}

// IsEmpty reports whether the queue currently holds no tasks.
func (q *RunQueue) IsEmpty() bool {
	return q.head.Load() == nil
}
