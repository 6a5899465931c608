package core

import "sync/atomic"

// AtomicWaker stores the waker of a single waiting future so that another
// goroutine (an interrupt handler, a channel sender) can wake it. It never
// blocks, so Wake is safe to call from an alarm callback or a pender.
//
// A waker is boxed only when the registered target changes; re-registering
// the same waker on every poll does not allocate.
type AtomicWaker struct {
	waker atomic.Pointer[Waker]
}

// Register stores w, replacing any previous waker. Replacing a waker that
// wakes a different target drops the old one.
func (a *AtomicWaker) Register(w Waker) {
	if cur := a.waker.Load(); cur != nil && cur.WillWake(w) {
		return
	}
	var next *Waker
	if !w.IsZero() {
		next = &w
	}
	if old := a.waker.Swap(next); old != nil && !old.WillWake(w) {
		old.Drop()
	}
}

// Wake wakes the stored waker, if any. The waker stays registered.
func (a *AtomicWaker) Wake() {
	if w := a.waker.Load(); w != nil {
		w.WakeByRef()
	}
}

// Take removes and returns the stored waker.
func (a *AtomicWaker) Take() Waker {
	if w := a.waker.Swap(nil); w != nil {
		return *w
	}
	return Waker{}
}
