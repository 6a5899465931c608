package core

// ScheduleWake asks for task to be woken no earlier than at. A later call
// can only move the deadline earlier; it never extends it.
//
// It must be called while task is being polled, i.e. from its own future, so
// that the executor files the deadline into its timer queue right after the poll.
func ScheduleWake(task TaskRef, at uint64) {
	h := task.ptr
	for {
		cur := h.expiresAt.Load()
		if at >= cur {
			return
		}
		if h.expiresAt.CompareAndSwap(cur, at) {
			return
		}
	}
}

// RegisterTimer is ScheduleWake for the task behind waker. It panics if the
// waker does not belong to an executor task.
func RegisterTimer(waker Waker, at uint64) {
	ScheduleWake(MustTaskFromWaker(waker), at)
}

// Timer is a future that completes once the driver's clock reaches its
// deadline. It always yields at least once.
type Timer struct {
	driver    TimeDriver
	expiresAt uint64
	yielded   bool
}

// TimerAt returns a timer expiring at the absolute tick at.
func TimerAt(driver TimeDriver, at uint64) *Timer {
	return &Timer{driver: driver, expiresAt: at}
}

// TimerAfter returns a timer expiring ticks from now.
func TimerAfter(driver TimeDriver, ticks uint64) *Timer {
	return TimerAt(driver, driver.Now()+ticks)
}

// ExpiresAt returns the timer's deadline.
func (t *Timer) ExpiresAt() uint64 { return t.expiresAt }

// Poll implements Future.
func (t *Timer) Poll(cx *Context) Poll {
	if t.yielded && t.expiresAt <= t.driver.Now() {
		return Ready
	}
	RegisterTimer(cx.Waker(), t.expiresAt)
	t.yielded = true
	return Pending
}
