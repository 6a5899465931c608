package core

// TimerQueue is an intrusive list of tasks waiting for a deadline, kept in
// ascending expiresAt order (FIFO among equal deadlines).
//
// It is owned by one executor and only touched from that executor's Poll.
type TimerQueue struct {
	head *TaskHeader
	len  int
}

// Update re-files task after it was polled: it is removed if present, then
// inserted again if its deadline is finite. The queue therefore always
// reflects the post-poll deadline.
func (q *TimerQueue) Update(p TaskRef) {
	h := p.ptr
	if h.state.IsTimerQueued() {
		q.remove(h)
		h.state.TimerDequeue()
	}

	at := h.expiresAt.Load()
	if at == Forever {
		return
	}
	if h.state.TimerEnqueue() {
		q.insert(h, at)
	}
}

// NextExpiration returns the earliest pending deadline, or Forever.
func (q *TimerQueue) NextExpiration() uint64 {
	if q.head == nil {
		return Forever
	}
	return q.head.expiresAt.Load()
}

// DequeueExpired removes every task whose deadline is <= now, in ascending
// deadline order, and hands it to onTask.
func (q *TimerQueue) DequeueExpired(now uint64, onTask func(TaskRef)) {
	for q.head != nil && q.head.expiresAt.Load() <= now {
		h := q.head
		q.head = h.timerQueueNext
		h.timerQueueNext = nil
		q.len--
		h.state.TimerDequeue()
		onTask(newTaskRef(h))
	}
}

// Len returns the number of queued tasks.
func (q *TimerQueue) Len() int { return q.len }

func (q *TimerQueue) insert(h *TaskHeader, at uint64) {
	q.len++
	if q.head == nil || at < q.head.expiresAt.Load() {
		h.timerQueueNext = q.head
		q.head = h
		return
	}
	cur := q.head
	for cur.timerQueueNext != nil && cur.timerQueueNext.expiresAt.Load() <= at {
		cur = cur.timerQueueNext
	}
	h.timerQueueNext = cur.timerQueueNext
	cur.timerQueueNext = h
}

func (q *TimerQueue) remove(h *TaskHeader) {
	if q.head == h {
		q.head = h.timerQueueNext
		h.timerQueueNext = nil
		q.len--
		return
	}
	for cur := q.head; cur != nil; cur = cur.timerQueueNext {
		if cur.timerQueueNext == h {
			cur.timerQueueNext = h.timerQueueNext
			h.timerQueueNext = nil
			q.len--
			return
		}
	}
}
