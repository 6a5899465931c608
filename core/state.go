package core

import "sync/atomic"

// Task state bits. They are not mutually exclusive.
const (
	// stateSpawned: the task holds a live future.
	stateSpawned uint32 = 1 << 0

	// stateRunQueued: the task is linked into its executor's run queue.
	stateRunQueued uint32 = 1 << 1

	// stateTimerQueued: the task is linked into its executor's timer queue.
	stateTimerQueued uint32 = 1 << 2
)

// State is the atomic lifecycle bitset of a task.
//
// State Machine:
//
//	0 (empty)              → SPAWNED|RUN_QUEUED   [Spawn() via CAS]
//	SPAWNED|RUN_QUEUED     → SPAWNED              [RunDequeue()]
//	SPAWNED                → SPAWNED|RUN_QUEUED   [RunEnqueue() via CAS]
//	SPAWNED                → 0                    [Despawn()]
//	TIMER_QUEUED toggles independently            [TimerEnqueue()/TimerDequeue()]
//
// Every transition is a single atomic read-modify-write. Using a plain
// load followed by a store is a bug: wakes may race with the poll-side clears.
type State struct {
	v atomic.Uint32
}

// Spawn claims an empty slot. It fails unless the state is exactly 0.
func (s *State) Spawn() bool {
	return s.v.CompareAndSwap(0, stateSpawned|stateRunQueued)
}

// Despawn marks the task as finished.
func (s *State) Despawn() {
	s.v.And(^stateSpawned)
}

// RunEnqueue marks the task as run-queued. It reports true exactly once per
// transition; the caller that observes true must enqueue the task.
func (s *State) RunEnqueue() bool {
	for {
		state := s.v.Load()
		if state&stateRunQueued != 0 || state&stateSpawned == 0 {
			return false
		}
		if s.v.CompareAndSwap(state, state|stateRunQueued) {
			return true
		}
	}
}

// RunDequeue clears the run-queued bit and reports whether the task is
// still spawned. A false result means the entry is stale and must not be polled.
func (s *State) RunDequeue() bool {
	old := s.v.And(^stateRunQueued)
	return old&stateSpawned != 0
}

// TimerEnqueue sets the timer-queued bit and reports whether it was clear.
func (s *State) TimerEnqueue() bool {
	old := s.v.Or(stateTimerQueued)
	return old&stateTimerQueued == 0
}

// TimerDequeue clears the timer-queued bit.
func (s *State) TimerDequeue() {
	s.v.And(^stateTimerQueued)
}

// IsSpawned reports whether the task currently holds a live future.
func (s *State) IsSpawned() bool {
	return s.v.Load()&stateSpawned != 0
}

// IsRunQueued reports whether the task is in a run queue.
func (s *State) IsRunQueued() bool {
	return s.v.Load()&stateRunQueued != 0
}

// IsTimerQueued reports whether the task is in a timer queue.
func (s *State) IsTimerQueued() bool {
	return s.v.Load()&stateTimerQueued != 0
}

// IsEmpty reports whether the slot can be claimed right now.
func (s *State) IsEmpty() bool {
	return s.v.Load() == 0
}

// String renders the bitset for logs and test failures.
func (s *State) String() string {
	v := s.v.Load()
	if v == 0 {
		return "EMPTY"
	}
	out := ""
	add := func(name string) {
		if out != "" {
			out += "|"
		}
		out += name
	}
	if v&stateSpawned != 0 {
		add("SPAWNED")
	}
	if v&stateRunQueued != 0 {
		add("RUN_QUEUED")
	}
	if v&stateTimerQueued != 0 {
		add("TIMER_QUEUED")
	}
	return out
}
