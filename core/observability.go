package core

import "time"

// PollRecord captures one poll of one task.
type PollRecord struct {
	Task         TaskRef
	ExecutorName string
	StartedAt    time.Time
	Duration     time.Duration
	Completed    bool
	Panicked     bool
}

// ExecutorStats represents runtime observability state for an executor.
type ExecutorStats struct {
	Name       string
	ID         string
	PenderKind string
	Timers     bool

	Spawned        int64 // tasks handed to Spawn
	Completed      int64 // futures that returned Ready
	Panicked       int64 // futures that panicked and were dropped
	SpawnConflicts int64 // poisoned tokens seen by this executor's spawners
	Polls          int64 // Poll calls
	TasksPolled    int64 // task polls across all Poll calls
	StaleSkipped   int64 // dequeued entries whose task had already finished
	Pends          int64 // Pender invocations
	TimerQueued    int   // timer queue length after the last Poll
	NextExpiration uint64
	LastPollAt     time.Time
}
