package core

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// syncExecutor is the scheduler core shared by every wrapper. Its enqueue and
// spawn paths may be used from any goroutine; poll is owned by one caller at a time.
type syncExecutor struct {
	runQueue RunQueue
	pender   Pender

	// Integrated timers; only used when timers is true.
	timers     bool
	timerQueue TimerQueue
	driver     TimeDriver
	alarm      AlarmHandle

	owner *Executor
	name  string
	id    string

	logger       Logger
	metrics      Metrics
	tracer       Tracer
	panicHandler PanicHandler
	history      *pollHistory
	measure      bool

	debugAssertions bool
	polling         atomic.Bool

	spawned        atomic.Int64
	completed      atomic.Int64
	panicked       atomic.Int64
	spawnConflicts atomic.Int64
	polls          atomic.Int64
	tasksPolled    atomic.Int64
	staleSkipped   atomic.Int64
	pends          atomic.Int64
	timerQueued    atomic.Int64
	nextExpiration atomic.Uint64
	lastPollAt     atomic.Int64
}

func (e *syncExecutor) init(owner *Executor, pender Pender, config *ExecutorConfig) {
	if config == nil {
		config = DefaultExecutorConfig()
	}

	e.owner = owner
	e.pender = pender
	e.id = uuid.New().String()
	e.name = config.Name
	if e.name == "" {
		e.name = "executor-" + e.id[:8]
	}

	e.logger = config.Logger
	e.metrics = config.Metrics
	e.tracer = config.Tracer
	e.panicHandler = config.PanicHandler
	e.debugAssertions = config.DebugAssertions

	// Use defaults if not provided
	if e.logger == nil {
		e.logger = NewNoOpLogger()
	}
	if e.metrics == nil {
		e.metrics = &NilMetrics{}
	}
	if e.tracer == nil {
		e.tracer = NopTracer{}
	}
	if h, ok := e.panicHandler.(*DefaultPanicHandler); ok && h.Logger == nil {
		e.panicHandler = &DefaultPanicHandler{Logger: e.logger}
	}

	_, nilMetrics := e.metrics.(*NilMetrics)
	e.history = newPollHistory(config.PollHistory)
	e.measure = !nilMetrics || e.history != nil
	e.nextExpiration.Store(Forever)

	if config.TimeDriver != nil {
		alarm, ok := config.TimeDriver.AllocateAlarm()
		if !ok {
			e.logger.Error("no alarm available for integrated timers", F("executor", e.name))
			panic("executor " + e.name + ": failed to allocate alarm")
		}
		e.timers = true
		e.driver = config.TimeDriver
		e.alarm = alarm
		e.driver.SetAlarmCallback(alarm, alarmCallback, e)
	}

	e.logger.Debug("executor created",
		F("executor", e.name),
		F("id", e.id),
		F("pender", pender.Kind()),
		F("timers", e.timers),
	)
}

func alarmCallback(ctx any) {
	ctx.(*syncExecutor).pend()
}

func (e *syncExecutor) pend() {
	e.pends.Add(1)
	e.metrics.RecordPend(e.name)
	e.pender.Pend()
}

// enqueue puts task into the run queue and pends if the queue was empty.
//
// The caller must have won State.RunEnqueue (or the claim) for task, and task
// must belong to this executor.
func (e *syncExecutor) enqueue(task TaskRef) {
	e.tracer.TaskReadyBegin(e.name, task)
	if e.runQueue.Enqueue(task) {
		e.pend()
	}
}

// enqueueNoPend is enqueue for callers that are about to drain the queue themselves.
func (e *syncExecutor) enqueueNoPend(task TaskRef) {
	e.tracer.TaskReadyBegin(e.name, task)
	e.runQueue.Enqueue(task)
}

func (e *syncExecutor) spawn(task TaskRef) {
	task.ptr.executor = e
	e.spawned.Add(1)
	e.tracer.TaskNew(e.name, task)
	e.enqueue(task)
}

// poll drains the run queue once. With timers it repeats until the alarm is
// armed for a deadline that is still in the future.
func (e *syncExecutor) poll() {
	if e.debugAssertions {
		if !e.polling.CompareAndSwap(false, true) {
			panic("executor " + e.name + ": Poll called reentrantly")
		}
		defer e.polling.Store(false)
	}

	// A future panicking with no PanicHandler unwinds through here. Tasks it
	// left in the queue still need a Poll.
	finished := false
	defer func() {
		if !finished && !e.runQueue.IsEmpty() {
			e.pend()
		}
	}()

	polled := 0
	for {
		if e.timers {
			e.timerQueue.DequeueExpired(e.driver.Now(), WakeTaskNoPend)
		}

		e.runQueue.DequeueAll(func(p TaskRef) {
			if e.pollTask(p) {
				polled++
			}
		})

		if !e.timers {
			break
		}
		// If the deadline is already in the past the alarm is not armed;
		// go around again so the expired tasks run now.
		next := e.timerQueue.NextExpiration()
		if e.driver.SetAlarm(e.alarm, next) {
			e.nextExpiration.Store(next)
			break
		}
	}

	e.polls.Add(1)
	e.tasksPolled.Add(int64(polled))
	e.timerQueued.Store(int64(e.timerQueue.Len()))
	e.lastPollAt.Store(time.Now().UnixNano())
	e.metrics.RecordPollPass(e.name, polled, e.timerQueue.Len())
	e.tracer.SystemIdle(e.name)
	finished = true
}

// pollTask polls one dequeued task and reports whether it was actually polled.
func (e *syncExecutor) pollTask(p TaskRef) bool {
	h := p.ptr
	if !h.state.RunDequeue() {
		// The task finished while this entry was queued: it was woken during
		// the poll that completed it. Nothing to do.
		e.staleSkipped.Add(1)
		return false
	}

	h.expiresAt.Store(Forever)

	// Only this goroutine moves the task in or out of our timer queue, so the
	// bit cannot change during the poll. It must be read now: once the future
	// completes the slot may be claimed and timer-queued by another executor.
	timerQueued := h.state.IsTimerQueued()
	unwound := true
	if e.timers && timerQueued {
		defer func() {
			if unwound {
				e.timerQueue.Update(p)
			}
		}()
	}

	e.tracer.TaskExecBegin(e.name, p)
	var startedAt time.Time
	if e.measure {
		startedAt = time.Now()
	}

	done, panicked := e.runPollFn(p)

	e.tracer.TaskExecEnd(e.name, p)
	if e.measure {
		duration := time.Since(startedAt)
		e.metrics.RecordTaskPoll(e.name, duration, done)
		e.history.Add(PollRecord{
			Task:         p,
			ExecutorName: e.name,
			StartedAt:    startedAt,
			Duration:     duration,
			Completed:    done,
			Panicked:     panicked,
		})
	}
	if done && !panicked {
		e.completed.Add(1)
	}

	unwound = false

	// A finished task is only touched again if it sat in our timer queue,
	// which keeps its slot from being claimed until Update unlinks it.
	if e.timers && (!done || timerQueued) {
		e.timerQueue.Update(p)
	}
	return true
}

func (e *syncExecutor) runPollFn(p TaskRef) (done bool, panicked bool) {
	if e.panicHandler == nil {
		return p.ptr.pollFn(p), false
	}

	defer func() {
		if rec := recover(); rec != nil {
			done, panicked = true, true
			e.panicked.Add(1)
			e.panicHandler.HandlePanic(e.name, p, rec, debug.Stack())
		}
	}()
	return p.ptr.pollFn(p), false
}

func (e *syncExecutor) stats() ExecutorStats {
	var lastPollAt time.Time
	if ns := e.lastPollAt.Load(); ns != 0 {
		lastPollAt = time.Unix(0, ns)
	}
	return ExecutorStats{
		Name:           e.name,
		ID:             e.id,
		PenderKind:     e.pender.Kind(),
		Timers:         e.timers,
		Spawned:        e.spawned.Load(),
		Completed:      e.completed.Load(),
		Panicked:       e.panicked.Load(),
		SpawnConflicts: e.spawnConflicts.Load(),
		Polls:          e.polls.Load(),
		TasksPolled:    e.tasksPolled.Load(),
		StaleSkipped:   e.staleSkipped.Load(),
		Pends:          e.pends.Load(),
		TimerQueued:    int(e.timerQueued.Load()),
		NextExpiration: e.nextExpiration.Load(),
		LastPollAt:     lastPollAt,
	}
}

// WakeTask marks task ready and enqueues it on its executor, pending the
// executor if its queue was empty. Waking a task that is already queued or
// not spawned does nothing.
func WakeTask(task TaskRef) {
	h := task.ptr
	if h.state.RunEnqueue() {
		// We just marked the task as queued, so we own the enqueue.
		h.executor.enqueue(task)
	}
}

// WakeTaskNoPend is WakeTask without the pend. It is meant for code running
// inside the executor's own Poll, which drains the queue right afterwards.
func WakeTaskNoPend(task TaskRef) {
	h := task.ptr
	if h.state.RunEnqueue() {
		h.executor.enqueueNoPend(task)
	}
}
