package core

import (
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task's future panics during Poll.
// The panicking future has already been dropped and its slot released.
//
// Implementations should be thread-safe as several executors may share one.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - executorName: The name of the executor that was polling the task
	// - task: The task whose future panicked
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(executorName string, task TaskRef, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs task panics at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic with its stack trace.
func (h *DefaultPanicHandler) HandlePanic(executorName string, task TaskRef, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("executor", executorName),
		F("task", task.String()),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting executor metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from Poll and from wake paths, so they must be
// non-blocking and fast.
type Metrics interface {
	// RecordTaskPoll records one poll of one task.
	//
	// Parameters:
	// - executorName: The name of the executor
	// - duration: How long the future's Poll took
	// - completed: Whether the future returned Ready
	RecordTaskPoll(executorName string, duration time.Duration, completed bool)

	// RecordPollPass records one executor Poll call.
	//
	// Parameters:
	// - executorName: The name of the executor
	// - polled: How many tasks were polled in this call
	// - timerQueued: Timer queue length after the call
	RecordPollPass(executorName string, polled int, timerQueued int)

	// RecordPend records that the executor asked its environment to poll.
	RecordPend(executorName string)

	// RecordSpawnConflict records a spawn rejected because the slot was busy.
	RecordSpawnConflict(executorName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskPoll is a no-op.
func (m *NilMetrics) RecordTaskPoll(executorName string, duration time.Duration, completed bool) {
}

// RecordPollPass is a no-op.
func (m *NilMetrics) RecordPollPass(executorName string, polled int, timerQueued int) {
}

// RecordPend is a no-op.
func (m *NilMetrics) RecordPend(executorName string) {
}

// RecordSpawnConflict is a no-op.
func (m *NilMetrics) RecordSpawnConflict(executorName string) {
}

// =============================================================================
// Tracer: diagnostics hook
// =============================================================================

// Tracer receives scheduling events. It is purely observational.
// Methods may be called from any goroutine that wakes a task.
type Tracer interface {
	// TaskNew is called when a task is spawned on an executor.
	TaskNew(executorName string, task TaskRef)

	// TaskReadyBegin is called when a task is put into the run queue.
	TaskReadyBegin(executorName string, task TaskRef)

	// TaskExecBegin is called right before a task is polled.
	TaskExecBegin(executorName string, task TaskRef)

	// TaskExecEnd is called right after a task's poll returned.
	TaskExecEnd(executorName string, task TaskRef)

	// SystemIdle is called when Poll returns.
	SystemIdle(executorName string)
}

// NopTracer discards all events.
type NopTracer struct{}

func (NopTracer) TaskNew(string, TaskRef)        {}
func (NopTracer) TaskReadyBegin(string, TaskRef) {}
func (NopTracer) TaskExecBegin(string, TaskRef)  {}
func (NopTracer) TaskExecEnd(string, TaskRef)    {}
func (NopTracer) SystemIdle(string)              {}

// LogTracer writes every event to a Logger at debug level.
type LogTracer struct {
	Logger Logger
}

func (t *LogTracer) TaskNew(executorName string, task TaskRef) {
	t.Logger.Debug("task new", F("executor", executorName), F("task", task.String()))
}

func (t *LogTracer) TaskReadyBegin(executorName string, task TaskRef) {
	t.Logger.Debug("task ready", F("executor", executorName), F("task", task.String()))
}

func (t *LogTracer) TaskExecBegin(executorName string, task TaskRef) {
	t.Logger.Debug("task exec begin", F("executor", executorName), F("task", task.String()))
}

func (t *LogTracer) TaskExecEnd(executorName string, task TaskRef) {
	t.Logger.Debug("task exec end", F("executor", executorName), F("task", task.String()))
}

func (t *LogTracer) SystemIdle(executorName string) {
	t.Logger.Debug("executor idle", F("executor", executorName))
}

// =============================================================================
// ExecutorConfig: Configuration for Executor
// =============================================================================

// ExecutorConfig holds configuration options for an Executor.
// All fields are optional.
type ExecutorConfig struct {
	// Name labels logs, metrics and traces. Defaults to "executor-<id prefix>".
	Name string

	// Logger defaults to NoOpLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// Tracer defaults to NopTracer.
	Tracer Tracer

	// PanicHandler receives task panics. When nil, a panic in a future
	// propagates out of Poll.
	PanicHandler PanicHandler

	// TimeDriver enables integrated timers. The executor allocates one alarm
	// from it and panics if none is available.
	TimeDriver TimeDriver

	// DebugAssertions turns documented preconditions (reentrant Poll) into panics.
	DebugAssertions bool

	// PollHistory is the number of recent task polls kept for RecentPolls.
	// Zero disables the history.
	PollHistory int
}

// DefaultExecutorConfig returns a config with default handlers.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		Logger:       NewNoOpLogger(),
		Metrics:      &NilMetrics{},
		Tracer:       NopTracer{},
		PanicHandler: &DefaultPanicHandler{},
	}
}
