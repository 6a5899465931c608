package executor

import "github.com/Swind/go-async-executor/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the executor package for most use cases.

// Future is a resumable computation polled by an executor
type Future = core.Future

// FutureFunc adapts a function to Future
type FutureFunc = core.FutureFunc

// Poll is the result of polling a future
type Poll = core.Poll

// Context is passed to Future.Poll and carries the task's waker
type Context = core.Context

// Waker marks a task as ready to be polled
type Waker = core.Waker

// Executor is the raw executor driven by a Pender
type Executor = core.Executor

// ExecutorConfig configures an executor
type ExecutorConfig = core.ExecutorConfig

// ExecutorStats is a snapshot of an executor's counters
type ExecutorStats = core.ExecutorStats

// Spawner spawns tasks on one executor
type Spawner = core.Spawner

// SpawnToken carries an initialized task to a Spawner
type SpawnToken = core.SpawnToken

// TaskRef is a type-erased task handle
type TaskRef = core.TaskRef

// Pender tells the environment an executor needs polling
type Pender = core.Pender

// Timer is a future that completes at a deadline
type Timer = core.Timer

// TaskStorage and TaskPool hold caller-owned task slots
type TaskStorage[F Future] = core.TaskStorage[F]
type TaskPool[F Future] = core.TaskPool[F]

// Poll results
const (
	Pending = core.Pending
	Ready   = core.Ready
)

// Forever is the "no deadline" timestamp
const Forever = core.Forever

// ErrSpawnBusy is returned when spawning into a busy slot
var ErrSpawnBusy = core.ErrSpawnBusy

// Convenience functions re-exported from core
var (
	NewExecutor           = core.NewExecutor
	NewExecutorWithConfig = core.NewExecutorWithConfig
	DefaultExecutorConfig = core.DefaultExecutorConfig
	ThreadPender          = core.ThreadPender
	InterruptPender       = core.InterruptPender
	CallbackPender        = core.CallbackPender
	WakeTask              = core.WakeTask
	SpawnerFromContext    = core.SpawnerFromContext
	TimerAt               = core.TimerAt
	TimerAfter            = core.TimerAfter
)

// NewTaskStorage returns an empty task slot for futures of type F.
func NewTaskStorage[F Future]() *TaskStorage[F] {
	return core.NewTaskStorage[F]()
}

// NewTaskPool returns a pool of size slots for futures of type F.
func NewTaskPool[F Future](size int) *TaskPool[F] {
	return core.NewTaskPool[F](size)
}
