// Package executor provides a poll-based async task executor for Go.
//
// Tasks are futures stored in caller-owned slots (TaskStorage or TaskPool).
// An executor never runs a loop by itself: when it has work it calls its
// Pender, and the environment is expected to call Poll soon after. Wakers
// re-queue a task from any goroutine without locks.
//
// # Quick Start
//
// Run a thread-mode executor on the current goroutine:
//
//	var blinker = executor.NewTaskStorage[*executor.Timer]()
//
//	func main() {
//		t := executor.NewThreadExecutor(nil)
//		_ = t.Run(ctx, func(s executor.Spawner) {
//			s.MustSpawn(blinker.Spawn(func() *executor.Timer {
//				return executor.TimerAfter(driver, 1000)
//			}))
//		})
//	}
//
// # Key Concepts
//
// Executor: the raw scheduler in package core. Spawn queues a task; Poll
// drains the run queue once.
//
// Pender: how an executor asks to be polled. ThreadPender wakes a goroutine
// sleeping in ThreadExecutor.Run, InterruptPender pends a software interrupt
// line (InterruptExecutor), CallbackPender calls a function.
//
// TaskStorage: a task slot. A slot runs one task at a time; spawning into a
// busy slot yields a poisoned SpawnToken, reported by Spawner.Spawn as ErrSpawnBusy.
//
// Timers: with an ExecutorConfig.TimeDriver, futures can sleep with Timer
// and the executor arms one driver alarm for its earliest deadline.
//
// # Thread Safety
//
// Spawner and Waker may be used from any goroutine. Poll must never be
// called reentrantly or concurrently for the same executor.
package executor
