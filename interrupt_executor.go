package executor

import (
	"fmt"
	"sync/atomic"

	"github.com/Swind/go-async-executor/core"
)

// InterruptExecutor polls from the handler of a software interrupt line.
// The executor pends its line whenever it has work; the controller's dispatcher
// goroutine then runs Poll. Executors on different lines of one controller
// never poll concurrently.
type InterruptExecutor struct {
	controller *core.SoftwareInterruptController
	irq        core.Interrupt
	exec       *core.Executor
	started    atomic.Bool
}

// NewInterruptExecutor creates an executor bound to irq on controller and
// installs its handler. config may be nil.
func NewInterruptExecutor(controller *core.SoftwareInterruptController, irq core.Interrupt, config *core.ExecutorConfig) (*InterruptExecutor, error) {
	e := &InterruptExecutor{
		controller: controller,
		irq:        irq,
		exec:       core.NewExecutorWithConfig(core.InterruptPender(controller, irq), config),
	}
	if err := controller.Register(irq, e.onInterrupt); err != nil {
		return nil, fmt.Errorf("register interrupt executor %s: %w", e.exec.Name(), err)
	}
	return e, nil
}

// Start pends the line once so anything spawned before Start is polled, and
// returns a spawner usable from any goroutine. Repeated calls only return the spawner.
func (e *InterruptExecutor) Start() core.Spawner {
	if e.started.CompareAndSwap(false, true) {
		e.controller.Pend(e.irq)
	}
	return e.exec.Spawner()
}

func (e *InterruptExecutor) onInterrupt() {
	e.exec.Poll()
}

// Executor returns the underlying raw executor.
func (e *InterruptExecutor) Executor() *core.Executor { return e.exec }

// Interrupt returns the line this executor is bound to.
func (e *InterruptExecutor) Interrupt() core.Interrupt { return e.irq }

// Spawner returns a spawner for this executor.
func (e *InterruptExecutor) Spawner() core.Spawner { return e.exec.Spawner() }
