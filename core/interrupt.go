package core

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

// Interrupt is an interrupt line number.
type Interrupt uint8

// MaxInterrupts is the number of lines a SoftwareInterruptController supports.
const MaxInterrupts = 64

// InterruptController marks interrupts as pending. Pend must be callable from
// any goroutine and must not run the handler inline.
type InterruptController interface {
	Pend(irq Interrupt)
}

// SoftwareInterruptController emulates an interrupt controller with a single
// priority level: pending lines are dispatched one at a time on a dedicated
// goroutine, lowest line number first. A handler is never re-entered.
type SoftwareInterruptController struct {
	pending atomic.Uint64
	wake    chan struct{}

	mu       sync.RWMutex
	handlers [MaxInterrupts]func()

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	dispatched atomic.Int64
}

// NewSoftwareInterruptController creates a stopped controller.
func NewSoftwareInterruptController() *SoftwareInterruptController {
	return &SoftwareInterruptController{wake: make(chan struct{}, 1)}
}

// Register installs the handler for irq, replacing any previous one.
func (c *SoftwareInterruptController) Register(irq Interrupt, handler func()) error {
	if int(irq) >= MaxInterrupts {
		return fmt.Errorf("interrupt %d out of range [0, %d)", irq, MaxInterrupts)
	}
	c.mu.Lock()
	c.handlers[irq] = handler
	c.mu.Unlock()
	return nil
}

// Pend implements InterruptController.
func (c *SoftwareInterruptController) Pend(irq Interrupt) {
	if int(irq) >= MaxInterrupts {
		return
	}
	c.pending.Or(1 << irq)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// IsPending reports whether irq is waiting to be dispatched.
func (c *SoftwareInterruptController) IsPending(irq Interrupt) bool {
	return c.pending.Load()&(1<<irq) != 0
}

// Dispatched returns how many handler invocations have run.
func (c *SoftwareInterruptController) Dispatched() int64 { return c.dispatched.Load() }

// Start begins dispatching; repeated calls are no-ops.
func (c *SoftwareInterruptController) Start(ctx context.Context) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.loop(loopCtx, c.done)
}

// Stop stops dispatching and waits for the running handler to return.
func (c *SoftwareInterruptController) Stop() {
	c.stateMu.Lock()
	if !c.running {
		c.stateMu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.cancel = nil
	c.done = nil
	c.stateMu.Unlock()

	cancel()
	<-done
}

func (c *SoftwareInterruptController) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.dispatchPending()
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}
	}
}

// dispatchPending runs handlers until no line is pending. A line pended
// while its handler runs is dispatched again afterwards.
func (c *SoftwareInterruptController) dispatchPending() {
	for {
		pending := c.pending.Load()
		if pending == 0 {
			return
		}
		irq := Interrupt(bits.TrailingZeros64(pending))
		c.pending.And(^(uint64(1) << irq))

		c.mu.RLock()
		handler := c.handlers[irq]
		c.mu.RUnlock()
		if handler != nil {
			handler()
			c.dispatched.Add(1)
		}
	}
}
