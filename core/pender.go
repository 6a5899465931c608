package core

import "context"

type penderKind uint8

const (
	penderNone penderKind = iota
	penderThread
	penderInterrupt
	penderCallback
)

// Pender tells the environment that an executor has work to do. The
// environment must then arrange for Poll to be called, never from inside
// Pend itself: Poll may call Pend synchronously and must not be re-entered.
//
// A Pender is an immutable value chosen when the executor is created.
type Pender struct {
	kind penderKind

	signal *Signal

	irqs InterruptController
	irq  Interrupt

	callback func(ctx any)
	ctx      any
}

// ThreadPender resumes the goroutine waiting on signal (thread-mode).
func ThreadPender(signal *Signal) Pender {
	return Pender{kind: penderThread, signal: signal}
}

// InterruptPender marks irq as pending on controller (interrupt-mode).
func InterruptPender(controller InterruptController, irq Interrupt) Pender {
	return Pender{kind: penderInterrupt, irqs: controller, irq: irq}
}

// CallbackPender calls fn(ctx), e.g. to post a poll request into a foreign
// event loop.
func CallbackPender(fn func(ctx any), ctx any) Pender {
	return Pender{kind: penderCallback, callback: fn, ctx: ctx}
}

// Pend schedules a future Poll. It is safe to call from any goroutine.
func (p Pender) Pend() {
	switch p.kind {
	case penderThread:
		p.signal.Notify()
	case penderInterrupt:
		p.irqs.Pend(p.irq)
	case penderCallback:
		p.callback(p.ctx)
	}
}

// Kind names the backend, for logs.
func (p Pender) Kind() string {
	switch p.kind {
	case penderThread:
		return "thread"
	case penderInterrupt:
		return "interrupt"
	case penderCallback:
		return "callback"
	default:
		return "none"
	}
}

// Signal is a level-triggered wake-up flag for one waiting goroutine.
// Any number of Notify calls before a Wait collapse into one wake-up.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify sets the signal. It never blocks.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
		// Already set; the waiter will poll anyway.
	}
}

// Wait blocks until the signal is set, then clears it.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the underlying channel for use in select statements. Receiving
// from it clears the signal.
func (s *Signal) C() <-chan struct{} { return s.ch }
