package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/Swind/go-async-executor/core"
)

// ErrAlreadyRunning is returned by Run when the executor loop is already active.
var ErrAlreadyRunning = errors.New("executor: already running")

// ThreadExecutor runs an executor on one goroutine: it polls, then sleeps on a
// signal until a task is woken. All futures spawned on it are polled on that goroutine.
//
// Use cases:
// 1. The main loop of a program (Run from main)
// 2. A dedicated event loop next to blocking IO (Start)
type ThreadExecutor struct {
	signal *core.Signal
	exec   *core.Executor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewThreadExecutor creates a thread-mode executor. config may be nil.
func NewThreadExecutor(config *core.ExecutorConfig) *ThreadExecutor {
	signal := core.NewSignal()
	return &ThreadExecutor{
		signal:       signal,
		exec:         core.NewExecutorWithConfig(core.ThreadPender(signal), config),
		shutdownChan: make(chan struct{}),
	}
}

// Executor returns the underlying raw executor.
func (t *ThreadExecutor) Executor() *core.Executor { return t.exec }

// Spawner returns a spawner for this executor. It may be used from any goroutine.
func (t *ThreadExecutor) Spawner() core.Spawner { return t.exec.Spawner() }

// Name returns the executor name.
func (t *ThreadExecutor) Name() string { return t.exec.Name() }

// Run calls init with a spawner and then polls on the calling goroutine until
// ctx is canceled or Stop is called. It returns ctx.Err() when ctx ends the
// loop and nil after Stop.
func (t *ThreadExecutor) Run(ctx context.Context, init func(core.Spawner)) error {
	runCtx, done, err := t.begin(ctx)
	if err != nil {
		return err
	}
	defer t.end(done)

	if init != nil {
		init(t.exec.Spawner())
	}

	for {
		t.exec.Poll()
		select {
		case <-runCtx.Done():
			return ctx.Err()
		case <-t.signal.C():
		}
	}
}

// Start runs the loop on a new goroutine. Repeated calls are no-ops.
func (t *ThreadExecutor) Start(ctx context.Context, init func(core.Spawner)) {
	runCtx, done, err := t.begin(ctx)
	if err != nil {
		return
	}

	go func() {
		defer t.end(done)
		if init != nil {
			init(t.exec.Spawner())
		}
		for {
			t.exec.Poll()
			select {
			case <-runCtx.Done():
				return
			case <-t.signal.C():
			}
		}
	}()
}

func (t *ThreadExecutor) begin(ctx context.Context) (context.Context, chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil, nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.done = make(chan struct{})
	return runCtx, t.done, nil
}

func (t *ThreadExecutor) end(done chan struct{}) {
	t.mu.Lock()
	if t.done == done {
		t.running = false
		t.cancel()
		t.cancel = nil
		t.done = nil
	}
	t.mu.Unlock()
	close(done)
}

// IsRunning reports whether the loop is active.
func (t *ThreadExecutor) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stop ends the loop and waits for the current Poll to return. Tasks that are
// still pending stay in their slots and are not dropped.
func (t *ThreadExecutor) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
}

// Shutdown signals WaitShutdown waiters. Unlike Stop it does not end the
// loop, so a task may call it on its own executor.
func (t *ThreadExecutor) Shutdown() {
	t.shutdownOnce.Do(func() {
		close(t.shutdownChan)
	})
}

// WaitShutdown blocks until Shutdown is called or ctx ends.
func (t *ThreadExecutor) WaitShutdown(ctx context.Context) error {
	select {
	case <-t.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
