package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-async-executor/core"
)

// ExecutorGroup runs a fixed set of ThreadExecutors, one goroutine each, and
// spreads spawns over them round-robin.
type ExecutorGroup struct {
	id        string
	executors []*ThreadExecutor
	next      atomic.Uint32

	running   bool
	runningMu sync.RWMutex
}

// NewExecutorGroup creates size executors named "<id>-<n>". configFor may be
// nil; otherwise it supplies the config of executor n (its Name is filled in
// when empty).
func NewExecutorGroup(id string, size int, configFor func(n int) *core.ExecutorConfig) *ExecutorGroup {
	if size < 1 {
		size = 1
	}
	g := &ExecutorGroup{id: id, executors: make([]*ThreadExecutor, size)}
	for n := range g.executors {
		config := core.DefaultExecutorConfig()
		if configFor != nil {
			config = configFor(n)
		}
		if config.Name == "" {
			config.Name = fmt.Sprintf("%s-%d", id, n)
		}
		g.executors[n] = NewThreadExecutor(config)
	}
	return g
}

// Start starts every executor loop.
func (g *ExecutorGroup) Start(ctx context.Context) {
	g.runningMu.Lock()
	defer g.runningMu.Unlock()

	if g.running {
		return // Already running
	}
	g.running = true

	for _, t := range g.executors {
		t.Start(ctx, nil)
	}
}

// Stop stops every executor loop and waits for them.
func (g *ExecutorGroup) Stop() {
	g.runningMu.Lock()
	if !g.running {
		g.runningMu.Unlock()
		return
	}
	g.running = false
	g.runningMu.Unlock()

	for _, t := range g.executors {
		t.Stop()
	}
}

// ID returns the ID of the group
func (g *ExecutorGroup) ID() string {
	return g.id
}

// IsRunning returns whether the group is running
func (g *ExecutorGroup) IsRunning() bool {
	g.runningMu.RLock()
	defer g.runningMu.RUnlock()
	return g.running
}

// Size returns the number of executors
func (g *ExecutorGroup) Size() int {
	return len(g.executors)
}

// Executors returns the group's executors.
func (g *ExecutorGroup) Executors() []*ThreadExecutor {
	out := make([]*ThreadExecutor, len(g.executors))
	copy(out, g.executors)
	return out
}

// Spawner returns the spawner of the next executor in round-robin order.
func (g *ExecutorGroup) Spawner() core.Spawner {
	n := g.next.Add(1) - 1
	return g.executors[int(n)%len(g.executors)].Spawner()
}

// Stats returns a snapshot for every executor, in order.
func (g *ExecutorGroup) Stats() []core.ExecutorStats {
	out := make([]core.ExecutorStats, len(g.executors))
	for i, t := range g.executors {
		out[i] = t.Executor().Stats()
	}
	return out
}

// =============================================================================
// Global Executor Group Helper (Singleton)
// =============================================================================

var (
	globalGroup *ExecutorGroup
	globalMu    sync.Mutex
)

// InitGlobalExecutorGroup creates and starts the global group with size executors.
func InitGlobalExecutorGroup(size int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalGroup != nil {
		return // Already initialized
	}

	globalGroup = NewExecutorGroup("global", size, nil)
	globalGroup.Start(context.Background())
}

// GetGlobalExecutorGroup returns the global group.
// It panics if InitGlobalExecutorGroup has not been called.
func GetGlobalExecutorGroup() *ExecutorGroup {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalGroup == nil {
		panic("global executor group not initialized. Call InitGlobalExecutorGroup() first.")
	}
	return globalGroup
}

// ShutdownGlobalExecutorGroup stops the global group.
func ShutdownGlobalExecutorGroup() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalGroup != nil {
		globalGroup.Stop()
		globalGroup = nil
	}
}

// Spawn spawns token on the global group.
func Spawn(token core.SpawnToken) error {
	return GetGlobalExecutorGroup().Spawner().Spawn(token)
}
