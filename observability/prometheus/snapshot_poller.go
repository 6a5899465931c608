package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-async-executor/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExecutorSnapshotProvider provides current executor stats snapshots.
type ExecutorSnapshotProvider interface {
	Stats() core.ExecutorStats
}

// GroupSnapshotProvider provides stats for a set of executors.
type GroupSnapshotProvider interface {
	Stats() []core.ExecutorStats
	IsRunning() bool
}

// SnapshotPoller periodically exports executor and group Stats() snapshots
// into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	executorsMu sync.RWMutex
	executors   map[string]ExecutorSnapshotProvider

	groupsMu sync.RWMutex
	groups   map[string]GroupSnapshotProvider

	spawned      *prom.GaugeVec
	completed    *prom.GaugeVec
	panicked     *prom.GaugeVec
	staleSkipped *prom.GaugeVec
	timerQueued  *prom.GaugeVec
	lastPollAge  *prom.GaugeVec

	groupExecutors *prom.GaugeVec
	groupRunning   *prom.GaugeVec
	groupLive      *prom.GaugeVec

	now func() time.Time

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	labels := []string{"executor", "pender"}
	spawned := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "tasks_spawned",
		Help:      "Tasks spawned per executor (snapshot).",
	}, labels)
	completed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "tasks_completed",
		Help:      "Tasks completed per executor (snapshot).",
	}, labels)
	panicked := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "tasks_panicked",
		Help:      "Tasks dropped after a panic per executor (snapshot).",
	}, labels)
	staleSkipped := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "stale_entries_skipped",
		Help:      "Run queue entries skipped because the task had already finished.",
	}, labels)
	timerQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "timer_queued",
		Help:      "Tasks in the timer queue after the last Poll.",
	}, labels)
	lastPollAge := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "last_poll_age_seconds",
		Help:      "Seconds since the executor last returned from Poll (-1 if never polled).",
	}, labels)

	groupExecutors := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "group_executors",
		Help:      "Executors per group.",
	}, []string{"group"})
	groupRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "group_running",
		Help:      "Group running state (1=running, 0=stopped).",
	}, []string{"group"})
	groupLive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "executor",
		Name:      "group_live_tasks",
		Help:      "Spawned but not yet finished tasks across a group.",
	}, []string{"group"})

	var err error
	for _, vec := range []**prom.GaugeVec{
		&spawned, &completed, &panicked, &staleSkipped, &timerQueued, &lastPollAge,
		&groupExecutors, &groupRunning, &groupLive,
	} {
		if *vec, err = registerCollector(reg, *vec); err != nil {
			return nil, err
		}
	}

	return &SnapshotPoller{
		interval:       interval,
		executors:      make(map[string]ExecutorSnapshotProvider),
		groups:         make(map[string]GroupSnapshotProvider),
		spawned:        spawned,
		completed:      completed,
		panicked:       panicked,
		staleSkipped:   staleSkipped,
		timerQueued:    timerQueued,
		lastPollAge:    lastPollAge,
		groupExecutors: groupExecutors,
		groupRunning:   groupRunning,
		groupLive:      groupLive,
		now:            time.Now,
	}, nil
}

// AddExecutor adds or replaces an executor snapshot provider by name.
func (p *SnapshotPoller) AddExecutor(name string, provider ExecutorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "executor")
	p.executorsMu.Lock()
	p.executors[name] = provider
	p.executorsMu.Unlock()
}

// AddGroup adds or replaces a group snapshot provider by name. Member
// executors are exported under their own names.
func (p *SnapshotPoller) AddGroup(name string, provider GroupSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "group")
	p.groupsMu.Lock()
	p.groups[name] = provider
	p.groupsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	now := p.now()

	p.executorsMu.RLock()
	for name, provider := range p.executors {
		p.exportExecutor(name, provider.Stats(), now)
	}
	p.executorsMu.RUnlock()

	p.groupsMu.RLock()
	for name, provider := range p.groups {
		stats := provider.Stats()
		var live int64
		for _, s := range stats {
			p.exportExecutor(normalizeLabel(s.Name, "executor"), s, now)
			live += s.Spawned - s.Completed - s.Panicked
		}
		p.groupExecutors.WithLabelValues(name).Set(float64(len(stats)))
		p.groupLive.WithLabelValues(name).Set(float64(live))
		if provider.IsRunning() {
			p.groupRunning.WithLabelValues(name).Set(1)
		} else {
			p.groupRunning.WithLabelValues(name).Set(0)
		}
	}
	p.groupsMu.RUnlock()
}

func (p *SnapshotPoller) exportExecutor(name string, stats core.ExecutorStats, now time.Time) {
	pender := normalizeLabel(stats.PenderKind, "unknown")
	p.spawned.WithLabelValues(name, pender).Set(float64(stats.Spawned))
	p.completed.WithLabelValues(name, pender).Set(float64(stats.Completed))
	p.panicked.WithLabelValues(name, pender).Set(float64(stats.Panicked))
	p.staleSkipped.WithLabelValues(name, pender).Set(float64(stats.StaleSkipped))
	p.timerQueued.WithLabelValues(name, pender).Set(float64(stats.TimerQueued))
	if stats.LastPollAt.IsZero() {
		p.lastPollAge.WithLabelValues(name, pender).Set(-1)
	} else {
		p.lastPollAge.WithLabelValues(name, pender).Set(now.Sub(stats.LastPollAt).Seconds())
	}
}
