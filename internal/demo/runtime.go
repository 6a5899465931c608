// Package demo assembles the execdemo workload: an executor group running
// timer-driven blink tasks, with Prometheus metrics, an optional SQLite trace
// store and an HTTP endpoint.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	executor "github.com/Swind/go-async-executor"
	"github.com/Swind/go-async-executor/core"
	"github.com/Swind/go-async-executor/internal/config"
	"github.com/Swind/go-async-executor/internal/logging"
	obs "github.com/Swind/go-async-executor/observability/prometheus"
	"github.com/Swind/go-async-executor/observability/tracestore"
	prom "github.com/prometheus/client_golang/prometheus"
)

// GroupID names the executor group; executors are "<GroupID>-<n>".
const GroupID = "demo"

// Runtime owns every component of a demo run.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	registry *prom.Registry
	exporter *obs.MetricsExporter
	poller   *obs.SnapshotPoller
	trace    *tracestore.Store

	driver *core.StdTimeDriver
	group  *executor.ExecutorGroup
	pool   *core.TaskPool[*Blinker]
	blinks atomic.Int64

	server   *http.Server
	listener net.Listener
}

// New builds a runtime from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		cfg:      cfg,
		logger:   logger.With("component", "demo"),
		registry: prom.NewRegistry(),
		driver:   core.NewStdTimeDriver(cfg.Executors.TickHz, cfg.Executors.Count),
		pool:     core.NewTaskPool[*Blinker](max(cfg.Workload.Blinkers, 1)),
	}

	var err error
	r.exporter, err = obs.NewMetricsExporter(cfg.Metrics.Namespace, r.registry, obs.ExporterOptions{})
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	r.poller, err = obs.NewSnapshotPoller(r.registry, time.Duration(cfg.Metrics.SnapshotIntervalMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("snapshot poller: %w", err)
	}
	if cfg.Trace.Enabled {
		r.trace, err = tracestore.Open(ctx, cfg.Trace.DBPath, logger, cfg.Trace.Buffer)
		if err != nil {
			return nil, fmt.Errorf("trace store: %w", err)
		}
	}

	executorLogger := logging.ForComponent(logger, "executor")
	r.group = executor.NewExecutorGroup(GroupID, cfg.Executors.Count, func(int) *core.ExecutorConfig {
		c := &core.ExecutorConfig{
			Logger:          executorLogger,
			Metrics:         r.exporter,
			PanicHandler:    &core.DefaultPanicHandler{Logger: executorLogger},
			TimeDriver:      r.driver,
			DebugAssertions: cfg.Executors.DebugAssertions,
			PollHistory:     cfg.Executors.PollHistory,
		}
		if r.trace != nil {
			c.Tracer = r.trace
		}
		return c
	})
	r.poller.AddGroup(GroupID, r.group)
	return r, nil
}

// Start runs the executors, the snapshot poller and (when configured) the
// HTTP server, then spawns the blinkers.
func (r *Runtime) Start(ctx context.Context) error {
	if addr := r.cfg.Metrics.Addr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		r.listener = ln
		r.server = &http.Server{Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("http server stopped", "error", err)
			}
		}()
		r.logger.Info("serving metrics", "addr", ln.Addr().String())
	}

	r.group.Start(ctx)
	r.poller.Start(ctx)

	period := r.driver.Ticks(time.Duration(r.cfg.Workload.PeriodMs) * time.Millisecond)
	spawner := r.group.Spawner()
	for id := range r.cfg.Workload.Blinkers {
		token := r.pool.Spawn(func() *Blinker {
			return NewBlinker(id, r.driver, period, r.cfg.Workload.Blinks, &r.blinks, r.logger)
		})
		if err := spawner.Spawn(token); err != nil {
			return fmt.Errorf("spawn blinker %d: %w", id, err)
		}
	}
	r.logger.Info("workload started",
		"executors", r.group.Size(),
		"blinkers", r.cfg.Workload.Blinkers,
		"period_ms", r.cfg.Workload.PeriodMs,
	)
	return nil
}

// Wait blocks until ctx ends or, for bounded workloads, every blinker has
// finished.
func (r *Runtime) Wait(ctx context.Context) error {
	if r.cfg.Workload.Blinks == 0 || r.cfg.Workload.Blinkers == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.pool.Spawned() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop shuts everything down in reverse order of Start.
func (r *Runtime) Stop(ctx context.Context) error {
	var errs []error
	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	r.poller.Stop()
	r.group.Stop()
	if r.trace != nil {
		if err := r.trace.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address, or "" when the server is disabled.
func (r *Runtime) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Stats returns a snapshot of every executor in the group.
func (r *Runtime) Stats() []core.ExecutorStats { return r.group.Stats() }

// Blinks returns the total number of blinks so far.
func (r *Runtime) Blinks() int64 { return r.blinks.Load() }

// Registry returns the Prometheus registry the runtime exports to.
func (r *Runtime) Registry() *prom.Registry { return r.registry }

// Trace returns the trace store, or nil when tracing is disabled.
func (r *Runtime) Trace() *tracestore.Store { return r.trace }
