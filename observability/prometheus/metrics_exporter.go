package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Swind/go-async-executor/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// defaultPollBuckets suit task polls, which should take microseconds.
var defaultPollBuckets = prom.ExponentialBuckets(1e-6, 4, 10)

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskPollSeconds    *prom.HistogramVec
	pollPassTotal      *prom.CounterVec
	tasksPerPass       *prom.HistogramVec
	timerQueueDepth    *prom.GaugeVec
	pendTotal          *prom.CounterVec
	spawnConflictTotal *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "executor"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = defaultPollBuckets
	}

	pollVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_poll_duration_seconds",
		Help:      "Duration of a single task poll in seconds.",
		Buckets:   buckets,
	}, []string{"executor", "completed"})
	passVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "poll_total",
		Help:      "Total number of executor Poll calls.",
	}, []string{"executor"})
	perPassVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "tasks_per_poll",
		Help:      "Number of tasks polled per executor Poll call.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"executor"})
	timerVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "timer_queue_depth",
		Help:      "Tasks waiting in the timer queue after the last Poll.",
	}, []string{"executor"})
	pendVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pend_total",
		Help:      "Total number of times the executor asked to be polled.",
	}, []string{"executor"})
	conflictVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "spawn_conflict_total",
		Help:      "Total number of spawns rejected because the task slot was busy.",
	}, []string{"executor"})

	var err error
	if pollVec, err = registerCollector(reg, pollVec); err != nil {
		return nil, err
	}
	if passVec, err = registerCollector(reg, passVec); err != nil {
		return nil, err
	}
	if perPassVec, err = registerCollector(reg, perPassVec); err != nil {
		return nil, err
	}
	if timerVec, err = registerCollector(reg, timerVec); err != nil {
		return nil, err
	}
	if pendVec, err = registerCollector(reg, pendVec); err != nil {
		return nil, err
	}
	if conflictVec, err = registerCollector(reg, conflictVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskPollSeconds:    pollVec,
		pollPassTotal:      passVec,
		tasksPerPass:       perPassVec,
		timerQueueDepth:    timerVec,
		pendTotal:          pendVec,
		spawnConflictTotal: conflictVec,
	}, nil
}

// RecordTaskPoll records one poll of one task.
func (m *MetricsExporter) RecordTaskPoll(executorName string, duration time.Duration, completed bool) {
	if m == nil {
		return
	}
	m.taskPollSeconds.WithLabelValues(normalizeLabel(executorName, "unknown"), strconv.FormatBool(completed)).Observe(duration.Seconds())
}

// RecordPollPass records one executor Poll call.
func (m *MetricsExporter) RecordPollPass(executorName string, polled int, timerQueued int) {
	if m == nil {
		return
	}
	name := normalizeLabel(executorName, "unknown")
	m.pollPassTotal.WithLabelValues(name).Inc()
	m.tasksPerPass.WithLabelValues(name).Observe(float64(polled))
	m.timerQueueDepth.WithLabelValues(name).Set(float64(timerQueued))
}

// RecordPend records a Pender invocation.
func (m *MetricsExporter) RecordPend(executorName string) {
	if m == nil {
		return
	}
	m.pendTotal.WithLabelValues(normalizeLabel(executorName, "unknown")).Inc()
}

// RecordSpawnConflict records a spawn rejected because the slot was busy.
func (m *MetricsExporter) RecordSpawnConflict(executorName string) {
	if m == nil {
		return
	}
	m.spawnConflictTotal.WithLabelValues(normalizeLabel(executorName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
