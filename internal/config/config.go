// Package config holds the YAML configuration of the execdemo binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level execdemo configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Trace     TraceConfig     `yaml:"trace"`
	Executors ExecutorsConfig `yaml:"executors"`
	Workload  WorkloadConfig  `yaml:"workload"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig controls the HTTP endpoint and Prometheus collectors.
type MetricsConfig struct {
	Addr               string `yaml:"addr"` // empty disables the HTTP server
	Namespace          string `yaml:"namespace"`
	SnapshotIntervalMs int    `yaml:"snapshot_interval_ms"`
}

// TraceConfig controls the SQLite trace store.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"` // ":memory:" keeps traces in process
	Buffer  int    `yaml:"buffer"`  // pending events before new ones are dropped
}

// ExecutorsConfig sizes the executor group.
type ExecutorsConfig struct {
	Count           int    `yaml:"count"`
	TickHz          uint64 `yaml:"tick_hz"`
	PollHistory     int    `yaml:"poll_history"`
	DebugAssertions bool   `yaml:"debug_assertions"`
}

// WorkloadConfig describes the demo tasks.
type WorkloadConfig struct {
	Blinkers   int `yaml:"blinkers"`    // periodic timer tasks
	PeriodMs   int `yaml:"period_ms"`   // blink period
	Blinks     int `yaml:"blinks"`      // blinks per task before it completes, 0 = forever
	DurationMs int `yaml:"duration_ms"` // run time, 0 = until interrupted
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr:               ":9464",
			Namespace:          "executor",
			SnapshotIntervalMs: 1000,
		},
		Trace: TraceConfig{
			Enabled: false,
			DBPath:  "execdemo-trace.db",
			Buffer:  4096,
		},
		Executors: ExecutorsConfig{
			Count:       2,
			TickHz:      1_000_000,
			PollHistory: 64,
		},
		Workload: WorkloadConfig{
			Blinkers: 4,
			PeriodMs: 250,
			Blinks:   0,
		},
	}
}

// Load reads a YAML file on top of Default(). An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	if c.Executors.Count < 1 {
		errs = append(errs, fmt.Errorf("executors.count %d: must be at least 1", c.Executors.Count))
	}
	if c.Executors.TickHz == 0 {
		errs = append(errs, errors.New("executors.tick_hz: must be positive"))
	}
	if c.Executors.PollHistory < 0 {
		errs = append(errs, fmt.Errorf("executors.poll_history %d: must not be negative", c.Executors.PollHistory))
	}
	if c.Metrics.SnapshotIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("metrics.snapshot_interval_ms %d: must be positive", c.Metrics.SnapshotIntervalMs))
	}
	if c.Trace.Enabled && c.Trace.DBPath == "" {
		errs = append(errs, errors.New("trace.db_path: required when trace.enabled"))
	}
	if c.Trace.Buffer < 0 {
		errs = append(errs, fmt.Errorf("trace.buffer %d: must not be negative", c.Trace.Buffer))
	}
	if c.Workload.Blinkers < 0 {
		errs = append(errs, fmt.Errorf("workload.blinkers %d: must not be negative", c.Workload.Blinkers))
	}
	if c.Workload.Blinkers > 0 && c.Workload.PeriodMs <= 0 {
		errs = append(errs, fmt.Errorf("workload.period_ms %d: must be positive", c.Workload.PeriodMs))
	}
	if c.Workload.Blinks < 0 || c.Workload.DurationMs < 0 {
		errs = append(errs, errors.New("workload.blinks and workload.duration_ms must not be negative"))
	}
	return errors.Join(errs...)
}
