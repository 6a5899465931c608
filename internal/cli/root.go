// Package cli implements the execdemo command line.
package cli

import (
	"log/slog"

	"github.com/Swind/go-async-executor/internal/config"
	"github.com/Swind/go-async-executor/internal/logging"
	"github.com/spf13/cobra"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root cobra command for execdemo.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "execdemo",
		Short: "Run and inspect a cooperative async executor workload",
		Long: "execdemo runs timer-driven tasks on a group of thread-mode executors,\n" +
			"exports Prometheus metrics and optionally records scheduling traces to SQLite.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json); overrides the config")

	root.AddCommand(
		newRunCmd(a),
		newConfigCmd(a),
		newTraceCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	a.cfg = cfg
	a.logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
	return nil
}
