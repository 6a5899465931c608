package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Swind/go-async-executor/internal/demo"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		executors int
		blinkers  int
		periodMs  int
		blinks    int
		duration  time.Duration
		addr      string
		tracePath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the blink workload until it finishes or is interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("executors") {
				cfg.Executors.Count = executors
			}
			if flags.Changed("blinkers") {
				cfg.Workload.Blinkers = blinkers
			}
			if flags.Changed("period") {
				cfg.Workload.PeriodMs = periodMs
			}
			if flags.Changed("blinks") {
				cfg.Workload.Blinks = blinks
			}
			if flags.Changed("duration") {
				cfg.Workload.DurationMs = int(duration / time.Millisecond)
			}
			if flags.Changed("addr") {
				cfg.Metrics.Addr = addr
			}
			if flags.Changed("trace") {
				cfg.Trace.Enabled = tracePath != ""
				cfg.Trace.DBPath = tracePath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.Workload.DurationMs > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Workload.DurationMs)*time.Millisecond)
				defer cancel()
			}

			rt, err := demo.New(ctx, cfg, a.logger)
			if err != nil {
				return err
			}
			started := time.Now()
			if err := rt.Start(ctx); err != nil {
				_ = rt.Stop(context.Background())
				return err
			}

			waitErr := rt.Wait(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr := rt.Stop(shutdownCtx)

			fmt.Fprintf(cmd.OutOrStdout(), "ran for %s, %s blinks\n",
				time.Since(started).Round(time.Millisecond), formatCount(rt.Blinks()))
			printStats(cmd.OutOrStdout(), rt.Stats(), time.Now())

			if waitErr != nil && !errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
				return waitErr
			}
			return stopErr
		},
	}

	cmd.Flags().IntVarP(&executors, "executors", "n", 0, "Number of executors (overrides executors.count)")
	cmd.Flags().IntVar(&blinkers, "blinkers", 0, "Number of blink tasks (overrides workload.blinkers)")
	cmd.Flags().IntVar(&periodMs, "period", 0, "Blink period in milliseconds (overrides workload.period_ms)")
	cmd.Flags().IntVar(&blinks, "blinks", 0, "Blinks per task, 0 = forever (overrides workload.blinks)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long, 0 = until interrupted")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address for /metrics and /stats, empty disables")
	cmd.Flags().StringVar(&tracePath, "trace", "", "SQLite trace database path, empty disables")
	return cmd
}
