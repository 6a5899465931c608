package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Swind/go-async-executor/observability/tracestore"
	"github.com/spf13/cobra"
)

func newTraceCmd(a *app) *cobra.Command {
	var (
		dbPath   string
		executor string
		events   int
	)

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Summarize a recorded SQLite trace",
		Long: "trace prints per-executor event counts from a trace database written by\n" +
			"'execdemo run --trace'. With --events it also lists the most recent events.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = a.cfg.Trace.DBPath
			}
			if dbPath == "" {
				return errors.New("no trace database: pass --db or set trace.db_path")
			}

			st, err := tracestore.Open(cmd.Context(), dbPath, a.logger, 1)
			if err != nil {
				return err
			}
			defer st.Close()

			sums, err := st.Summary(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sums) == 0 {
				fmt.Fprintf(out, "no events in %s\n", dbPath)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTOR\tTASKS\tSPAWNED\tREADIED\tPOLLED\tIDLE")
			for _, s := range sums {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.Executor,
					formatCount(s.Tasks),
					formatCount(s.Spawned),
					formatCount(s.Readied),
					formatCount(s.Polled),
					formatCount(s.Idle),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if events <= 0 {
				return nil
			}
			recent, err := st.Events(cmd.Context(), executor, events)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tAT\tEXECUTOR\tKIND\tTASK")
			for _, ev := range recent {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					ev.Seq, ev.At.Format(time.StampMicro), ev.Executor, ev.Kind, ev.Task)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Trace database path (defaults to trace.db_path)")
	cmd.Flags().StringVar(&executor, "executor", "", "Only list events of this executor")
	cmd.Flags().IntVar(&events, "events", 0, "List this many recent events")
	return cmd
}
