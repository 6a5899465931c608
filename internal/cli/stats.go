package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Swind/go-async-executor/core"
	"github.com/dustin/go-humanize"
)

func formatCount(n int64) string {
	return humanize.Comma(n)
}

// printStats renders one row per executor.
func printStats(w io.Writer, stats []core.ExecutorStats, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTOR\tPENDER\tSPAWNED\tDONE\tPANICKED\tPOLLS\tTASK POLLS\tSTALE\tTIMERS\tLAST POLL")
	for _, s := range stats {
		last := "never"
		if !s.LastPollAt.IsZero() {
			last = humanize.RelTime(s.LastPollAt, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Name,
			s.PenderKind,
			formatCount(s.Spawned),
			formatCount(s.Completed),
			formatCount(s.Panicked),
			formatCount(s.Polls),
			formatCount(s.TasksPolled),
			formatCount(s.StaleSkipped),
			s.TimerQueued,
			last,
		)
	}
	tw.Flush()
}
