package orchestrator

import (
	"fmt"
	"slices"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/coordinator"
	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
)

// crashTailLines is how much server output the summary repeats after a failure.
const crashTailLines = 15

// printExitSummary prints a summary of the session. With failed set, the
// last lines of llama-server output are included.
func (o *Orchestrator) printExitSummary(failed bool) {
	summary := o.metrics.GenerateSummary()
	w := o.out

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                  go-llama-supervisor Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Session:                %s\n", o.sessionID)
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(time.Since(o.startTime)))
	fmt.Fprintf(w, "Model:                  %s\n", o.config.ModelPath)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Processes:")
	for _, name := range []string{coordinator.PrimaryName, coordinator.SecondaryName} {
		s := o.streams[name]
		if s == nil {
			continue
		}
		exit := "not started"
		if status, ok := summary.LastExit[name]; ok {
			exit = describeExit(status)
		} else if summary.Starts[name] > 0 {
			exit = "running"
		}
		warnings, errs := s.handler.Counts()
		fmt.Fprintf(w, "  %-14s starts %d  unexpected exits %d  last %s\n",
			s.label, summary.Starts[name], summary.UnexpectedExits[name], exit)
		fmt.Fprintf(w, "  %-14s output warnings %d  errors %d\n", "", warnings, errs)
	}
	fmt.Fprintln(w)

	if summary.UptimeMax > 0 {
		fmt.Fprintln(w, "Uptime:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", formatDuration(summary.UptimeP50))
		fmt.Fprintf(w, "  Max:                  %s\n", formatDuration(summary.UptimeMax))
		fmt.Fprintln(w)
	}

	if patterns := o.streams[coordinator.PrimaryName].handler.CountErrors(); len(patterns) > 0 {
		fmt.Fprintln(w, "Server Error Patterns:")
		keys := make([]string, 0, len(patterns))
		for k := range patterns {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-28s %d\n", k, patterns[k])
		}
		fmt.Fprintln(w)
	}

	if summary.CompletionCalls > 0 {
		fmt.Fprintln(w, "Completions:")
		keys := make([]string, 0, len(summary.Completions))
		for k := range summary.Completions {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-16s %d\n", k, summary.Completions[k])
		}
		fmt.Fprintf(w, "  P50 latency:          %s\n", summary.CompletionP50.Round(time.Millisecond))
		fmt.Fprintf(w, "  P95 latency:          %s\n", summary.CompletionP95.Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	if failed {
		if tail := o.streams[coordinator.PrimaryName].handler.RecentLines(crashTailLines); len(tail) > 0 {
			fmt.Fprintf(w, "Last %s output:\n", o.server.Name())
			for _, line := range tail {
				fmt.Fprintf(w, "  %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}

	if o.metricsServer != nil {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", o.metricsServer.Addr())
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 128 + 9:
		return "(SIGKILL)"
	case 128 + 15:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// describeExit combines an exit status with its label.
func describeExit(status process.ExitStatus) string {
	if label := exitCodeLabel(status.Code); label != "" {
		return status.String() + " " + label
	}
	return status.String()
}
