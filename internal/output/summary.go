package output

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/wesleyorama2/surge/internal/load/metrics"
)

// PrintSummary writes the human-readable report of a run, ending with its
// PASSED or FAILED verdict.
func PrintSummary(w io.Writer, s *metrics.RunSummary, scheme *ColorScheme) {
	if scheme == nil {
		scheme = NoColorScheme()
	}

	fmt.Fprintln(w)
	scheme.Title.Fprintf(w, "Simulation: %s\n", s.Simulation)
	fmt.Fprintf(w, "Run ID:     %s\n", s.ID)
	fmt.Fprintf(w, "Started:    %s\n", s.StartTime.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:   %s\n", FormatDuration(s.Duration))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tscheduled\tdispatched\tcompleted\tfailed\tcancelled\tnot started")
	fmt.Fprintf(tw, "users\t%d\t%d\t%d\t%d\t%d\t%d\n",
		s.Scheduled, s.Dispatched, s.Completed, s.Failed, s.Cancelled, s.NotStarted)
	for _, name := range slices.Sorted(maps.Keys(s.Scenarios)) {
		sc := s.Scenarios[name]
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			name, sc.Scheduled, sc.Dispatched, sc.Completed, sc.Failed, sc.Cancelled, sc.NotStarted)
	}
	tw.Flush()
	fmt.Fprintln(w)

	scheme.Label.Fprint(w, "Requests:  ")
	fmt.Fprintf(w, "%d total, %d failed, %s received\n", s.Requests, s.FailedRequests, FormatBytes(s.BytesReceived))
	scheme.Label.Fprint(w, "Checks:    ")
	fmt.Fprintf(w, "%d passed, %d failed\n", s.PassedChecks, s.FailedChecks)
	if rt := s.ResponseTime; rt.Count > 0 {
		scheme.Label.Fprint(w, "Latency:   ")
		fmt.Fprintf(w, "min=%s p50=%s p90=%s p95=%s p99=%s max=%s\n",
			FormatDuration(rt.Min), FormatDuration(rt.P50), FormatDuration(rt.P90),
			FormatDuration(rt.P95), FormatDuration(rt.P99), FormatDuration(rt.Max))
	}

	if len(s.TransportErrors) > 0 {
		fmt.Fprintln(w)
		scheme.Warning.Fprintln(w, "Transport errors:")
		for _, kind := range slices.Sorted(maps.Keys(s.TransportErrors)) {
			fmt.Fprintf(w, "  %-12s %d\n", kind, s.TransportErrors[kind])
		}
	}

	header := false
	for _, name := range slices.Sorted(maps.Keys(s.Scenarios)) {
		sc := s.Scenarios[name]
		for _, msg := range slices.Sorted(maps.Keys(sc.CheckFailures)) {
			if !header {
				fmt.Fprintln(w)
				scheme.Warning.Fprintln(w, "Failed checks:")
				header = true
			}
			fmt.Fprintf(w, "  %s %s: %s (x%d)\n", ErrorIcon(scheme.NoColor), name, msg, sc.CheckFailures[msg])
		}
	}

	fmt.Fprintln(w)
	if s.Error != "" {
		scheme.Error.Fprintf(w, "STOPPED: %s\n", s.Error)
	}
	if s.Passed() {
		scheme.Success.Fprintln(w, "PASSED")
	} else {
		scheme.Error.Fprintln(w, "FAILED")
	}
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d
	}
}

// FormatBytes renders n in binary units, e.g. 1.5 KiB.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
