// Package output renders run results: a live progress line and the
// final console report, plus a JSON artifact for machine consumption.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics"
)

// Console writes the human-readable report.
type Console struct {
	w       io.Writer
	scheme  *ColorScheme
	noColor bool

	progressWritten bool
}

// NewConsole creates a console reporter. With noColor the report is
// plain text; otherwise colors are used regardless of the writer, so
// callers should pass noColor based on ShouldColor.
func NewConsole(w io.Writer, noColor bool) *Console {
	scheme := DefaultColorScheme()
	if noColor {
		scheme = NoColorScheme()
	}
	return &Console{w: w, scheme: scheme, noColor: noColor}
}

// RunHeader prints the banner before traffic starts.
func (c *Console) RunHeader(name string, scenarios []string) {
	fmt.Fprintf(c.w, "\n  %s\n", c.scheme.Title.Sprint(name))
	fmt.Fprintf(c.w, "  scenarios: %s\n\n", strings.Join(scenarios, ", "))
}

// Progress rewrites the single live status line. Call FinishProgress
// before printing anything else.
func (c *Console) Progress(progress float64, snap *metrics.Summary, activeVUs int) {
	reqs := 0.0
	if ms := snap.Metric(metrics.MetricHTTPReqs); ms != nil && ms.Counter != nil {
		reqs = ms.Counter.Count
	}

	fmt.Fprintf(c.w, "\r  running %s  %3.0f%%  vus=%d  reqs=%.0f  rps=%.1f  errors=%.2f%%   ",
		formatDuration(snap.Duration),
		progress*100,
		activeVUs,
		reqs,
		snap.RPS,
		snap.ErrorRate()*100)
	c.progressWritten = true
}

// FinishProgress terminates the live status line.
func (c *Console) FinishProgress() {
	if c.progressWritten {
		fmt.Fprintln(c.w)
		c.progressWritten = false
	}
}

// Summary prints the final report.
func (c *Console) Summary(res *engine.Result) {
	c.FinishProgress()

	if res.Aborted {
		fmt.Fprintf(c.w, "\n  %s %s\n", WarningIcon(c.noColor),
			c.scheme.Warn.Sprintf("run aborted: %s", res.AbortReason))
	}

	c.printChecks(res.Summary)
	c.printRequests(res.Summary)
	c.printMetrics(res.Summary)
	c.printThresholds(res)
	c.printScenarios(res)
	c.printVerdict(res)
}

func (c *Console) printChecks(sum *metrics.Summary) {
	if len(sum.Checks) == 0 {
		return
	}

	fmt.Fprintf(c.w, "\n  %s\n", c.scheme.Section.Sprint("checks"))
	for _, cs := range sum.Checks {
		icon := SuccessIcon(c.noColor)
		if cs.Fails > 0 {
			icon = ErrorIcon(c.noColor)
		}
		fmt.Fprintf(c.w, "    %s %s", icon, cs.Name)
		if cs.Fails > 0 {
			fmt.Fprintf(c.w, "  %s", c.scheme.Fail.Sprintf("%d of %d failed", cs.Fails, cs.Passes+cs.Fails))
		}
		fmt.Fprintln(c.w)
	}
}

func (c *Console) printRequests(sum *metrics.Summary) {
	if len(sum.Requests) == 0 {
		return
	}

	names := make([]string, 0, len(sum.Requests))
	for name := range sum.Requests {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.w, "\n  %s\n", c.scheme.Section.Sprint("requests"))
	fmt.Fprintf(c.w, "    %-30s %8s %8s %10s %10s %10s\n",
		"", "count", "failed", "avg", "p95", "max")
	for _, name := range names {
		rs := sum.Requests[name]
		fmt.Fprintf(c.w, "    %-30s %8d %8d %9.1fms %9.1fms %9.1fms\n",
			truncate(name, 30),
			rs.Latency.Count,
			rs.Failed,
			rs.Latency.Mean,
			rs.Latency.P95,
			rs.Latency.Max)
	}
}

// keyMetrics are printed in this fixed order; everything else declared
// in the registry follows alphabetically.
var keyMetrics = []string{
	metrics.MetricHTTPReqs,
	metrics.MetricHTTPReqDuration,
	metrics.MetricHTTPReqFailed,
	metrics.MetricIterations,
	metrics.MetricIterationDuration,
	metrics.MetricDroppedIterations,
	metrics.MetricDataSent,
	metrics.MetricDataReceived,
}

func (c *Console) printMetrics(sum *metrics.Summary) {
	fmt.Fprintf(c.w, "\n  %s\n", c.scheme.Section.Sprint("metrics"))

	printed := make(map[string]bool, len(keyMetrics))
	for _, name := range keyMetrics {
		if ms := sum.Metric(name); ms != nil {
			c.printMetricLine(ms)
			printed[name] = true
		}
	}

	var rest []string
	for name, ms := range sum.Metrics {
		if printed[name] || isAuxiliary(name) || ms == nil {
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		c.printMetricLine(sum.Metrics[name])
	}
}

// isAuxiliary hides the per-phase HTTP timing trends from the default
// report; they stay in the JSON artifact.
func isAuxiliary(name string) bool {
	switch name {
	case metrics.MetricHTTPReqDNS, metrics.MetricHTTPReqConnecting,
		metrics.MetricHTTPReqTLSHandshake, metrics.MetricHTTPReqWaiting,
		metrics.MetricHTTPReqReceiving, metrics.MetricVUs, metrics.MetricVUsMax,
		metrics.MetricChecks:
		return true
	}
	return false
}

func (c *Console) printMetricLine(ms *metrics.MetricSummary) {
	name := c.scheme.Metric.Sprintf("%-24s", ms.Name)
	switch {
	case ms.Trend != nil:
		t := ms.Trend
		fmt.Fprintf(c.w, "    %s avg=%.1fms min=%.1fms med=%.1fms p90=%.1fms p95=%.1fms p99=%.1fms max=%.1fms\n",
			name, t.Mean, t.Min, t.Med, t.P90, t.P95, t.P99, t.Max)
	case ms.Counter != nil:
		fmt.Fprintf(c.w, "    %s %.0f (%.2f/s)\n", name, ms.Counter.Count, ms.Counter.Rate)
	case ms.Rate != nil:
		r := ms.Rate
		fmt.Fprintf(c.w, "    %s %.2f%% (%d of %d)\n", name, r.Rate*100, r.Passes, r.Passes+r.Fails)
	case ms.Gauge != nil:
		fmt.Fprintf(c.w, "    %s %.0f (min=%.0f max=%.0f)\n", name, ms.Gauge.Value, ms.Gauge.Min, ms.Gauge.Max)
	}
}

func (c *Console) printThresholds(res *engine.Result) {
	if len(res.Thresholds) == 0 {
		return
	}

	fmt.Fprintf(c.w, "\n  %s\n", c.scheme.Section.Sprint("thresholds"))
	for _, tr := range res.Thresholds {
		icon := SuccessIcon(c.noColor)
		if !tr.Ok {
			icon = ErrorIcon(c.noColor)
			if tr.AllowFail {
				icon = WarningIcon(c.noColor)
			}
		}
		fmt.Fprintf(c.w, "    %s %s: %s", icon, tr.Metric, tr.Expression)
		if !tr.Ok {
			fmt.Fprintf(c.w, "  (actual %.4g)", tr.Actual)
			if tr.AllowFail {
				fmt.Fprint(c.w, c.scheme.Dim.Sprint("  [allowed]"))
			}
		}
		fmt.Fprintln(c.w)
	}
}

func (c *Console) printScenarios(res *engine.Result) {
	if len(res.Scenarios) == 0 {
		return
	}

	names := make([]string, 0, len(res.Scenarios))
	for name := range res.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.w, "\n  %s\n", c.scheme.Section.Sprint("scenarios"))
	for _, name := range names {
		sr := res.Scenarios[name]
		fmt.Fprintf(c.w, "    %-30s %-22s iterations=%d\n",
			truncate(name, 30), sr.Executor, sr.Iterations)
	}
}

func (c *Console) printVerdict(res *engine.Result) {
	verdict := c.scheme.Pass.Sprint("PASSED")
	if !res.Passed {
		verdict = c.scheme.Fail.Sprint("FAILED")
	}
	fmt.Fprintf(c.w, "\n  %s in %s\n\n", verdict, formatDuration(res.Duration))
}

func formatDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
