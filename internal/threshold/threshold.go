// Package threshold parses and evaluates pass/fail criteria over
// aggregated metrics.
//
// A threshold is attached to a declared metric and written as a single
// comparison expression, for example:
//
//	http_req_duration: p95 < 500ms
//	http_req_failed:   rate < 1%
//	iterations:        count >= 1000
//
// Expressions are parsed when the test configuration is loaded, so a typo
// or a source that does not apply to the metric's kind fails before any
// traffic is generated. Evaluation reads a metrics.Summary, which has the
// same shape for mid-run snapshots and the finalized result; the abort
// watcher and the end-of-run verdict share this code.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

// Op is a comparison operator in a threshold expression.
type Op string

const (
	OpLess      Op = "<"
	OpLessEq    Op = "<="
	OpGreater   Op = ">"
	OpGreaterEq Op = ">="
	OpEqual     Op = "=="
	OpNotEqual  Op = "!="
)

// exprPattern matches "<source> <op> <value>", whitespace optional.
// Two-character operators are listed first so "<=" is not read as "<".
var exprPattern = regexp.MustCompile(`^\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*(<=|>=|==|!=|<|>)\s*(\S.*?)\s*$`)

// sourcesByKind lists which stat sources each metric kind supports.
var sourcesByKind = map[metrics.Kind][]string{
	metrics.KindTrend:   {"min", "max", "avg", "med", "p50", "p90", "p95", "p99", "count"},
	metrics.KindCounter: {"count", "rate"},
	metrics.KindGauge:   {"value", "min", "max"},
	metrics.KindRate:    {"rate"},
}

// Threshold is one parsed criterion bound to a metric.
type Threshold struct {
	// Metric is the name of the metric the expression reads.
	Metric string

	// Source selects which stat of the metric to compare: a percentile or
	// distribution stat for trends, count/rate for counters, value/min/max
	// for gauges, rate for rate metrics.
	Source string

	// Op is the comparison operator.
	Op Op

	// Value is the right-hand side in the metric's canonical unit:
	// milliseconds for durations, a 0..1 fraction for percentages, the
	// plain number otherwise.
	Value float64

	// Expression is the original text, kept for reporting.
	Expression string

	// AbortOnFail stops the run early when the expression fails during a
	// mid-run evaluation.
	AbortOnFail bool

	// AllowFail marks the threshold informational: a failure is reported
	// but does not fail the run.
	AllowFail bool
}

// Parse parses one threshold expression for the named metric.
//
// The value side accepts a Go duration ("500ms", "1.5s"), a percentage
// ("1%"), or a plain number. Durations are converted to milliseconds,
// percentages to 0..1 fractions, matching the units metric summaries use.
func Parse(metric, expression string) (*Threshold, error) {
	m := exprPattern.FindStringSubmatch(expression)
	if m == nil {
		return nil, fmt.Errorf("threshold %q: invalid expression %q, want \"<source> <op> <value>\"", metric, expression)
	}

	value, err := parseValue(m[3])
	if err != nil {
		return nil, fmt.Errorf("threshold %q: %w", metric, err)
	}

	return &Threshold{
		Metric:     metric,
		Source:     m[1],
		Op:         Op(m[2]),
		Value:      value,
		Expression: expression,
	}, nil
}

// parseValue converts the right-hand side of an expression to its
// canonical float form.
func parseValue(s string) (float64, error) {
	if strings.HasSuffix(s, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q", s)
		}
		return pct / 100.0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return float64(d) / float64(time.Millisecond), nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q, want a number, duration, or percentage", s)
	}
	return v, nil
}

// CheckKind verifies that the threshold's source applies to a metric of
// the given kind. Called during config validation, once the metric's
// declaration is known.
func (t *Threshold) CheckKind(kind metrics.Kind) error {
	for _, s := range sourcesByKind[kind] {
		if s == t.Source {
			return nil
		}
	}
	return fmt.Errorf("threshold %q: source %q does not apply to %s metrics (valid: %s)",
		t.Metric, t.Source, kind, strings.Join(sourcesByKind[kind], ", "))
}

// Evaluate compares the threshold against a summary and returns the result.
//
// A metric with no samples evaluates against zero values, so "rate < 1%"
// passes on an idle run and "count >= 1000" fails, which is the intuitive
// reading of both.
func (t *Threshold) Evaluate(sum *metrics.Summary) Result {
	actual := t.actual(sum.Metric(t.Metric))
	return Result{
		Metric:      t.Metric,
		Source:      t.Source,
		Expression:  t.Expression,
		Actual:      actual,
		Ok:          compare(actual, t.Op, t.Value),
		AbortOnFail: t.AbortOnFail,
		AllowFail:   t.AllowFail,
	}
}

// actual extracts the stat named by Source from a metric summary.
func (t *Threshold) actual(ms *metrics.MetricSummary) float64 {
	if ms == nil {
		return 0
	}

	switch {
	case ms.Trend != nil:
		switch t.Source {
		case "min":
			return ms.Trend.Min
		case "max":
			return ms.Trend.Max
		case "avg":
			return ms.Trend.Mean
		case "med", "p50":
			return ms.Trend.Med
		case "p90":
			return ms.Trend.P90
		case "p95":
			return ms.Trend.P95
		case "p99":
			return ms.Trend.P99
		case "count":
			return float64(ms.Trend.Count)
		}
	case ms.Counter != nil:
		switch t.Source {
		case "count":
			return ms.Counter.Count
		case "rate":
			return ms.Counter.Rate
		}
	case ms.Gauge != nil:
		switch t.Source {
		case "value":
			return ms.Gauge.Value
		case "min":
			return ms.Gauge.Min
		case "max":
			return ms.Gauge.Max
		}
	case ms.Rate != nil:
		if t.Source == "rate" {
			return ms.Rate.Rate
		}
	}
	return 0
}

func compare(actual float64, op Op, expected float64) bool {
	switch op {
	case OpLess:
		return actual < expected
	case OpLessEq:
		return actual <= expected
	case OpGreater:
		return actual > expected
	case OpGreaterEq:
		return actual >= expected
	case OpEqual:
		return actual == expected
	case OpNotEqual:
		return actual != expected
	default:
		return false
	}
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Metric      string  `json:"metric"`
	Source      string  `json:"source"`
	Expression  string  `json:"expression"`
	Actual      float64 `json:"actual"`
	Ok          bool    `json:"ok"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
	AllowFail   bool    `json:"allowFail,omitempty"`
}

// Set holds all thresholds of a run in declaration order.
type Set struct {
	thresholds []*Threshold
}

// NewSet creates an empty threshold set.
func NewSet() *Set {
	return &Set{}
}

// Add appends a threshold to the set.
func (s *Set) Add(t *Threshold) {
	s.thresholds = append(s.thresholds, t)
}

// Len returns the number of thresholds in the set.
func (s *Set) Len() int {
	return len(s.thresholds)
}

// Thresholds returns the thresholds in declaration order.
func (s *Set) Thresholds() []*Threshold {
	return s.thresholds
}

// HasAbortable reports whether any threshold can abort the run, so the
// engine knows whether to start the mid-run watcher at all.
func (s *Set) HasAbortable() bool {
	for _, t := range s.thresholds {
		if t.AbortOnFail {
			return true
		}
	}
	return false
}

// Evaluate runs every threshold against the summary. The returned passed
// flag is false when any threshold without AllowFail failed.
func (s *Set) Evaluate(sum *metrics.Summary) ([]Result, bool) {
	results := make([]Result, 0, len(s.thresholds))
	passed := true
	for _, t := range s.thresholds {
		r := t.Evaluate(sum)
		if !r.Ok && !t.AllowFail {
			passed = false
		}
		results = append(results, r)
	}
	return results, passed
}

// EvaluateAbort checks only the abort-enabled thresholds against a mid-run
// snapshot and returns the first violated one.
func (s *Set) EvaluateAbort(sum *metrics.Summary) (Result, bool) {
	for _, t := range s.thresholds {
		if !t.AbortOnFail {
			continue
		}
		if r := t.Evaluate(sum); !r.Ok {
			return r, true
		}
	}
	return Result{}, false
}
