package threshold

import (
	"testing"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		metric     string
		expression string
		wantSource string
		wantOp     Op
		wantValue  float64
		wantErr    bool
	}{
		{
			name:       "percentile with duration value",
			metric:     "http_req_duration",
			expression: "p95 < 500ms",
			wantSource: "p95",
			wantOp:     OpLess,
			wantValue:  500,
		},
		{
			name:       "duration in seconds converts to milliseconds",
			metric:     "http_req_duration",
			expression: "p99<=1.5s",
			wantSource: "p99",
			wantOp:     OpLessEq,
			wantValue:  1500,
		},
		{
			name:       "percentage converts to fraction",
			metric:     "http_req_failed",
			expression: "rate < 1%",
			wantSource: "rate",
			wantOp:     OpLess,
			wantValue:  0.01,
		},
		{
			name:       "plain number",
			metric:     "iterations",
			expression: "count >= 1000",
			wantSource: "count",
			wantOp:     OpGreaterEq,
			wantValue:  1000,
		},
		{
			name:       "fraction without percent sign",
			metric:     "checks",
			expression: "rate > 0.99",
			wantSource: "rate",
			wantOp:     OpGreater,
			wantValue:  0.99,
		},
		{
			name:       "equality",
			metric:     "vus",
			expression: "value == 10",
			wantSource: "value",
			wantOp:     OpEqual,
			wantValue:  10,
		},
		{
			name:       "not equal",
			metric:     "vus",
			expression: "value != 0",
			wantSource: "value",
			wantOp:     OpNotEqual,
			wantValue:  0,
		},
		{
			name:       "extra whitespace tolerated",
			metric:     "http_req_duration",
			expression: "  avg   <   250ms  ",
			wantSource: "avg",
			wantOp:     OpLess,
			wantValue:  250,
		},
		{
			name:       "missing operator",
			metric:     "http_req_duration",
			expression: "p95 500ms",
			wantErr:    true,
		},
		{
			name:       "missing value",
			metric:     "http_req_duration",
			expression: "p95 <",
			wantErr:    true,
		},
		{
			name:       "garbage value",
			metric:     "http_req_duration",
			expression: "p95 < fast",
			wantErr:    true,
		},
		{
			name:       "empty expression",
			metric:     "http_req_duration",
			expression: "",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, err := Parse(tt.metric, tt.expression)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.expression, th)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.expression, err)
			}
			if th.Metric != tt.metric {
				t.Errorf("Metric = %q, want %q", th.Metric, tt.metric)
			}
			if th.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", th.Source, tt.wantSource)
			}
			if th.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", th.Op, tt.wantOp)
			}
			if th.Value != tt.wantValue {
				t.Errorf("Value = %v, want %v", th.Value, tt.wantValue)
			}
			if th.Expression != tt.expression {
				t.Errorf("Expression = %q, want %q", th.Expression, tt.expression)
			}
		})
	}
}

func TestCheckKind(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		kind    metrics.Kind
		wantErr bool
	}{
		{"percentile on trend", "p95", metrics.KindTrend, false},
		{"count on trend", "count", metrics.KindTrend, false},
		{"count on counter", "count", metrics.KindCounter, false},
		{"rate on counter", "rate", metrics.KindCounter, false},
		{"rate on rate", "rate", metrics.KindRate, false},
		{"value on gauge", "value", metrics.KindGauge, false},
		{"percentile on counter", "p95", metrics.KindCounter, true},
		{"value on trend", "value", metrics.KindTrend, true},
		{"count on rate", "count", metrics.KindRate, true},
		{"rate on gauge", "rate", metrics.KindGauge, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := &Threshold{Metric: "m", Source: tt.source}
			err := th.CheckKind(tt.kind)
			if tt.wantErr && err == nil {
				t.Errorf("CheckKind(%s) for source %q expected error", tt.kind, tt.source)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("CheckKind(%s) for source %q returned error: %v", tt.kind, tt.source, err)
			}
		})
	}
}

// testSummary builds a summary with one trend, one rate, one counter, and
// one gauge metric with fixed stats.
func testSummary() *metrics.Summary {
	return &metrics.Summary{
		Metrics: map[string]*metrics.MetricSummary{
			"http_req_duration": {
				Name: "http_req_duration",
				Kind: metrics.KindTrend,
				Unit: metrics.UnitDuration,
				Trend: &metrics.TrendStats{
					Count: 100, Min: 10, Max: 900,
					Mean: 120, Med: 100, P90: 300, P95: 499, P99: 850,
				},
			},
			"http_req_failed": {
				Name: "http_req_failed",
				Kind: metrics.KindRate,
				Rate: &metrics.RateStats{Passes: 2, Fails: 198, Rate: 0.01},
			},
			"iterations": {
				Name:    "iterations",
				Kind:    metrics.KindCounter,
				Counter: &metrics.CounterStats{Count: 1000, Rate: 33.3},
			},
			"vus": {
				Name:  "vus",
				Kind:  metrics.KindGauge,
				Gauge: &metrics.GaugeStats{Value: 10, Min: 0, Max: 25},
			},
		},
	}
}

func TestEvaluate(t *testing.T) {
	sum := testSummary()

	tests := []struct {
		name       string
		metric     string
		expression string
		wantOk     bool
		wantActual float64
	}{
		{"p95 under limit passes", "http_req_duration", "p95 < 500ms", true, 499},
		{"p95 at limit fails strict less", "http_req_duration", "p95 < 499ms", false, 499},
		{"p95 at limit passes less-equal", "http_req_duration", "p95 <= 499ms", true, 499},
		{"avg compared in ms", "http_req_duration", "avg < 150", true, 120},
		{"max over limit fails", "http_req_duration", "max < 500ms", false, 900},
		{"error rate at one percent fails strict", "http_req_failed", "rate < 1%", false, 0.01},
		{"error rate within two percent", "http_req_failed", "rate <= 2%", true, 0.01},
		{"counter count met", "iterations", "count >= 1000", true, 1000},
		{"counter throughput", "iterations", "rate > 30", true, 33.3},
		{"gauge max", "vus", "max <= 25", true, 25},
		{"missing metric evaluates zero", "no_such_metric", "count >= 1", false, 0},
		{"missing metric zero passes upper bound", "no_such_metric", "rate < 1%", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, err := Parse(tt.metric, tt.expression)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			r := th.Evaluate(sum)
			if r.Ok != tt.wantOk {
				t.Errorf("Evaluate(%q on %s) ok = %v, want %v (actual %v)", tt.expression, tt.metric, r.Ok, tt.wantOk, r.Actual)
			}
			if r.Actual != tt.wantActual {
				t.Errorf("Evaluate(%q on %s) actual = %v, want %v", tt.expression, tt.metric, r.Actual, tt.wantActual)
			}
		})
	}
}

func TestSetEvaluate(t *testing.T) {
	sum := testSummary()

	mustParse := func(metric, expr string) *Threshold {
		t.Helper()
		th, err := Parse(metric, expr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", expr, err)
		}
		return th
	}

	t.Run("all passing", func(t *testing.T) {
		s := NewSet()
		s.Add(mustParse("http_req_duration", "p95 < 500ms"))
		s.Add(mustParse("iterations", "count >= 1000"))

		results, passed := s.Evaluate(sum)
		if !passed {
			t.Error("expected overall pass")
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		for _, r := range results {
			if !r.Ok {
				t.Errorf("threshold %q on %s unexpectedly failed", r.Expression, r.Metric)
			}
		}
	})

	t.Run("one failure fails the set", func(t *testing.T) {
		s := NewSet()
		s.Add(mustParse("http_req_duration", "p95 < 500ms"))
		s.Add(mustParse("http_req_duration", "max < 500ms"))

		results, passed := s.Evaluate(sum)
		if passed {
			t.Error("expected overall failure")
		}
		if results[0].Ok != true || results[1].Ok != false {
			t.Errorf("unexpected per-threshold results: %+v", results)
		}
	})

	t.Run("allow-fail failure does not fail the set", func(t *testing.T) {
		s := NewSet()
		soft := mustParse("http_req_duration", "max < 500ms")
		soft.AllowFail = true
		s.Add(soft)

		results, passed := s.Evaluate(sum)
		if !passed {
			t.Error("allow-fail threshold should not fail the set")
		}
		if results[0].Ok {
			t.Error("threshold itself should still report failure")
		}
	})
}

func TestEvaluateAbort(t *testing.T) {
	sum := testSummary()

	mustParse := func(metric, expr string, abort bool) *Threshold {
		t.Helper()
		th, err := Parse(metric, expr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", expr, err)
		}
		th.AbortOnFail = abort
		return th
	}

	t.Run("non-abort failures are ignored", func(t *testing.T) {
		s := NewSet()
		s.Add(mustParse("http_req_duration", "max < 500ms", false))

		if _, violated := s.EvaluateAbort(sum); violated {
			t.Error("EvaluateAbort should skip thresholds without abortOnFail")
		}
		if s.HasAbortable() {
			t.Error("HasAbortable should be false")
		}
	})

	t.Run("abort threshold violation is reported", func(t *testing.T) {
		s := NewSet()
		s.Add(mustParse("http_req_duration", "p95 < 500ms", true))
		s.Add(mustParse("http_req_failed", "rate < 1%", true))

		r, violated := s.EvaluateAbort(sum)
		if !violated {
			t.Fatal("expected a violated abort threshold")
		}
		if r.Metric != "http_req_failed" {
			t.Errorf("violated metric = %q, want http_req_failed", r.Metric)
		}
		if !s.HasAbortable() {
			t.Error("HasAbortable should be true")
		}
	})
}
