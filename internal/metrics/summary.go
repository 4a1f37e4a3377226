package metrics

import (
	"sort"
	"time"
)

// CounterStats is the finalized state of a counter.
type CounterStats struct {
	Count float64 `json:"count"`
	Rate  float64 `json:"rate"` // per second over the run
}

// GaugeStats is the finalized state of a gauge.
type GaugeStats struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// RateStats is the finalized state of a rate.
type RateStats struct {
	Passes int64   `json:"passes"`
	Fails  int64   `json:"fails"`
	Rate   float64 `json:"rate"` // 0.0 to 1.0
}

// TrendStats is the finalized distribution of a trend. Values are in the
// metric's canonical unit: milliseconds for duration trends, the raw
// recorded value otherwise.
type TrendStats struct {
	Count  int64   `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"avg"`
	StdDev float64 `json:"stdDev"`
	Med    float64 `json:"med"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// MetricSummary is the finalized record of one declared metric. Exactly
// one of the kind-specific fields is set, matching Kind.
type MetricSummary struct {
	Name    string        `json:"name"`
	Kind    Kind          `json:"kind"`
	Unit    Unit          `json:"unit,omitempty"`
	Counter *CounterStats `json:"counter,omitempty"`
	Gauge   *GaugeStats   `json:"gauge,omitempty"`
	Rate    *RateStats    `json:"rate,omitempty"`
	Trend   *TrendStats   `json:"trend,omitempty"`
}

// RequestStats is the latency breakdown of one named request.
type RequestStats struct {
	Scenario string     `json:"scenario,omitempty"`
	Latency  TrendStats `json:"latency"`
	Failed   int64      `json:"failed"`
}

// CheckStats is the pass/fail tally of one named check.
type CheckStats struct {
	Name     string  `json:"name"`
	Scenario string  `json:"scenario,omitempty"`
	Passes   int64   `json:"passes"`
	Fails    int64   `json:"fails"`
	Rate     float64 `json:"rate"`
}

// Summary is the aggregate view of a run: one record per declared metric
// plus the request, check, and time-series tables. Snapshots during the
// run and the finalized summary share this shape, so live threshold
// evaluation and final evaluation read the same structure.
type Summary struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	RPS       float64       `json:"rps"`

	Metrics  map[string]*MetricSummary `json:"metrics"`
	Requests map[string]*RequestStats  `json:"requests,omitempty"`
	Checks   []*CheckStats             `json:"checks,omitempty"`

	TimeSeries []*TimeBucket `json:"timeSeries,omitempty"`
}

// Metric returns the summary record for a metric name, nil if absent.
func (s *Summary) Metric(name string) *MetricSummary {
	if s == nil {
		return nil
	}
	return s.Metrics[name]
}

// ChecksRate returns the overall check pass rate, 1.0 when no checks ran.
func (s *Summary) ChecksRate() float64 {
	ms := s.Metric(MetricChecks)
	if ms == nil || ms.Rate == nil || ms.Rate.Passes+ms.Rate.Fails == 0 {
		return 1.0
	}
	return ms.Rate.Rate
}

// ErrorRate returns the fraction of failed HTTP requests.
func (s *Summary) ErrorRate() float64 {
	ms := s.Metric(MetricHTTPReqFailed)
	if ms == nil || ms.Rate == nil {
		return 0
	}
	return ms.Rate.Rate
}

func sortChecks(checks []*CheckStats) {
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].Scenario != checks[j].Scenario {
			return checks[i].Scenario < checks[j].Scenario
		}
		return checks[i].Name < checks[j].Name
	})
}
