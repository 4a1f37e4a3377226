package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the aggregation behavior of a metric.
type Kind int

const (
	// KindCounter sums all recorded values.
	KindCounter Kind = iota

	// KindGauge retains the latest value plus observed min/max.
	KindGauge

	// KindRate tracks the fraction of true observations over all observations.
	KindRate

	// KindTrend retains the value distribution for percentile queries.
	KindTrend
)

// String returns the kind name used in summaries and config files.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// ParseKind maps a config-file kind name to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "counter":
		return KindCounter, true
	case "gauge":
		return KindGauge, true
	case "rate":
		return KindRate, true
	case "trend":
		return KindTrend, true
	default:
		return 0, false
	}
}

// Unit describes what a metric's values measure, for formatting only.
type Unit int

const (
	// UnitDefault is a plain number.
	UnitDefault Unit = iota

	// UnitDuration values are durations; stats are exposed in milliseconds.
	UnitDuration

	// UnitData values are byte counts.
	UnitData
)

// String returns the unit name used in summaries and config files.
func (u Unit) String() string {
	switch u {
	case UnitDuration:
		return "duration"
	case UnitData:
		return "data"
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler.
func (u Unit) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

// ParseUnit maps a config-file unit name to a Unit. The empty string is
// UnitDefault.
func ParseUnit(s string) (Unit, bool) {
	switch s {
	case "", "default":
		return UnitDefault, true
	case "duration":
		return UnitDuration, true
	case "data", "bytes":
		return UnitData, true
	default:
		return 0, false
	}
}

// Metric is the common interface of all metric handles issued by a Registry.
//
// Handles are the only way to record samples: obtaining one requires
// declaring the metric before the registry is frozen, which is how the
// "no metric creation mid-run" invariant is enforced by construction.
type Metric interface {
	Name() string
	Kind() Kind
	Unit() Unit

	// snapshot captures the current aggregate state. Implemented only
	// inside this package so the set of kinds is closed.
	snapshot(elapsedSeconds float64) *MetricSummary
}

// atomicFloat64 is a float64 with lock-free add, used by counters so that
// many VUs summing into one metric never serialize on a mutex.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) Add(v float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *atomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Counter sums recorded values. Safe for concurrent use.
type Counter struct {
	name string
	unit Unit
	sum  atomicFloat64
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Kind returns KindCounter.
func (c *Counter) Kind() Kind { return KindCounter }

// Unit returns the metric unit.
func (c *Counter) Unit() Unit { return c.unit }

// Add adds v to the counter.
func (c *Counter) Add(v float64) {
	c.sum.Add(v)
}

// Inc adds 1 to the counter.
func (c *Counter) Inc() {
	c.sum.Add(1)
}

// Total returns the current sum.
func (c *Counter) Total() float64 {
	return c.sum.Load()
}

func (c *Counter) snapshot(elapsedSeconds float64) *MetricSummary {
	total := c.sum.Load()
	rate := 0.0
	if elapsedSeconds > 0 {
		rate = total / elapsedSeconds
	}
	return &MetricSummary{
		Name:    c.name,
		Kind:    KindCounter,
		Unit:    c.unit,
		Counter: &CounterStats{Count: total, Rate: rate},
	}
}

// Gauge retains the most recent value and the min/max observed.
type Gauge struct {
	name string
	unit Unit

	mu    sync.Mutex
	set   bool
	value float64
	min   float64
	max   float64
}

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Kind returns KindGauge.
func (g *Gauge) Kind() Kind { return KindGauge }

// Unit returns the metric unit.
func (g *Gauge) Unit() Unit { return g.unit }

// Set records v as the current gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.set {
		g.set = true
		g.min = v
		g.max = v
	} else {
		if v < g.min {
			g.min = v
		}
		if v > g.max {
			g.max = v
		}
	}
	g.value = v
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *Gauge) snapshot(float64) *MetricSummary {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &MetricSummary{
		Name:  g.name,
		Kind:  KindGauge,
		Unit:  g.unit,
		Gauge: &GaugeStats{Value: g.value, Min: g.min, Max: g.max},
	}
}

// Rate tracks boolean observations as a pass fraction. Safe for concurrent use.
type Rate struct {
	name  string
	trues atomic.Int64
	total atomic.Int64
}

// Name returns the metric name.
func (r *Rate) Name() string { return r.name }

// Kind returns KindRate.
func (r *Rate) Kind() Kind { return KindRate }

// Unit returns UnitDefault; rates are always plain fractions.
func (r *Rate) Unit() Unit { return UnitDefault }

// Mark records one boolean observation.
func (r *Rate) Mark(ok bool) {
	r.total.Add(1)
	if ok {
		r.trues.Add(1)
	}
}

// Value returns the current true fraction (0.0 to 1.0).
func (r *Rate) Value() float64 {
	total := r.total.Load()
	if total == 0 {
		return 0
	}
	return float64(r.trues.Load()) / float64(total)
}

// Counts returns the number of true observations and the overall total.
func (r *Rate) Counts() (trues, total int64) {
	return r.trues.Load(), r.total.Load()
}

func (r *Rate) snapshot(float64) *MetricSummary {
	total := r.total.Load()
	trues := r.trues.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(trues) / float64(total)
	}
	return &MetricSummary{
		Name: r.name,
		Kind: KindRate,
		Rate: &RateStats{Passes: trues, Fails: total - trues, Rate: rate},
	}
}

// Trend retains the full value distribution in HDR histograms so arbitrary
// percentiles can be answered at finalize time. Ingestion is sharded across
// several histograms and merged on query, keeping the write path short.
type Trend struct {
	name  string
	unit  Unit
	state *trendState
}

// Name returns the metric name.
func (t *Trend) Name() string { return t.name }

// Kind returns KindTrend.
func (t *Trend) Kind() Kind { return KindTrend }

// Unit returns the metric unit.
func (t *Trend) Unit() Unit { return t.unit }

// RecordDuration records a duration observation.
func (t *Trend) RecordDuration(d time.Duration) {
	t.state.record(d.Microseconds())
}

// Record records a raw observation in the metric's canonical unit
// (milliseconds for duration trends, the plain value otherwise).
func (t *Trend) Record(v float64) {
	t.state.record(int64(v * 1000))
}

// Count returns the number of recorded observations.
func (t *Trend) Count() int64 {
	return t.state.count()
}

func (t *Trend) snapshot(float64) *MetricSummary {
	return &MetricSummary{
		Name:  t.name,
		Kind:  KindTrend,
		Unit:  t.unit,
		Trend: t.state.stats(),
	}
}
