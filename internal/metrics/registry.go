// Package metrics implements the load generator's metric model: a registry
// of declared counter, gauge, rate, and trend metrics, concurrent lossless
// ingestion through typed handles, and immutable summaries at finalize.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Built-in metric names, declared on every registry before user metrics.
const (
	MetricHTTPReqs             = "http_reqs"
	MetricHTTPReqDuration      = "http_req_duration"
	MetricHTTPReqFailed        = "http_req_failed"
	MetricHTTPReqDNS           = "http_req_dns"
	MetricHTTPReqConnecting    = "http_req_connecting"
	MetricHTTPReqTLSHandshake  = "http_req_tls_handshaking"
	MetricHTTPReqWaiting       = "http_req_waiting"
	MetricHTTPReqReceiving     = "http_req_receiving"
	MetricIterations           = "iterations"
	MetricIterationDuration    = "iteration_duration"
	MetricIterationErrors      = "iteration_errors"
	MetricDroppedIterations    = "dropped_iterations"
	MetricChecks               = "checks"
	MetricDataSent             = "data_sent"
	MetricDataReceived         = "data_received"
	MetricVUs                  = "vus"
	MetricVUsMax               = "vus_max"
)

// ErrRegistryFrozen is returned when declaring a metric after the run started.
var ErrRegistryFrozen = errors.New("metrics: registry is frozen, metrics must be declared before the run starts")

// Registry holds all declared metrics for a run.
//
// Declaration happens during setup; Freeze is called when the run starts,
// after which no new metrics can be created. Every sample recorded during
// the run flows through a handle issued here, so the summary schema is
// fixed before any traffic is generated.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]Metric
	frozen  atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Counter declares (or returns the existing) counter metric.
func (r *Registry) Counter(name string, unit Unit) (*Counter, error) {
	m, err := r.declare(name, KindCounter, unit)
	if err != nil {
		return nil, err
	}
	return m.(*Counter), nil
}

// Gauge declares (or returns the existing) gauge metric.
func (r *Registry) Gauge(name string, unit Unit) (*Gauge, error) {
	m, err := r.declare(name, KindGauge, unit)
	if err != nil {
		return nil, err
	}
	return m.(*Gauge), nil
}

// Rate declares (or returns the existing) rate metric.
func (r *Registry) Rate(name string) (*Rate, error) {
	m, err := r.declare(name, KindRate, UnitDefault)
	if err != nil {
		return nil, err
	}
	return m.(*Rate), nil
}

// Trend declares (or returns the existing) trend metric.
func (r *Registry) Trend(name string, unit Unit) (*Trend, error) {
	m, err := r.declare(name, KindTrend, unit)
	if err != nil {
		return nil, err
	}
	return m.(*Trend), nil
}

// Declare declares a metric of the given kind by name, used when the kind
// comes from configuration rather than code.
func (r *Registry) Declare(name string, kind Kind, unit Unit) (Metric, error) {
	return r.declare(name, kind, unit)
}

func (r *Registry) declare(name string, kind Kind, unit Unit) (Metric, error) {
	if name == "" {
		return nil, errors.New("metrics: metric name cannot be empty")
	}
	if r.frozen.Load() {
		return nil, ErrRegistryFrozen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		if existing.Kind() != kind {
			return nil, fmt.Errorf("metrics: %q already declared as %s, cannot redeclare as %s",
				name, existing.Kind(), kind)
		}
		return existing, nil
	}

	var m Metric
	switch kind {
	case KindCounter:
		m = &Counter{name: name, unit: unit}
	case KindGauge:
		m = &Gauge{name: name, unit: unit}
	case KindRate:
		m = &Rate{name: name}
	case KindTrend:
		m = &Trend{name: name, unit: unit, state: newTrendState()}
	default:
		return nil, fmt.Errorf("metrics: unknown metric kind %d", kind)
	}

	r.metrics[name] = m
	return m, nil
}

// Get returns the declared metric with the given name.
func (r *Registry) Get(name string) (Metric, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[name]
	return m, ok
}

// All returns all declared metrics sorted by name.
func (r *Registry) All() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Freeze closes the registry for new declarations. Called once when the
// run starts; existing handles keep recording.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Builtins bundles the handles for every built-in metric.
type Builtins struct {
	HTTPReqs            *Counter
	HTTPReqDuration     *Trend
	HTTPReqFailed       *Rate
	HTTPReqDNS          *Trend
	HTTPReqConnecting   *Trend
	HTTPReqTLSHandshake *Trend
	HTTPReqWaiting      *Trend
	HTTPReqReceiving    *Trend
	Iterations          *Counter
	IterationDuration   *Trend
	IterationErrors     *Counter
	DroppedIterations   *Counter
	Checks              *Rate
	DataSent            *Counter
	DataReceived        *Counter
	VUs                 *Gauge
	VUsMax              *Gauge
}

// RegisterBuiltins declares the built-in metric set on the registry.
// Must be called before Freeze.
func RegisterBuiltins(r *Registry) (*Builtins, error) {
	var (
		b   Builtins
		err error
	)

	counter := func(name string, unit Unit) *Counter {
		if err != nil {
			return nil
		}
		var c *Counter
		c, err = r.Counter(name, unit)
		return c
	}
	trend := func(name string, unit Unit) *Trend {
		if err != nil {
			return nil
		}
		var t *Trend
		t, err = r.Trend(name, unit)
		return t
	}
	rate := func(name string) *Rate {
		if err != nil {
			return nil
		}
		var rt *Rate
		rt, err = r.Rate(name)
		return rt
	}
	gauge := func(name string) *Gauge {
		if err != nil {
			return nil
		}
		var g *Gauge
		g, err = r.Gauge(name, UnitDefault)
		return g
	}

	b.HTTPReqs = counter(MetricHTTPReqs, UnitDefault)
	b.HTTPReqDuration = trend(MetricHTTPReqDuration, UnitDuration)
	b.HTTPReqFailed = rate(MetricHTTPReqFailed)
	b.HTTPReqDNS = trend(MetricHTTPReqDNS, UnitDuration)
	b.HTTPReqConnecting = trend(MetricHTTPReqConnecting, UnitDuration)
	b.HTTPReqTLSHandshake = trend(MetricHTTPReqTLSHandshake, UnitDuration)
	b.HTTPReqWaiting = trend(MetricHTTPReqWaiting, UnitDuration)
	b.HTTPReqReceiving = trend(MetricHTTPReqReceiving, UnitDuration)
	b.Iterations = counter(MetricIterations, UnitDefault)
	b.IterationDuration = trend(MetricIterationDuration, UnitDuration)
	b.IterationErrors = counter(MetricIterationErrors, UnitDefault)
	b.DroppedIterations = counter(MetricDroppedIterations, UnitDefault)
	b.Checks = rate(MetricChecks)
	b.DataSent = counter(MetricDataSent, UnitData)
	b.DataReceived = counter(MetricDataReceived, UnitData)
	b.VUs = gauge(MetricVUs)
	b.VUsMax = gauge(MetricVUsMax)

	if err != nil {
		return nil, err
	}
	return &b, nil
}
