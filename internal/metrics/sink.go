package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPSample is the timing breakdown of one completed HTTP request.
// The zero duration means the phase did not occur (e.g. a reused
// connection performs no DNS lookup or TLS handshake).
type HTTPSample struct {
	Request  string
	Scenario string

	Duration      time.Duration
	DNS           time.Duration
	Connect       time.Duration
	TLSHandshake  time.Duration
	Waiting       time.Duration
	Receiving     time.Duration
	Failed        bool
	TimedOut      bool
	BytesSent     int64
	BytesReceived int64
}

// Sink ingests samples from all VUs of a run.
//
// Ingestion is lossless: every path is either an atomic update or a
// short shard-lock hold, and nothing is buffered through a channel that
// could drop under pressure. Per-request and per-check tables are fixed
// at declaration time, before traffic starts.
//
// After Finalize the sink ignores further samples, so the finalized
// summary is immutable even while straggling VUs shut down.
type Sink struct {
	reg      *Registry
	builtins *Builtins

	started   time.Time
	startedMu sync.Mutex

	// Per-request latency breakdown. The map is only written by
	// DeclareRequest before the run; during the run it is read-only.
	requests map[string]*requestState

	// Per-check pass/fail tallies, declared before the run.
	checks map[string]*checkState

	buckets *TimeBucketStore

	emitCancel context.CancelFunc
	emitWg     sync.WaitGroup

	finalized atomic.Bool
	finalize  sync.Once
	summary   *Summary
}

type requestState struct {
	name     string
	scenario string
	trend    *trendState
	failed   atomic.Int64
}

type checkState struct {
	name     string
	scenario string
	passes   atomic.Int64
	fails    atomic.Int64
}

// NewSink creates a sink over a registry and declares the built-in metrics.
func NewSink(reg *Registry) (*Sink, error) {
	builtins, err := RegisterBuiltins(reg)
	if err != nil {
		return nil, err
	}
	return &Sink{
		reg:      reg,
		builtins: builtins,
		requests: make(map[string]*requestState),
		checks:   make(map[string]*checkState),
		buckets:  NewTimeBucketStore(0),
	}, nil
}

// Registry returns the underlying metric registry.
func (s *Sink) Registry() *Registry { return s.reg }

// Builtins returns the built-in metric handles.
func (s *Sink) Builtins() *Builtins { return s.builtins }

// DeclareRequest registers a named request for per-request latency
// reporting. Must happen before the run starts.
func (s *Sink) DeclareRequest(name, scenario string) error {
	if s.reg.Frozen() {
		return ErrRegistryFrozen
	}
	if name == "" {
		return fmt.Errorf("metrics: request name cannot be empty")
	}
	if _, ok := s.requests[name]; !ok {
		s.requests[name] = &requestState{name: name, scenario: scenario, trend: newTrendState()}
	}
	return nil
}

// DeclareCheck registers a named check for per-check pass/fail reporting.
// Must happen before the run starts.
func (s *Sink) DeclareCheck(name, scenario string) error {
	if s.reg.Frozen() {
		return ErrRegistryFrozen
	}
	if name == "" {
		return fmt.Errorf("metrics: check name cannot be empty")
	}
	if _, ok := s.checks[name]; !ok {
		s.checks[name] = &checkState{name: name, scenario: scenario}
	}
	return nil
}

// Start marks the beginning of the run clock and starts the background
// time-bucket emitter. The emitter stops when Finalize runs.
func (s *Sink) Start() {
	s.startedMu.Lock()
	s.started = time.Now()
	s.startedMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.emitCancel = cancel

	s.emitWg.Add(1)
	go func() {
		defer s.emitWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.emitBucket()
			}
		}
	}()
}

func (s *Sink) emitBucket() {
	failed, _ := s.builtins.HTTPReqFailed.Counts()
	s.buckets.CreateBucket(
		int64(s.builtins.HTTPReqs.Total()),
		failed,
		s.builtins.HTTPReqDuration.state.stats(),
		int(s.builtins.VUs.Value()),
	)
}

// RecordHTTP records one completed HTTP request into the built-in metric
// set, the per-request table, and the live time buckets.
func (s *Sink) RecordHTTP(hs HTTPSample) {
	if s.finalized.Load() {
		return
	}

	b := s.builtins
	b.HTTPReqs.Inc()
	b.HTTPReqDuration.RecordDuration(hs.Duration)
	b.HTTPReqFailed.Mark(hs.Failed)
	if hs.DNS > 0 {
		b.HTTPReqDNS.RecordDuration(hs.DNS)
	}
	if hs.Connect > 0 {
		b.HTTPReqConnecting.RecordDuration(hs.Connect)
	}
	if hs.TLSHandshake > 0 {
		b.HTTPReqTLSHandshake.RecordDuration(hs.TLSHandshake)
	}
	if hs.Waiting > 0 {
		b.HTTPReqWaiting.RecordDuration(hs.Waiting)
	}
	if hs.Receiving > 0 {
		b.HTTPReqReceiving.RecordDuration(hs.Receiving)
	}
	b.DataSent.Add(float64(hs.BytesSent))
	b.DataReceived.Add(float64(hs.BytesReceived))

	if rs, ok := s.requests[hs.Request]; ok {
		rs.trend.record(hs.Duration.Microseconds())
		if hs.Failed {
			rs.failed.Add(1)
		}
	}

	s.buckets.RecordRequest(!hs.Failed)
}

// RecordCheck records one evaluation of a named check. The result also
// feeds the built-in checks rate.
func (s *Sink) RecordCheck(name string, ok bool) {
	if s.finalized.Load() {
		return
	}

	s.builtins.Checks.Mark(ok)
	if cs, exists := s.checks[name]; exists {
		if ok {
			cs.passes.Add(1)
		} else {
			cs.fails.Add(1)
		}
	}
}

// RecordIteration records one completed workload iteration.
func (s *Sink) RecordIteration(d time.Duration, failed bool) {
	if s.finalized.Load() {
		return
	}
	s.builtins.Iterations.Inc()
	s.builtins.IterationDuration.RecordDuration(d)
	if failed {
		s.builtins.IterationErrors.Inc()
	}
}

// RecordDropped counts an iteration that could not start because the VU
// pool was exhausted.
func (s *Sink) RecordDropped(n int64) {
	if s.finalized.Load() {
		return
	}
	s.builtins.DroppedIterations.Add(float64(n))
}

// SetActiveVUs updates the vus gauge.
func (s *Sink) SetActiveVUs(n int) {
	if s.finalized.Load() {
		return
	}
	s.builtins.VUs.Set(float64(n))
}

// SetMaxVUs updates the vus_max gauge.
func (s *Sink) SetMaxVUs(n int) {
	s.builtins.VUsMax.Set(float64(n))
}

// Elapsed returns the run clock, zero before Start.
func (s *Sink) Elapsed() time.Duration {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// StartedAt returns the run start time, zero before Start.
func (s *Sink) StartedAt() time.Time {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()
	return s.started
}

// Snapshot produces a point-in-time summary of all aggregates. It is
// safe to call during the run; the result is a private copy.
func (s *Sink) Snapshot() *Summary {
	return s.summarize(time.Now())
}

// Finalize stops the bucket emitter, closes the sink to further samples,
// and produces the run's immutable summary. Subsequent calls return the
// same summary.
func (s *Sink) Finalize() *Summary {
	s.finalize.Do(func() {
		if s.emitCancel != nil {
			s.emitCancel()
			s.emitWg.Wait()
		}
		s.emitBucket()
		s.finalized.Store(true)
		s.summary = s.summarize(time.Now())
	})
	return s.summary
}

func (s *Sink) summarize(now time.Time) *Summary {
	startedAt := s.StartedAt()
	var elapsed time.Duration
	if !startedAt.IsZero() {
		elapsed = now.Sub(startedAt)
	}

	sum := &Summary{
		StartedAt: startedAt,
		Duration:  elapsed,
		Metrics:   make(map[string]*MetricSummary),
		Requests:  make(map[string]*RequestStats),
	}

	for _, m := range s.reg.All() {
		sum.Metrics[m.Name()] = m.snapshot(elapsed.Seconds())
	}

	for name, rs := range s.requests {
		sum.Requests[name] = &RequestStats{
			Scenario: rs.scenario,
			Latency:  *rs.trend.stats(),
			Failed:   rs.failed.Load(),
		}
	}

	for _, cs := range s.checks {
		passes, fails := cs.passes.Load(), cs.fails.Load()
		rate := 0.0
		if passes+fails > 0 {
			rate = float64(passes) / float64(passes+fails)
		}
		sum.Checks = append(sum.Checks, &CheckStats{
			Name:     cs.name,
			Scenario: cs.scenario,
			Passes:   passes,
			Fails:    fails,
			Rate:     rate,
		})
	}
	sortChecks(sum.Checks)

	sum.TimeSeries = s.buckets.Buckets()
	sum.RPS = s.currentRPS(sum)

	return sum
}

// currentRPS prefers the average over recent buckets, which tracks load
// changes faster than the whole-run average, and falls back to the
// whole-run average early on.
func (s *Sink) currentRPS(sum *Summary) float64 {
	if rps, n := s.buckets.RecentRPS(5); n > 0 {
		return rps
	}
	if sum.Duration.Seconds() > 0 {
		if ms, ok := sum.Metrics[MetricHTTPReqs]; ok && ms.Counter != nil {
			return ms.Counter.Count / sum.Duration.Seconds()
		}
	}
	return 0
}
