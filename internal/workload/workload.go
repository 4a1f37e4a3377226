// Package workload defines the boundary between the load generator core
// and test logic: a workload is a plain function receiving a Session,
// which carries the HTTP client, metric handles, checks, variables, data
// rows, and cross-VU coordination.
//
// Workloads are usually compiled from a config scenario's request list
// by Build, but any Go function with the right signature works; the
// engine does not care which.
package workload

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/data"
	xhttp "github.com/wesleyorama2/stampede/internal/http"
	"github.com/wesleyorama2/stampede/internal/metrics"
)

// Func is one workload iteration. Returning an error marks the
// iteration failed; it never stops the scheduler or other VUs.
type Func func(ctx context.Context, s *Session) error

// Env is the scenario-scoped environment shared by all of a scenario's
// sessions: the HTTP client view, the metric sink and pre-issued custom
// metric handles, loaded data sources, static variables, and the shared
// coordination space.
//
// All maps are built before the run starts and are read-only afterwards,
// so sessions on many goroutines read them without locking.
type Env struct {
	scenario string
	client   *xhttp.Client
	sink     *metrics.Sink
	sources  data.Sources
	vars     map[string]string
	shared   *Shared
	logger   *zap.Logger

	counters map[string]*metrics.Counter
	rates    map[string]*metrics.Rate
	trends   map[string]*metrics.Trend
	gauges   map[string]*metrics.Gauge
}

// EnvConfig bundles the inputs for NewEnv.
type EnvConfig struct {
	Scenario string
	Client   *xhttp.Client
	Sink     *metrics.Sink
	Sources  data.Sources

	// Vars are the static variables: settings, globals, scenario tags.
	Vars map[string]string

	Logger *zap.Logger
}

// NewEnv builds a scenario environment. Custom metric handles are issued
// from the registry here, before it is frozen; sessions can only record
// what was declared.
func NewEnv(cfg EnvConfig) *Env {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	env := &Env{
		scenario: cfg.Scenario,
		client:   cfg.Client,
		sink:     cfg.Sink,
		sources:  cfg.Sources,
		vars:     cfg.Vars,
		shared:   NewShared(),
		logger:   logger.With(zap.String("scenario", cfg.Scenario)),
		counters: make(map[string]*metrics.Counter),
		rates:    make(map[string]*metrics.Rate),
		trends:   make(map[string]*metrics.Trend),
		gauges:   make(map[string]*metrics.Gauge),
	}
	if env.vars == nil {
		env.vars = map[string]string{}
	}

	for _, m := range cfg.Sink.Registry().All() {
		switch h := m.(type) {
		case *metrics.Counter:
			env.counters[m.Name()] = h
		case *metrics.Rate:
			env.rates[m.Name()] = h
		case *metrics.Trend:
			env.trends[m.Name()] = h
		case *metrics.Gauge:
			env.gauges[m.Name()] = h
		}
	}

	return env
}

// Scenario returns the scenario name.
func (e *Env) Scenario() string { return e.scenario }

// Shared returns the scenario's coordination space.
func (e *Env) Shared() *Shared { return e.shared }

// NewSession creates the per-VU session. One session serves all of a
// VU's iterations; Reset clears the iteration-scoped state in between.
func (e *Env) NewSession(vuID int) *Session {
	return &Session{
		env:  e,
		vuID: vuID,
		vars: make(map[string]string),
		rows: make(map[string]map[string]string),
	}
}

// Session is a workload's view of the world during one iteration. It is
// owned by a single VU and must not be shared across goroutines.
type Session struct {
	env       *Env
	vuID      int
	iteration int64

	// Iteration-scoped variables: extraction results, data row fields.
	vars map[string]string
	rows map[string]map[string]string
}

// Reset begins a new iteration: the iteration counter advances, data
// sources hand out fresh rows, extraction variables are cleared.
func (s *Session) Reset() {
	s.iteration++
	clear(s.vars)
	for name, src := range s.env.sources {
		row := src.Next()
		s.rows[name] = row
		for field, value := range row {
			s.vars[name+"."+field] = value
		}
	}
}

// VU returns the owning virtual user's ID.
func (s *Session) VU() int { return s.vuID }

// Iteration returns the 1-based iteration number for this session.
func (s *Session) Iteration() int64 { return s.iteration }

// HTTP returns the scenario's HTTP client. Samples recorded through it
// are attributed to this scenario.
func (s *Session) HTTP() *xhttp.Client { return s.env.client }

// Logger returns a logger tagged with the scenario and VU.
func (s *Session) Logger() *zap.Logger {
	return s.env.logger.With(zap.Int("vu", s.vuID))
}

// Shared returns the scenario-wide coordination space.
func (s *Session) Shared() *Shared { return s.env.shared }

// Check records a named boolean assertion.
func (s *Session) Check(name string, ok bool) bool {
	s.env.sink.RecordCheck(name, ok)
	return ok
}

// Var returns a variable: iteration scope first, then the static scope.
func (s *Session) Var(name string) (string, bool) {
	if v, ok := s.vars[name]; ok {
		return v, true
	}
	v, ok := s.env.vars[name]
	return v, ok
}

// SetVar sets an iteration-scoped variable, visible to later requests of
// the same iteration.
func (s *Session) SetVar(name, value string) {
	s.vars[name] = value
}

// Data returns the current iteration's row from a named data source.
func (s *Session) Data(source string) map[string]string {
	return s.rows[source]
}

// AddCounter adds to a declared counter metric.
func (s *Session) AddCounter(name string, v float64) {
	if c, ok := s.env.counters[name]; ok {
		c.Add(v)
		return
	}
	s.env.logger.Debug("counter not declared", zap.String("metric", name))
}

// MarkRate records a boolean observation on a declared rate metric.
func (s *Session) MarkRate(name string, ok bool) {
	if r, exists := s.env.rates[name]; exists {
		r.Mark(ok)
		return
	}
	s.env.logger.Debug("rate not declared", zap.String("metric", name))
}

// RecordTrend records a value on a declared trend metric.
func (s *Session) RecordTrend(name string, v float64) {
	if t, ok := s.env.trends[name]; ok {
		t.Record(v)
		return
	}
	s.env.logger.Debug("trend not declared", zap.String("metric", name))
}

// RecordTrendDuration records a duration on a declared trend metric.
func (s *Session) RecordTrendDuration(name string, d time.Duration) {
	if t, ok := s.env.trends[name]; ok {
		t.RecordDuration(d)
		return
	}
	s.env.logger.Debug("trend not declared", zap.String("metric", name))
}

// SetGauge sets a declared gauge metric.
func (s *Session) SetGauge(name string, v float64) {
	if g, ok := s.env.gauges[name]; ok {
		g.Set(v)
		return
	}
	s.env.logger.Debug("gauge not declared", zap.String("metric", name))
}

// Sleep pauses the iteration, waking early on cancellation. This is the
// pacing primitive; it never blocks other VUs.
func (s *Session) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Expand substitutes {{name}} placeholders from the session's variable
// scopes. Unknown placeholders are left as-is so they show up verbatim
// in request logs rather than silently vanishing.
func (s *Session) Expand(in string) string {
	if !strings.Contains(in, "{{") {
		return in
	}

	var b strings.Builder
	for {
		start := strings.Index(in, "{{")
		if start < 0 {
			b.WriteString(in)
			return b.String()
		}
		end := strings.Index(in[start:], "}}")
		if end < 0 {
			b.WriteString(in)
			return b.String()
		}
		end += start

		b.WriteString(in[:start])
		name := strings.TrimSpace(in[start+2 : end])
		if v, ok := s.Var(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(in[start : end+2])
		}
		in = in[end+2:]
	}
}
