// Package scenario ties a configured scenario together: its compiled
// workload, its executor, and its place in the run. The registry is the
// engine's authoritative list of what will run.
package scenario

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/executor"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/workload"
)

// ErrDuplicateScenario is returned when a name is registered twice.
var ErrDuplicateScenario = errors.New("duplicate scenario name")

// Scenario is one runnable scenario.
type Scenario struct {
	Name string

	// Config is the raw scenario configuration.
	Config *config.ScenarioConfig

	// Workload is the compiled iteration function.
	Workload workload.Func

	// Exec is the initialized load policy.
	Exec executor.Executor

	// ExecConfig is the policy-level configuration.
	ExecConfig *executor.Config

	// StartTime delays this scenario relative to run start.
	StartTime time.Duration
}

// Registry holds the scenarios of one run, keyed by unique name.
type Registry struct {
	byName map[string]*Scenario
	names  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Scenario)}
}

// Add registers a scenario. Names must be unique across the run.
func (r *Registry) Add(s *Scenario) error {
	if s.Name == "" {
		return errors.New("scenario name must not be empty")
	}
	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateScenario, s.Name)
	}
	r.byName[s.Name] = s
	r.names = append(r.names, s.Name)
	return nil
}

// Get returns a scenario by name.
func (r *Registry) Get(name string) (*Scenario, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Len returns the number of registered scenarios.
func (r *Registry) Len() int { return len(r.byName) }

// Names returns the scenario names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns the scenarios in registration order.
func (r *Registry) All() []*Scenario {
	out := make([]*Scenario, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}

// TotalDuration returns the latest planned end across all scenarios:
// start offset plus scenario duration plus drain grace. Zero when any
// scenario has no bounded duration.
func (r *Registry) TotalDuration() time.Duration {
	var latest time.Duration
	for _, s := range r.All() {
		d := s.ExecConfig.TotalDuration()
		if d == 0 {
			return 0
		}
		end := s.StartTime + d + s.ExecConfig.GracefulStop
		if end > latest {
			latest = end
		}
	}
	return latest
}

// MaxPossibleVUs sums the per-scenario VU ceilings.
func (r *Registry) MaxPossibleVUs() int {
	total := 0
	for _, s := range r.All() {
		total += s.ExecConfig.MaxPossibleVUs()
	}
	return total
}

// Build compiles every scenario of a validated config: the workload is
// compiled against the sink (declaring its request and check names) and
// the executor is created and initialized. Scenarios build in name
// order so metric declaration order is stable run to run.
func Build(cfg *config.TestConfig, sink *metrics.Sink, configDir string) (*Registry, error) {
	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := NewRegistry()
	for _, name := range names {
		sc := cfg.Scenarios[name]

		fn, err := workload.Build(name, sc, sink, configDir)
		if err != nil {
			return nil, err
		}
		exec, execCfg, err := executor.ForScenario(name, sc)
		if err != nil {
			return nil, err
		}

		err = reg.Add(&Scenario{
			Name:       name,
			Config:     sc,
			Workload:   fn,
			Exec:       exec,
			ExecConfig: execCfg,
			StartTime:  sc.StartTime.D(),
		})
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// NewEnv builds the workload environment for one scenario, merging the
// global variables with the scenario's tags. Tags win on collision.
func (s *Scenario) NewEnv(cfg workload.EnvConfig) *workload.Env {
	vars := make(map[string]string, len(cfg.Vars)+len(s.Config.Tags))
	for k, v := range cfg.Vars {
		vars[k] = v
	}
	for k, v := range s.Config.Tags {
		vars[k] = v
	}
	cfg.Scenario = s.Name
	cfg.Vars = vars
	return workload.NewEnv(cfg)
}
