// Package executor implements the load generation policies. An executor
// decides when iterations run and how many virtual users exist; the
// actual iteration work lives in the workload, and pool bookkeeping in
// the vu scheduler.
package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// Type identifies a load generation policy.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration
	// (closed model).
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs moves the VU count through stages, interpolating
	// linearly between targets.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate starts iterations at a fixed rate
	// regardless of response time (open model).
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate moves the iteration rate through stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"

	// TypeSharedIterations runs a total iteration budget shared by a
	// fixed VU pool.
	TypeSharedIterations Type = "shared-iterations"

	// TypePerVUIterations runs a fixed number of iterations on each VU.
	TypePerVUIterations Type = "per-vu-iterations"
)

// Phase is the lifecycle phase of a running scenario.
type Phase int32

const (
	// PhasePending means the scenario has not begun; start offsets keep
	// scenarios here.
	PhasePending Phase = iota
	// PhaseRunning means load is being generated.
	PhaseRunning
	// PhaseDraining means no new iterations start; in-flight ones are
	// finishing inside the grace window.
	PhaseDraining
	// PhaseDone means the scenario has fully stopped.
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Executor is one scenario's load generation policy.
//
// Run blocks until the scenario completes or the context is cancelled,
// and owns the drain: when it returns, every VU the policy spawned has
// retired or been abandoned to the context.
type Executor interface {
	// Type returns the policy name.
	Type() Type

	// Init validates and stores the configuration. Called once, before
	// Run.
	Init(cfg *Config) error

	// Run generates load until done. The scheduler must be dedicated to
	// this executor.
	Run(ctx context.Context, sched *vu.Scheduler) error

	// Progress reports completion from 0 to 1. Iteration-budget policies
	// report budget consumption, time-based ones elapsed time.
	Progress() float64

	// ActiveVUs returns the live VU count.
	ActiveVUs() int

	// Phase returns the current lifecycle phase.
	Phase() Phase

	// Stats returns a point-in-time view for progress reporting.
	Stats() *Stats

	// Stop requests an early graceful stop.
	Stop()
}

// Config is the policy-level configuration, converted from a scenario.
type Config struct {
	// Scenario is the owning scenario's name, for logs and errors.
	Scenario string

	Type Type

	// Closed-model executors.
	VUs        int
	Duration   time.Duration
	Iterations int64

	// Arrival-rate executors. Rate is iteration starts per TimeUnit.
	Rate            float64
	TimeUnit        time.Duration
	PreAllocatedVUs int
	MaxVUs          int

	// Ramping executors.
	Stages []Stage

	// GracefulStop bounds the drain after the scenario's own end.
	GracefulStop time.Duration
}

// Stage is one segment of a ramp.
type Stage struct {
	Duration time.Duration
	Target   int
	Name     string
}

// Stats is a point-in-time executor snapshot.
type Stats struct {
	Phase         Phase
	StartTime     time.Time
	Elapsed       time.Duration
	TotalDuration time.Duration

	ActiveVUs int
	TargetVUs int

	Iterations      int64
	TotalIterations int64

	CurrentStage int
	TotalStages  int

	CurrentRate float64
}

// FromScenario converts a validated scenario config into an executor
// config. Defaults are assumed applied; this does plain field mapping.
func FromScenario(name string, sc *config.ScenarioConfig) *Config {
	cfg := &Config{
		Scenario:        name,
		Type:            Type(sc.Executor),
		VUs:             sc.VUs,
		Duration:        sc.Duration.D(),
		Iterations:      sc.Iterations,
		Rate:            sc.Rate,
		TimeUnit:        sc.TimeUnit.Or(time.Second),
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
		GracefulStop:    sc.GracefulStop.Or(30 * time.Second),
	}
	for _, st := range sc.Stages {
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: st.Duration.D(),
			Target:   st.Target,
			Name:     st.Name,
		})
	}
	return cfg
}

// PerSecondRate normalizes Rate to iterations per second.
func (c *Config) PerSecondRate() float64 {
	unit := c.TimeUnit
	if unit <= 0 {
		unit = time.Second
	}
	return c.Rate * float64(time.Second) / float64(unit)
}

// TotalDuration returns the scenario's planned running time, zero for
// iteration-budget executors without a duration cap.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration
	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, st := range c.Stages {
			total += st.Duration
		}
		return total
	case TypeSharedIterations, TypePerVUIterations:
		return c.Duration
	default:
		return 0
	}
}

// MaxPossibleVUs returns the most VUs this policy can have live at once.
func (c *Config) MaxPossibleVUs() int {
	switch c.Type {
	case TypeRampingVUs:
		peak := 0
		for _, st := range c.Stages {
			if st.Target > peak {
				peak = st.Target
			}
		}
		return peak
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		return c.MaxVUs
	default:
		return c.VUs
	}
}
