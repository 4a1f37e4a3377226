package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/rate"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// ConstantArrivalRate starts iterations at a fixed rate for a duration
// (open model). Iteration starts do not wait for previous iterations;
// a slow target costs VUs from the pool, not throughput, until the pool
// hits maxVUs. Past the cap, scheduled iterations are dropped and show
// up in dropped_iterations.
//
// Example:
//
//	executor: constant-arrival-rate
//	rate: 100              # per timeUnit, default 1s
//	duration: 5m
//	preAllocatedVUs: 10
//	maxVUs: 50
type ConstantArrivalRate struct {
	tracker
	config *Config

	pool   atomic.Pointer[arrivalPool]
	cancel atomic.Pointer[context.CancelFunc]
}

// NewConstantArrivalRate creates an uninitialized constant-arrival-rate
// executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

func (e *ConstantArrivalRate) Type() Type { return TypeConstantArrivalRate }

func (e *ConstantArrivalRate) Init(cfg *Config) error {
	if cfg.Type != TypeConstantArrivalRate {
		return fmt.Errorf("config type %q given to %s executor", cfg.Type, TypeConstantArrivalRate)
	}
	if cfg.Rate <= 0 {
		return fmt.Errorf("scenario %q: rate must be positive", cfg.Scenario)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("scenario %q: duration must be positive", cfg.Scenario)
	}
	normalizePool(cfg)
	e.config = cfg
	return nil
}

// normalizePool applies the arrival-rate pool and time unit defaults.
func normalizePool(cfg *Config) {
	if cfg.TimeUnit <= 0 {
		cfg.TimeUnit = time.Second
	}
	if cfg.PreAllocatedVUs <= 0 {
		cfg.PreAllocatedVUs = 1
	}
	if cfg.MaxVUs < cfg.PreAllocatedVUs {
		cfg.MaxVUs = cfg.PreAllocatedVUs
	}
}

func (e *ConstantArrivalRate) Run(ctx context.Context, sched *vu.Scheduler) error {
	e.markStart()
	e.setPhase(PhaseRunning)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancel.Store(&cancel)
	defer cancel()

	pool := newArrivalPool(sched, e.config.PreAllocatedVUs, e.config.MaxVUs)
	e.pool.Store(pool)

	bucket := rate.NewLeakyBucket(e.config.PerSecondRate())
	for {
		if err := bucket.Wait(runCtx); err != nil {
			break
		}
		pool.dispatch(runCtx)
	}

	e.setPhase(PhaseDraining)
	pool.drain(e.config.GracefulStop)
	e.setPhase(PhaseDone)
	return nil
}

func (e *ConstantArrivalRate) Progress() float64 {
	return e.timeProgress(e.config.Duration)
}

func (e *ConstantArrivalRate) ActiveVUs() int {
	if p := e.pool.Load(); p != nil {
		return p.size()
	}
	return 0
}

func (e *ConstantArrivalRate) Phase() Phase { return e.currentPhase() }

func (e *ConstantArrivalRate) Stats() *Stats {
	s := &Stats{
		Phase:         e.currentPhase(),
		StartTime:     e.startTime(),
		Elapsed:       e.elapsed(),
		TotalDuration: e.config.Duration,
		TargetVUs:     e.config.MaxVUs,
		CurrentRate:   e.config.PerSecondRate(),
	}
	if p := e.pool.Load(); p != nil {
		s.ActiveVUs = p.size()
		s.Iterations = p.started.Load()
	}
	return s
}

func (e *ConstantArrivalRate) Stop() {
	if c := e.cancel.Load(); c != nil {
		(*c)()
	}
}

var _ Executor = (*ConstantArrivalRate)(nil)
