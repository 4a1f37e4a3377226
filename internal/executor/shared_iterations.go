package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wesleyorama2/stampede/internal/vu"
)

// SharedIterations runs a total iteration budget on a fixed VU pool.
// VUs claim iterations from the shared budget as they free up, so fast
// VUs do more of the work; the scenario ends when the budget is spent.
// Exactly Iterations iterations start, fewer only if the run is cut
// short.
type SharedIterations struct {
	tracker
	config *Config
	sched  *vu.Scheduler

	remaining atomic.Int64
	completed atomic.Int64
	cancel    atomic.Pointer[context.CancelFunc]
}

// NewSharedIterations creates an uninitialized shared-iterations
// executor.
func NewSharedIterations() *SharedIterations {
	return &SharedIterations{}
}

func (e *SharedIterations) Type() Type { return TypeSharedIterations }

func (e *SharedIterations) Init(cfg *Config) error {
	if cfg.Type != TypeSharedIterations {
		return fmt.Errorf("config type %q given to %s executor", cfg.Type, TypeSharedIterations)
	}
	if cfg.VUs <= 0 {
		return fmt.Errorf("scenario %q: vus must be positive", cfg.Scenario)
	}
	if cfg.Iterations <= 0 {
		return fmt.Errorf("scenario %q: iterations must be positive", cfg.Scenario)
	}
	e.config = cfg
	return nil
}

func (e *SharedIterations) Run(ctx context.Context, sched *vu.Scheduler) error {
	e.sched = sched
	e.markStart()
	e.setPhase(PhaseRunning)
	e.remaining.Store(e.config.Iterations)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.config.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	e.cancel.Store(&cancel)
	defer cancel()

	sched.Sink().SetMaxVUs(e.config.VUs)

	var wg sync.WaitGroup
	for i := 0; i < e.config.VUs; i++ {
		v := sched.SpawnVU()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer v.MarkStopped()
			for e.remaining.Add(-1) >= 0 {
				if runCtx.Err() != nil {
					return
				}
				if err := v.RunIteration(runCtx); err != nil {
					return
				}
				e.completed.Add(1)
			}
		}()
	}
	sched.UpdateVUsGauge()

	wg.Wait()

	e.setPhase(PhaseDraining)
	sched.Shutdown(e.config.GracefulStop)
	e.setPhase(PhaseDone)
	return nil
}

func (e *SharedIterations) Progress() float64 {
	if e.config.Iterations == 0 {
		return 0
	}
	p := float64(e.completed.Load()) / float64(e.config.Iterations)
	if p > 1 {
		p = 1
	}
	return p
}

func (e *SharedIterations) ActiveVUs() int {
	if e.sched == nil {
		return 0
	}
	return e.sched.ActiveCount()
}

func (e *SharedIterations) Phase() Phase { return e.currentPhase() }

func (e *SharedIterations) Stats() *Stats {
	return &Stats{
		Phase:           e.currentPhase(),
		StartTime:       e.startTime(),
		Elapsed:         e.elapsed(),
		TotalDuration:   e.config.Duration,
		ActiveVUs:       e.ActiveVUs(),
		TargetVUs:       e.config.VUs,
		Iterations:      e.completed.Load(),
		TotalIterations: e.config.Iterations,
	}
}

func (e *SharedIterations) Stop() {
	if c := e.cancel.Load(); c != nil {
		(*c)()
	}
}

var _ Executor = (*SharedIterations)(nil)
