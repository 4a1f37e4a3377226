package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wesleyorama2/stampede/internal/vu"
)

// PerVUIterations runs exactly Iterations iterations on each of VUs
// virtual users. Unlike shared-iterations the work split is fixed, so a
// slow VU extends the scenario; useful when every VU must walk the same
// data slice to completion.
type PerVUIterations struct {
	tracker
	config *Config
	sched  *vu.Scheduler

	completed atomic.Int64
	cancel    atomic.Pointer[context.CancelFunc]
}

// NewPerVUIterations creates an uninitialized per-vu-iterations
// executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{}
}

func (e *PerVUIterations) Type() Type { return TypePerVUIterations }

func (e *PerVUIterations) Init(cfg *Config) error {
	if cfg.Type != TypePerVUIterations {
		return fmt.Errorf("config type %q given to %s executor", cfg.Type, TypePerVUIterations)
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

func (e *PerVUIterations) Run(ctx context.Context, sched *vu.Scheduler) error {
	e.sched = sched
	e.markStart()
	e.setPhase(PhaseRunning)

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
			for n := int64(0); n < e.config.Iterations; n++ {
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

func (e *PerVUIterations) Progress() float64 {
	total := e.config.Iterations * int64(e.config.VUs)
	if total == 0 {
		return 0
	}
	p := float64(e.completed.Load()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

func (e *PerVUIterations) ActiveVUs() int {
	if e.sched == nil {
		return 0
	}
	return e.sched.ActiveCount()
}

func (e *PerVUIterations) Phase() Phase { return e.currentPhase() }

func (e *PerVUIterations) Stats() *Stats {
	return &Stats{
		Phase:           e.currentPhase(),
		StartTime:       e.startTime(),
		Elapsed:         e.elapsed(),
		TotalDuration:   e.config.Duration,
		ActiveVUs:       e.ActiveVUs(),
		TargetVUs:       e.config.VUs,
		Iterations:      e.completed.Load(),
		TotalIterations: e.config.Iterations * int64(e.config.VUs),
	}
}

func (e *PerVUIterations) Stop() {
	if c := e.cancel.Load(); c != nil {
		(*c)()
	}
}

var _ Executor = (*PerVUIterations)(nil)
