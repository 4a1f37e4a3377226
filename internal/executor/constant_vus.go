package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/wesleyorama2/stampede/internal/vu"
)

// ConstantVUs runs a fixed pool of VUs for a duration. Each VU loops
// iterations back to back, so throughput follows response time (closed
// model).
type ConstantVUs struct {
	tracker
	config *Config
	sched  *vu.Scheduler

	targetVUs atomic.Int32
	cancel    atomic.Pointer[context.CancelFunc]
}

// NewConstantVUs creates an uninitialized constant-vus executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

func (e *ConstantVUs) Type() Type { return TypeConstantVUs }

func (e *ConstantVUs) Init(cfg *Config) error {
	if cfg.Type != TypeConstantVUs {
		return fmt.Errorf("config type %q given to %s executor", cfg.Type, TypeConstantVUs)
	}
	if cfg.VUs <= 0 {
		return fmt.Errorf("scenario %q: vus must be positive", cfg.Scenario)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("scenario %q: duration must be positive", cfg.Scenario)
	}
	e.config = cfg
	return nil
}

func (e *ConstantVUs) Run(ctx context.Context, sched *vu.Scheduler) error {
	e.sched = sched
	e.markStart()
	e.setPhase(PhaseRunning)
	e.targetVUs.Store(int32(e.config.VUs))

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancel.Store(&cancel)
	defer cancel()

	sched.Sink().SetMaxVUs(e.config.VUs)
	for i := 0; i < e.config.VUs; i++ {
		v := sched.SpawnVU()
		go sched.RunVU(runCtx, v, 0)
	}
	sched.UpdateVUsGauge()

	<-runCtx.Done()

	e.setPhase(PhaseDraining)
	sched.Shutdown(e.config.GracefulStop)
	e.setPhase(PhaseDone)
	return nil
}

func (e *ConstantVUs) Progress() float64 {
	return e.timeProgress(e.config.Duration)
}

func (e *ConstantVUs) ActiveVUs() int {
	if e.sched == nil {
		return 0
	}
	return e.sched.ActiveCount()
}

func (e *ConstantVUs) Phase() Phase { return e.currentPhase() }

func (e *ConstantVUs) Stats() *Stats {
	var iters int64
	if e.sched != nil {
		iters = e.sched.TotalIterations()
	}
	return &Stats{
		Phase:         e.currentPhase(),
		StartTime:     e.startTime(),
		Elapsed:       e.elapsed(),
		TotalDuration: e.config.Duration,
		ActiveVUs:     e.ActiveVUs(),
		TargetVUs:     int(e.targetVUs.Load()),
		Iterations:    iters,
	}
}

func (e *ConstantVUs) Stop() {
	if c := e.cancel.Load(); c != nil {
		(*c)()
	}
}

var _ Executor = (*ConstantVUs)(nil)
