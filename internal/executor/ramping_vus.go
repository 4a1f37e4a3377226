package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/vu"
)

// rampTick is how often the ramping controllers recompute their target,
// giving smooth interpolation instead of step changes at stage edges.
const rampTick = 100 * time.Millisecond

// RampingVUs moves the VU count through stages, interpolating linearly
// from the previous stage's target (zero before the first stage) to
// each stage's target over its duration.
//
// Ramp-downs retire the newest VUs first, so long-lived VUs keep their
// warm connections; retirement happens at iteration boundaries, never
// mid-request.
//
// Example stages:
//
//	stages:
//	  - {duration: 30s, target: 10}  # ramp 0 -> 10 over 30s
//	  - {duration: 2m,  target: 10}  # hold
//	  - {duration: 30s, target: 0}   # ramp down
type RampingVUs struct {
	tracker
	config *Config
	sched  *vu.Scheduler

	targetVUs    atomic.Int32
	currentStage atomic.Int32
	cancel       atomic.Pointer[context.CancelFunc]

	// live is the currently commissioned VUs, oldest first.
	live   []*vu.VU
	liveMu sync.Mutex
}

// NewRampingVUs creates an uninitialized ramping-vus executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

func (e *RampingVUs) Type() Type { return TypeRampingVUs }

func (e *RampingVUs) Init(cfg *Config) error {
	if cfg.Type != TypeRampingVUs {
		return fmt.Errorf("config type %q given to %s executor", cfg.Type, TypeRampingVUs)
	}
	if len(cfg.Stages) == 0 {
		return fmt.Errorf("scenario %q: at least one stage is required", cfg.Scenario)
	}
	for i, st := range cfg.Stages {
		if st.Duration <= 0 {
			return fmt.Errorf("scenario %q: stage %d duration must be positive", cfg.Scenario, i)
		}
		if st.Target < 0 {
			return fmt.Errorf("scenario %q: stage %d target must not be negative", cfg.Scenario, i)
		}
	}
	e.config = cfg
	return nil
}

func (e *RampingVUs) Run(ctx context.Context, sched *vu.Scheduler) error {
	e.sched = sched
	e.markStart()
	e.setPhase(PhaseRunning)

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.cancel.Store(&cancel)
	defer cancel()

	sched.Sink().SetMaxVUs(e.config.MaxPossibleVUs())

	ticker := time.NewTicker(rampTick)
	defer ticker.Stop()

controller:
	for {
		select {
		case <-runCtx.Done():
			break controller
		case <-ticker.C:
			target := e.targetAt(e.elapsed())
			e.targetVUs.Store(int32(target))
			e.adjust(runCtx, target)
		}
	}

	e.setPhase(PhaseDraining)
	sched.Shutdown(e.config.GracefulStop)
	e.setPhase(PhaseDone)
	return nil
}

// targetAt computes the interpolated VU target for a point on the run
// clock. Past the final stage it holds the final target.
func (e *RampingVUs) targetAt(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, st := range e.config.Stages {
		stageEnd := stageStart + st.Duration
		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))
			frac := float64(elapsed-stageStart) / float64(st.Duration)
			if frac < 0 {
				frac = 0
			}
			if frac > 1 {
				frac = 1
			}
			return int(float64(prevTarget) + float64(st.Target-prevTarget)*frac + 0.5)
		}
		prevTarget = st.Target
		stageStart = stageEnd
	}

	return e.config.Stages[len(e.config.Stages)-1].Target
}

// adjust commissions or retires VUs to hit the target.
func (e *RampingVUs) adjust(ctx context.Context, target int) {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()

	current := len(e.live)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			v := e.sched.SpawnVU()
			e.live = append(e.live, v)
			go e.sched.RunVU(ctx, v, 0)
		}
	case target < current:
		// Newest first.
		for i := current - 1; i >= target; i-- {
			e.live[i].RequestStop()
		}
		e.live = e.live[:target]
	}

	e.sched.Sink().SetActiveVUs(len(e.live))
}

func (e *RampingVUs) Progress() float64 {
	return e.timeProgress(e.config.TotalDuration())
}

func (e *RampingVUs) ActiveVUs() int {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()
	return len(e.live)
}

func (e *RampingVUs) Phase() Phase { return e.currentPhase() }

func (e *RampingVUs) Stats() *Stats {
	var iters int64
	if e.sched != nil {
		iters = e.sched.TotalIterations()
	}
	return &Stats{
		Phase:         e.currentPhase(),
		StartTime:     e.startTime(),
		Elapsed:       e.elapsed(),
		TotalDuration: e.config.TotalDuration(),
		ActiveVUs:     e.ActiveVUs(),
		TargetVUs:     int(e.targetVUs.Load()),
		Iterations:    iters,
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.config.Stages),
	}
}

func (e *RampingVUs) Stop() {
	if c := e.cancel.Load(); c != nil {
		(*c)()
	}
}

var _ Executor = (*RampingVUs)(nil)
