package executor

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/rate"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// RampingArrivalRate moves the iteration start rate through stages,
// interpolating linearly between targets the same way ramping-vus
// interpolates VU counts. Stage targets are rates per timeUnit.
//
// Pool behavior is identical to constant-arrival-rate, including the
// drop at maxVUs.
type RampingArrivalRate struct {
	tracker
	config *Config

	pool         atomic.Pointer[arrivalPool]
	currentStage atomic.Int32
	currentRate  atomic.Uint64
	cancel       atomic.Pointer[context.CancelFunc]
}

// NewRampingArrivalRate creates an uninitialized ramping-arrival-rate
// executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{}
}

func (e *RampingArrivalRate) Type() Type { return TypeRampingArrivalRate }

func (e *RampingArrivalRate) Init(cfg *Config) error {
	if cfg.Type != TypeRampingArrivalRate {
		return fmt.Errorf("config type %q given to %s executor", cfg.Type, TypeRampingArrivalRate)
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
	normalizePool(cfg)
	e.config = cfg
	return nil
}

func (e *RampingArrivalRate) Run(ctx context.Context, sched *vu.Scheduler) error {
	e.markStart()
	e.setPhase(PhaseRunning)

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.cancel.Store(&cancel)
	defer cancel()

	pool := newArrivalPool(sched, e.config.PreAllocatedVUs, e.config.MaxVUs)
	e.pool.Store(pool)

	initial := e.rateAt(0)
	e.storeRate(initial)
	bucket := rate.NewLeakyBucket(initial)

	// The controller retunes the bucket as stages progress; the
	// dispatcher just follows the bucket's schedule.
	go func() {
		ticker := time.NewTicker(rampTick)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r := e.rateAt(e.elapsed())
				e.storeRate(r)
				bucket.SetRate(r)
			}
		}
	}()

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

// rateAt computes the interpolated per-second rate for a point on the
// run clock.
func (e *RampingArrivalRate) rateAt(elapsed time.Duration) float64 {
	unit := float64(time.Second) / float64(e.config.TimeUnit)

	var stageStart time.Duration
	prevTarget := 0.0
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
			return (prevTarget + (float64(st.Target)-prevTarget)*frac) * unit
		}
		prevTarget = float64(st.Target)
		stageStart = stageEnd
	}

	return float64(e.config.Stages[len(e.config.Stages)-1].Target) * unit
}

func (e *RampingArrivalRate) storeRate(r float64) {
	e.currentRate.Store(math.Float64bits(r))
}

func (e *RampingArrivalRate) loadRate() float64 {
	return math.Float64frombits(e.currentRate.Load())
}

func (e *RampingArrivalRate) Progress() float64 {
	return e.timeProgress(e.config.TotalDuration())
}

func (e *RampingArrivalRate) ActiveVUs() int {
	if p := e.pool.Load(); p != nil {
		return p.size()
	}
	return 0
}

func (e *RampingArrivalRate) Phase() Phase { return e.currentPhase() }

func (e *RampingArrivalRate) Stats() *Stats {
	s := &Stats{
		Phase:         e.currentPhase(),
		StartTime:     e.startTime(),
		Elapsed:       e.elapsed(),
		TotalDuration: e.config.TotalDuration(),
		TargetVUs:     e.config.MaxVUs,
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.config.Stages),
		CurrentRate:   e.loadRate(),
	}
	if p := e.pool.Load(); p != nil {
		s.ActiveVUs = p.size()
		s.Iterations = p.started.Load()
	}
	return s
}

func (e *RampingArrivalRate) Stop() {
	if c := e.cancel.Load(); c != nil {
		(*c)()
	}
}

var _ Executor = (*RampingArrivalRate)(nil)
