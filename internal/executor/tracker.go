package executor

import (
	"sync/atomic"
	"time"
)

// tracker holds the lifecycle state every executor shares: the phase
// and the start instant, both read from progress-reporting goroutines
// while the executor runs.
type tracker struct {
	phase      atomic.Int32
	startNanos atomic.Int64
}

func (t *tracker) setPhase(p Phase) { t.phase.Store(int32(p)) }
func (t *tracker) currentPhase() Phase { return Phase(t.phase.Load()) }

func (t *tracker) markStart() {
	t.startNanos.Store(time.Now().UnixNano())
}

func (t *tracker) started() bool {
	return t.startNanos.Load() != 0
}

func (t *tracker) startTime() time.Time {
	n := t.startNanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (t *tracker) elapsed() time.Duration {
	n := t.startNanos.Load()
	if n == 0 {
		return 0
	}
	return time.Since(time.Unix(0, n))
}

// timeProgress maps elapsed time onto 0..1 for duration-bound policies.
func (t *tracker) timeProgress(total time.Duration) float64 {
	switch {
	case !t.started():
		return 0
	case t.currentPhase() == PhaseDone:
		return 1
	case total <= 0:
		return 0
	}
	p := float64(t.elapsed()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}
