package vu

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/workload"
)

// Scheduler manages the VU pool for one scenario: spawning, retiring,
// and graceful shutdown coordination. Executors drive it to realize
// their policy; the scheduler itself has no opinion about pacing or
// target counts.
type Scheduler struct {
	env    *workload.Env
	fn     workload.Func
	sink   *metrics.Sink
	logger *zap.Logger

	vus   map[int]*VU
	vusMu sync.RWMutex

	nextID atomic.Int32

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewScheduler creates a scheduler for one scenario's workload.
func NewScheduler(env *workload.Env, fn workload.Func, sink *metrics.Sink, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		env:        env,
		fn:         fn,
		sink:       sink,
		logger:     logger,
		vus:        make(map[int]*VU),
		shutdownCh: make(chan struct{}),
	}
}

// SpawnVU creates and registers a new VU with its own session. The VU
// is not started; the caller runs it, typically via RunVU.
func (s *Scheduler) SpawnVU() *VU {
	id := int(s.nextID.Add(1))
	vu := New(id, s.fn, s.env.NewSession(id), s.sink, s.logger)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// ActiveCount returns the number of VUs not yet stopped.
func (s *Scheduler) ActiveCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.State() != StateStopped {
			count++
		}
	}
	return count
}

// SpawnedCount returns the total number of VUs ever created.
func (s *Scheduler) SpawnedCount() int {
	return int(s.nextID.Load())
}

// Sink returns the metrics sink VUs record into.
func (s *Scheduler) Sink() *metrics.Sink { return s.sink }

// TotalIterations sums the iterations started by this scenario's VUs.
func (s *Scheduler) TotalIterations() int64 {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	var total int64
	for _, vu := range s.vus {
		total += vu.Iterations()
	}
	return total
}

// ActiveVUs returns the non-stopped VUs.
func (s *Scheduler) ActiveVUs() []*VU {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	out := make([]*VU, 0, len(s.vus))
	for _, vu := range s.vus {
		if vu.State() != StateStopped {
			out = append(out, vu)
		}
	}
	return out
}

// StopAll requests retirement of every VU.
func (s *Scheduler) StopAll() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// StopNewest requests retirement of n VUs, newest first. Ramp-downs
// use this so the longest-lived VUs keep their warm connections.
func (s *Scheduler) StopNewest(n int) {
	if n <= 0 {
		return
	}
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	maxID := int(s.nextID.Load())
	stopped := 0
	for id := maxID; id >= 1 && stopped < n; id-- {
		vu, ok := s.vus[id]
		if !ok {
			continue
		}
		if st := vu.State(); st != StateStopped && st != StateStopping {
			vu.RequestStop()
			stopped++
		}
	}
}

// RunVU runs a VU's iteration loop until the VU is retired, the context
// is cancelled, or the scheduler shuts down. Pacing, when positive, is
// inserted between iterations.
//
// This is the standard loop for looping executors; arrival-rate
// executors run iterations directly instead.
func (s *Scheduler) RunVU(ctx context.Context, vu *VU, pacing time.Duration) {
	s.wg.Add(1)
	defer s.wg.Done()
	defer vu.MarkStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-vu.StopRequested():
			return
		default:
		}

		if err := vu.RunIteration(ctx); err != nil {
			return
		}

		if pacing > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdownCh:
				return
			case <-vu.StopRequested():
				return
			case <-time.After(pacing):
			}
		}
	}
}

// UpdateVUsGauge pushes the current active count to the vus gauge.
func (s *Scheduler) UpdateVUsGauge() {
	s.sink.SetActiveVUs(s.ActiveCount())
}

// ShuttingDown reports whether Shutdown has begun.
func (s *Scheduler) ShuttingDown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

// Shutdown retires every VU and waits up to timeout for their loops to
// drain. It returns the number of VUs still running when the wait gave
// up; those are abandoned to the run context's cancellation.
func (s *Scheduler) Shutdown(timeout time.Duration) int {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}

	stragglers := 0
	s.vusMu.RLock()
	for _, vu := range s.vus {
		if vu.State() != StateStopped {
			stragglers++
		}
	}
	s.vusMu.RUnlock()

	if stragglers > 0 {
		s.logger.Warn("shutdown timed out with iterations in flight",
			zap.Int("stragglers", stragglers),
			zap.Duration("timeout", timeout))
	}
	s.sink.SetActiveVUs(0)
	return stragglers
}
