// Package vu implements virtual users: the goroutine-level workers that
// run workload iterations, and the scheduler that manages their
// lifecycle for the executors.
package vu

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/workload"
)

// State is the lifecycle state of a virtual user.
type State int32

const (
	// StateIdle means the VU is between iterations.
	StateIdle State = iota
	// StateRunning means an iteration is in flight.
	StateRunning
	// StateStopping means retirement was requested; the VU exits at the
	// next iteration boundary.
	StateStopping
	// StateStopped means the VU's goroutine has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VU is one virtual user. It owns a workload session and runs the
// workload function repeatedly until retired.
//
// Retirement is cooperative: RequestStop takes effect at the next
// iteration boundary, never inside a workload call. Forcing a hung
// iteration out is the run context's job, which every in-flight HTTP
// request carries.
type VU struct {
	ID int

	fn      workload.Func
	session *workload.Session
	sink    *metrics.Sink
	logger  *zap.Logger

	state      atomic.Int32
	stopCh     chan struct{}
	doneCh     chan struct{}
	iterations atomic.Int64
}

// New creates a VU bound to a workload function and session.
func New(id int, fn workload.Func, session *workload.Session, sink *metrics.Sink, logger *zap.Logger) *VU {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VU{
		ID:      id,
		fn:      fn,
		session: session,
		sink:    sink,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (vu *VU) State() State {
	return State(vu.state.Load())
}

// Iterations returns how many iterations this VU has started.
func (vu *VU) Iterations() int64 {
	return vu.iterations.Load()
}

// StopRequested returns a channel closed when retirement is requested.
func (vu *VU) StopRequested() <-chan struct{} {
	return vu.stopCh
}

// RunIteration executes one workload iteration.
//
// A workload error or panic marks the iteration failed in the metrics
// and is otherwise swallowed; per the failure policy only the iteration
// dies, never the VU or the scheduler. The returned error reports only
// lifecycle problems (VU already retired, context cancelled).
func (vu *VU) RunIteration(ctx context.Context) error {
	switch vu.State() {
	case StateStopping, StateStopped:
		return fmt.Errorf("vu %d is retired", vu.ID)
	}

	vu.state.Store(int32(StateRunning))
	vu.iterations.Add(1)
	vu.session.Reset()

	start := time.Now()
	err := vu.runProtected(ctx)
	elapsed := time.Since(start)

	if ctx.Err() != nil && err == nil {
		err = ctx.Err()
	}
	vu.sink.RecordIteration(elapsed, err != nil)
	if err != nil && ctx.Err() == nil {
		vu.logger.Debug("iteration failed",
			zap.Int("vu", vu.ID),
			zap.Int64("iteration", vu.iterations.Load()),
			zap.Error(err))
	}

	// Keep Stopping if a stop raced in during the iteration.
	vu.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// runProtected invokes the workload with panic isolation.
func (vu *VU) runProtected(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workload panic: %v", r)
			vu.logger.Error("workload panicked",
				zap.Int("vu", vu.ID),
				zap.Any("panic", r))
		}
	}()
	return vu.fn(ctx, vu.session)
}

// RequestStop asks the VU to retire at the next iteration boundary.
func (vu *VU) RequestStop() {
	for {
		current := vu.state.Load()
		if State(current) == StateStopping || State(current) == StateStopped {
			return
		}
		if vu.state.CompareAndSwap(current, int32(StateStopping)) {
			close(vu.stopCh)
			return
		}
	}
}

// MarkStopped records that the VU's goroutine has exited.
func (vu *VU) MarkStopped() {
	vu.state.Store(int32(StateStopped))
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}

// WaitForStop blocks until the VU has fully stopped or the timeout
// elapses, reporting which happened.
func (vu *VU) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}
