package vu

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/workload"
)

func newTestScheduler(t *testing.T, fn workload.Func) (*Scheduler, *metrics.Sink) {
	t.Helper()

	reg := metrics.NewRegistry()
	sink, err := metrics.NewSink(reg)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	env := workload.NewEnv(workload.EnvConfig{Scenario: "test", Sink: sink})
	return NewScheduler(env, fn, sink, nil), sink
}

func TestRunIterationRecordsMetrics(t *testing.T) {
	fn := func(ctx context.Context, s *workload.Session) error {
		if s.Iteration()%2 == 0 {
			return errors.New("boom")
		}
		return nil
	}
	sched, sink := newTestScheduler(t, fn)
	vu := sched.SpawnVU()

	for i := 0; i < 4; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}

	sum := sink.Snapshot()
	if got := sum.Metric(metrics.MetricIterations).Counter.Count; got != 4 {
		t.Errorf("iterations = %v, want 4", got)
	}
	if got := sum.Metric(metrics.MetricIterationErrors).Counter.Count; got != 2 {
		t.Errorf("iteration_errors = %v, want 2", got)
	}
	if vu.Iterations() != 4 {
		t.Errorf("vu.Iterations() = %d, want 4", vu.Iterations())
	}
}

func TestRunIterationPanicIsolation(t *testing.T) {
	fn := func(ctx context.Context, s *workload.Session) error {
		panic("workload bug")
	}
	sched, sink := newTestScheduler(t, fn)
	vu := sched.SpawnVU()

	// A panicking workload must not take the caller down.
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration returned %v, want nil", err)
	}

	sum := sink.Snapshot()
	if got := sum.Metric(metrics.MetricIterationErrors).Counter.Count; got != 1 {
		t.Errorf("iteration_errors = %v, want 1", got)
	}
	if vu.State() != StateIdle {
		t.Errorf("state after panic = %v, want idle", vu.State())
	}
}

func TestRunIterationAfterStop(t *testing.T) {
	sched, _ := newTestScheduler(t, func(ctx context.Context, s *workload.Session) error {
		return nil
	})
	vu := sched.SpawnVU()
	vu.RequestStop()

	if err := vu.RunIteration(context.Background()); err == nil {
		t.Error("RunIteration succeeded on a retired VU")
	}
	if vu.State() != StateStopping {
		t.Errorf("state = %v, want stopping", vu.State())
	}
}

func TestRunVUStopsAtIterationBoundary(t *testing.T) {
	var count atomic.Int64
	var vu *VU

	sched, _ := newTestScheduler(t, func(ctx context.Context, s *workload.Session) error {
		if count.Add(1) == 3 {
			vu.RequestStop()
		}
		return nil
	})
	vu = sched.SpawnVU()

	done := make(chan struct{})
	go func() {
		sched.RunVU(context.Background(), vu, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunVU did not exit after RequestStop")
	}

	if got := count.Load(); got != 3 {
		t.Errorf("ran %d iterations, want 3", got)
	}
	if vu.State() != StateStopped {
		t.Errorf("state = %v, want stopped", vu.State())
	}
}

func TestRunVUContextCancellation(t *testing.T) {
	sched, _ := newTestScheduler(t, func(ctx context.Context, s *workload.Session) error {
		return nil
	})
	vu := sched.SpawnVU()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.RunVU(ctx, vu, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunVU did not exit on cancellation")
	}
	if !vu.WaitForStop(time.Second) {
		t.Error("VU never marked stopped")
	}
}

func TestStopNewest(t *testing.T) {
	sched, _ := newTestScheduler(t, func(ctx context.Context, s *workload.Session) error {
		return nil
	})

	vus := make([]*VU, 5)
	for i := range vus {
		vus[i] = sched.SpawnVU()
	}

	sched.StopNewest(2)

	for i, vu := range vus {
		wantStopping := i >= 3
		if got := vu.State() == StateStopping; got != wantStopping {
			t.Errorf("vu %d stopping = %v, want %v", vu.ID, got, wantStopping)
		}
	}
	if got := sched.ActiveCount(); got != 5 {
		t.Errorf("ActiveCount = %d, want 5 until loops exit", got)
	}
}

func TestSchedulerShutdown(t *testing.T) {
	sched, sink := newTestScheduler(t, func(ctx context.Context, s *workload.Session) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		vu := sched.SpawnVU()
		go sched.RunVU(ctx, vu, 0)
	}
	time.Sleep(20 * time.Millisecond)

	if stragglers := sched.Shutdown(time.Second); stragglers != 0 {
		t.Errorf("Shutdown left %d stragglers, want 0", stragglers)
	}
	if got := sched.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after shutdown = %d", got)
	}

	sum := sink.Snapshot()
	if got := sum.Metric(metrics.MetricVUs).Gauge.Value; got != 0 {
		t.Errorf("vus gauge after shutdown = %v, want 0", got)
	}
}

func TestSchedulerShutdownStragglers(t *testing.T) {
	release := make(chan struct{})
	sched, _ := newTestScheduler(t, func(ctx context.Context, s *workload.Session) error {
		<-release
		return nil
	})

	vu := sched.SpawnVU()
	go sched.RunVU(context.Background(), vu, 0)
	time.Sleep(10 * time.Millisecond)

	if stragglers := sched.Shutdown(50 * time.Millisecond); stragglers != 1 {
		t.Errorf("Shutdown reported %d stragglers, want 1", stragglers)
	}
	close(release)
}

func TestUpdateVUsGauge(t *testing.T) {
	sched, sink := newTestScheduler(t, func(ctx context.Context, s *workload.Session) error {
		return nil
	})
	sched.SpawnVU()
	sched.SpawnVU()
	sched.UpdateVUsGauge()

	sum := sink.Snapshot()
	if got := sum.Metric(metrics.MetricVUs).Gauge.Value; got != 2 {
		t.Errorf("vus gauge = %v, want 2", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
