package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/vu"
)

// arrivalPool is the VU pool shared by the arrival-rate executors. VUs
// here do not loop; the dispatcher borrows one per scheduled iteration
// and returns it when the iteration finishes.
//
// When the pool is empty the dispatcher grows it up to maxVUs. At the
// cap the iteration is dropped and counted in dropped_iterations rather
// than queued; queuing would let a slow target push the real rate below
// the configured one without any signal in the results.
type arrivalPool struct {
	sched  *vu.Scheduler
	maxVUs int

	pool  chan *vu.VU
	all   []*vu.VU
	allMu sync.Mutex

	started atomic.Int64
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func newArrivalPool(sched *vu.Scheduler, preAllocated, maxVUs int) *arrivalPool {
	p := &arrivalPool{
		sched:  sched,
		maxVUs: maxVUs,
		pool:   make(chan *vu.VU, maxVUs),
		all:    make([]*vu.VU, 0, maxVUs),
	}
	for i := 0; i < preAllocated; i++ {
		v := sched.SpawnVU()
		p.all = append(p.all, v)
		p.pool <- v
	}
	sched.Sink().SetActiveVUs(preAllocated)
	sched.Sink().SetMaxVUs(maxVUs)
	return p
}

// dispatch starts one iteration if a VU is free or the pool can grow,
// and otherwise drops it.
func (p *arrivalPool) dispatch(ctx context.Context) {
	v := p.acquire()
	if v == nil {
		p.dropped.Add(1)
		p.sched.Sink().RecordDropped(1)
		return
	}

	p.started.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(v)
		_ = v.RunIteration(ctx)
	}()
}

func (p *arrivalPool) acquire() *vu.VU {
	select {
	case v := <-p.pool:
		return v
	default:
	}

	p.allMu.Lock()
	defer p.allMu.Unlock()
	if len(p.all) < p.maxVUs {
		v := p.sched.SpawnVU()
		p.all = append(p.all, v)
		p.sched.Sink().SetActiveVUs(len(p.all))
		return v
	}
	return nil
}

func (p *arrivalPool) release(v *vu.VU) {
	if st := v.State(); st == vu.StateStopping || st == vu.StateStopped {
		return
	}
	select {
	case p.pool <- v:
	default:
	}
}

func (p *arrivalPool) size() int {
	p.allMu.Lock()
	defer p.allMu.Unlock()
	return len(p.all)
}

// drain waits out in-flight iterations, then retires the pool.
func (p *arrivalPool) drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}

	p.allMu.Lock()
	for _, v := range p.all {
		v.RequestStop()
		v.MarkStopped()
	}
	p.allMu.Unlock()
	p.sched.Sink().SetActiveVUs(0)
}
