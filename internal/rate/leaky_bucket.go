// Package rate implements the iteration pacing used by the open-model
// executors.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket schedules iterations at a target rate.
//
// Rather than answering "how many tokens are available" like a token
// bucket, it answers "when should the next iteration start". That makes
// pacing smooth across rate changes: ramping the rate down never releases
// a burst of stored-up iterations, which matters when a ramp stage is
// specifically trying to ease load off a target.
//
// Safe for concurrent use; the arrival-rate executors call Wait from a
// single scheduling goroutine while a controller goroutine calls SetRate.
type LeakyBucket struct {
	mu          sync.Mutex
	rate        float64   // iterations per second
	lastDrip    time.Time // reference point for accumulation
	accumulated float64   // fractional iterations earned since lastDrip
	maxBurst    float64   // cap on accumulation, 1.0 means strict pacing

	scheduled     atomic.Int64
	totalWaitTime atomic.Int64 // nanoseconds
}

// NewLeakyBucket creates a bucket pacing at rate iterations per second.
// Rates at or below zero are clamped to 1/s. The first Next fires
// immediately.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, 1.0)
}

// NewLeakyBucketWithBurst creates a bucket that may accumulate up to
// maxBurst iterations while the consumer is slow, releasing them
// back-to-back once it catches up. maxBurst below 1.0 is clamped to 1.0.
func NewLeakyBucketWithBurst(rate float64, maxBurst float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1.0
	}
	if maxBurst < 1.0 {
		maxBurst = 1.0
	}
	return &LeakyBucket{
		rate:     rate,
		lastDrip: time.Now(),
		maxBurst: maxBurst,
	}
}

// Next returns the time the next iteration should start. A time in the
// past (or now) means the caller is behind schedule and should run
// immediately.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		// lastDrip can sit in the future after a scheduled wait.
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > lb.maxBurst {
		lb.accumulated = lb.maxBurst
	}

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		lb.lastDrip = now
		lb.scheduled.Add(1)
		return now
	}

	deficit := 1.0 - lb.accumulated
	next := now.Add(time.Duration(deficit / lb.rate * float64(time.Second)))

	// Anchor the next accumulation window at the scheduled time, not at
	// now. Anchoring at now would earn a full extra iteration during the
	// sleep and fire twice on wake.
	lb.accumulated = 0
	lb.lastDrip = next

	lb.scheduled.Add(1)
	lb.totalWaitTime.Add(int64(next.Sub(now)))
	return next
}

// Wait blocks until the next iteration should start or the context is
// cancelled.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	wait := time.Until(lb.Next())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the target rate. Accumulated credit is discarded so a
// ramp-down takes effect on the very next iteration instead of flushing
// a burst first. Rates at or below zero are clamped to 1/s.
func (lb *LeakyBucket) SetRate(rate float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if rate <= 0 {
		rate = 1.0
	}
	lb.rate = rate
	lb.accumulated = 0
	lb.lastDrip = time.Now()
}

// Rate returns the current target rate in iterations per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Reset clears pacing state and counters, as if freshly constructed.
func (lb *LeakyBucket) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.accumulated = 0
	lb.lastDrip = time.Now()
	lb.scheduled.Store(0)
	lb.totalWaitTime.Store(0)
}

// Stats reports pacing counters for progress displays.
func (lb *LeakyBucket) Stats() Stats {
	lb.mu.Lock()
	rate := lb.rate
	accumulated := lb.accumulated
	maxBurst := lb.maxBurst
	lb.mu.Unlock()

	return Stats{
		Rate:          rate,
		Accumulated:   accumulated,
		MaxBurst:      maxBurst,
		Scheduled:     lb.scheduled.Load(),
		TotalWaitTime: time.Duration(lb.totalWaitTime.Load()),
	}
}

// Stats is a point-in-time view of a bucket's pacing state.
type Stats struct {
	Rate          float64       `json:"rate"`
	Accumulated   float64       `json:"accumulated"`
	MaxBurst      float64       `json:"maxBurst"`
	Scheduled     int64         `json:"scheduled"`
	TotalWaitTime time.Duration `json:"totalWaitTime"`
}
