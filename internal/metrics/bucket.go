package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucket is one interval of the run's time series: cumulative totals
// at bucket close plus rates computed over the interval itself.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRps"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 float64 `json:"latencyP50"`
	LatencyP95 float64 `json:"latencyP95"`
	LatencyP99 float64 `json:"latencyP99"`

	ActiveVUs int `json:"activeVUs"`
}

// TimeBucketStore keeps the run's time series in a bounded ring buffer.
//
// Requests are accumulated lock-free between bucket closes; the emitter
// closes one bucket per second. When the ring fills, the oldest buckets
// are overwritten, bounding memory for arbitrarily long runs.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int

	lastBucketTime time.Time

	currentRequests atomic.Int64
	currentFailures atomic.Int64
}

const defaultMaxBuckets = 3600

// NewTimeBucketStore creates a store retaining up to maxBuckets intervals.
// Zero or negative means the default of one hour at one-second buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = defaultMaxBuckets
	}
	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest accumulates one request into the open interval.
func (tbs *TimeBucketStore) RecordRequest(success bool) {
	tbs.currentRequests.Add(1)
	if !success {
		tbs.currentFailures.Add(1)
	}
}

// CreateBucket closes the open interval into a new bucket.
func (tbs *TimeBucketStore) CreateBucket(totalRequests, totalFailures int64, latency *TrendStats, activeVUs int) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	intervalRequests := tbs.currentRequests.Swap(0)
	intervalFailures := tbs.currentFailures.Swap(0)

	intervalSeconds := now.Sub(tbs.lastBucketTime).Seconds()
	if intervalSeconds <= 0 {
		intervalSeconds = 1.0
	}

	errorRate := 0.0
	if intervalRequests > 0 {
		errorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     totalRequests,
		TotalFailures:     totalFailures,
		IntervalRequests:  intervalRequests,
		IntervalRPS:       float64(intervalRequests) / intervalSeconds,
		IntervalErrorRate: errorRate,
		LatencyP50:        latency.Med,
		LatencyP95:        latency.P95,
		LatencyP99:        latency.P99,
		ActiveVUs:         activeVUs,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// Buckets returns all buckets in chronological order. The slice is a copy.
func (tbs *TimeBucketStore) Buckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	if tbs.count < tbs.maxBuckets {
		copy(result, tbs.buckets[:tbs.count])
	} else {
		for i := 0; i < tbs.count; i++ {
			result[i] = tbs.buckets[(tbs.head+i)%tbs.maxBuckets]
		}
	}
	return result
}

// Recent returns the n most recent buckets in chronological order.
func (tbs *TimeBucketStore) Recent(n int) []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if n > tbs.count {
		n = tbs.count
	}
	if n == 0 {
		return nil
	}

	result := make([]*TimeBucket, n)
	for i := 0; i < n; i++ {
		idx := (tbs.head - 1 - i + tbs.maxBuckets) % tbs.maxBuckets
		result[n-1-i] = tbs.buckets[idx]
	}
	return result
}

// RecentRPS averages the interval RPS over the n most recent buckets.
// Returns the average and how many buckets contributed.
func (tbs *TimeBucketStore) RecentRPS(n int) (float64, int) {
	recent := tbs.Recent(n)
	if len(recent) == 0 {
		return 0, 0
	}

	var total float64
	for _, b := range recent {
		total += b.IntervalRPS
	}
	return total / float64(len(recent)), len(recent)
}

// Count returns the number of stored buckets.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}
