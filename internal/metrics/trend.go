package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// HDR histogram range shared by all trends. Values are stored as the
// metric's canonical unit times 1000 (microseconds for durations), so the
// range covers 1 microsecond to 1 hour at 3 significant figures.
const (
	histMin     = 1
	histMax     = 3600000000
	histSigFigs = 3
)

const trendShards = 8

// trendState is the aggregate behind a Trend handle.
//
// Recording is distributed round-robin over a small set of histograms,
// each behind its own mutex; queries merge the shards. HDR merge is
// associative and commutative, so shard totals always equal the totals
// a single histogram would have produced, while concurrent writers
// rarely contend on the same lock.
type trendState struct {
	next   atomic.Uint64
	shards [trendShards]struct {
		mu   sync.Mutex
		hist *hdrhistogram.Histogram
	}
}

func newTrendState() *trendState {
	ts := &trendState{}
	for i := range ts.shards {
		ts.shards[i].hist = hdrhistogram.New(histMin, histMax, histSigFigs)
	}
	return ts
}

// record stores one observation, clamped to the histogram range.
// HDR RecordValue is not thread-safe, so each shard holds its lock
// only for the single store.
func (ts *trendState) record(v int64) {
	if v < histMin {
		v = histMin
	}
	if v > histMax {
		v = histMax
	}

	shard := &ts.shards[ts.next.Add(1)%trendShards]
	shard.mu.Lock()
	shard.hist.RecordValue(v)
	shard.mu.Unlock()
}

// merged returns a histogram combining all shards.
func (ts *trendState) merged() *hdrhistogram.Histogram {
	out := hdrhistogram.New(histMin, histMax, histSigFigs)
	for i := range ts.shards {
		ts.shards[i].mu.Lock()
		out.Merge(ts.shards[i].hist)
		ts.shards[i].mu.Unlock()
	}
	return out
}

func (ts *trendState) count() int64 {
	var total int64
	for i := range ts.shards {
		ts.shards[i].mu.Lock()
		total += ts.shards[i].hist.TotalCount()
		ts.shards[i].mu.Unlock()
	}
	return total
}

// stats computes summary statistics over the merged distribution.
// Stored values are canonical*1000, so everything scales back by 1000.
func (ts *trendState) stats() *TrendStats {
	h := ts.merged()
	if h.TotalCount() == 0 {
		return &TrendStats{}
	}
	return &TrendStats{
		Count:  h.TotalCount(),
		Min:    float64(h.Min()) / 1000.0,
		Max:    float64(h.Max()) / 1000.0,
		Mean:   h.Mean() / 1000.0,
		StdDev: h.StdDev() / 1000.0,
		Med:    float64(h.ValueAtQuantile(50)) / 1000.0,
		P90:    float64(h.ValueAtQuantile(90)) / 1000.0,
		P95:    float64(h.ValueAtQuantile(95)) / 1000.0,
		P99:    float64(h.ValueAtQuantile(99)) / 1000.0,
	}
}
