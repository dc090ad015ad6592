package util

import (
	"math"
	"sync"
	"time"
)

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the standard deviation, minimum, maximum and mean of values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var squaredDiffs float64
	for _, v := range values {
		d := v - mean
		squaredDiffs += d * d
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(squaredDiffs / float64(len(values))), // population formula
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// DurationStats is NewStats over durations, expressed in milliseconds
func DurationStats(durations []time.Duration) Stats {
	values := make([]float64, len(durations))
	for i, d := range durations {
		values[i] = float64(d) / float64(time.Millisecond)
	}
	return NewStats(values)
}

// ----------------------------------------------------------------------------
// LatencyHistogram
// ----------------------------------------------------------------------------

// LatencyHistogram counts samples in exponentially growing buckets.
// Samples are plain int64 values, for latencies the unit is microseconds.
//
// Thread-safe: all methods are safe for concurrent use
type LatencyHistogram struct {
	mutex      sync.RWMutex
	boundaries []int64 // upper bound (inclusive) of every bucket but the last
	buckets    []int64 // one more than boundaries, the last one is open ended
	count      int64
	sum        int64
	max        int64
}

// NewLatencyHistogram creates a histogram with power-of-four boundaries from 16 up to 4^16
func NewLatencyHistogram() *LatencyHistogram {
	boundaries := make([]int64, 0, 15)
	for b := int64(16); len(boundaries) < 15; b *= 4 {
		boundaries = append(boundaries, b)
	}
	return &LatencyHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1),
	}
}

// Observe records the duration d in microseconds
func (h *LatencyHistogram) Observe(d time.Duration) {
	h.Add(d.Microseconds())
}

// Add records one sample
func (h *LatencyHistogram) Add(v int64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	idx := len(h.boundaries)
	for i, b := range h.boundaries {
		if v <= b {
			idx = i
			break
		}
	}

	h.buckets[idx]++
	h.count++
	h.sum += v
	h.max = max(h.max, v)
}

// Count returns the number of samples
func (h *LatencyHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// Mean returns the exact mean of all samples
func (h *LatencyHistogram) Mean() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / h.count
}

// Max returns the largest sample
func (h *LatencyHistogram) Max() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.max
}

// Percentile estimates the given percentile (0-100) from the bucket counts.
// The estimate is the midpoint of the bucket the percentile falls into.
func (h *LatencyHistogram) Percentile(p int) int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var cumulative int64
	for i, c := range h.buckets {
		cumulative += c
		if cumulative < target || c == 0 {
			continue
		}
		switch {
		case i == 0:
			return h.boundaries[0] / 2
		case i < len(h.boundaries):
			return (h.boundaries[i-1] + h.boundaries[i]) / 2
		default:
			// open bucket, the maximum is the best bound we have
			return h.max
		}
	}
	return h.max
}

// Distribution returns the bucket boundaries and the share of samples (in percent) per bucket
func (h *LatencyHistogram) Distribution() ([]int64, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	shares := make([]float64, len(h.buckets))
	if h.count == 0 {
		return h.boundaries, shares
	}
	for i, c := range h.buckets {
		shares[i] = float64(c) * 100.0 / float64(h.count)
	}
	return h.boundaries, shares
}

// Reset clears all samples
func (h *LatencyHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count, h.sum, h.max = 0, 0, 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
