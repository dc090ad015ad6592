// Package util provides statistics helpers used to evaluate benchmark runs.
//
// The package contains:
//   - Stats: min, max, mean and standard deviation of a sample set
//   - LatencyHistogram: a thread-safe exponential bucket histogram for request latencies
//     and payload sizes, with mean and percentile estimators
package util
