// Package mathx provides numerical helpers missing from package math
package mathx

import "math"

// LogSpace returns n values spaced evenly on a log scale from start to stop,
// inclusive.  start and stop must be positive.  The endpoints are returned
// exactly rather than through a round trip of log10 and pow.
func LogSpace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	out[0] = start
	if n == 1 {
		return out
	}
	lo, hi := math.Log10(start), math.Log10(stop)
	step := (hi - lo) / float64(n-1)
	for i := 1; i < n-1; i++ {
		out[i] = math.Pow(10, lo+float64(i)*step)
	}
	out[n-1] = stop
	return out
}
