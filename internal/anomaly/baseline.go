// Package anomaly watches per-region index series for departures from a
// rolling baseline, debounces them through a small state machine, grades
// severity, and derives intrusion vectors from shifting salinity surfaces.
package anomaly

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Reading is one observation of an index series.
type Reading struct {
	At    time.Time
	Value float64
}

// Baseline computes rolling statistics over the trailing window of a series.
type Baseline struct {
	Window int
}

// Stats returns the mean and sample standard deviation of the last Window
// readings. ok is false until the series is long enough to say anything.
func (b Baseline) Stats(series []Reading) (mean, std float64, ok bool) {
	if len(series) < b.Window {
		return 0, 0, false
	}
	tail := series[len(series)-b.Window:]
	vals := make([]float64, len(tail))
	for i, r := range tail {
		vals[i] = r.Value
	}
	mean, std = stat.MeanStdDev(vals, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std, true
}

// Trend fits a least-squares line through the series and returns its slope
// in index units per day. ok is false with fewer than two readings or when
// all readings share a timestamp.
func Trend(series []Reading) (slopePerDay float64, ok bool) {
	if len(series) < 2 {
		return 0, false
	}
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	t0 := series[0].At
	flat := true
	for i, r := range series {
		xs[i] = r.At.Sub(t0).Hours() / 24
		ys[i] = r.Value
		if xs[i] != 0 {
			flat = false
		}
	}
	if flat {
		return 0, false
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope, true
}

// SmoothedTrend runs the series through a centered moving average of width
// k before fitting, so a single noisy reading cannot swing the slope.
func SmoothedTrend(series []Reading, k int) (slopePerDay float64, ok bool) {
	if len(series) < 2 {
		return 0, false
	}
	vals := make([]float64, len(series))
	for i, r := range series {
		vals[i] = r.Value
	}
	smoothed := Smooth(vals, k)
	fit := make([]Reading, len(series))
	for i, r := range series {
		fit[i] = Reading{At: r.At, Value: smoothed[i]}
	}
	return Trend(fit)
}

// Smooth is a centered moving average with window k (odd). Edges shrink the
// window rather than padding.
func Smooth(series []float64, k int) []float64 {
	if k < 2 {
		out := make([]float64, len(series))
		copy(out, series)
		return out
	}
	half := k / 2
	out := make([]float64, len(series))
	for i := range series {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi >= len(series) {
			hi = len(series) - 1
		}
		out[i] = stat.Mean(series[lo:hi+1], nil)
	}
	return out
}

// Peaks returns the indices of local maxima in a smoothed series. Valleys
// are Peaks of the negated series.
func Peaks(series []float64) []int {
	var out []int
	for i := 1; i < len(series)-1; i++ {
		if series[i] > series[i-1] && series[i] >= series[i+1] {
			out = append(out, i)
		}
	}
	return out
}

// Valleys returns the indices of local minima in a smoothed series.
func Valleys(series []float64) []int {
	neg := make([]float64, len(series))
	for i, v := range series {
		neg[i] = -v
	}
	return Peaks(neg)
}
