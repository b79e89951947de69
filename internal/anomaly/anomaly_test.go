package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/banshee-data/cropwatch/internal/raster"
)

func series(vals ...float64) []Reading {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Reading, len(vals))
	for i, v := range vals {
		out[i] = Reading{At: base.AddDate(0, 0, 7*i), Value: v}
	}
	return out
}

func TestBaselineStats(t *testing.T) {
	b := Baseline{Window: 3}
	if _, _, ok := b.Stats(series(0.5, 0.5)); ok {
		t.Error("short series should not yield a baseline")
	}
	mean, std, ok := b.Stats(series(0.1, 0.4, 0.5, 0.6))
	if !ok {
		t.Fatal("expected baseline")
	}
	if math.Abs(mean-0.5) > 1e-9 {
		t.Errorf("mean = %f, want 0.5 over trailing window", mean)
	}
	if math.Abs(std-0.1) > 1e-9 {
		t.Errorf("std = %f, want 0.1", std)
	}
}

func TestDetectorDebouncesSingleSpike(t *testing.T) {
	d := NewDetector(raster.IndexNDVI, 7, 2.0, 2)
	d.Seed(series(0.60, 0.62, 0.58, 0.61, 0.59, 0.60, 0.62))

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := d.Observe(Reading{At: at, Value: 0.30})
	if a.State != Watch {
		t.Fatalf("first excursion state = %s, want watch", a.State)
	}
	if a.Severity != 0 {
		t.Error("watch readings carry no severity")
	}

	// Recovery resets the streak: no alert from an isolated spike.
	a = d.Observe(Reading{At: at.AddDate(0, 0, 7), Value: 0.60})
	if a.State != Nominal {
		t.Fatalf("recovered state = %s, want nominal", a.State)
	}
}

func TestDetectorAlertsOnConsecutiveExcursions(t *testing.T) {
	d := NewDetector(raster.IndexNDSI, 7, 2.0, 2)
	d.Seed(series(0.10, 0.12, 0.09, 0.11, 0.10, 0.12, 0.10))

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first := d.Observe(Reading{At: at, Value: 0.45})
	if first.State != Watch {
		t.Fatalf("first reading state = %s, want watch", first.State)
	}
	second := d.Observe(Reading{At: at.AddDate(0, 0, 7), Value: 0.46})
	if second.State != Alerting {
		t.Fatalf("second reading state = %s, want alerting", second.State)
	}
	if second.Severity < SeverityMedium {
		t.Errorf("alerting assessment has severity %v", second.Severity)
	}
	if second.Deviation <= 0 {
		t.Errorf("rising NDSI should deviate positive, got %f", second.Deviation)
	}
	if !second.Sustained {
		t.Error("a climbing excursion should read as sustained")
	}
}

func TestHoldsLevelSeparatesShiftsFromSpikes(t *testing.T) {
	tests := []struct {
		name string
		vals []float64
		n    int
		want bool
	}{
		{
			name: "monotone drop holds its level",
			vals: []float64{0.60, 0.61, 0.60, 0.59, 0.60, 0.40, 0.30, 0.20},
			n:    3,
			want: true,
		},
		{
			name: "spike already falling back",
			vals: []float64{0.10, 0.11, 0.10, 0.12, 0.60, 0.55, 0.20, 0.15},
			n:    3,
			want: false,
		},
		{
			name: "dip already recovering",
			vals: []float64{0.60, 0.61, 0.60, 0.59, 0.20, 0.25, 0.40, 0.45},
			n:    3,
			want: false,
		},
		{
			name: "baseline wiggle before the streak is ignored",
			vals: []float64{0.10, 0.12, 0.09, 0.11, 0.10, 0.12, 0.10, 0.45, 0.46},
			n:    2,
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := holdsLevel(tt.vals, tt.n); got != tt.want {
				t.Errorf("holdsLevel(%v, %d) = %v, want %v", tt.vals, tt.n, got, tt.want)
			}
		})
	}
}

func TestDetectorFlatSeriesNeverAlarms(t *testing.T) {
	d := NewDetector(raster.IndexNDVI, 3, 2.0, 2)
	d.Seed(series(0.5, 0.5, 0.5))
	a := d.Observe(Reading{At: time.Now(), Value: 0.9})
	if a.State != Nominal {
		t.Errorf("zero-variance baseline should stay nominal, got %s", a.State)
	}
}

func TestSeverityLadder(t *testing.T) {
	tests := []struct {
		dev  float64
		want Severity
	}{
		{2.1, SeverityMedium},
		{3.0, SeverityHigh},
		{3.9, SeverityHigh},
		{4.0, SeverityCritical},
		{7.5, SeverityCritical},
	}
	for _, tt := range tests {
		if got := severityFor(tt.dev, 2.0); got != tt.want {
			t.Errorf("severityFor(%f) = %s, want %s", tt.dev, got, tt.want)
		}
	}

	if SeverityMedium.Escalate() != SeverityHigh {
		t.Error("medium should escalate to high")
	}
	if SeverityCritical.Escalate() != SeverityCritical {
		t.Error("critical saturates")
	}
}

func TestTrend(t *testing.T) {
	if _, ok := Trend(series(0.5)); ok {
		t.Error("single reading should not yield a trend")
	}

	// 0.07 per weekly reading is 0.01 per day on an exact line.
	slope, ok := Trend(series(0.10, 0.17, 0.24, 0.31))
	if !ok {
		t.Fatal("expected a trend")
	}
	if math.Abs(slope-0.01) > 1e-9 {
		t.Errorf("slope = %f per day, want 0.01", slope)
	}

	slope, ok = Trend(series(0.80, 0.66, 0.52))
	if !ok {
		t.Fatal("expected a trend")
	}
	if math.Abs(slope-(-0.02)) > 1e-9 {
		t.Errorf("slope = %f per day, want -0.02", slope)
	}

	same := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := Trend([]Reading{{At: same, Value: 1}, {At: same, Value: 2}}); ok {
		t.Error("coincident timestamps should not yield a trend")
	}
}

func TestSmoothedTrend(t *testing.T) {
	if _, ok := SmoothedTrend(series(0.5), 3); ok {
		t.Error("single reading should not yield a trend")
	}

	// On the linear series the shrunken edge windows pull both endpoints
	// toward the middle, flattening the 0.01/day raw slope to 0.007.
	slope, ok := SmoothedTrend(series(0.10, 0.17, 0.24, 0.31), 3)
	if !ok {
		t.Fatal("expected a trend")
	}
	if math.Abs(slope-0.007) > 1e-9 {
		t.Errorf("slope = %f per day, want 0.007", slope)
	}
}

func TestSmoothAndPeaks(t *testing.T) {
	raw := []float64{0.1, 0.5, 0.2, 0.6, 0.1, 0.7, 0.2}
	smoothed := Smooth(raw, 3)
	if len(smoothed) != len(raw) {
		t.Fatal("smooth changed length")
	}
	// Centered average at index 1: (0.1+0.5+0.2)/3.
	if math.Abs(smoothed[1]-0.8/3) > 1e-9 {
		t.Errorf("smoothed[1] = %f", smoothed[1])
	}

	peaks := Peaks([]float64{0.1, 0.4, 0.2, 0.5, 0.3})
	if len(peaks) != 2 || peaks[0] != 1 || peaks[1] != 3 {
		t.Errorf("peaks = %v, want [1 3]", peaks)
	}
	valleys := Valleys([]float64{0.4, 0.1, 0.3, 0.0, 0.2})
	if len(valleys) != 2 || valleys[0] != 1 || valleys[1] != 3 {
		t.Errorf("valleys = %v, want [1 3]", valleys)
	}
}

func TestComputeIntrusionEastwardShift(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 10)

	before := []WeightedPoint{
		{Lon: 105.00, Lat: 9.50, Weight: 0.45},
		{Lon: 105.02, Lat: 9.50, Weight: 0.45},
		{Lon: 105.50, Lat: 9.50, Weight: 0.10}, // below threshold, ignored
	}
	after := []WeightedPoint{
		{Lon: 105.10, Lat: 9.50, Weight: 0.50},
		{Lon: 105.12, Lat: 9.50, Weight: 0.50},
	}

	v, ok := ComputeIntrusion(before, after, 0.30, from, to)
	if !ok {
		t.Fatal("expected a vector")
	}
	if math.Abs(v.Start[0]-105.01) > 1e-9 || math.Abs(v.End[0]-105.11) > 1e-9 {
		t.Errorf("centroids = %v -> %v", v.Start, v.End)
	}
	if math.Abs(v.BearingDeg-90) > 1.0 {
		t.Errorf("bearing = %f, want ~90 (east)", v.BearingDeg)
	}
	if v.Compass != "E" {
		t.Errorf("compass = %q, want E", v.Compass)
	}
	if v.MagnitudeKm < 10 || v.MagnitudeKm > 12 {
		t.Errorf("magnitude = %f km, want ~11", v.MagnitudeKm)
	}
	if math.Abs(v.VelocityKmDay-v.MagnitudeKm/10) > 1e-9 {
		t.Errorf("velocity = %f", v.VelocityKmDay)
	}
}

func TestComputeIntrusionNoFront(t *testing.T) {
	from := time.Now()
	pts := []WeightedPoint{{Lon: 105, Lat: 9.5, Weight: 0.1}}
	if _, ok := ComputeIntrusion(pts, pts, 0.3, from, from.AddDate(0, 0, 7)); ok {
		t.Error("all-below-threshold epochs should yield no vector")
	}
}
