package anomaly

import (
	"fmt"
	"math"

	"github.com/banshee-data/cropwatch/internal/raster"
)

// State of a watched series.
type State int

const (
	// Nominal: inside the baseline band.
	Nominal State = iota
	// Watch: one out-of-band reading; not yet worth an alert.
	Watch
	// Alerting: enough consecutive out-of-band readings to raise.
	Alerting
)

func (s State) String() string {
	switch s {
	case Nominal:
		return "nominal"
	case Watch:
		return "watch"
	case Alerting:
		return "alerting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Severity of a raised anomaly.
type Severity int

const (
	SeverityMedium Severity = iota + 1
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Escalate bumps severity one level, saturating at critical. Applied when
// several indices of the same region trip together.
func (s Severity) Escalate() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// Assessment is the outcome of feeding one reading into a detector.
type Assessment struct {
	Index     raster.IndexKind
	State     State
	Observed  float64
	Mean      float64
	Std       float64
	Deviation float64 // signed distance from the mean, in sigmas
	Severity  Severity
	// Sustained is set for alerting assessments: the smoothed series is
	// still holding its excursion rather than already turning back.
	Sustained bool
}

// OutOfBand reports whether the reading sat outside the baseline band.
func (a Assessment) OutOfBand() bool {
	return a.State != Nominal
}

// Detector tracks one index series for one region. Not safe for concurrent
// use; the pipeline owns one detector per (region, index).
type Detector struct {
	Index       raster.IndexKind
	Sigma       float64 // band half-width, in standard deviations
	Consecutive int     // out-of-band readings required to alert

	baseline Baseline
	history  []Reading
	state    State
	streak   int
}

// NewDetector builds a detector with the given baseline window.
func NewDetector(index raster.IndexKind, window int, sigma float64, consecutive int) *Detector {
	return &Detector{
		Index:       index,
		Sigma:       sigma,
		Consecutive: consecutive,
		baseline:    Baseline{Window: window},
	}
}

// Seed preloads history without evaluating it, for warm restarts from the
// series store.
func (d *Detector) Seed(series []Reading) {
	d.history = append(d.history, series...)
}

// State returns the current FSM state.
func (d *Detector) State() State { return d.state }

// Observe feeds one reading. The baseline is computed over history before
// this reading, so a value cannot mask itself. A reading inside the band
// always returns the detector to Nominal.
func (d *Detector) Observe(r Reading) Assessment {
	mean, std, ok := d.baseline.Stats(d.history)
	d.history = append(d.history, r)

	a := Assessment{Index: d.Index, Observed: r.Value, Mean: mean, Std: std}
	if !ok || std == 0 {
		// Not enough signal to judge; flat series never alarm.
		d.state = Nominal
		d.streak = 0
		a.State = d.state
		return a
	}

	a.Deviation = (r.Value - mean) / std
	if math.Abs(a.Deviation) < d.Sigma {
		d.state = Nominal
		d.streak = 0
	} else {
		d.streak++
		if d.streak >= d.Consecutive {
			d.state = Alerting
		} else {
			d.state = Watch
		}
	}
	a.State = d.state
	if d.state == Alerting {
		a.Severity = severityFor(math.Abs(a.Deviation), d.Sigma)
		a.Sustained = d.sustainedShift()
	}
	return a
}

// smoothWindow is the moving-average width used to judge regime shifts.
const smoothWindow = 3

// sustainedShift reports whether the smoothed series is still holding its
// excursion. A spike that has begun reverting leaves a local extremum
// inside the current out-of-band streak; a genuine regime shift keeps all
// the extrema behind it.
func (d *Detector) sustainedShift() bool {
	vals := make([]float64, len(d.history))
	for i, r := range d.history {
		vals[i] = r.Value
	}
	return holdsLevel(vals, d.streak)
}

// holdsLevel smooths vals and checks that no local peak or valley falls
// within the last n positions.
func holdsLevel(vals []float64, n int) bool {
	sm := Smooth(vals, smoothWindow)
	cut := len(sm) - n
	for _, i := range append(Peaks(sm), Valleys(sm)...) {
		if i >= cut {
			return false
		}
	}
	return true
}

// severityFor grades by how far past the band a deviation lands: inside one
// extra sigma is medium, two is high, beyond that critical.
func severityFor(absDev, sigma float64) Severity {
	switch {
	case absDev >= sigma+2:
		return SeverityCritical
	case absDev >= sigma+1:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
