package anomaly

import (
	"time"

	"github.com/banshee-data/cropwatch/internal/units"
)

// WeightedPoint is a georeferenced index sample: position plus the index
// value acting as its weight.
type WeightedPoint struct {
	Lon    float64
	Lat    float64
	Weight float64
}

// IntrusionVector describes how a saline surface moved between two
// observations: the displacement of the deviation-weighted centroid of
// above-threshold pixels.
type IntrusionVector struct {
	Start         [2]float64 `json:"start"` // lon, lat
	End           [2]float64 `json:"end"`
	BearingDeg    float64    `json:"bearing_deg"`
	Compass       string     `json:"compass"`
	MagnitudeKm   float64    `json:"magnitude_km"`
	VelocityKmDay float64    `json:"velocity_km_per_day"`
	From          time.Time  `json:"observed_from"`
	To            time.Time  `json:"observed_to"`
}

// ComputeIntrusion derives the vector between two sample sets. Points at or
// below the threshold are ignored; if either epoch has no point above it
// there is no front to track and ok is false.
func ComputeIntrusion(before, after []WeightedPoint, threshold float64, from, to time.Time) (IntrusionVector, bool) {
	c1, ok1 := weightedCentroid(before, threshold)
	c2, ok2 := weightedCentroid(after, threshold)
	if !ok1 || !ok2 {
		return IntrusionVector{}, false
	}

	v := IntrusionVector{
		Start:       c1,
		End:         c2,
		BearingDeg:  units.BearingDegrees(c1[0], c1[1], c2[0], c2[1]),
		MagnitudeKm: units.HaversineKm(c1[0], c1[1], c2[0], c2[1]),
		From:        from,
		To:          to,
	}
	v.Compass = units.CompassDirection(v.BearingDeg)
	if days := to.Sub(from).Hours() / 24; days > 0 {
		v.VelocityKmDay = v.MagnitudeKm / days
	}
	return v, true
}

func weightedCentroid(points []WeightedPoint, threshold float64) ([2]float64, bool) {
	var sumW, sumLon, sumLat float64
	for _, p := range points {
		if p.Weight <= threshold {
			continue
		}
		sumW += p.Weight
		sumLon += p.Lon * p.Weight
		sumLat += p.Lat * p.Weight
	}
	if sumW == 0 {
		return [2]float64{}, false
	}
	return [2]float64{sumLon / sumW, sumLat / sumW}, true
}
