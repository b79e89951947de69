package raster

import (
	"fmt"
	"math"
)

// IndexKind names a spectral index.
type IndexKind string

const (
	IndexNDVI    IndexKind = "ndvi"     // vegetation vigour
	IndexNDSI    IndexKind = "ndsi"     // salinity proxy
	IndexSRVI    IndexKind = "srvi"     // normalized simple-ratio vegetation
	IndexRedEdge IndexKind = "red_edge" // chlorophyll stress
)

// IndexKinds lists every index the pipeline tracks, in reporting order.
var IndexKinds = []IndexKind{IndexNDVI, IndexNDSI, IndexSRVI, IndexRedEdge}

// normalizedDiff computes (a-b)/(a+b), NaN when the denominator vanishes.
// For non-negative reflectance inputs the result is always within [-1, 1].
func normalizedDiff(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	den := a + b
	if den == 0 {
		return math.NaN()
	}
	return (a - b) / den
}

// NDVI is (NIR-Red)/(NIR+Red).
func NDVI(red, nir float64) float64 { return normalizedDiff(nir, red) }

// NDSI is (Green-SWIR)/(Green+SWIR) with B11 as the SWIR band. High values
// over bare or sparse fields track surface salinity.
func NDSI(green, swir float64) float64 { return normalizedDiff(green, swir) }

// SRVI is the simple ratio NIR/Red mapped onto [-1, 1] via (r-1)/(r+1),
// which reduces to (NIR-Red)/(NIR+Red) and keeps the series comparable with
// the other indices.
func SRVI(red, nir float64) float64 { return normalizedDiff(nir, red) }

// RedEdge is (NIR-SWIR2)/(NIR+SWIR2), a chlorophyll stress proxy using the
// bands available in the canonical layout.
func RedEdge(nir, swir2 float64) float64 { return normalizedDiff(nir, swir2) }

// ValidateReflectance rejects planes whose finite values fall outside the
// plausible surface reflectance range. Values slightly above 1.0 occur over
// bright targets and are tolerated up to 1.5.
func ValidateReflectance(f *Frame) error {
	for b, plane := range f.Bands {
		for _, v := range plane {
			if math.IsNaN(float64(v)) {
				continue
			}
			if v < 0 || v > 1.5 {
				return fmt.Errorf("band %s: reflectance %f outside [0, 1.5]", BandOrder[b], v)
			}
		}
	}
	return nil
}

// IndexPlane computes a per-pixel index surface from a frame. NaN inputs
// propagate. Results are clamped to [-1, 1] to absorb float rounding.
func IndexPlane(f *Frame, kind IndexKind) ([]float64, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	n := f.Width * f.Height
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		green := float64(f.Bands[BandGreen][i])
		red := float64(f.Bands[BandRed][i])
		nir := float64(f.Bands[BandNIR][i])
		swir1 := float64(f.Bands[BandSWIR1][i])
		swir2 := float64(f.Bands[BandSWIR2][i])

		var v float64
		switch kind {
		case IndexNDVI:
			v = NDVI(red, nir)
		case IndexNDSI:
			v = NDSI(green, swir1)
		case IndexSRVI:
			v = SRVI(red, nir)
		case IndexRedEdge:
			v = RedEdge(nir, swir2)
		default:
			return nil, fmt.Errorf("unknown index %q", kind)
		}
		out[i] = clampUnit(v)
	}
	return out, nil
}

// MeanIndex is the mean of an index surface over its finite pixels, NaN when
// every pixel is masked.
func MeanIndex(plane []float64) float64 {
	sum, count := 0.0, 0
	for _, v := range plane {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
