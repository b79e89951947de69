// Package raster holds pixel-plane types for the pipeline: per-scene frames,
// cloud masking, multi-temporal composites, spectral indices, and on-disk
// persistence of composite tensors.
package raster

import "fmt"

// BandOrder is the canonical band layout of every frame and tensor. The
// model contract depends on this exact order.
var BandOrder = []string{"B02", "B03", "B04", "B8A", "B11", "B12"}

// Named positions in BandOrder.
const (
	BandBlue  = 0 // B02
	BandGreen = 1 // B03
	BandRed   = 2 // B04
	BandNIR   = 3 // B8A, narrow near-infrared
	BandSWIR1 = 4 // B11
	BandSWIR2 = 5 // B12
	NumBands  = 6
)

// BandIndex returns the position of a band name in BandOrder.
func BandIndex(name string) (int, error) {
	for i, b := range BandOrder {
		if b == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown band %q", name)
}

// Scene classification (SCL) values that mark a pixel as unusable for
// compositing. 3=cloud shadow, 8=cloud medium probability, 9=cloud high
// probability, 10=thin cirrus.
var occludedSCL = map[uint8]bool{3: true, 8: true, 9: true, 10: true}

// Occluded reports whether an SCL value is cloud or cloud shadow.
func Occluded(scl uint8) bool {
	return occludedSCL[scl]
}
