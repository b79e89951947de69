package raster

import (
	"fmt"
	"math"
	"time"
)

// Frame is one observation of a tile: all bands at one acquisition time plus
// the scene classification mask. Band planes are row-major Width*Height
// float32 surface reflectance in [0,1]. Masked pixels are NaN after
// ApplyMask.
type Frame struct {
	SceneID  string
	Tile     string
	Acquired time.Time
	Width    int
	Height   int
	Bands    [][]float32 // len(BandOrder) planes
	SCL      []uint8     // scene classification, same extent as a plane
}

// NewFrame allocates a zeroed frame for the canonical band set.
func NewFrame(sceneID, tile string, acquired time.Time, w, h int) *Frame {
	bands := make([][]float32, NumBands)
	for i := range bands {
		bands[i] = make([]float32, w*h)
	}
	return &Frame{
		SceneID:  sceneID,
		Tile:     tile,
		Acquired: acquired,
		Width:    w,
		Height:   h,
		Bands:    bands,
		SCL:      make([]uint8, w*h),
	}
}

// Validate checks plane counts and extents.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame %s: bad extent %dx%d", f.SceneID, f.Width, f.Height)
	}
	if len(f.Bands) != NumBands {
		return fmt.Errorf("frame %s: %d band planes, want %d", f.SceneID, len(f.Bands), NumBands)
	}
	n := f.Width * f.Height
	for i, plane := range f.Bands {
		if len(plane) != n {
			return fmt.Errorf("frame %s: band %s has %d pixels, want %d",
				f.SceneID, BandOrder[i], len(plane), n)
		}
	}
	if len(f.SCL) != n {
		return fmt.Errorf("frame %s: SCL has %d pixels, want %d", f.SceneID, len(f.SCL), n)
	}
	return nil
}

// ApplyMask overwrites cloud and shadow pixels with NaN in every band so that
// downstream reductions never see occluded reflectance. Masking always runs
// before compositing.
func (f *Frame) ApplyMask() {
	nan := float32(math.NaN())
	for i, scl := range f.SCL {
		if !Occluded(scl) {
			continue
		}
		for b := range f.Bands {
			f.Bands[b][i] = nan
		}
	}
}

// ClearFraction returns the fraction of pixels not flagged as cloud or
// shadow.
func (f *Frame) ClearFraction() float64 {
	if len(f.SCL) == 0 {
		return 0
	}
	clear := 0
	for _, scl := range f.SCL {
		if !Occluded(scl) {
			clear++
		}
	}
	return float64(clear) / float64(len(f.SCL))
}

// At returns the reflectance of band b at pixel (x, y).
func (f *Frame) At(b, x, y int) float32 {
	return f.Bands[b][y*f.Width+x]
}
