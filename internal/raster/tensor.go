package raster

import (
	"fmt"
	"math"
)

// Tensor is the model input for one tile: bands x frames x height x width,
// row-major innermost. Frames are temporal composites ordered oldest first.
// NaN marks pixels with no clear observation in a window.
type Tensor struct {
	Bands  int
	Frames int
	Height int
	Width  int
	Data   []float32
}

// NewTensor allocates a NaN-filled tensor.
func NewTensor(bands, frames, h, w int) *Tensor {
	data := make([]float32, bands*frames*h*w)
	nan := float32(math.NaN())
	for i := range data {
		data[i] = nan
	}
	return &Tensor{Bands: bands, Frames: frames, Height: h, Width: w, Data: data}
}

// Stack assembles per-window composite frames into a model input tensor.
// Frames must share an extent and be ordered oldest first.
func Stack(frames []*Frame) (*Tensor, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("stack: no frames")
	}
	w, h := frames[0].Width, frames[0].Height
	for _, f := range frames {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if f.Width != w || f.Height != h {
			return nil, fmt.Errorf("stack: frame %s extent %dx%d does not match %dx%d",
				f.SceneID, f.Width, f.Height, w, h)
		}
	}
	t := NewTensor(NumBands, len(frames), h, w)
	for fi, f := range frames {
		for b := 0; b < NumBands; b++ {
			copy(t.plane(b, fi), f.Bands[b])
		}
	}
	return t, nil
}

func (t *Tensor) plane(band, frame int) []float32 {
	n := t.Height * t.Width
	off := (band*t.Frames + frame) * n
	return t.Data[off : off+n]
}

// At returns the value at (band, frame, y, x).
func (t *Tensor) At(band, frame, y, x int) float32 {
	return t.plane(band, frame)[y*t.Width+x]
}

// Set writes the value at (band, frame, y, x).
func (t *Tensor) Set(band, frame, y, x int, v float32) {
	t.plane(band, frame)[y*t.Width+x] = v
}

// Crop returns a copy of the rectangle [x0,x0+w) x [y0,y0+h) across all
// bands and frames. The rectangle must lie inside the tensor.
func (t *Tensor) Crop(x0, y0, w, h int) (*Tensor, error) {
	if x0 < 0 || y0 < 0 || x0+w > t.Width || y0+h > t.Height {
		return nil, fmt.Errorf("crop %d,%d %dx%d outside tensor %dx%d", x0, y0, w, h, t.Width, t.Height)
	}
	out := NewTensor(t.Bands, t.Frames, h, w)
	for b := 0; b < t.Bands; b++ {
		for f := 0; f < t.Frames; f++ {
			src := t.plane(b, f)
			dst := out.plane(b, f)
			for row := 0; row < h; row++ {
				copy(dst[row*w:(row+1)*w], src[(y0+row)*t.Width+x0:(y0+row)*t.Width+x0+w])
			}
		}
	}
	return out, nil
}
