package inference

import (
	"context"
	"fmt"

	"github.com/banshee-data/cropwatch/internal/raster"
)

// Classifier produces per-pixel class logits for a composite tensor.
// Implementations must reject tensors that do not match the model contract
// with an InputShapeError.
type Classifier interface {
	Infer(ctx context.Context, t *raster.Tensor) (*ClassLogits, error)
	NumClasses() int
	Version() string
}

// ClassLogits is the raw model output: classes x height x width, row-major.
type ClassLogits struct {
	Classes int
	Height  int
	Width   int
	Data    []float32
}

// At returns the logit for class c at pixel (x, y).
func (l *ClassLogits) At(c, x, y int) float32 {
	return l.Data[(c*l.Height+y)*l.Width+x]
}

// Validate checks the data length against the declared shape.
func (l *ClassLogits) Validate() error {
	want := l.Classes * l.Height * l.Width
	if len(l.Data) != want {
		return fmt.Errorf("logits: %d values for shape %dx%dx%d", len(l.Data), l.Classes, l.Height, l.Width)
	}
	return nil
}

// ClassMap is the per-pixel argmax classification of a tile.
type ClassMap struct {
	Width   int
	Height  int
	Classes []uint8
}

// NewClassMap allocates a zeroed (all unknown) class map.
func NewClassMap(w, h int) *ClassMap {
	return &ClassMap{Width: w, Height: h, Classes: make([]uint8, w*h)}
}

// At returns the class at pixel (x, y).
func (m *ClassMap) At(x, y int) uint8 {
	return m.Classes[y*m.Width+x]
}

// Argmax collapses logits to the winning class per pixel. Ties resolve to
// the lowest class ID, which keeps the result deterministic.
func (l *ClassLogits) Argmax() (*ClassMap, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	m := NewClassMap(l.Width, l.Height)
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			best, bestV := 0, l.At(0, x, y)
			for c := 1; c < l.Classes; c++ {
				if v := l.At(c, x, y); v > bestV {
					best, bestV = c, v
				}
			}
			m.Classes[y*l.Width+x] = uint8(best)
		}
	}
	return m, nil
}
