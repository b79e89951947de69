package inference

import (
	"context"
	"fmt"

	"github.com/banshee-data/cropwatch/internal/raster"
)

// Orchestrator splits oversized tensors into grid-aligned model patches and
// stitches the per-patch argmax back into one class map. There is no patch
// overlap: every output pixel is decided by exactly one inference call.
type Orchestrator struct {
	cls   Classifier
	patch int
}

// NewOrchestrator wires a classifier and its patch edge.
func NewOrchestrator(cls Classifier, patchPx int) *Orchestrator {
	return &Orchestrator{cls: cls, patch: patchPx}
}

// Classify runs the model over the whole tensor. The tensor extent must be a
// multiple of the patch size in both axes; tiles are generated at exactly
// that granularity, so a violation means corrupted input.
func (o *Orchestrator) Classify(ctx context.Context, t *raster.Tensor) (*ClassMap, error) {
	w, h := t.Width, t.Height
	if w%o.patch != 0 || h%o.patch != 0 {
		return nil, &InputShapeError{
			Got:  fmt.Sprintf("%dx%d", w, h),
			Want: fmt.Sprintf("multiples of %d", o.patch),
		}
	}

	out := NewClassMap(w, h)
	for y0 := 0; y0 < h; y0 += o.patch {
		for x0 := 0; x0 < w; x0 += o.patch {
			patch, err := t.Crop(x0, y0, o.patch, o.patch)
			if err != nil {
				return nil, err
			}
			logits, err := o.cls.Infer(ctx, patch)
			if err != nil {
				return nil, fmt.Errorf("patch %d,%d: %w", x0, y0, err)
			}
			cm, err := logits.Argmax()
			if err != nil {
				return nil, fmt.Errorf("patch %d,%d: %w", x0, y0, err)
			}
			for row := 0; row < o.patch; row++ {
				copy(out.Classes[(y0+row)*w+x0:(y0+row)*w+x0+o.patch],
					cm.Classes[row*o.patch:(row+1)*o.patch])
			}
		}
	}
	return out, nil
}
