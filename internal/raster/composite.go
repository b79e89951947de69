package raster

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Composite policies.
const (
	PolicyMedian     = "median"
	PolicyMostRecent = "most_recent"
)

// Compositor reduces the observations of one time window into a single
// cloud-free frame. Masking happens before reduction: every input frame has
// ApplyMask run on it here, so occluded pixels never contribute.
type Compositor struct {
	Policy string
}

// NewCompositor validates the policy name.
func NewCompositor(policy string) (*Compositor, error) {
	switch policy {
	case PolicyMedian, PolicyMostRecent:
		return &Compositor{Policy: policy}, nil
	default:
		return nil, fmt.Errorf("unknown composite policy %q", policy)
	}
}

// Composite reduces frames into one. Inputs may arrive in any order; the
// result is deterministic for a given input set. Pixels with no clear
// observation in any frame stay NaN and keep a cloud SCL value. windowEnd is
// recorded as the composite acquisition time.
func (c *Compositor) Composite(frames []*Frame, windowEnd time.Time) (*Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("composite: no frames")
	}
	w, h := frames[0].Width, frames[0].Height
	for _, f := range frames {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if f.Width != w || f.Height != h {
			return nil, fmt.Errorf("composite: frame %s extent %dx%d does not match %dx%d",
				f.SceneID, f.Width, f.Height, w, h)
		}
		f.ApplyMask()
	}

	// Order newest first for most_recent, and to make median ties
	// independent of input order.
	ordered := make([]*Frame, len(frames))
	copy(ordered, frames)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Acquired.Equal(ordered[j].Acquired) {
			return ordered[i].Acquired.After(ordered[j].Acquired)
		}
		return ordered[i].SceneID < ordered[j].SceneID
	})

	out := NewFrame("composite", ordered[0].Tile, windowEnd, w, h)
	n := w * h
	nan := float32(math.NaN())
	samples := make([]float64, 0, len(ordered))

	for i := 0; i < n; i++ {
		for b := 0; b < NumBands; b++ {
			switch c.Policy {
			case PolicyMostRecent:
				v := nan
				for _, f := range ordered {
					if p := f.Bands[b][i]; !math.IsNaN(float64(p)) {
						v = p
						break
					}
				}
				out.Bands[b][i] = v
			case PolicyMedian:
				samples = samples[:0]
				for _, f := range ordered {
					if p := f.Bands[b][i]; !math.IsNaN(float64(p)) {
						samples = append(samples, float64(p))
					}
				}
				if len(samples) == 0 {
					out.Bands[b][i] = nan
					continue
				}
				out.Bands[b][i] = float32(median(samples))
			}
		}
		clear := false
		for _, f := range ordered {
			if !Occluded(f.SCL[i]) {
				clear = true
				break
			}
		}
		if clear {
			out.SCL[i] = ordered[0].SCL[i]
			if Occluded(out.SCL[i]) {
				// Keep a clear class when the newest frame was cloudy
				// but an older one contributed.
				out.SCL[i] = 4
			}
		} else {
			out.SCL[i] = 9
		}
	}
	return out, nil
}

// median averages the middle pair for even-length input.
func median(samples []float64) float64 {
	sort.Float64s(samples)
	n := len(samples)
	if n%2 == 1 {
		return samples[n/2]
	}
	return (samples[n/2-1] + samples[n/2]) / 2
}
