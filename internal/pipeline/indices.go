package pipeline

import (
	"math"

	"github.com/banshee-data/cropwatch/internal/anomaly"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/raster"
)

type indexSum struct {
	sum float64
	n   int
}

// regionIndexSums accumulates every spectral index over the composite pixels
// whose centers fall inside the region polygon. Masked pixels carry NaN and
// are skipped, so a partly cloudy composite still yields a mean over what
// was actually seen.
func regionIndexSums(f *raster.Frame, tile geo.Tile, region *geo.Region) (map[raster.IndexKind]*indexSum, error) {
	out := make(map[raster.IndexKind]*indexSum, len(raster.IndexKinds))
	bounds := region.Geometry.Bounds()
	if !bounds.Intersects(tile.Bounds) {
		return out, nil
	}

	planes := make(map[raster.IndexKind][]float64, len(raster.IndexKinds))
	for _, k := range raster.IndexKinds {
		p, err := raster.IndexPlane(f, k)
		if err != nil {
			return nil, err
		}
		planes[k] = p
		out[k] = &indexSum{}
	}

	lonStep := (tile.Bounds.East - tile.Bounds.West) / float64(f.Width)
	latStep := (tile.Bounds.North - tile.Bounds.South) / float64(f.Height)
	for y := 0; y < f.Height; y++ {
		lat := tile.Bounds.North - (float64(y)+0.5)*latStep
		if lat < bounds.South || lat > bounds.North {
			continue
		}
		for x := 0; x < f.Width; x++ {
			lon := tile.Bounds.West + (float64(x)+0.5)*lonStep
			if lon < bounds.West || lon > bounds.East {
				continue
			}
			if !region.Geometry.Contains(lon, lat) {
				continue
			}
			i := y*f.Width + x
			for k, p := range planes {
				if v := p[i]; !math.IsNaN(v) {
					out[k].sum += v
					out[k].n++
				}
			}
		}
	}
	return out, nil
}

// salinityPoints collects the NDSI surface of a composite as weighted points
// for intrusion tracking. Only pixels inside the region whose NDSI exceeds
// the threshold contribute; the weight is the NDSI value itself.
func salinityPoints(f *raster.Frame, tile geo.Tile, region *geo.Region, threshold float64) ([]anomaly.WeightedPoint, error) {
	plane, err := raster.IndexPlane(f, raster.IndexNDSI)
	if err != nil {
		return nil, err
	}
	lonStep := (tile.Bounds.East - tile.Bounds.West) / float64(f.Width)
	latStep := (tile.Bounds.North - tile.Bounds.South) / float64(f.Height)

	var out []anomaly.WeightedPoint
	for y := 0; y < f.Height; y++ {
		lat := tile.Bounds.North - (float64(y)+0.5)*latStep
		for x := 0; x < f.Width; x++ {
			v := plane[y*f.Width+x]
			if math.IsNaN(v) || v <= threshold {
				continue
			}
			lon := tile.Bounds.West + (float64(x)+0.5)*lonStep
			if !region.Geometry.Contains(lon, lat) {
				continue
			}
			out = append(out, anomaly.WeightedPoint{Lon: lon, Lat: lat, Weight: v})
		}
	}
	return out, nil
}
