// Package zonal turns per-pixel class maps into per-region area statistics.
// Rasterization is point-in-polygon at pixel centers, so every pixel lands
// in at most one count per region and totals stay additive across tiles.
package zonal

import (
	"fmt"
	"sort"

	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/inference"
	"github.com/banshee-data/cropwatch/internal/units"
)

// ClassArea is the footprint of one crop class inside one region.
type ClassArea struct {
	ClassID   uint8   `json:"class_id"`
	ClassName string  `json:"class_name"`
	Pixels    int     `json:"pixel_count"`
	Hectares  float64 `json:"area_hectares"`
}

// Accumulator counts pixels per class. Zero value is not usable; make one
// with NewAccumulator.
type Accumulator map[uint8]int

// NewAccumulator returns an empty count set.
func NewAccumulator() Accumulator { return make(Accumulator) }

// Merge adds other's counts into a. Merging per-tile accumulators gives
// exactly the counts a single pass over all tiles would produce.
func (a Accumulator) Merge(other Accumulator) {
	for class, n := range other {
		a[class] += n
	}
}

// Areas converts counts to sorted ClassArea records at the given ground
// resolution.
func (a Accumulator) Areas(resolutionM float64) []ClassArea {
	perPixel := units.PixelAreaHectares(resolutionM)
	out := make([]ClassArea, 0, len(a))
	for class, n := range a {
		out = append(out, ClassArea{
			ClassID:   class,
			ClassName: inference.ClassName(class),
			Pixels:    n,
			Hectares:  float64(n) * perPixel,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out
}

// TilePixels is the total pixel count in an accumulator.
func (a Accumulator) TilePixels() int {
	total := 0
	for _, n := range a {
		total += n
	}
	return total
}

// Aggregate counts the pixels of a classified tile that fall inside the
// region's geometry, tested at pixel centers against the tile's bounds.
func Aggregate(m *inference.ClassMap, tile geo.Tile, region *geo.Region) (Accumulator, error) {
	if m.Width != tile.SizePx || m.Height != tile.SizePx {
		return nil, fmt.Errorf("class map %dx%d does not match tile %s (%d px)",
			m.Width, m.Height, tile.ID, tile.SizePx)
	}
	acc := NewAccumulator()

	// Cheap reject: tile fully outside the region's bounds.
	if !tile.Bounds.Intersects(region.Geometry.Bounds()) {
		return acc, nil
	}

	lonStep := (tile.Bounds.East - tile.Bounds.West) / float64(m.Width)
	latStep := (tile.Bounds.North - tile.Bounds.South) / float64(m.Height)
	for y := 0; y < m.Height; y++ {
		lat := tile.Bounds.North - (float64(y)+0.5)*latStep
		for x := 0; x < m.Width; x++ {
			lon := tile.Bounds.West + (float64(x)+0.5)*lonStep
			if !region.Geometry.Contains(lon, lat) {
				continue
			}
			acc[m.At(x, y)]++
		}
	}
	return acc, nil
}

// Coverage reports how much of a scan's tile set reached aggregation.
type Coverage struct {
	TilesTotal      int      `json:"tiles_total"`
	TilesAggregated int      `json:"tiles_aggregated"`
	MissingTiles    []string `json:"missing_tiles,omitempty"`
}

// String renders the canonical "N of M tiles" line for reports.
func (c Coverage) String() string {
	return fmt.Sprintf("%d of %d tiles", c.TilesAggregated, c.TilesTotal)
}

// Complete reports whether no tile is missing.
func (c Coverage) Complete() bool {
	return c.TilesAggregated == c.TilesTotal
}
