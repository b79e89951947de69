package geo

import (
	"fmt"
	"math"

	"github.com/banshee-data/cropwatch/internal/units"
)

// TileID identifies a tile by its row-major grid position within a region.
type TileID struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// String formats the ID the way tiles are named on disk and in the progress
// store, e.g. "r0003_c0012".
func (id TileID) String() string {
	return fmt.Sprintf("r%04d_c%04d", id.Row, id.Col)
}

// ParseTileID parses the "r0003_c0012" form back into a TileID.
func ParseTileID(s string) (TileID, error) {
	var id TileID
	if _, err := fmt.Sscanf(s, "r%04d_c%04d", &id.Row, &id.Col); err != nil {
		return TileID{}, fmt.Errorf("malformed tile id %q: %w", s, err)
	}
	return id, nil
}

// Tile is one fixed-size square patch of a region grid, the unit of
// acquisition and processing.
type Tile struct {
	ID          TileID  `json:"tile_id"`
	Bounds      BBox    `json:"bounds"`
	CenterLon   float64 `json:"center_lon"`
	CenterLat   float64 `json:"center_lat"`
	ResolutionM float64 `json:"resolution_m"`
	SizePx      int     `json:"size_px"`
}

// Grid partitions a bounding box into square tiles of edge tileEdgeM meters
// at resolutionM meters per pixel, row-major from the southwest corner.
//
// The grid is a pure function of its inputs: regenerating it for the same
// region and resolution always yields identical tile IDs and bounds, which is
// what lets an interrupted scan resume against a stored grid. The longitude
// step is widened by 1/cos(lat) per row so tiles keep roughly constant ground
// size away from the equator. Edge tiles may overhang the requested box.
func Grid(region BBox, tileEdgeM, resolutionM float64) ([]Tile, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if tileEdgeM <= 0 || resolutionM <= 0 {
		return nil, fmt.Errorf("tile edge (%f) and resolution (%f) must be positive", tileEdgeM, resolutionM)
	}
	sizePx := int(math.Round(tileEdgeM / resolutionM))
	if sizePx < 1 {
		return nil, fmt.Errorf("tile edge %fm is smaller than one pixel at %fm resolution", tileEdgeM, resolutionM)
	}

	latStep := tileEdgeM / units.MetersPerDegreeLat

	var tiles []Tile
	lat := region.South
	for row := 0; lat < region.North; row++ {
		centerLat := lat + latStep/2
		lonStep := tileEdgeM / units.MetersPerDegreeLon(centerLat)

		lon := region.West
		for col := 0; lon < region.East; col++ {
			tiles = append(tiles, Tile{
				ID: TileID{Row: row, Col: col},
				Bounds: BBox{
					West:  lon,
					South: lat,
					East:  lon + lonStep,
					North: lat + latStep,
				},
				CenterLon:   lon + lonStep/2,
				CenterLat:   centerLat,
				ResolutionM: resolutionM,
				SizePx:      sizePx,
			})
			lon += lonStep
		}
		lat += latStep
	}
	return tiles, nil
}

// GridDims returns the row and column counts Grid would produce without
// materialising the tiles.
func GridDims(region BBox, tileEdgeM float64) (rows, cols int) {
	latStep := tileEdgeM / units.MetersPerDegreeLat
	rows = int(math.Ceil((region.North - region.South) / latStep))

	// Columns vary per row; report the widest (southernmost rows for the
	// northern hemisphere, narrowest lonStep wins).
	cols = 0
	lat := region.South
	for r := 0; r < rows; r++ {
		lonStep := tileEdgeM / units.MetersPerDegreeLon(lat+latStep/2)
		c := int(math.Ceil((region.East - region.West) / lonStep))
		if c > cols {
			cols = c
		}
		lat += latStep
	}
	return rows, cols
}
