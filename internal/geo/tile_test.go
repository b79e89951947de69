package geo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGridDeterministic(t *testing.T) {
	region := BBox{West: 104.5, South: 8.5, East: 107.0, North: 11.5}

	first, err := Grid(region, 6720, 30)
	if err != nil {
		t.Fatalf("grid generation failed: %v", err)
	}
	second, err := Grid(region, 6720, 30)
	if err != nil {
		t.Fatalf("grid regeneration failed: %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("regenerated grid differs (-first +second):\n%s", diff)
	}
}

func TestGridCoversRegion(t *testing.T) {
	region := BBox{West: 104.5, South: 8.5, East: 107.0, North: 11.5}
	tiles, err := Grid(region, 6720, 30)
	if err != nil {
		t.Fatalf("grid generation failed: %v", err)
	}
	if len(tiles) == 0 {
		t.Fatal("expected non-empty grid")
	}

	// Row-major ordering from the southwest corner.
	if tiles[0].ID != (TileID{Row: 0, Col: 0}) {
		t.Errorf("first tile = %v, want r0_c0", tiles[0].ID)
	}
	prev := tiles[0]
	for _, tile := range tiles[1:] {
		if tile.ID.Row < prev.ID.Row {
			t.Fatalf("tiles not row-major: %v after %v", tile.ID, prev.ID)
		}
		if tile.ID.Row == prev.ID.Row && tile.ID.Col != prev.ID.Col+1 {
			t.Fatalf("column gap within row: %v after %v", tile.ID, prev.ID)
		}
		prev = tile
	}

	// Every tile must intersect the region, and the union must reach its
	// corners. Edge tiles overhanging the box is accepted.
	var north, east float64
	for _, tile := range tiles {
		if !tile.Bounds.Intersects(region) {
			t.Errorf("tile %v does not intersect region", tile.ID)
		}
		north = max(north, tile.Bounds.North)
		east = max(east, tile.Bounds.East)
	}
	if north < region.North {
		t.Errorf("grid reaches lat %f, region extends to %f", north, region.North)
	}
	if east < region.East {
		t.Errorf("grid reaches lon %f, region extends to %f", east, region.East)
	}

	// Tile pixel size follows from edge length and resolution.
	if tiles[0].SizePx != 224 {
		t.Errorf("tile size = %dpx, want 224", tiles[0].SizePx)
	}
}

func TestGridRejectsBadInput(t *testing.T) {
	if _, err := Grid(BBox{West: 10, South: 5, East: 9, North: 6}, 6720, 30); err == nil {
		t.Error("expected error for inverted bbox")
	}
	if _, err := Grid(BBox{West: 1, South: 1, East: 2, North: 2}, 0, 30); err == nil {
		t.Error("expected error for zero tile edge")
	}
	if _, err := Grid(BBox{West: 1, South: 1, East: 2, North: 2}, 6720, -1); err == nil {
		t.Error("expected error for negative resolution")
	}
}

func TestTileIDRoundTrip(t *testing.T) {
	id := TileID{Row: 3, Col: 12}
	if id.String() != "r0003_c0012" {
		t.Errorf("String() = %q, want r0003_c0012", id.String())
	}
	parsed, err := ParseTileID(id.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip = %v, want %v", parsed, id)
	}
	if _, err := ParseTileID("tile-7"); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestGridDims(t *testing.T) {
	region := BBox{West: 104.5, South: 8.5, East: 107.0, North: 11.5}
	tiles, err := Grid(region, 6720, 30)
	if err != nil {
		t.Fatalf("grid generation failed: %v", err)
	}
	rows, cols := GridDims(region, 6720)

	maxRow, maxCol := 0, 0
	for _, tile := range tiles {
		maxRow = max(maxRow, tile.ID.Row)
		maxCol = max(maxCol, tile.ID.Col)
	}
	if rows != maxRow+1 {
		t.Errorf("GridDims rows = %d, grid has %d", rows, maxRow+1)
	}
	if cols < maxCol+1 {
		t.Errorf("GridDims cols = %d, grid has %d", cols, maxCol+1)
	}
}
