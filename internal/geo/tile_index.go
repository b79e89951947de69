package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TileIndexEntry records one tile's placement and the capture dates of the
// temporal frames composited for it. The index is what lets consumers map a
// classified raster back onto the globe.
type TileIndexEntry struct {
	TileID     string    `json:"tile_id"`
	Bounds     BBox      `json:"bounds"`
	CenterLon  float64   `json:"center_lon"`
	CenterLat  float64   `json:"center_lat"`
	FrameDates []string  `json:"frame_dates,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TileIndex is the persisted tile_index.json content for one region.
type TileIndex struct {
	Region      string                    `json:"region"`
	ResolutionM float64                   `json:"resolution_m"`
	Tiles       map[string]TileIndexEntry `json:"tiles"`
}

// NewTileIndex seeds an index from a generated grid.
func NewTileIndex(region string, tiles []Tile) *TileIndex {
	idx := &TileIndex{Region: region, Tiles: make(map[string]TileIndexEntry, len(tiles))}
	if len(tiles) > 0 {
		idx.ResolutionM = tiles[0].ResolutionM
	}
	for _, t := range tiles {
		idx.Tiles[t.ID.String()] = TileIndexEntry{
			TileID:    t.ID.String(),
			Bounds:    t.Bounds,
			CenterLon: t.CenterLon,
			CenterLat: t.CenterLat,
		}
	}
	return idx
}

// SetFrameDates records the composited frame dates for a tile.
func (idx *TileIndex) SetFrameDates(id TileID, dates []string, now time.Time) {
	e := idx.Tiles[id.String()]
	e.FrameDates = dates
	e.UpdatedAt = now.UTC()
	idx.Tiles[id.String()] = e
}

// WriteFile persists the index atomically: write to a temp file in the same
// directory, then rename over the target so a crash never leaves a torn file.
func (idx *TileIndex) WriteFile(path string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tile index: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tile_index-*.json")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename tile index: %w", err)
	}
	return nil
}

// ReadTileIndex loads a previously written index.
func ReadTileIndex(path string) (*TileIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tile index: %w", err)
	}
	var idx TileIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse tile index: %w", err)
	}
	if idx.Tiles == nil {
		idx.Tiles = make(map[string]TileIndexEntry)
	}
	return &idx, nil
}
