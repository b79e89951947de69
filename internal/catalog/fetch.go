package catalog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/raster"
)

type processRequest struct {
	SceneID string     `json:"scene_id"`
	BBox    [4]float64 `json:"bbox"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Bands   []string   `json:"bands"`
	Units   string     `json:"units"`
}

// FetchFrame retrieves the canonical band set plus the SCL mask for one tile
// from one scene, resampled to the tile's pixel grid. The processing
// endpoint streams raw little-endian float32 planes in request band order
// followed by one byte per pixel of SCL.
func (c *Client) FetchFrame(ctx context.Context, tile geo.Tile, scene Scene) (*raster.Frame, error) {
	req := processRequest{
		SceneID: scene.ID,
		BBox:    [4]float64{tile.Bounds.West, tile.Bounds.South, tile.Bounds.East, tile.Bounds.North},
		Width:   tile.SizePx,
		Height:  tile.SizePx,
		Bands:   append(append([]string{}, raster.BandOrder...), "SCL"),
		Units:   "REFLECTANCE",
	}
	body, err := c.post(ctx, c.baseURL+"/api/v1/process", req, "application/octet-stream")
	if err != nil {
		return nil, err
	}

	n := tile.SizePx * tile.SizePx
	want := raster.NumBands*n*4 + n
	if len(body) != want {
		return nil, fmt.Errorf("catalog process: %d byte payload for scene %s, want %d",
			len(body), scene.ID, want)
	}

	f := raster.NewFrame(scene.ID, tile.ID.String(), scene.Acquired, tile.SizePx, tile.SizePx)
	r := bytes.NewReader(body)
	for b := range f.Bands {
		if err := binary.Read(r, binary.LittleEndian, f.Bands[b]); err != nil {
			return nil, fmt.Errorf("catalog process: decode band %s: %w", raster.BandOrder[b], err)
		}
	}
	if _, err := io.ReadFull(r, f.SCL); err != nil {
		return nil, fmt.Errorf("catalog process: decode SCL: %w", err)
	}
	if err := raster.ValidateReflectance(f); err != nil {
		return nil, fmt.Errorf("catalog process: scene %s: %w", scene.ID, err)
	}
	return f, nil
}
