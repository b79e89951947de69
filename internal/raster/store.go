package raster

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"path/filepath"
	"time"

	"github.com/banshee-data/cropwatch/internal/fsutil"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/security"
)

// FrameMeta is the JSON sidecar written next to each composite plane file.
type FrameMeta struct {
	Tile     string    `json:"tile_id"`
	Acquired time.Time `json:"window_end"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Bands    []string  `json:"bands"`
	BBox     geo.BBox  `json:"bbox"`
	CRS      string    `json:"crs"`
	Sources  []string  `json:"source_scenes,omitempty"`
}

// FrameStore persists composite frames under a root directory, one
// {tile}/{window}.bin plane file plus a .json sidecar each. Writes go to a
// temp file first and land by rename, so readers never see a partial frame.
type FrameStore struct {
	FS   fsutil.FileSystem
	Root string
}

// NewFrameStore creates a store rooted at dir.
func NewFrameStore(fs fsutil.FileSystem, dir string) *FrameStore {
	return &FrameStore{FS: fs, Root: dir}
}

// Tile and window values reach the store from request paths via the tile
// endpoints, so both are sanitized before touching the filesystem.
func (s *FrameStore) paths(tile, window string) (bin, meta string) {
	base := filepath.Join(s.Root, security.SanitizeFilename(tile), security.SanitizeFilename(window))
	return base + ".bin", base + ".json"
}

// Write stores a frame for the given tile and window key.
func (s *FrameStore) Write(f *Frame, bounds geo.BBox, window string, sources []string) error {
	if err := f.Validate(); err != nil {
		return err
	}
	binPath, metaPath := s.paths(f.Tile, window)
	if err := s.FS.MkdirAll(filepath.Dir(binPath), 0o755); err != nil {
		return fmt.Errorf("frame store mkdir: %w", err)
	}

	var buf bytes.Buffer
	for _, plane := range f.Bands {
		if err := binary.Write(&buf, binary.LittleEndian, plane); err != nil {
			return fmt.Errorf("encode plane: %w", err)
		}
	}
	buf.Write(f.SCL)

	meta := FrameMeta{
		Tile:     f.Tile,
		Acquired: f.Acquired,
		Width:    f.Width,
		Height:   f.Height,
		Bands:    BandOrder,
		BBox:     bounds,
		CRS:      "EPSG:4326",
		Sources:  sources,
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	// Plane file first, sidecar last: a sidecar on disk means the plane
	// file it describes is complete.
	if err := s.writeAtomic(binPath, buf.Bytes()); err != nil {
		return err
	}
	return s.writeAtomic(metaPath, metaData)
}

func (s *FrameStore) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := s.FS.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.FS.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Read loads a stored frame and its sidecar.
func (s *FrameStore) Read(tile, window string) (*Frame, *FrameMeta, error) {
	binPath, metaPath := s.paths(tile, window)
	metaData, err := s.FS.ReadFile(metaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read sidecar: %w", err)
	}
	var meta FrameMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nil, fmt.Errorf("parse sidecar: %w", err)
	}

	raw, err := s.FS.ReadFile(binPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read planes: %w", err)
	}
	n := meta.Width * meta.Height
	want := NumBands*n*4 + n
	if len(raw) != want {
		return nil, nil, fmt.Errorf("plane file %s: %d bytes, want %d", binPath, len(raw), want)
	}

	f := NewFrame("composite", meta.Tile, meta.Acquired, meta.Width, meta.Height)
	r := bytes.NewReader(raw)
	for b := range f.Bands {
		if err := binary.Read(r, binary.LittleEndian, f.Bands[b]); err != nil {
			return nil, nil, fmt.Errorf("decode plane %s: %w", BandOrder[b], err)
		}
	}
	if _, err := io.ReadFull(r, f.SCL); err != nil {
		return nil, nil, fmt.Errorf("decode SCL: %w", err)
	}
	return f, &meta, nil
}

// Exists reports whether a complete frame is on disk for tile and window.
func (s *FrameStore) Exists(tile, window string) bool {
	binPath, metaPath := s.paths(tile, window)
	return s.FS.Exists(binPath) && s.FS.Exists(metaPath)
}

// RenderRGB encodes a frame as a true-colour PNG. Reflectance is stretched
// by a fixed gain; masked pixels come out transparent.
func RenderRGB(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	const gain = 3.0
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := y*f.Width + x
			r := float64(f.Bands[BandRed][i])
			g := float64(f.Bands[BandGreen][i])
			b := float64(f.Bands[BandBlue][i])
			if math.IsNaN(r) || math.IsNaN(g) || math.IsNaN(b) {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: stretch(r, gain),
				G: stretch(g, gain),
				B: stretch(b, gain),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderIndexPNG encodes an index surface as a grayscale PNG, mapping
// [-1, 1] onto [0, 255]. NaN pixels come out transparent.
func RenderIndexPNG(plane []float64, w, h int) ([]byte, error) {
	if len(plane) != w*h {
		return nil, fmt.Errorf("index plane has %d pixels, want %d", len(plane), w*h)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := plane[y*w+x]
			if math.IsNaN(v) {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			g := uint8(math.Round((clampUnit(v) + 1) / 2 * 255))
			img.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func stretch(v, gain float64) uint8 {
	s := v * gain * 255
	if s < 0 {
		return 0
	}
	if s > 255 {
		return 255
	}
	return uint8(s)
}
