package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/cropwatch/internal/raster"
)

func parseIndexKind(s string) (raster.IndexKind, error) {
	for _, k := range raster.IndexKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown index %q", s)
}

// renderTile serves a stored composite as imagery: "rgb.png" for a
// true-color stretch, or "<index>.png" for a grayscale index surface.
func (s *Server) renderTile(w http.ResponseWriter, r *http.Request) {
	tile := r.PathValue("tile")
	window := r.PathValue("window")
	layer := r.PathValue("layer")
	if !strings.HasSuffix(layer, ".png") {
		s.writeJSONError(w, http.StatusBadRequest, "Tile layers are served as .png")
		return
	}
	layer = strings.TrimSuffix(layer, ".png")

	store := s.run.FrameStore()
	if !store.Exists(tile, window) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No composite for tile %q window %q", tile, window))
		return
	}
	frame, _, err := store.Read(tile, window)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read composite: %v", err))
		return
	}

	var png []byte
	if layer == "rgb" {
		png, err = raster.RenderRGB(frame)
	} else {
		var kind raster.IndexKind
		kind, err = parseIndexKind(layer)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		var plane []float64
		plane, err = raster.IndexPlane(frame, kind)
		if err == nil {
			png, err = raster.RenderIndexPNG(plane, frame.Width, frame.Height)
		}
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render tile: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
