package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/cropwatch/internal/anomaly"
	"github.com/banshee-data/cropwatch/internal/db"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/raster"
	"github.com/banshee-data/cropwatch/internal/zonal"
)

type regionStatsResponse struct {
	RegionID      string            `json:"region_id"`
	WindowKey     string            `json:"window_key"`
	Classes       []zonal.ClassArea `json:"classes"`
	TotalHectares float64           `json:"total_hectares"`
}

// showRegionStats returns the crop breakdown for a region, defaulting to the
// most recent window with data. ?window= selects a specific one.
func (s *Server) showRegionStats(w http.ResponseWriter, r *http.Request) {
	regionID := r.PathValue("region")
	window := r.URL.Query().Get("window")
	if window == "" {
		latest, err := s.db.LatestWindowKey(regionID)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to resolve window: %v", err))
			return
		}
		if latest == "" {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No statistics for region %q", regionID))
			return
		}
		window = latest
	}

	areas, err := s.db.ZonalStats(regionID, window)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}
	if len(areas) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No statistics for region %q window %q", regionID, window))
		return
	}

	resp := regionStatsResponse{RegionID: regionID, WindowKey: window, Classes: areas}
	for _, a := range areas {
		resp.TotalHectares += a.Hectares
	}
	s.writeJSON(w, resp)
}

// showIndexSeries returns the stored observations for one (region, index),
// oldest first. ?limit= caps the series length.
func (s *Server) showIndexSeries(w http.ResponseWriter, r *http.Request) {
	regionID := r.PathValue("region")
	kind, err := parseIndexKind(r.PathValue("index"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
	}

	series, err := s.db.IndexHistory(regionID, kind, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve series: %v", err))
		return
	}
	s.writeJSON(w, series)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.AlertFilter{
		RegionID:    q.Get("region"),
		Kind:        q.Get("kind"),
		Severity:    q.Get("severity"),
		UnackedOnly: q.Get("unacked") == "1" || q.Get("unacked") == "true",
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'since' parameter, want RFC3339")
			return
		}
		filter.Since = t
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		filter.Limit = n
	}

	alerts, err := s.db.QueryAlerts(filter)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve alerts: %v", err))
		return
	}
	if alerts == nil {
		alerts = []db.Alert{}
	}
	s.writeJSON(w, alerts)
}

func (s *Server) ackAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	alert, err := s.db.GetAlert(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to look up alert: %v", err))
		return
	}
	if alert == nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No alert %q", id))
		return
	}
	if err := s.db.AcknowledgeAlert(id); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to acknowledge: %v", err))
		return
	}
	s.writeJSON(w, map[string]any{"alert_id": id, "acknowledged": true})
}

type regionStatusResponse struct {
	RegionID  string                       `json:"region_id"`
	WindowKey string                       `json:"window_key,omitempty"`
	Indices   map[raster.IndexKind]float64 `json:"indices,omitempty"`
	Trends    map[raster.IndexKind]float64 `json:"trends_per_day,omitempty"`
	Alerts    []db.Alert                   `json:"recent_alerts"`
	Vector    *db.StoredVector             `json:"vector,omitempty"`
}

// statusTrendDepth is how many trailing readings feed each per-index trend;
// statusTrendSmoothing is the moving-average width applied before the fit.
const (
	statusTrendDepth     = 10
	statusTrendSmoothing = 3
)

// showRegionStatus condenses a region's current picture: the latest value and
// recent slope of each index series, recent alerts, and the current intrusion
// vector.
func (s *Server) showRegionStatus(w http.ResponseWriter, r *http.Request) {
	regionID := r.PathValue("region")
	if _, ok := s.run.Regions().Get(regionID); !ok {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No region %q", regionID))
		return
	}
	windowKey, err := s.db.LatestWindowKey(regionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve window: %v", err))
		return
	}
	indices := make(map[raster.IndexKind]float64)
	trends := make(map[raster.IndexKind]float64)
	for _, kind := range raster.IndexKinds {
		hist, err := s.db.IndexHistory(regionID, kind, statusTrendDepth)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve series: %v", err))
			return
		}
		if len(hist) > 0 {
			indices[kind] = hist[len(hist)-1].Value
		}
		if slope, ok := anomaly.SmoothedTrend(hist, statusTrendSmoothing); ok {
			trends[kind] = slope
		}
	}
	alerts, err := s.db.QueryAlerts(db.AlertFilter{RegionID: regionID, Limit: 5})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve alerts: %v", err))
		return
	}
	if alerts == nil {
		alerts = []db.Alert{}
	}
	vector, err := s.db.LatestVector(regionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve vector: %v", err))
		return
	}
	s.writeJSON(w, regionStatusResponse{
		RegionID:  regionID,
		WindowKey: windowKey,
		Indices:   indices,
		Trends:    trends,
		Alerts:    alerts,
		Vector:    vector,
	})
}

func (s *Server) showVector(w http.ResponseWriter, r *http.Request) {
	regionID := r.PathValue("region")
	sv, err := s.db.LatestVector(regionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve vector: %v", err))
		return
	}
	if sv == nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No intrusion vector for region %q", regionID))
		return
	}
	s.writeJSON(w, sv)
}

type regionResponse struct {
	ID       string   `json:"region_id"`
	Name     string   `json:"name"`
	Level    string   `json:"level"`
	ParentID string   `json:"parent_region_id,omitempty"`
	Bounds   geo.BBox `json:"bounds"`
}

func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	all := s.run.Regions().All()
	out := make([]regionResponse, 0, len(all))
	for _, reg := range all {
		out = append(out, regionResponse{
			ID:       reg.ID,
			Name:     reg.Name,
			Level:    reg.Level.String(),
			ParentID: reg.ParentID,
			Bounds:   reg.Geometry.Bounds(),
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	id, err := s.sched.Trigger(region)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Failed to queue scan: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"run_id": id})
}

func (s *Server) showJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.db.GetRun(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}
	if run == nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No run %q", id))
		return
	}
	s.writeJSON(w, run)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	runs, err := s.db.RecentRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.writeJSON(w, runs)
}
