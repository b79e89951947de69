package pipeline

import (
	"fmt"
	"math"

	"github.com/banshee-data/cropwatch/internal/anomaly"
	"github.com/banshee-data/cropwatch/internal/catalog"
	"github.com/banshee-data/cropwatch/internal/db"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/monitoring"
	"github.com/banshee-data/cropwatch/internal/raster"
)

// evaluateRegion records the window's index means and runs the anomaly
// detectors over each series. Detectors are rebuilt from the stored history
// every run; the streak of recent out-of-band readings is replayed through
// the FSM so alerting state survives restarts. When more than one index is
// alerting for the same region the severities escalate one step.
func (r *Runner) evaluateRegion(regionID string, window catalog.TimeWindow, means map[raster.IndexKind]float64) ([]db.Alert, error) {
	var assessments []anomaly.Assessment
	for _, kind := range raster.IndexKinds {
		mean, ok := means[kind]
		if !ok || math.IsNaN(mean) {
			continue
		}

		prior, err := r.db.IndexHistory(regionID, kind, 0)
		if err != nil {
			return nil, err
		}
		// A rerun of the same window has already stored this reading;
		// keep only what came before so it cannot judge itself.
		trimmed := prior[:0]
		for _, rd := range prior {
			if rd.At.Before(window.To) {
				trimmed = append(trimmed, rd)
			}
		}

		det := anomaly.NewDetector(kind, r.cfg.GetBaselineWindow(),
			r.cfg.GetDeviationSigma(), r.cfg.GetConsecutiveReadings())
		tail := r.cfg.GetConsecutiveReadings()
		if tail > len(trimmed) {
			tail = len(trimmed)
		}
		det.Seed(trimmed[:len(trimmed)-tail])
		for _, rd := range trimmed[len(trimmed)-tail:] {
			det.Observe(rd)
		}
		a := det.Observe(anomaly.Reading{At: window.To, Value: mean})

		if err := r.db.RecordIndexValue(db.IndexPoint{
			RegionID:   regionID,
			Index:      kind,
			WindowKey:  window.Key(),
			ObservedAt: window.To,
			Value:      mean,
		}); err != nil {
			return nil, err
		}
		if a.State == anomaly.Alerting {
			if !a.Sustained {
				monitoring.Logf("holding %s %s alert: excursion already turning back", regionID, kind)
				continue
			}
			assessments = append(assessments, a)
		}
	}
	if len(assessments) == 0 {
		return nil, nil
	}

	escalate := len(assessments) > 1
	var raised []db.Alert
	for _, a := range assessments {
		sev := a.Severity
		if escalate {
			sev = sev.Escalate()
		}
		alert := db.Alert{
			RegionID:     regionID,
			Kind:         alertKind(a),
			WindowKey:    window.Key(),
			Severity:     sev,
			Index:        a.Index,
			Deviation:    a.Deviation,
			Observed:     a.Observed,
			BaselineMean: a.Mean,
			BaselineStd:  a.Std,
			Message: fmt.Sprintf("%s %s at %.3f, %.1f sigma from baseline %.3f",
				regionID, a.Index, a.Observed, a.Deviation, a.Mean),
			RaisedAt: r.clock.Now().UTC(),
		}
		inserted, err := r.db.RaiseAlert(alert)
		if err != nil {
			return nil, err
		}
		if inserted {
			monitoring.Logf("alert %s %s %s (%s)", regionID, alert.Kind, window.Key(), sev)
			raised = append(raised, alert)
		}
	}
	return raised, nil
}

func alertKind(a anomaly.Assessment) string {
	switch {
	case a.Index == raster.IndexNDSI && a.Deviation > 0:
		return db.AlertSalinity
	case a.Index == raster.IndexNDVI && a.Deviation < 0:
		return db.AlertVegLoss
	default:
		return db.AlertIndexDrift
	}
}

// computeIntrusions derives a movement vector for every salinity alert by
// comparing the weighted centroid of saline pixels in the previous window's
// composites against the current ones. Regions without a stored previous
// window are skipped; a vector cannot be drawn from one epoch.
func (r *Runner) computeIntrusions(alerts []db.Alert, tiles []geo.Tile, window catalog.TimeWindow) (int, error) {
	prev := catalog.TimeWindow{
		From: window.From.AddDate(0, 0, -r.cfg.GetWindowDays()),
		To:   window.From,
	}
	threshold := r.cfg.GetSalinityNDSILimit()

	count := 0
	for _, alert := range alerts {
		if alert.Kind != db.AlertSalinity {
			continue
		}
		region, ok := r.regions.Get(alert.RegionID)
		if !ok {
			continue
		}

		var before, after []anomaly.WeightedPoint
		for _, tile := range tiles {
			if !region.Geometry.Bounds().Intersects(tile.Bounds) {
				continue
			}
			id := tile.ID.String()
			if r.frames.Exists(id, prev.Key()) {
				f, _, err := r.frames.Read(id, prev.Key())
				if err != nil {
					return count, err
				}
				pts, err := salinityPoints(f, tile, region, threshold)
				if err != nil {
					return count, err
				}
				before = append(before, pts...)
			}
			if r.frames.Exists(id, window.Key()) {
				f, _, err := r.frames.Read(id, window.Key())
				if err != nil {
					return count, err
				}
				pts, err := salinityPoints(f, tile, region, threshold)
				if err != nil {
					return count, err
				}
				after = append(after, pts...)
			}
		}

		v, ok := anomaly.ComputeIntrusion(before, after, threshold, prev.To, window.To)
		if !ok {
			continue
		}
		if _, err := r.db.InsertVector(alert.RegionID, window.Key(), v, r.clock.Now().UTC()); err != nil {
			return count, err
		}
		monitoring.Logf("intrusion %s: %.1f km %s at %.2f km/day",
			alert.RegionID, v.MagnitudeKm, v.Compass, v.VelocityKmDay)
		count++
	}
	return count, nil
}
