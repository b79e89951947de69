package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cropwatch/internal/anomaly"
	"github.com/banshee-data/cropwatch/internal/raster"
)

// Alert kinds correspond to the detector that raised them.
const (
	AlertSalinity   = "salinity_intrusion"
	AlertVegLoss    = "vegetation_loss"
	AlertIndexDrift = "index_drift"
)

type Alert struct {
	AlertID      string           `json:"alert_id"`
	RegionID     string           `json:"region_id"`
	Kind         string           `json:"kind"`
	WindowKey    string           `json:"window_key"`
	Severity     anomaly.Severity `json:"severity"`
	Index        raster.IndexKind `json:"index"`
	Deviation    float64          `json:"deviation"`
	Observed     float64          `json:"observed"`
	BaselineMean float64          `json:"baseline_mean"`
	BaselineStd  float64          `json:"baseline_std"`
	Message      string           `json:"message"`
	RaisedAt     time.Time        `json:"raised_at"`
	Acknowledged bool             `json:"acknowledged"`
}

// RaiseAlert inserts a new alert, or refreshes the existing one for the
// same (region, kind, window) with the latest measurements. Repeated
// detector runs over the same window collapse to one row whose severity,
// deviation and message track the most recent raise; alert_id, created_at
// and acknowledged survive from the first. Returns true when a new row was
// created.
func (db *DB) RaiseAlert(a Alert) (bool, error) {
	if a.AlertID == "" {
		a.AlertID = uuid.NewString()
	}
	var inserted bool
	err := db.QueryRow(`INSERT INTO alerts
		(alert_id, region_id, kind, window_key, severity, index_kind, deviation,
		 observed, baseline_mean, baseline_std, message, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (region_id, kind, window_key) DO UPDATE SET
			severity = excluded.severity,
			index_kind = excluded.index_kind,
			deviation = excluded.deviation,
			observed = excluded.observed,
			baseline_mean = excluded.baseline_mean,
			baseline_std = excluded.baseline_std,
			message = excluded.message
		RETURNING alert_id = ?`,
		a.AlertID, a.RegionID, a.Kind, a.WindowKey, a.Severity.String(), string(a.Index),
		a.Deviation, a.Observed, a.BaselineMean, a.BaselineStd, a.Message, a.RaisedAt.UTC(),
		a.AlertID).Scan(&inserted)
	if err != nil {
		return false, persistErr("raise alert", err)
	}
	return inserted, nil
}

// AcknowledgeAlert marks an alert as seen. Acknowledging an already
// acknowledged alert is a no-op; an unknown ID is an error.
func (db *DB) AcknowledgeAlert(alertID string) error {
	res, err := db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE alert_id = ?`, alertID)
	if err != nil {
		return persistErr("acknowledge alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("acknowledge alert", err)
	}
	if n == 0 {
		var exists int
		if err := db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE alert_id = ?`, alertID).Scan(&exists); err != nil {
			return persistErr("acknowledge alert", err)
		}
		if exists == 0 {
			return fmt.Errorf("no alert with id %q", alertID)
		}
	}
	return nil
}

// AlertFilter narrows QueryAlerts. Zero values mean "no constraint".
type AlertFilter struct {
	RegionID    string
	Kind        string
	Severity    string
	UnackedOnly bool
	Since       time.Time
	Limit       int
}

func (db *DB) QueryAlerts(f AlertFilter) ([]Alert, error) {
	var where []string
	var args []any
	if f.RegionID != "" {
		where = append(where, "region_id = ?")
		args = append(args, f.RegionID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.UnackedOnly {
		where = append(where, "acknowledged = 0")
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}

	q := `SELECT alert_id, region_id, kind, window_key, severity, index_kind,
		deviation, observed, baseline_mean, baseline_std, message, created_at, acknowledged
		FROM alerts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, persistErr("query alerts", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, persistErr("query alerts", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("query alerts", err)
	}
	return out, nil
}

// GetAlert returns nil when the ID is unknown.
func (db *DB) GetAlert(alertID string) (*Alert, error) {
	row := db.QueryRow(`SELECT alert_id, region_id, kind, window_key, severity, index_kind,
		deviation, observed, baseline_mean, baseline_std, message, created_at, acknowledged
		FROM alerts WHERE alert_id = ?`, alertID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get alert", err)
	}
	return &a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (Alert, error) {
	var a Alert
	var severity, index string
	err := r.Scan(&a.AlertID, &a.RegionID, &a.Kind, &a.WindowKey, &severity, &index,
		&a.Deviation, &a.Observed, &a.BaselineMean, &a.BaselineStd, &a.Message,
		&a.RaisedAt, &a.Acknowledged)
	if err != nil {
		return Alert{}, err
	}
	a.Severity = parseSeverity(severity)
	a.Index = raster.IndexKind(index)
	return a, nil
}

func parseSeverity(s string) anomaly.Severity {
	switch s {
	case "critical":
		return anomaly.SeverityCritical
	case "high":
		return anomaly.SeverityHigh
	default:
		return anomaly.SeverityMedium
	}
}
