package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cropwatch/internal/anomaly"
)

// StoredVector is an intrusion vector row. Only one vector per region is
// current at a time; older ones are kept with superseded = 1.
type StoredVector struct {
	VectorID  string                  `json:"vector_id"`
	RegionID  string                  `json:"region_id"`
	WindowKey string                  `json:"window_key"`
	Vector    anomaly.IntrusionVector `json:"vector"`
	CreatedAt time.Time               `json:"created_at"`
}

// InsertVector stores a freshly computed vector and supersedes any previous
// current vector for the region, in one transaction.
func (db *DB) InsertVector(regionID, windowKey string, v anomaly.IntrusionVector, createdAt time.Time) (string, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", persistErr("insert vector", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE intrusion_vectors SET superseded = 1
		WHERE region_id = ? AND superseded = 0`, regionID); err != nil {
		return "", persistErr("insert vector", err)
	}

	id := uuid.NewString()
	if _, err := tx.Exec(`INSERT INTO intrusion_vectors
		(vector_id, region_id, window_key, start_lon, start_lat, end_lon, end_lat,
		 bearing_deg, compass, magnitude_km, velocity_km_day,
		 observed_from, observed_to, superseded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		id, regionID, windowKey, v.Start[0], v.Start[1], v.End[0], v.End[1],
		v.BearingDeg, v.Compass, v.MagnitudeKm, v.VelocityKmDay,
		v.From.UTC(), v.To.UTC(), createdAt.UTC()); err != nil {
		return "", persistErr("insert vector", err)
	}
	if err := tx.Commit(); err != nil {
		return "", persistErr("insert vector", err)
	}
	return id, nil
}

// LatestVector returns the current (non superseded) vector for a region,
// or nil when none has been computed.
func (db *DB) LatestVector(regionID string) (*StoredVector, error) {
	row := db.QueryRow(`SELECT vector_id, region_id, window_key,
		start_lon, start_lat, end_lon, end_lat,
		bearing_deg, compass, magnitude_km, velocity_km_day,
		observed_from, observed_to, created_at
		FROM intrusion_vectors WHERE region_id = ? AND superseded = 0
		ORDER BY created_at DESC LIMIT 1`, regionID)

	var sv StoredVector
	err := row.Scan(&sv.VectorID, &sv.RegionID, &sv.WindowKey,
		&sv.Vector.Start[0], &sv.Vector.Start[1], &sv.Vector.End[0], &sv.Vector.End[1],
		&sv.Vector.BearingDeg, &sv.Vector.Compass, &sv.Vector.MagnitudeKm, &sv.Vector.VelocityKmDay,
		&sv.Vector.From, &sv.Vector.To, &sv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("latest vector", err)
	}
	return &sv, nil
}
