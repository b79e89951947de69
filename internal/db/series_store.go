package db

import (
	"fmt"
	"time"

	"github.com/banshee-data/cropwatch/internal/anomaly"
	"github.com/banshee-data/cropwatch/internal/raster"
)

// IndexPoint is one stored observation of a region's index series.
type IndexPoint struct {
	RegionID   string           `json:"region_id"`
	Index      raster.IndexKind `json:"index"`
	WindowKey  string           `json:"window_key"`
	ObservedAt time.Time        `json:"observed_at"`
	Value      float64          `json:"value"`
}

// RecordIndexValue upserts one observation. Values outside [-1, 1] are a
// programming error upstream and are rejected before touching the database
// (the schema CHECK is the backstop).
func (db *DB) RecordIndexValue(p IndexPoint) error {
	if p.Value < -1 || p.Value > 1 {
		return fmt.Errorf("index value %f for %s/%s outside [-1, 1]", p.Value, p.RegionID, p.Index)
	}
	_, err := db.Exec(`INSERT INTO index_series (region_id, index_kind, window_key, observed_at, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (region_id, index_kind, window_key)
		DO UPDATE SET observed_at = excluded.observed_at, value = excluded.value`,
		p.RegionID, string(p.Index), p.WindowKey, p.ObservedAt.UTC(), p.Value)
	return persistErr("record index value", err)
}

// IndexHistory returns the series for one (region, index) oldest first,
// ready to seed a detector. limit <= 0 returns everything.
func (db *DB) IndexHistory(regionID string, index raster.IndexKind, limit int) ([]anomaly.Reading, error) {
	q := `SELECT observed_at, value FROM index_series
		WHERE region_id = ? AND index_kind = ?
		ORDER BY observed_at DESC`
	args := []any{regionID, string(index)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, persistErr("index history", err)
	}
	defer rows.Close()

	var newestFirst []anomaly.Reading
	for rows.Next() {
		var r anomaly.Reading
		if err := rows.Scan(&r.At, &r.Value); err != nil {
			return nil, persistErr("index history", err)
		}
		newestFirst = append(newestFirst, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("index history", err)
	}

	out := make([]anomaly.Reading, len(newestFirst))
	for i, r := range newestFirst {
		out[len(newestFirst)-1-i] = r
	}
	return out, nil
}
