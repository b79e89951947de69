package db

import (
	"database/sql"
	"time"

	"github.com/banshee-data/cropwatch/internal/zonal"
)

// UpsertZonalStats replaces the class breakdown for one (region, window).
// Classes absent from the new breakdown are removed so a re-run after a
// model change does not leave stale rows behind.
func (db *DB) UpsertZonalStats(regionID, windowKey string, computedAt time.Time, areas []zonal.ClassArea) error {
	tx, err := db.Begin()
	if err != nil {
		return persistErr("upsert zonal stats", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM zonal_stats WHERE region_id = ? AND window_key = ?`,
		regionID, windowKey); err != nil {
		return persistErr("upsert zonal stats", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO zonal_stats
		(region_id, window_key, class_id, class_name, pixel_count, area_hectares, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return persistErr("upsert zonal stats", err)
	}
	defer stmt.Close()

	for _, a := range areas {
		if _, err := stmt.Exec(regionID, windowKey, a.ClassID, a.ClassName,
			a.Pixels, a.Hectares, computedAt.UTC()); err != nil {
			return persistErr("upsert zonal stats", err)
		}
	}
	return persistErr("upsert zonal stats", tx.Commit())
}

// ZonalStats returns the stored class breakdown for one (region, window),
// ordered by class ID. Empty when nothing has been aggregated yet.
func (db *DB) ZonalStats(regionID, windowKey string) ([]zonal.ClassArea, error) {
	rows, err := db.Query(`SELECT class_id, class_name, pixel_count, area_hectares
		FROM zonal_stats WHERE region_id = ? AND window_key = ?
		ORDER BY class_id`, regionID, windowKey)
	if err != nil {
		return nil, persistErr("zonal stats", err)
	}
	defer rows.Close()

	var out []zonal.ClassArea
	for rows.Next() {
		var a zonal.ClassArea
		if err := rows.Scan(&a.ClassID, &a.ClassName, &a.Pixels, &a.Hectares); err != nil {
			return nil, persistErr("zonal stats", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("zonal stats", err)
	}
	return out, nil
}

// LatestWindowKey returns the most recent window with stats for a region,
// or "" when none exist.
func (db *DB) LatestWindowKey(regionID string) (string, error) {
	var key string
	err := db.QueryRow(`SELECT window_key FROM zonal_stats WHERE region_id = ?
		ORDER BY window_key DESC LIMIT 1`, regionID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", persistErr("latest window", err)
	}
	return key, nil
}
