package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tile statuses, in pipeline order. no_data and aggregated are terminal;
// failed is terminal once attempts reach the configured ceiling.
const (
	StatusPending    = "pending"
	StatusFetching   = "fetching"
	StatusNoData     = "no_data"
	StatusComposited = "composited"
	StatusClassified = "classified"
	StatusAggregated = "aggregated"
	StatusFailed     = "failed"
)

// TileProgress is one row of the scan ledger.
type TileProgress struct {
	Region    string
	TileID    string
	WindowKey string
	Status    string
	Attempts  int
	Detail    string
	UpdatedAt time.Time
}

// Terminal reports whether a tile needs no further work this window.
func (p TileProgress) Terminal(maxAttempts int) bool {
	switch p.Status {
	case StatusAggregated, StatusNoData:
		return true
	case StatusFailed:
		return p.Attempts >= maxAttempts
	default:
		return false
	}
}

// SeedTiles inserts pending rows for every tile of a scan, leaving existing
// rows untouched so a rerun resumes instead of restarting. Runs in one
// transaction: either the whole grid is registered or none of it.
func (db *DB) SeedTiles(region, windowKey string, tileIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return persistErr("seed tiles", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO scan_progress (region, tile_id, window_key)
		VALUES (?, ?, ?)
		ON CONFLICT (region, tile_id, window_key) DO NOTHING`)
	if err != nil {
		return persistErr("seed tiles", err)
	}
	defer stmt.Close()

	for _, id := range tileIDs {
		if _, err := stmt.Exec(region, id, windowKey); err != nil {
			return persistErr("seed tiles", err)
		}
	}
	return persistErr("seed tiles", tx.Commit())
}

// MarkTile records a status transition.
func (db *DB) MarkTile(region, tileID, windowKey, status, detail string) error {
	res, err := db.Exec(`UPDATE scan_progress
		SET status = ?, detail = ?, updated_at = CURRENT_TIMESTAMP
		WHERE region = ? AND tile_id = ? AND window_key = ?`,
		status, detail, region, tileID, windowKey)
	if err != nil {
		return persistErr("mark tile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("mark tile", err)
	}
	if n == 0 {
		return persistErr("mark tile", fmt.Errorf("tile %s/%s/%s not seeded", region, tileID, windowKey))
	}
	return nil
}

// MarkTileFailed records a failure and bumps the attempt counter.
func (db *DB) MarkTileFailed(region, tileID, windowKey, detail string) error {
	_, err := db.Exec(`UPDATE scan_progress
		SET status = ?, detail = ?, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE region = ? AND tile_id = ? AND window_key = ?`,
		StatusFailed, detail, region, tileID, windowKey)
	return persistErr("mark tile failed", err)
}

// TileProgress fetches one ledger row.
func (db *DB) TileProgress(region, tileID, windowKey string) (*TileProgress, error) {
	var p TileProgress
	err := db.QueryRow(`SELECT region, tile_id, window_key, status, attempts, detail, updated_at
		FROM scan_progress WHERE region = ? AND tile_id = ? AND window_key = ?`,
		region, tileID, windowKey).
		Scan(&p.Region, &p.TileID, &p.WindowKey, &p.Status, &p.Attempts, &p.Detail, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("tile progress", err)
	}
	return &p, nil
}

// PendingTiles lists tiles that still need work: anything not terminal,
// including failed tiles below the attempt ceiling. Ordered by tile ID so
// resumed scans walk the grid in the same row-major order as fresh ones.
func (db *DB) PendingTiles(region, windowKey string, maxAttempts int) ([]TileProgress, error) {
	rows, err := db.Query(`SELECT region, tile_id, window_key, status, attempts, detail, updated_at
		FROM scan_progress
		WHERE region = ? AND window_key = ?
		  AND status NOT IN (?, ?)
		  AND NOT (status = ? AND attempts >= ?)
		ORDER BY tile_id`,
		region, windowKey, StatusAggregated, StatusNoData, StatusFailed, maxAttempts)
	if err != nil {
		return nil, persistErr("pending tiles", err)
	}
	defer rows.Close()

	var out []TileProgress
	for rows.Next() {
		var p TileProgress
		if err := rows.Scan(&p.Region, &p.TileID, &p.WindowKey, &p.Status, &p.Attempts, &p.Detail, &p.UpdatedAt); err != nil {
			return nil, persistErr("pending tiles", err)
		}
		out = append(out, p)
	}
	return out, persistErr("pending tiles", rows.Err())
}

// StatusCounts tallies tiles by status for one scan.
func (db *DB) StatusCounts(region, windowKey string) (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM scan_progress
		WHERE region = ? AND window_key = ? GROUP BY status`, region, windowKey)
	if err != nil {
		return nil, persistErr("status counts", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, persistErr("status counts", err)
		}
		out[status] = n
	}
	return out, persistErr("status counts", rows.Err())
}

// MissingTiles lists tiles that never reached aggregation, for the coverage
// line in reports.
func (db *DB) MissingTiles(region, windowKey string) ([]string, error) {
	rows, err := db.Query(`SELECT tile_id FROM scan_progress
		WHERE region = ? AND window_key = ? AND status != ?
		ORDER BY tile_id`, region, windowKey, StatusAggregated)
	if err != nil {
		return nil, persistErr("missing tiles", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("missing tiles", err)
		}
		out = append(out, id)
	}
	return out, persistErr("missing tiles", rows.Err())
}

// ResetRegion returns every tile of a scan to pending, discarding all
// resume state for the window. Backs the scan command's -no-resume flag.
func (db *DB) ResetRegion(region, windowKey string) (int64, error) {
	res, err := db.Exec(`UPDATE scan_progress
		SET status = ?, attempts = 0, detail = '', updated_at = CURRENT_TIMESTAMP
		WHERE region = ? AND window_key = ?`,
		StatusPending, region, windowKey)
	if err != nil {
		return 0, persistErr("reset region", err)
	}
	n, err := res.RowsAffected()
	return n, persistErr("reset region", err)
}

// ResetFailed returns failed tiles to pending and clears their attempt
// counters, for operator-driven retries after an outage.
func (db *DB) ResetFailed(region, windowKey string) (int64, error) {
	res, err := db.Exec(`UPDATE scan_progress
		SET status = ?, attempts = 0, detail = '', updated_at = CURRENT_TIMESTAMP
		WHERE region = ? AND window_key = ? AND status = ?`,
		StatusPending, region, windowKey, StatusFailed)
	if err != nil {
		return 0, persistErr("reset failed", err)
	}
	n, err := res.RowsAffected()
	return n, persistErr("reset failed", err)
}
