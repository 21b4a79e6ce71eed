package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// OpenQuery opens an existing index for queries without starting a writer.
func OpenQuery(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only=ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// RoomHistory returns sampled aggregates for one room in tick order.
// toTick 0 means no upper bound.
func RoomHistory(ctx context.Context, db *sql.DB, runID, roomID string, fromTick, toTick uint64, limit int) ([]RoomSampleRow, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	q := `SELECT tick, mode, atmosphere, flow_magnitude, bodies FROM room_samples
		WHERE run_id = ? AND room_id = ? AND tick >= ?`
	args := []any{runID, roomID, int64(fromTick)}
	if toTick > 0 {
		q += ` AND tick <= ?`
		args = append(args, int64(toTick))
	}
	q += ` ORDER BY tick ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("room history: %w", err)
	}
	defer rows.Close()

	var out []RoomSampleRow
	for rows.Next() {
		var r RoomSampleRow
		var tick int64
		if err := rows.Scan(&tick, &r.Mode, &r.Atmosphere, &r.FlowMagnitude, &r.Bodies); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func Runs(ctx context.Context, db *sql.DB) ([]RunRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT r.run_id, r.scene_digest, r.tuning_digest, r.started_at,
		COALESCE((SELECT MAX(t.tick) FROM ticks t WHERE t.run_id = r.run_id), 0)
		FROM runs r ORDER BY r.started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var last int64
		if err := rows.Scan(&r.RunID, &r.SceneDigest, &r.TuningDigest, &r.StartedAt, &last); err != nil {
			return nil, err
		}
		r.LastTick = uint64(last)
		out = append(out, r)
	}
	return out, rows.Err()
}

func Snapshots(ctx context.Context, db *sql.DB, runID string) ([]SnapshotRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id, tick, path, rooms, connectors, bodies
		FROM snapshots WHERE run_id = ? ORDER BY tick ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var tick int64
		if err := rows.Scan(&r.RunID, &tick, &r.Path, &r.Rooms, &r.Connectors, &r.Bodies); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}
