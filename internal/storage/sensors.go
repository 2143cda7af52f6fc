package storage

import (
	"context"
	"time"
)

func (r *Repository) GetSensor(ctx context.Context, id string) (SensorRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, code, unit, min_threshold, max_threshold, current_value, last_data_at, status
		FROM sensors WHERE id=$1`, id)
	var rec SensorRecord
	if err := row.Scan(&rec.ID, &rec.Code, &rec.Unit, &rec.MinThreshold, &rec.MaxThreshold, &rec.CurrentValue, &rec.LastDataAt, &rec.Status); err != nil {
		return SensorRecord{}, ErrNotFound
	}
	return rec, nil
}

// UpdateLiveness refreshes the cached current value and last-seen timestamp.
// The WHERE guard keeps a delayed reading from clobbering the cache with a
// stale measurement: latest timestamp wins, not last writer.
func (r *Repository) UpdateLiveness(ctx context.Context, id string, value float64, ts time.Time) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE sensors SET current_value=$2, last_data_at=$3, updated_at=now()
		WHERE id=$1 AND (last_data_at IS NULL OR last_data_at <= $3)`, id, value, ts)
	return err
}

func (r *Repository) SetSensorStatus(ctx context.Context, id string, status SensorStatus) error {
	_, err := r.Store.Pool.Exec(ctx, `UPDATE sensors SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	return err
}

func (r *Repository) ListStaleSensors(ctx context.Context, olderThan time.Time) ([]SensorRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, code, unit, min_threshold, max_threshold, current_value, last_data_at, status
		FROM sensors
		WHERE last_data_at IS NOT NULL AND last_data_at < $1 AND status NOT IN ($2,$3)`,
		olderThan, StatusOffline, StatusDecommissioned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []SensorRecord{}
	for rows.Next() {
		var rec SensorRecord
		if err := rows.Scan(&rec.ID, &rec.Code, &rec.Unit, &rec.MinThreshold, &rec.MaxThreshold, &rec.CurrentValue, &rec.LastDataAt, &rec.Status); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}
