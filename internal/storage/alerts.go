package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (r *Repository) CreateAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alerts (id, sensor_id, kind, message, severity, reading_value, threshold_value, acknowledged, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false,$8)`,
		rec.ID, rec.SensorID, rec.Kind, rec.Message, rec.Severity, rec.ReadingValue, rec.ThresholdValue, rec.CreatedAt,
	)
	if err != nil {
		return AlertRecord{}, err
	}
	return rec, nil
}

func (r *Repository) GetAlert(ctx context.Context, id string) (AlertRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, sensor_id, kind, message, severity, reading_value, threshold_value, acknowledged, acknowledged_by, acknowledged_at, created_at
		FROM alerts WHERE id=$1`, id)
	var rec AlertRecord
	if err := row.Scan(&rec.ID, &rec.SensorID, &rec.Kind, &rec.Message, &rec.Severity, &rec.ReadingValue, &rec.ThresholdValue, &rec.Acknowledged, &rec.AcknowledgedBy, &rec.AcknowledgedAt, &rec.CreatedAt); err != nil {
		return AlertRecord{}, ErrNotFound
	}
	return rec, nil
}

// LatestUnacknowledged returns the newest open alert for the (sensor, kind)
// pair; the deduplicator compares its creation time against the window.
func (r *Repository) LatestUnacknowledged(ctx context.Context, sensorID, kind string) (AlertRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, sensor_id, kind, message, severity, reading_value, threshold_value, acknowledged, acknowledged_by, acknowledged_at, created_at
		FROM alerts WHERE sensor_id=$1 AND kind=$2 AND acknowledged=false
		ORDER BY created_at DESC LIMIT 1`, sensorID, kind)
	var rec AlertRecord
	if err := row.Scan(&rec.ID, &rec.SensorID, &rec.Kind, &rec.Message, &rec.Severity, &rec.ReadingValue, &rec.ThresholdValue, &rec.Acknowledged, &rec.AcknowledgedBy, &rec.AcknowledgedAt, &rec.CreatedAt); err != nil {
		return AlertRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *Repository) AcknowledgeAlert(ctx context.Context, id, who string) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE alerts SET acknowledged=true, acknowledged_by=$2, acknowledged_at=now() WHERE id=$1`, id, who)
	return err
}

func (r *Repository) ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertRecord, error) {
	clauses := []string{}
	args := []any{}
	if filter.SensorID != "" {
		args = append(args, filter.SensorID)
		clauses = append(clauses, fmt.Sprintf("sensor_id=$%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		clauses = append(clauses, fmt.Sprintf("kind=$%d", len(args)))
	}
	if filter.Acknowledged != nil {
		args = append(args, *filter.Acknowledged)
		clauses = append(clauses, fmt.Sprintf("acknowledged=$%d", len(args)))
	}
	query := `
		SELECT id, sensor_id, kind, message, severity, reading_value, threshold_value, acknowledged, acknowledged_by, acknowledged_at, created_at
		FROM alerts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []AlertRecord{}
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.ID, &rec.SensorID, &rec.Kind, &rec.Message, &rec.Severity, &rec.ReadingValue, &rec.ThresholdValue, &rec.Acknowledged, &rec.AcknowledgedBy, &rec.AcknowledgedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}
