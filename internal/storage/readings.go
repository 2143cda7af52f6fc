package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) CreateReading(ctx context.Context, rec ReadingRecord) (ReadingRecord, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO readings (id, sensor_id, ts, value, unit, value2, value3, quality, raw_payload, anomaly, anomaly_score, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.SensorID, rec.TS, rec.Value, rec.Unit, rec.Value2, rec.Value3, rec.Quality, rec.RawPayload, rec.Anomaly, rec.AnomalyScore, rec.CreatedAt,
	)
	if err != nil {
		return ReadingRecord{}, err
	}
	return rec, nil
}

func (r *Repository) ListReadings(ctx context.Context, sensorID string, limit int) ([]ReadingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, sensor_id, ts, value, unit, value2, value3, quality, anomaly, anomaly_score, created_at
		FROM readings WHERE sensor_id=$1 ORDER BY ts DESC LIMIT $2`, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []ReadingRecord{}
	for rows.Next() {
		var rec ReadingRecord
		if err := rows.Scan(&rec.ID, &rec.SensorID, &rec.TS, &rec.Value, &rec.Unit, &rec.Value2, &rec.Value3, &rec.Quality, &rec.Anomaly, &rec.AnomalyScore, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}
