package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements the same surface as Repository without a database.
// It backs unit tests and local development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []ReadingRecord
	sensors  map[string]SensorRecord
	alerts   []AlertRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sensors: map[string]SensorRecord{}}
}

func (s *MemoryStore) PutSensor(rec SensorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[rec.ID] = rec
}

func (s *MemoryStore) CreateReading(ctx context.Context, rec ReadingRecord) (ReadingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	s.readings = append(s.readings, rec)
	return rec, nil
}

func (s *MemoryStore) ListReadings(ctx context.Context, sensorID string, limit int) ([]ReadingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	results := []ReadingRecord{}
	for i := len(s.readings) - 1; i >= 0 && len(results) < limit; i-- {
		if s.readings[i].SensorID == sensorID {
			results = append(results, s.readings[i])
		}
	}
	return results, nil
}

func (s *MemoryStore) GetSensor(ctx context.Context, id string) (SensorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sensors[id]
	if !ok {
		return SensorRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) UpdateLiveness(ctx context.Context, id string, value float64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sensors[id]
	if !ok {
		return ErrNotFound
	}
	if rec.LastDataAt != nil && rec.LastDataAt.After(ts) {
		return nil
	}
	rec.CurrentValue = &value
	rec.LastDataAt = &ts
	s.sensors[id] = rec
	return nil
}

func (s *MemoryStore) SetSensorStatus(ctx context.Context, id string, status SensorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sensors[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	s.sensors[id] = rec
	return nil
}

func (s *MemoryStore) ListStaleSensors(ctx context.Context, olderThan time.Time) ([]SensorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := []SensorRecord{}
	for _, rec := range s.sensors {
		if rec.LastDataAt == nil || !rec.LastDataAt.Before(olderThan) {
			continue
		}
		if rec.Status == StatusOffline || rec.Status == StatusDecommissioned {
			continue
		}
		results = append(results, rec)
	}
	return results, nil
}

func (s *MemoryStore) CreateAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	rec.Acknowledged = false
	s.alerts = append(s.alerts, rec)
	return rec, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.alerts {
		if rec.ID == id {
			return rec, nil
		}
	}
	return AlertRecord{}, ErrNotFound
}

func (s *MemoryStore) LatestUnacknowledged(ctx context.Context, sensorID, kind string) (AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.alerts) - 1; i >= 0; i-- {
		rec := s.alerts[i]
		if rec.SensorID == sensorID && rec.Kind == kind && !rec.Acknowledged {
			return rec, nil
		}
	}
	return AlertRecord{}, ErrNotFound
}

func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id, who string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.alerts {
		if rec.ID == id {
			now := time.Now().UTC()
			rec.Acknowledged = true
			rec.AcknowledgedBy = &who
			rec.AcknowledgedAt = &now
			s.alerts[i] = rec
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := []AlertRecord{}
	for i := len(s.alerts) - 1; i >= 0; i-- {
		rec := s.alerts[i]
		if filter.SensorID != "" && rec.SensorID != filter.SensorID {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		if filter.Acknowledged != nil && rec.Acknowledged != *filter.Acknowledged {
			continue
		}
		matched = append(matched, rec)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if filter.Offset >= len(matched) {
		return []AlertRecord{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
