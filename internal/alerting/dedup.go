package alerting

import (
	"context"
	"sync"
	"time"

	"infrasense-backend/internal/detect"
	"infrasense-backend/internal/storage"
)

const DefaultWindow = 15 * time.Minute

// AlertStore is the durable record of raised alerts. Implemented by
// storage.Repository and storage.MemoryStore.
type AlertStore interface {
	CreateAlert(ctx context.Context, rec storage.AlertRecord) (storage.AlertRecord, error)
	GetAlert(ctx context.Context, id string) (storage.AlertRecord, error)
	LatestUnacknowledged(ctx context.Context, sensorID, kind string) (storage.AlertRecord, error)
	AcknowledgeAlert(ctx context.Context, id, who string) error
	ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.AlertRecord, error)
}

type RaiseRequest struct {
	SensorID       string
	Kind           Kind
	Message        string
	Severity       detect.Severity
	ReadingValue   float64
	ThresholdValue *float64
}

// Deduplicator gates alert creation so that each (sensor, kind) pair holds
// at most one unacknowledged alert within the rolling window.
type Deduplicator struct {
	store  AlertStore
	window time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDeduplicator(store AlertStore, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		store:  store,
		window: window,
		locks:  map[string]*sync.Mutex{},
	}
}

// keyLock serializes the check-then-create sequence per (sensor, kind).
// Without it two concurrent breaches could both pass the lookup and insert
// duplicate alerts.
func (d *Deduplicator) keyLock(sensorID string, kind Kind) *sync.Mutex {
	key := sensorID + "|" + string(kind)
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}

// TryRaise persists a new unacknowledged alert unless one of the same
// (sensor, kind) was already created within the window. Suppression returns
// (nil, nil); it is an intentional outcome, not an error.
func (d *Deduplicator) TryRaise(ctx context.Context, req RaiseRequest) (*storage.AlertRecord, error) {
	lock := d.keyLock(req.SensorID, req.Kind)
	lock.Lock()
	defer lock.Unlock()

	last, err := d.store.LatestUnacknowledged(ctx, req.SensorID, string(req.Kind))
	if err == nil && time.Since(last.CreatedAt) < d.window {
		return nil, nil
	}
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}
	created, err := d.store.CreateAlert(ctx, storage.AlertRecord{
		SensorID:       req.SensorID,
		Kind:           string(req.Kind),
		Message:        req.Message,
		Severity:       string(req.Severity),
		ReadingValue:   req.ReadingValue,
		ThresholdValue: req.ThresholdValue,
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Acknowledge is idempotent from the caller's perspective: an already
// acknowledged alert returns its current state without a second write.
func (d *Deduplicator) Acknowledge(ctx context.Context, alertID, who string) (storage.AlertRecord, error) {
	rec, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		return storage.AlertRecord{}, err
	}
	if rec.Acknowledged {
		return rec, nil
	}
	if err := d.store.AcknowledgeAlert(ctx, alertID, who); err != nil {
		return storage.AlertRecord{}, err
	}
	return d.store.GetAlert(ctx, alertID)
}

func (d *Deduplicator) List(ctx context.Context, filter storage.AlertFilter) ([]storage.AlertRecord, error) {
	return d.store.ListAlerts(ctx, filter)
}
