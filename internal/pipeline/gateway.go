package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"infrasense-backend/internal/alerting"
	"infrasense-backend/internal/detect"
	"infrasense-backend/internal/fanout"
	"infrasense-backend/internal/storage"
)

const (
	defaultItemTimeout = 10 * time.Second
	maxRawPayloadBytes = 64 * 1024
)

// SensorRegistry is the read-mostly calibration source. The pipeline reads
// thresholds and writes back only the cached value, last-seen timestamp and
// the OFFLINE→ACTIVE flip.
type SensorRegistry interface {
	GetSensor(ctx context.Context, id string) (storage.SensorRecord, error)
	UpdateLiveness(ctx context.Context, id string, value float64, ts time.Time) error
	SetSensorStatus(ctx context.Context, id string, status storage.SensorStatus) error
}

type ReadingStore interface {
	CreateReading(ctx context.Context, rec storage.ReadingRecord) (storage.ReadingRecord, error)
	ListReadings(ctx context.Context, sensorID string, limit int) ([]storage.ReadingRecord, error)
}

type EventPublisher interface {
	PublishReading(reading storage.ReadingRecord, sensor fanout.SensorContext)
	PublishAlert(alert storage.AlertRecord, sensor fanout.SensorContext)
	PublishStatusChange(sensorID string, oldStatus, newStatus storage.SensorStatus, reason string)
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string { return e.Message }

type IngestItem struct {
	SensorID   string     `json:"sensorId"`
	Value      float64    `json:"value"`
	TS         *time.Time `json:"ts,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	Value2     *float64   `json:"value2,omitempty"`
	Value3     *float64   `json:"value3,omitempty"`
	Quality    string     `json:"quality,omitempty"`
	RawPayload []byte     `json:"rawPayload,omitempty"`
}

// Gateway orchestrates the ingestion pipeline: calibration lookup, threshold
// evaluation, reading persistence, alert raising, fan-out and the registry
// liveness update.
type Gateway struct {
	log         *slog.Logger
	readings    ReadingStore
	sensors     SensorRegistry
	dedup       *alerting.Deduplicator
	publisher   EventPublisher
	itemTimeout time.Duration
	sensorLocks *keyedMutex
}

func NewGateway(log *slog.Logger, readings ReadingStore, sensors SensorRegistry, dedup *alerting.Deduplicator, publisher EventPublisher, itemTimeout time.Duration) *Gateway {
	if itemTimeout <= 0 {
		itemTimeout = defaultItemTimeout
	}
	return &Gateway{
		log:         log.With(slog.String("component", "ingest")),
		readings:    readings,
		sensors:     sensors,
		dedup:       dedup,
		publisher:   publisher,
		itemTimeout: itemTimeout,
		sensorLocks: newKeyedMutex(),
	}
}

var allowedQuality = map[string]bool{"GOOD": true, "SUSPECT": true, "BAD": true}

func validate(item IngestItem) *ValidationError {
	if item.SensorID == "" {
		return &ValidationError{Code: "MISSING_SENSOR_ID", Message: "sensorId is required"}
	}
	if math.IsNaN(item.Value) || math.IsInf(item.Value, 0) {
		return &ValidationError{Code: "INVALID_VALUE", Message: "value must be a finite number"}
	}
	if len(item.RawPayload) > maxRawPayloadBytes {
		return &ValidationError{Code: "PAYLOAD_TOO_LARGE", Message: fmt.Sprintf("raw payload exceeds %d bytes", maxRawPayloadBytes)}
	}
	if item.Quality != "" && !allowedQuality[item.Quality] {
		return &ValidationError{Code: "INVALID_QUALITY", Message: fmt.Sprintf("quality %q is not one of GOOD, SUSPECT, BAD", item.Quality)}
	}
	return nil
}

// IngestOne processes a single reading end to end. The returned error is
// either a *ValidationError, storage.ErrNotFound for an unknown sensor, or a
// persistence failure; fan-out problems never surface here.
func (g *Gateway) IngestOne(ctx context.Context, item IngestItem) (*storage.ReadingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, g.itemTimeout)
	defer cancel()

	if verr := validate(item); verr != nil {
		return nil, verr
	}
	sensor, err := g.sensors.GetSensor(ctx, item.SensorID)
	if err != nil {
		return nil, err
	}

	eval := detect.Evaluate(item.Value, sensor.MinThreshold, sensor.MaxThreshold)

	ts := time.Now().UTC()
	if item.TS != nil {
		ts = item.TS.UTC()
	}
	unit := item.Unit
	if unit == "" {
		unit = sensor.Unit
	}
	rec := storage.ReadingRecord{
		SensorID:   sensor.ID,
		TS:         ts,
		Value:      item.Value,
		Unit:       unit,
		Value2:     item.Value2,
		Value3:     item.Value3,
		Quality:    item.Quality,
		RawPayload: item.RawPayload,
		Anomaly:    eval.Breach,
	}
	if eval.Breach {
		score := eval.Score
		rec.AnomalyScore = &score
	}
	created, err := g.readings.CreateReading(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist reading: %w", err)
	}

	sc := fanout.SensorContext{ID: sensor.ID, Code: sensor.Code, Unit: sensor.Unit}
	if eval.Breach {
		if err := g.raiseBreachAlert(ctx, sensor, item.Value, eval, sc); err != nil {
			return nil, err
		}
	}
	g.publisher.PublishReading(created, sc)
	g.updateLiveness(ctx, sensor, item.Value, ts)
	return &created, nil
}

// IngestBatch processes items independently: a failed item is logged and
// excluded from the result, it neither aborts its siblings nor surfaces a
// per-item cause.
func (g *Gateway) IngestBatch(ctx context.Context, items []IngestItem) []storage.ReadingRecord {
	results := make([]storage.ReadingRecord, 0, len(items))
	for i, item := range items {
		created, err := g.IngestOne(ctx, item)
		if err != nil {
			g.log.Error("batch item failed",
				slog.Int("index", i), slog.String("sensor", item.SensorID), slog.Any("err", err))
			continue
		}
		results = append(results, *created)
	}
	if len(results) < len(items) {
		g.log.Info("batch completed with failures",
			slog.Int("requested", len(items)), slog.Int("ingested", len(results)))
	}
	return results
}

func (g *Gateway) raiseBreachAlert(ctx context.Context, sensor storage.SensorRecord, value float64, eval detect.Evaluation, sc fanout.SensorContext) error {
	message := alerting.BuildMessage(alerting.KindThresholdBreach, alerting.MessageContext{
		SensorCode: sensor.Code,
		Unit:       sensor.Unit,
		Value:      value,
		Bound:      eval.Bound,
		BoundKind:  string(eval.BoundKind),
	})
	alert, err := g.dedup.TryRaise(ctx, alerting.RaiseRequest{
		SensorID:       sensor.ID,
		Kind:           alerting.KindThresholdBreach,
		Message:        message,
		Severity:       detect.ClassifySeverity(eval.Deviation),
		ReadingValue:   value,
		ThresholdValue: eval.Bound,
	})
	if err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}
	if alert != nil {
		g.publisher.PublishAlert(*alert, sc)
	}
	return nil
}

// updateLiveness refreshes the cached fields and flips OFFLINE sensors back
// to ACTIVE: a reading implies liveness. Manual statuses like MAINTENANCE or
// FAULTY are left alone. Failures here are logged only; the reading has
// already been persisted and returned.
func (g *Gateway) updateLiveness(ctx context.Context, sensor storage.SensorRecord, value float64, ts time.Time) {
	lock := g.sensorLocks.get(sensor.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := g.sensors.UpdateLiveness(ctx, sensor.ID, value, ts); err != nil {
		g.log.Error("liveness update failed", slog.String("sensor", sensor.ID), slog.Any("err", err))
		return
	}
	if sensor.Status == storage.StatusOffline {
		if err := g.sensors.SetSensorStatus(ctx, sensor.ID, storage.StatusActive); err != nil {
			g.log.Error("status flip failed", slog.String("sensor", sensor.ID), slog.Any("err", err))
			return
		}
		g.publisher.PublishStatusChange(sensor.ID, storage.StatusOffline, storage.StatusActive, "reading received")
	}
}

// Acknowledge and ListAlerts expose the alert lifecycle to the transport
// layer through the same component that owns the dedup invariant.
func (g *Gateway) Acknowledge(ctx context.Context, alertID, who string) (storage.AlertRecord, error) {
	return g.dedup.Acknowledge(ctx, alertID, who)
}

func (g *Gateway) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.AlertRecord, error) {
	return g.dedup.List(ctx, filter)
}

func (g *Gateway) ListReadings(ctx context.Context, sensorID string, limit int) ([]storage.ReadingRecord, error) {
	return g.readings.ListReadings(ctx, sensorID, limit)
}
