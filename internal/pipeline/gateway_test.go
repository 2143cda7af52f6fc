package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"infrasense-backend/internal/alerting"
	"infrasense-backend/internal/fanout"
	"infrasense-backend/internal/storage"
)

type recordingPublisher struct {
	mu       sync.Mutex
	readings []storage.ReadingRecord
	alerts   []storage.AlertRecord
	statuses []string
}

func (p *recordingPublisher) PublishReading(rec storage.ReadingRecord, _ fanout.SensorContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, rec)
}

func (p *recordingPublisher) PublishAlert(rec storage.AlertRecord, _ fanout.SensorContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, rec)
}

func (p *recordingPublisher) PublishStatusChange(sensorID string, oldStatus, newStatus storage.SensorStatus, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, sensorID+":"+string(oldStatus)+">"+string(newStatus))
}

func fp(v float64) *float64 { return &v }

func newTestGateway(window time.Duration) (*Gateway, *storage.MemoryStore, *recordingPublisher) {
	store := storage.NewMemoryStore()
	store.PutSensor(storage.SensorRecord{
		ID:           "s1",
		Code:         "BR-01-STRAIN",
		Unit:         "mm",
		MinThreshold: fp(0),
		MaxThreshold: fp(100),
		Status:       storage.StatusActive,
	})
	pub := &recordingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := NewGateway(log, store, store, alerting.NewDeduplicator(store, window), pub, time.Second)
	return gw, store, pub
}

func TestIngestOneWithinThresholds(t *testing.T) {
	ctx := context.Background()
	gw, store, pub := newTestGateway(time.Minute)

	created, err := gw.IngestOne(ctx, IngestItem{SensorID: "s1", Value: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Anomaly || created.AnomalyScore != nil {
		t.Fatalf("expected normal reading, got %+v", created)
	}
	if created.Unit != "mm" {
		t.Fatalf("expected sensor unit fallback, got %q", created.Unit)
	}
	if len(pub.readings) != 1 || len(pub.alerts) != 0 {
		t.Fatalf("expected one published reading and no alerts")
	}
	sensor, _ := store.GetSensor(ctx, "s1")
	if sensor.CurrentValue == nil || *sensor.CurrentValue != 50 {
		t.Fatalf("expected cached current value 50, got %+v", sensor.CurrentValue)
	}
	if sensor.LastDataAt == nil {
		t.Fatalf("expected last-seen timestamp set")
	}
}

func TestIngestOneBreachEndToEnd(t *testing.T) {
	ctx := context.Background()
	gw, store, pub := newTestGateway(30 * time.Millisecond)

	created, err := gw.IngestOne(ctx, IngestItem{SensorID: "s1", Value: 150})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created.Anomaly || created.AnomalyScore == nil || *created.AnomalyScore != 50 {
		t.Fatalf("expected anomaly with score 50, got %+v", created)
	}
	if len(pub.alerts) != 1 {
		t.Fatalf("expected one published alert, got %d", len(pub.alerts))
	}
	alert := pub.alerts[0]
	if alert.Severity != "CRITICAL" {
		t.Fatalf("expected CRITICAL severity, got %s", alert.Severity)
	}
	if alert.ThresholdValue == nil || *alert.ThresholdValue != 100 {
		t.Fatalf("expected threshold 100 on alert, got %+v", alert.ThresholdValue)
	}

	// Same kind within the window: reading stored, alert suppressed.
	second, err := gw.IngestOne(ctx, IngestItem{SensorID: "s1", Value: 160})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Anomaly {
		t.Fatalf("expected second reading flagged anomalous")
	}
	if len(pub.alerts) != 1 {
		t.Fatalf("expected suppression, got %d alerts", len(pub.alerts))
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := gw.IngestOne(ctx, IngestItem{SensorID: "s1", Value: 170}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.alerts) != 2 {
		t.Fatalf("expected second alert after window expiry, got %d", len(pub.alerts))
	}

	readings, _ := store.ListReadings(ctx, "s1", 10)
	if len(readings) != 3 {
		t.Fatalf("every ingested item must persist a reading, got %d", len(readings))
	}
}

func TestIngestOneUnknownSensor(t *testing.T) {
	gw, store, _ := newTestGateway(time.Minute)
	_, err := gw.IngestOne(context.Background(), IngestItem{SensorID: "ghost", Value: 1})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	readings, _ := store.ListReadings(context.Background(), "ghost", 10)
	if len(readings) != 0 {
		t.Fatalf("unknown sensor must not persist a reading")
	}
}

func TestIngestOneValidation(t *testing.T) {
	gw, _, _ := newTestGateway(time.Minute)
	var verr *ValidationError
	if _, err := gw.IngestOne(context.Background(), IngestItem{Value: 1}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for missing sensor id, got %v", err)
	}
	if verr.Code != "MISSING_SENSOR_ID" {
		t.Fatalf("unexpected code %s", verr.Code)
	}
	big := make([]byte, maxRawPayloadBytes+1)
	if _, err := gw.IngestOne(context.Background(), IngestItem{SensorID: "s1", Value: 1, RawPayload: big}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for oversized payload, got %v", err)
	}
}

func TestIngestOneRejectsUnknownQuality(t *testing.T) {
	gw, store, _ := newTestGateway(time.Minute)

	var verr *ValidationError
	if _, err := gw.IngestOne(context.Background(), IngestItem{SensorID: "s1", Value: 1, Quality: "great"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for bad quality marker, got %v", err)
	}
	if verr.Code != "INVALID_QUALITY" {
		t.Fatalf("unexpected code %s", verr.Code)
	}
	readings, _ := store.ListReadings(context.Background(), "s1", 10)
	if len(readings) != 0 {
		t.Fatalf("rejected reading must not be persisted")
	}

	for _, quality := range []string{"GOOD", "SUSPECT", "BAD", ""} {
		if _, err := gw.IngestOne(context.Background(), IngestItem{SensorID: "s1", Value: 1, Quality: quality}); err != nil {
			t.Fatalf("quality %q should be accepted: %v", quality, err)
		}
	}
}

func TestIngestBatchPartialSuccess(t *testing.T) {
	gw, store, pub := newTestGateway(time.Minute)
	results := gw.IngestBatch(context.Background(), []IngestItem{
		{SensorID: "s1", Value: 10},
		{SensorID: "ghost", Value: 20},
		{SensorID: "s1", Value: 30},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results from 3 items, got %d", len(results))
	}
	readings, _ := store.ListReadings(context.Background(), "s1", 10)
	if len(readings) != 2 {
		t.Fatalf("expected 2 stored readings, got %d", len(readings))
	}
	if len(pub.alerts) != 0 {
		t.Fatalf("failed item must not raise alerts")
	}
}

func TestIngestFlipsOfflineSensorToActive(t *testing.T) {
	ctx := context.Background()
	gw, store, pub := newTestGateway(time.Minute)
	store.PutSensor(storage.SensorRecord{ID: "s2", Code: "TN-02", Unit: "C", Status: storage.StatusOffline})

	if _, err := gw.IngestOne(ctx, IngestItem{SensorID: "s2", Value: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sensor, _ := store.GetSensor(ctx, "s2")
	if sensor.Status != storage.StatusActive {
		t.Fatalf("expected OFFLINE sensor flipped to ACTIVE, got %s", sensor.Status)
	}
	if len(pub.statuses) != 1 || pub.statuses[0] != "s2:OFFLINE>ACTIVE" {
		t.Fatalf("expected status change published, got %v", pub.statuses)
	}
}

func TestIngestLeavesManualStatusAlone(t *testing.T) {
	ctx := context.Background()
	gw, store, pub := newTestGateway(time.Minute)
	store.PutSensor(storage.SensorRecord{ID: "s3", Code: "TN-03", Unit: "C", Status: storage.StatusMaintenance})

	if _, err := gw.IngestOne(ctx, IngestItem{SensorID: "s3", Value: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sensor, _ := store.GetSensor(ctx, "s3")
	if sensor.Status != storage.StatusMaintenance {
		t.Fatalf("MAINTENANCE must survive ingestion, got %s", sensor.Status)
	}
	if len(pub.statuses) != 0 {
		t.Fatalf("no status change expected, got %v", pub.statuses)
	}
}

func TestDelayedReadingDoesNotClobberCurrentValue(t *testing.T) {
	ctx := context.Background()
	gw, store, _ := newTestGateway(time.Minute)

	now := time.Now().UTC()
	old := now.Add(-time.Hour)
	if _, err := gw.IngestOne(ctx, IngestItem{SensorID: "s1", Value: 42, TS: &now}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := gw.IngestOne(ctx, IngestItem{SensorID: "s1", Value: 7, TS: &old}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sensor, _ := store.GetSensor(ctx, "s1")
	if sensor.CurrentValue == nil || *sensor.CurrentValue != 42 {
		t.Fatalf("stale reading clobbered cached value: %+v", sensor.CurrentValue)
	}
	readings, _ := store.ListReadings(ctx, "s1", 10)
	if len(readings) != 2 {
		t.Fatalf("delayed reading must still be persisted, got %d", len(readings))
	}
}
