package fanout

import (
	"context"
	"time"

	"infrasense-backend/internal/storage"
)

// Concern selects the durable topic and live subject family an event
// belongs to.
type Concern string

const (
	ConcernReadings      Concern = "readings"
	ConcernAlerts        Concern = "alerts"
	ConcernStatusChanges Concern = "status-changes"
)

// SensorContext is the calibration subset embedded in published envelopes so
// consumers need no registry lookup of their own.
type SensorContext struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Unit string `json:"unit"`
}

type Event struct {
	Concern  Concern
	SensorID string
	Payload  []byte
}

// Sink delivers one event to a single downstream channel. Delivery errors
// are the caller's to log; they never propagate past the publisher.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
	Close() error
}

type readingEnvelope struct {
	Type    string                `json:"type"`
	Sensor  SensorContext         `json:"sensor"`
	Reading storage.ReadingRecord `json:"reading"`
}

type alertEnvelope struct {
	Type   string              `json:"type"`
	Sensor SensorContext       `json:"sensor"`
	Alert  storage.AlertRecord `json:"alert"`
}

type statusEnvelope struct {
	Type      string               `json:"type"`
	SensorID  string               `json:"sensorId"`
	OldStatus storage.SensorStatus `json:"oldStatus"`
	NewStatus storage.SensorStatus `json:"newStatus"`
	Reason    string               `json:"reason"`
	TS        time.Time            `json:"ts"`
}

// NoopSink stands in for a disabled delivery channel.
type NoopSink struct{}

func (NoopSink) Deliver(context.Context, Event) error { return nil }
func (NoopSink) Close() error                         { return nil }
