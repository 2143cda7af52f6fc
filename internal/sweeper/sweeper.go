package sweeper

import (
	"context"
	"log/slog"
	"time"

	"infrasense-backend/internal/alerting"
	"infrasense-backend/internal/detect"
	"infrasense-backend/internal/fanout"
	"infrasense-backend/internal/storage"
)

// Registry is the sensor-registry slice the sweeper needs.
type Registry interface {
	ListStaleSensors(ctx context.Context, olderThan time.Time) ([]storage.SensorRecord, error)
	SetSensorStatus(ctx context.Context, id string, status storage.SensorStatus) error
}

type Publisher interface {
	PublishAlert(alert storage.AlertRecord, sensor fanout.SensorContext)
	PublishStatusChange(sensorID string, oldStatus, newStatus storage.SensorStatus, reason string)
}

// Sweeper periodically flags sensors that stopped reporting. It shares the
// deduplicator and publisher with the ingestion path, so repeated sweeps
// inside the window cannot spam offline alerts.
type Sweeper struct {
	log       *slog.Logger
	sensors   Registry
	dedup     *alerting.Deduplicator
	publisher Publisher
}

func New(log *slog.Logger, sensors Registry, dedup *alerting.Deduplicator, publisher Publisher) *Sweeper {
	return &Sweeper{
		log:       log.With(slog.String("component", "sweeper")),
		sensors:   sensors,
		dedup:     dedup,
		publisher: publisher,
	}
}

// Sweep flags every sensor whose last reading is older than the threshold
// and that is not already OFFLINE or DECOMMISSIONED. One sensor's failure
// does not stop the rest of the scan.
func (s *Sweeper) Sweep(ctx context.Context, offlineThreshold time.Duration) (int, error) {
	now := time.Now().UTC()
	stale, err := s.sensors.ListStaleSensors(ctx, now.Add(-offlineThreshold))
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, sensor := range stale {
		if err := s.flag(ctx, sensor, now); err != nil {
			s.log.Error("sweep failed for sensor", slog.String("sensor", sensor.ID), slog.Any("err", err))
			continue
		}
		flagged++
	}
	if flagged > 0 {
		s.log.Info("liveness sweep flagged sensors", slog.Int("count", flagged))
	}
	return flagged, nil
}

func (s *Sweeper) flag(ctx context.Context, sensor storage.SensorRecord, now time.Time) error {
	if err := s.sensors.SetSensorStatus(ctx, sensor.ID, storage.StatusOffline); err != nil {
		return err
	}
	s.publisher.PublishStatusChange(sensor.ID, sensor.Status, storage.StatusOffline, "no data within offline threshold")

	lastValue := 0.0
	if sensor.CurrentValue != nil {
		lastValue = *sensor.CurrentValue
	}
	message := alerting.BuildMessage(alerting.KindSensorOffline, alerting.MessageContext{
		SensorCode: sensor.Code,
		LastDataAt: sensor.LastDataAt,
		Now:        now,
	})
	alert, err := s.dedup.TryRaise(ctx, alerting.RaiseRequest{
		SensorID:     sensor.ID,
		Kind:         alerting.KindSensorOffline,
		Message:      message,
		Severity:     detect.SeverityHigh,
		ReadingValue: lastValue,
	})
	if err != nil {
		return err
	}
	if alert != nil {
		s.publisher.PublishAlert(*alert, fanout.SensorContext{ID: sensor.ID, Code: sensor.Code, Unit: sensor.Unit})
	}
	return nil
}

// Run drives periodic sweeps until the context is cancelled. It is an
// independent scheduled task; a failing sweep logs and waits for the next
// tick instead of propagating into ingestion.
func (s *Sweeper) Run(ctx context.Context, interval, offlineThreshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx, offlineThreshold); err != nil {
				s.log.Error("sweep run failed", slog.Any("err", err))
			}
		case <-ctx.Done():
			return
		}
	}
}
