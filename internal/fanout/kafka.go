package fanout

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Topics maps each concern to its durable Kafka topic.
type Topics struct {
	Readings      string `yaml:"readings"`
	Alerts        string `yaml:"alerts"`
	StatusChanges string `yaml:"statusChanges"`
}

func DefaultTopics() Topics {
	return Topics{
		Readings:      "infrasense.readings",
		Alerts:        "infrasense.alerts",
		StatusChanges: "infrasense.status-changes",
	}
}

// KafkaSink writes events to per-concern topics keyed by sensor id, so all
// events of one sensor land on one partition in order.
type KafkaSink struct {
	writers map[Concern]*kafka.Writer
}

func NewKafkaSink(brokers []string, topics Topics) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &KafkaSink{
		writers: map[Concern]*kafka.Writer{
			ConcernReadings:      newWriter(topics.Readings),
			ConcernAlerts:        newWriter(topics.Alerts),
			ConcernStatusChanges: newWriter(topics.StatusChanges),
		},
	}, nil
}

func (s *KafkaSink) Deliver(ctx context.Context, ev Event) error {
	writer, ok := s.writers[ev.Concern]
	if !ok {
		return fmt.Errorf("no topic for concern %q", ev.Concern)
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SensorID),
		Value: ev.Payload,
	})
}

func (s *KafkaSink) Close() error {
	var firstErr error
	for _, writer := range s.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
