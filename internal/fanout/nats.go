package fanout

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsSink pushes events to live subscribers: one subject per sensor plus an
// aggregate "all" subject per concern. Delivery is at-most-once; a missed
// push is not recoverable here, the durable channel is the source of truth.
type NatsSink struct {
	Conn *nats.Conn
}

func NewNatsSink(url string) (*NatsSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NatsSink{Conn: conn}, nil
}

func (s *NatsSink) Deliver(_ context.Context, ev Event) error {
	sensorSubject := fmt.Sprintf("live.%s.%s", ev.Concern, ev.SensorID)
	if err := s.Conn.Publish(sensorSubject, ev.Payload); err != nil {
		return err
	}
	return s.Conn.Publish(fmt.Sprintf("live.%s.all", ev.Concern), ev.Payload)
}

func (s *NatsSink) Close() error {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
	return nil
}
