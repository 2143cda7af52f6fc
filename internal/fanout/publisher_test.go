package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"infrasense-backend/internal/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.events) >= n {
			events := make([]Event, len(s.events))
			copy(events, s.events)
			s.mu.Unlock()
			return events
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, s.count())
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishReadingReachesBothSinks(t *testing.T) {
	durable := &recordingSink{}
	live := &recordingSink{}
	pub := NewPublisher(testLogger(), durable, live, 16, 1)
	pub.Start(context.Background())
	defer pub.Stop(context.Background())

	pub.PublishReading(storage.ReadingRecord{ID: "r1", SensorID: "s1", Value: 42}, SensorContext{ID: "s1", Code: "BR-01", Unit: "mm"})

	durableEvents := durable.waitFor(t, 1)
	liveEvents := live.waitFor(t, 1)
	if durableEvents[0].Concern != ConcernReadings || durableEvents[0].SensorID != "s1" {
		t.Fatalf("unexpected durable event %+v", durableEvents[0])
	}
	var env readingEnvelope
	if err := json.Unmarshal(liveEvents[0].Payload, &env); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if env.Type != "reading" || env.Reading.ID != "r1" || env.Sensor.Code != "BR-01" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestDurableFailureDoesNotSkipLive(t *testing.T) {
	durable := &recordingSink{err: errors.New("broker down")}
	live := &recordingSink{}
	pub := NewPublisher(testLogger(), durable, live, 16, 1)
	pub.Start(context.Background())
	defer pub.Stop(context.Background())

	pub.PublishAlert(storage.AlertRecord{ID: "a1", SensorID: "s1"}, SensorContext{ID: "s1"})

	events := live.waitFor(t, 1)
	if events[0].Concern != ConcernAlerts {
		t.Fatalf("expected alert event, got %+v", events[0])
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	// Publisher not started: nothing drains the shard, so events past its
	// capacity must be dropped without blocking the caller.
	pub := NewPublisher(testLogger(), &recordingSink{}, &recordingSink{}, 2, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pub.PublishStatusChange("s1", storage.StatusActive, storage.StatusOffline, "no data")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on full queue")
	}
	if len(pub.shards[0]) != 2 {
		t.Fatalf("expected shard to hold its capacity, got %d", len(pub.shards[0]))
	}
}

func TestStopDrainsQueuedEvents(t *testing.T) {
	durable := &recordingSink{}
	pub := NewPublisher(testLogger(), durable, &recordingSink{}, 16, 1)
	pub.Start(context.Background())

	for i := 0; i < 5; i++ {
		pub.PublishReading(storage.ReadingRecord{SensorID: "s1"}, SensorContext{ID: "s1"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pub.Stop(ctx)

	if durable.count() != 5 {
		t.Fatalf("expected all queued events delivered on stop, got %d", durable.count())
	}
}

// stallingSink delays its first delivery. With a shared queue and several
// workers, a second event for the same sensor would overtake the stalled
// first one; shard ownership must prevent that.
type stallingSink struct {
	recordingSink
	stall     time.Duration
	stallOnce sync.Once
}

func (s *stallingSink) Deliver(ctx context.Context, ev Event) error {
	s.stallOnce.Do(func() { time.Sleep(s.stall) })
	return s.recordingSink.Deliver(ctx, ev)
}

func TestSameSensorDurableOrderWithManyShards(t *testing.T) {
	durable := &stallingSink{stall: 100 * time.Millisecond}
	pub := NewPublisher(testLogger(), durable, &recordingSink{}, 16, 4)
	pub.Start(context.Background())
	defer pub.Stop(context.Background())

	pub.PublishReading(storage.ReadingRecord{ID: "first", SensorID: "s1"}, SensorContext{ID: "s1"})
	pub.PublishReading(storage.ReadingRecord{ID: "second", SensorID: "s1"}, SensorContext{ID: "s1"})

	events := durable.waitFor(t, 2)
	var got []string
	for _, ev := range events {
		var env readingEnvelope
		if err := json.Unmarshal(ev.Payload, &env); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		got = append(got, env.Reading.ID)
	}
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("durable deliveries out of publish order: %v", got)
	}
}

func TestShardIndexStablePerSensor(t *testing.T) {
	for _, id := range []string{"s1", "s2", "bridge-07-strain"} {
		a := shardIndex(id, 4)
		b := shardIndex(id, 4)
		if a != b {
			t.Fatalf("shard index for %q not stable: %d vs %d", id, a, b)
		}
		if a < 0 || a >= 4 {
			t.Fatalf("shard index for %q out of range: %d", id, a)
		}
	}
}
