package fanout

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"infrasense-backend/internal/storage"
)

const (
	defaultQueueSize = 256
	defaultShards    = 2
)

// Publisher fans events out to a durable log channel and a live push
// channel. Both deliveries are best-effort and independent of each other and
// of the caller: enqueueing never blocks ingestion, and a full shard drops
// the event with a log line instead of stalling.
//
// The queue is sharded by sensor id: one goroutine owns each shard, so all
// events of a given sensor reach the durable sink in publish order while
// unrelated sensors still deliver in parallel.
type Publisher struct {
	log     *slog.Logger
	durable Sink
	live    Sink
	shards  []chan Event

	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPublisher(log *slog.Logger, durable, live Sink, queueSize, shards int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if shards <= 0 {
		shards = defaultShards
	}
	if durable == nil {
		durable = NoopSink{}
	}
	if live == nil {
		live = NoopSink{}
	}
	p := &Publisher{
		log:     log.With(slog.String("component", "fanout")),
		durable: durable,
		live:    live,
		shards:  make([]chan Event, shards),
	}
	for i := range p.shards {
		p.shards[i] = make(chan Event, queueSize)
	}
	return p
}

func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		for _, shard := range p.shards {
			p.wg.Add(1)
			go p.run(shard)
		}
		p.log.Info("fanout started",
			slog.Int("shards", len(p.shards)), slog.Int("queuePerShard", cap(p.shards[0])))
	})
}

// Stop drains queued events before closing the sinks.
func (p *Publisher) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			p.log.Error("fanout stop timed out", slog.Any("err", ctx.Err()))
		}
		if err := p.durable.Close(); err != nil {
			p.log.Error("durable sink close failed", slog.Any("err", err))
		}
		if err := p.live.Close(); err != nil {
			p.log.Error("live sink close failed", slog.Any("err", err))
		}
		p.log.Info("fanout stopped")
	})
}

func (p *Publisher) PublishReading(reading storage.ReadingRecord, sensor SensorContext) {
	payload, err := json.Marshal(readingEnvelope{Type: "reading", Sensor: sensor, Reading: reading})
	if err != nil {
		p.log.Error("reading encode failed", slog.Any("err", err), slog.String("sensor", sensor.ID))
		return
	}
	p.enqueue(Event{Concern: ConcernReadings, SensorID: sensor.ID, Payload: payload})
}

func (p *Publisher) PublishAlert(alert storage.AlertRecord, sensor SensorContext) {
	payload, err := json.Marshal(alertEnvelope{Type: "alert", Sensor: sensor, Alert: alert})
	if err != nil {
		p.log.Error("alert encode failed", slog.Any("err", err), slog.String("sensor", sensor.ID))
		return
	}
	p.enqueue(Event{Concern: ConcernAlerts, SensorID: sensor.ID, Payload: payload})
}

func (p *Publisher) PublishStatusChange(sensorID string, oldStatus, newStatus storage.SensorStatus, reason string) {
	payload, err := json.Marshal(statusEnvelope{
		Type:      "status_change",
		SensorID:  sensorID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Reason:    reason,
		TS:        time.Now().UTC(),
	})
	if err != nil {
		p.log.Error("status change encode failed", slog.Any("err", err), slog.String("sensor", sensorID))
		return
	}
	p.enqueue(Event{Concern: ConcernStatusChanges, SensorID: sensorID, Payload: payload})
}

func (p *Publisher) enqueue(ev Event) {
	shard := p.shards[shardIndex(ev.SensorID, len(p.shards))]
	select {
	case shard <- ev:
	default:
		p.log.Error("fanout queue full, event dropped",
			slog.String("concern", string(ev.Concern)), slog.String("sensor", ev.SensorID))
	}
}

func shardIndex(sensorID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(sensorID))
	return int(h.Sum32() % uint32(n))
}

func (p *Publisher) run(shard chan Event) {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			p.drain(shard)
			return
		case ev := <-shard:
			p.deliver(ev)
		}
	}
}

func (p *Publisher) drain(shard chan Event) {
	for {
		select {
		case ev := <-shard:
			p.deliver(ev)
		default:
			return
		}
	}
}

// deliver pushes to both channels; a failure on one never skips the other
// and never reaches the ingestion caller.
func (p *Publisher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.durable.Deliver(ctx, ev); err != nil {
		p.log.Error("durable delivery failed",
			slog.Any("err", err), slog.String("concern", string(ev.Concern)), slog.String("sensor", ev.SensorID))
	}
	if err := p.live.Deliver(ctx, ev); err != nil {
		p.log.Error("live delivery failed",
			slog.Any("err", err), slog.String("concern", string(ev.Concern)), slog.String("sensor", ev.SensorID))
	}
}
