package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/events"
)

type eventType string

const (
	eventLog               eventType = "log"
	eventCounter           eventType = "counter"
	eventField             eventType = "field"
	eventResponseCompleted eventType = "response_completed"
)

type event struct {
	Type      eventType
	Timestamp time.Time
	Name      string
	Key       string
	Value     string
	Duration  time.Duration
}

// Collector is an events.Sink that aggregates events in memory and exposes
// them as Prometheus metrics and JSON snapshots.
type Collector struct {
	eventCh chan event
	metrics *Metrics
	logger  *slog.Logger
	dropped atomic.Uint64
}

var _ events.Sink = (*Collector)(nil)

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) AppendLog(text string) {
	c.emit(event{Type: eventLog, Timestamp: time.Now(), Value: text})
}

func (c *Collector) IncrementCounter(name string) {
	c.emit(event{Type: eventCounter, Timestamp: time.Now(), Name: name})
}

func (c *Collector) SetField(mapName, key, value string) {
	c.emit(event{Type: eventField, Timestamp: time.Now(), Name: mapName, Key: key, Value: value})
}

// ObserveResponse records the round trip time of a request answered by the
// backend identified by id.
func (c *Collector) ObserveResponse(id string, duration time.Duration) {
	c.emit(event{Type: eventResponseCompleted, Timestamp: time.Now(), Name: id, Duration: duration})
}

// Dropped returns the number of events discarded because the buffer was full.
func (c *Collector) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Collector) emit(ev event) {
	select {
	case c.eventCh <- ev:
	default:
		c.dropped.Add(1)
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case ev := <-c.eventCh:
			c.processEvent(ev)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(ev event) {
	switch ev.Type {
	case eventLog:
		c.metrics.AppendLog(ev.Timestamp, ev.Value)

	case eventCounter:
		c.metrics.IncrementCounter(ev.Name)

	case eventField:
		c.metrics.SetField(ev.Name, ev.Key, ev.Value)

	case eventResponseCompleted:
		c.metrics.RecordResponse(ev.Name, ev.Duration)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case ev := <-c.eventCh:
			c.processEvent(ev)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(logLimit int) Snapshot {
	return c.metrics.Snapshot(logLimit)
}
