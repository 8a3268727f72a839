package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize = 256
	deliverTimeout   = 10 * time.Second
)

// Sink delivers one event to an operator channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Dispatcher queues events and delivers them to every sink on a single worker.
// A full queue drops the event with a warning instead of blocking the publisher.
type Dispatcher struct {
	queue chan Event
	sinks []Sink

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		queue: make(chan Event, queueSize),
		sinks: sinks,
		done:  make(chan struct{}),
	}
}

// Start launches the delivery worker. It is a no-op when already started.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.run()
	slog.Info("Notification dispatcher started", "sinks", len(d.sinks), "queue_size", cap(d.queue))
}

func (d *Dispatcher) Publish(events ...Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	for _, ev := range events {
		select {
		case d.queue <- ev:
		default:
			slog.Warn("Notification queue full, dropping event",
				"kind", ev.Kind,
				"identity", ev.Identity,
				"event_id", ev.ID)
		}
	}
}

// Stop closes the queue and waits for queued events to be delivered or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		slog.Info("Notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, ev)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := sink.Deliver(ctx, ev); err != nil {
		slog.Warn("Failed to deliver notification",
			"sink", sink.Name(),
			"kind", ev.Kind,
			"identity", ev.Identity,
			"error", err)
	}
}
