// Package provider delivers sanitized events to the analytics ingestion
// backend. Delivery is fire-and-forget: events queue into a bounded buffer
// and a dropped event is an accepted telemetry loss, never an error surfaced
// to the page.
package provider

import (
	"context"
	"log/slog"
	"time"
)

// Payload is one sanitized event on the wire: a name plus a flat map of
// scalar fields.
type Payload struct {
	Name   string         `json:"event"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields"`
}

// Provider sends one payload to an ingestion backend.
type Provider interface {
	Send(ctx context.Context, p Payload) error
}

const sendTimeout = 10 * time.Second

// Dispatcher decouples callers from provider latency. Enqueue never blocks;
// Run drains the queue until the context ends, then flushes what remains.
type Dispatcher struct {
	provider Provider
	queue    chan Payload
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(p Provider, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{provider: p, queue: make(chan Payload, queueSize)}
}

// Enqueue hands a payload to the pump. When the queue is full the payload is
// dropped and counted against nothing: there is no retry path for telemetry.
func (d *Dispatcher) Enqueue(p Payload) {
	select {
	case d.queue <- p:
	default:
		slog.Warn("provider queue full, dropping event", "event", p.Name)
	}
}

// Run pumps queued payloads to the provider until ctx is cancelled, then
// drains the remaining backlog. Send failures are logged and forgotten.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Starting provider dispatcher", "queue_capacity", cap(d.queue))
	for {
		select {
		case p := <-d.queue:
			d.send(context.Background(), p)
		case <-ctx.Done():
			slog.Info("Provider dispatcher stopping, flushing backlog", "backlog", len(d.queue))
			for {
				select {
				case p := <-d.queue:
					d.send(context.Background(), p)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, p Payload) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := d.provider.Send(sendCtx, p); err != nil {
		slog.Warn("provider send failed, event lost", "event", p.Name, "error", err)
	}
}
