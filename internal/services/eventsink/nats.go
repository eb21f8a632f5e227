package eventsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// natsSink delivers events onto NATS subjects, one subject per queue
// (queue.events.<queueID>). NATS publishes are buffered client-side so
// Publish never blocks the engine.
type natsSink struct {
	nc *nats.Conn
}

// NewNATSSink connects to a NATS server and returns a Sink.
func NewNATSSink(url, name string) (Sink, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &natsSink{nc: nc}, nil
}

func (s *natsSink) Publish(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("nats event marshal failed", "queue_id", ev.QueueID, "error", err)
		return
	}

	subject := fmt.Sprintf("queue.events.%s", ev.QueueID)
	if err := s.nc.Publish(subject, data); err != nil {
		slog.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

func (s *natsSink) Close() {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}
