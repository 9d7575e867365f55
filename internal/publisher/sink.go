// Package publisher delivers outbox events to a message broker.
package publisher

import (
	"context"
	"log/slog"

	"github.com/fjod/go_store/internal/events"
)

// Sink delivers one event. A returned error leaves the event pending.
type Sink interface {
	Publish(ctx context.Context, event events.Event) error
	Close() error
}

// LogSink writes events to the log instead of a broker.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, event events.Event) error {
	s.log.InfoContext(ctx, "event published",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("aggregate_id", event.AggregateID),
		slog.String("payload", string(event.Payload)))
	return nil
}

func (s *LogSink) Close() error { return nil }
