// Package core holds the shared contracts of the Metis engine: observability
// events and request-scoped context plumbing.
package core

import (
	"context"
	"log/slog"
	"time"
)

// EventStatus is the outcome of an observed operation.
type EventStatus string

const (
	StatusOK    EventStatus = "ok"
	StatusError EventStatus = "error"
)

// Event captures one outbound call or pipeline stage for an external collector.
type Event struct {
	Operation string
	Status    EventStatus
	Duration  time.Duration
	ErrorCode string
	Attempt   int
	Timestamp time.Time
	Payload   map[string]any
}

// Sink receives observability events. Implementations must not block the
// caller; delivery is best-effort.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// SlogSink logs events through slog at debug level (info for errors).
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{
		slog.String("operation", event.Operation),
		slog.String("status", string(event.Status)),
		slog.Duration("duration", event.Duration),
		slog.Int("attempt", event.Attempt),
	}
	if event.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", event.ErrorCode))
	}
	if event.Status == StatusError {
		log.InfoContext(ctx, "metis.call", attrs...)
		return
	}
	log.DebugContext(ctx, "metis.call", attrs...)
}

// ChanSink forwards events to a channel, dropping when the buffer is full so
// a slow collector never stalls the request path.
type ChanSink struct {
	C chan Event
}

// NewChanSink creates a buffered channel sink.
func NewChanSink(buffer int) *ChanSink {
	if buffer < 1 {
		buffer = 64
	}
	return &ChanSink{C: make(chan Event, buffer)}
}

func (s *ChanSink) Emit(_ context.Context, event Event) {
	select {
	case s.C <- event:
	default:
	}
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
