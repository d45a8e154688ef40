package kafka

import (
	"context"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

// Publisher is the part of Producer the emitter needs.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

// Emitter wraps lifecycle events in the v1 envelope and publishes them keyed
// by order reference.
type Emitter struct {
	Publisher Publisher
	Service   string
}

func (e *Emitter) Emit(ctx context.Context, ev tickets.Event) {
	topic := tickets.TopicFor(ev.Type)
	if topic == "" {
		return
	}
	env := tickets.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: ev.OrderReference,
		Payload:       MustMarshal(ev.Payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	e.Publisher.Publish(topic, tickets.PartitionKey(ev.OrderReference), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(ev.Type)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
