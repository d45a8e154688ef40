package kafka

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/segmentio/kafka-go"
)

type published struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafka.Header
}

type capture struct{ msgs []published }

func (c *capture) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	c.msgs = append(c.msgs, published{topic, key, value, headers})
}

func TestEmitterWrapsEventInEnvelope(t *testing.T) {
	pub := &capture{}
	e := &Emitter{Publisher: pub, Service: "raffle-api"}

	e.Emit(context.Background(), tickets.Event{
		Type:           tickets.EventTicketsPaid,
		OrderReference: "ord-1",
		Payload:        tickets.TicketsPaidPayload{OrderReference: "ord-1", PaymentHandle: "pay-1", Numbers: []int{3, 4}},
	})

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	m := pub.msgs[0]
	if m.topic != tickets.TopicTicketsPaid || string(m.key) != "ord-1" {
		t.Errorf("topic/key = %s/%s", m.topic, m.key)
	}
	if len(m.headers) != 2 || string(m.headers[0].Value) != tickets.EventTicketsPaid {
		t.Errorf("headers = %+v", m.headers)
	}

	var env tickets.Envelope
	if err := UnmarshalEnvelope(m.value, &env); err != nil {
		t.Fatal(err)
	}
	if env.EventType != tickets.EventTicketsPaid || env.EventVersion != 1 || env.Producer != "raffle-api" ||
		env.CorrelationID != "ord-1" || env.EventID == "" {
		t.Errorf("envelope = %+v", env)
	}
	p, err := UnwrapPayload[tickets.TicketsPaidPayload](env.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if p.PaymentHandle != "pay-1" || len(p.Numbers) != 2 {
		t.Errorf("payload = %+v", p)
	}
}

func TestEmitterSkipsEventsWithoutTopic(t *testing.T) {
	pub := &capture{}
	(&Emitter{Publisher: pub}).Emit(context.Background(), tickets.Event{Type: tickets.EventPaymentNotification})
	if len(pub.msgs) != 0 {
		t.Errorf("published %d messages", len(pub.msgs))
	}
}
