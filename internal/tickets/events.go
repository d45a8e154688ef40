package tickets

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventTicketsReserved = "TicketsReserved"
	EventTicketsPaid     = "TicketsPaid"
	EventTicketsReleased = "TicketsReleased"

	// EventPaymentNotification is relayed into payments.notifications by
	// whatever receives provider callbacks outside this service.
	EventPaymentNotification = "PaymentNotification"
)

// Release reasons carried by TicketsReleased.
const (
	ReasonPaymentFailed   = "PAYMENT_CREATE_FAILED"
	ReasonPaymentRejected = "PAYMENT_REJECTED"
	ReasonExpired         = "RESERVATION_EXPIRED"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the Event* constants
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order reference
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type TicketsReservedPayload struct {
	OrderReference string `json:"order_reference"`
	Numbers        []int  `json:"numbers"`
	AmountCents    int64  `json:"amount_cents"`
}

type TicketsPaidPayload struct {
	OrderReference string `json:"order_reference"`
	PaymentHandle  string `json:"payment_handle,omitempty"`
	Numbers        []int  `json:"numbers"`
}

type TicketsReleasedPayload struct {
	OrderReference string `json:"order_reference"`
	Numbers        []int  `json:"numbers"`
	Reason         string `json:"reason"`
}

// Event is a lifecycle fact about one order, published after it committed.
type Event struct {
	Type           string
	OrderReference string
	Payload        any
}

// EventSink receives lifecycle events. Implementations must not block the
// caller on broker availability.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}
