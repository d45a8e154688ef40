package payment

import (
	"context"
	"strings"
)

// Provider is the remote payment capability. Implementations must not retry
// CreatePayment on their own: a second call may bill the buyer twice.
type Provider interface {
	CreatePayment(ctx context.Context, req *CreateRequest) (*Payment, error)
	GetPayment(ctx context.Context, handle string) (*Payment, error)
}

type Payer struct {
	Email     string
	FirstName string
	LastName  string
	DocType   string
	DocNumber string
}

type CreateRequest struct {
	OrderReference  string
	AmountCents     int64
	Description     string
	Payer           Payer
	NotificationURL string
}

// Payment is the provider's view of one payment. QR fields are only present
// on creation.
type Payment struct {
	Handle            string `json:"payment_id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference,omitempty"`
	QRCode            string `json:"qr_code,omitempty"`
	QRCodeBase64      string `json:"qr_code_base64,omitempty"`
	TicketURL         string `json:"ticket_url,omitempty"`
}

// Outcome is the reconciliation verdict derived from a provider status.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeUnknown  Outcome = "UNKNOWN"
)

// NormaliseStatus maps the provider vocabulary onto an Outcome. pending,
// in_process, authorized and anything unrecognised stay UNKNOWN.
func NormaliseStatus(providerStatus string) Outcome {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "approved":
		return OutcomeApproved
	case "rejected", "cancelled", "canceled", "refunded", "charged_back":
		return OutcomeRejected
	default:
		return OutcomeUnknown
	}
}

// ParseOutcome accepts an Outcome name as sent by internal relays.
func ParseOutcome(s string) Outcome {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomeApproved:
		return OutcomeApproved
	case OutcomeRejected:
		return OutcomeRejected
	}
	return NormaliseStatus(s)
}
