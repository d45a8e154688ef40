package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/pkg/errors"
)

// Notification is an inbound push, either straight from the provider webhook
// or relayed over Kafka. Without Status the provider is asked for it.
type Notification struct {
	PaymentHandle  string `json:"payment_id,omitempty"`
	OrderReference string `json:"external_reference,omitempty"`
	Status         string `json:"status,omitempty"`
}

// HandleNotification settles one delivery. Redeliveries of an already applied
// (handle, status) pair are short-circuited by the cache; without a cache
// they fall through to the idempotent store update.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (*Result, error) {
	handle, ref, status := strings.TrimSpace(n.PaymentHandle), strings.TrimSpace(n.OrderReference), strings.TrimSpace(n.Status)
	if handle == "" && ref == "" {
		return nil, errors.Wrap(tickets.ErrUnknownReference, "notification without payment id or reference")
	}

	if status == "" {
		if handle == "" {
			h, err := s.handleFor(ctx, ref)
			if err != nil {
				return nil, err
			}
			handle = h
		}
		p, err := s.Payments.GetPayment(ctx, handle)
		if err != nil {
			return nil, &tickets.PaymentProviderError{Err: err}
		}
		status = p.Status
		// The provider's reference wins over whatever the caller claimed.
		if p.ExternalReference != "" {
			if ref != "" && ref != p.ExternalReference {
				return nil, errors.Wrapf(tickets.ErrUnknownReference, "payment %s belongs to %s, not %s", handle, p.ExternalReference, ref)
			}
			ref = p.ExternalReference
		}
	}

	outcome := payment.ParseOutcome(status)
	key := dedupKey(handle, ref, status)
	if s.Cache != nil && s.Cache.SeenNotification(ctx, key) {
		s.Metrics.Reconciliation(string(outcome), "duplicate")
		s.Log.Debug().Str("dedup_key", key).Msg("duplicate notification")
		return &Result{OrderReference: ref, Outcome: outcome, Duplicate: true}, nil
	}

	res, err := s.ApplyOutcome(ctx, Target{OrderReference: ref, PaymentHandle: handle}, outcome)
	if err != nil {
		return nil, err
	}
	// Only terminal outcomes are final; a pending status may still change.
	if s.Cache != nil && outcome != payment.OutcomeUnknown {
		s.Cache.MarkNotification(ctx, key)
	}
	return res, nil
}

func (s *Service) handleFor(ctx context.Context, ref string) (string, error) {
	ts, err := s.Store.FindByOrderReference(ctx, ref)
	if err != nil {
		return "", err
	}
	for _, t := range ts {
		if t.PaymentHandle != "" {
			return t.PaymentHandle, nil
		}
	}
	return "", errors.Wrapf(tickets.ErrUnknownReference, "no payment recorded for %s", ref)
}

func dedupKey(handle, ref, status string) string {
	id := handle
	if id == "" {
		id = "ref:" + ref
	}
	return fmt.Sprintf("%s:%s", id, strings.ToLower(status))
}
