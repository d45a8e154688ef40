package reconcile

import (
	"context"

	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
)

// State is what a status query reports for an order reference.
type State string

const (
	StateApproved State = "approved"
	StatePending  State = "pending"
	StateReleased State = "released"
	StateUnknown  State = "unknown"
)

type StatusReport struct {
	OrderReference string `json:"order_reference"`
	Status         State  `json:"status"`
	Numbers        []int  `json:"numbers,omitempty"`
	ProviderStatus string `json:"provider_status,omitempty"`
}

// QueryStatus is the pull path. While the order is RESERVED it asks the
// provider once and funnels a terminal answer through ApplyOutcome. Provider
// trouble is reported as pending, never as an error.
func (s *Service) QueryStatus(ctx context.Context, ref string) (*StatusReport, error) {
	if s.Cache != nil {
		if st, ok := s.Cache.CachedStatus(ctx, ref); ok {
			return &StatusReport{OrderReference: ref, Status: st}, nil
		}
	}

	ts, err := s.Store.FindByOrderReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	report := derive(ref, ts)
	switch report.Status {
	case StateApproved:
		s.cacheStatus(ctx, ref, StateApproved)
		return report, nil
	case StateUnknown:
		return report, nil
	}

	handle := paymentHandle(ts)
	if handle == "" || s.Payments == nil {
		return report, nil
	}
	p, err := s.Payments.GetPayment(ctx, handle)
	if err != nil {
		s.Log.Warn().Err(err).Str("order_reference", ref).Msg("provider status lookup failed, reporting stored state")
		return report, nil
	}
	report.ProviderStatus = p.Status

	outcome := payment.NormaliseStatus(p.Status)
	if outcome == payment.OutcomeUnknown {
		return report, nil
	}
	if _, err := s.ApplyOutcome(ctx, Target{OrderReference: ref, PaymentHandle: handle}, outcome); err != nil {
		s.Log.Warn().Err(err).Str("order_reference", ref).Msg("could not apply polled outcome")
		return report, nil
	}

	// A concurrent notification may have settled the order the other way,
	// so the store decides what is reported.
	ts, err = s.Store.FindByOrderReference(ctx, ref)
	if err != nil {
		return report, nil
	}
	after := derive(ref, ts)
	after.ProviderStatus = p.Status
	if after.Status == StateUnknown {
		after.Status = StateReleased
		after.Numbers = report.Numbers
	}
	return after, nil
}

func derive(ref string, ts []tickets.Ticket) *StatusReport {
	r := &StatusReport{OrderReference: ref, Status: StateUnknown}
	if len(ts) == 0 {
		return r
	}
	paid := 0
	for _, t := range ts {
		r.Numbers = append(r.Numbers, t.Number)
		if t.Status == tickets.StatusPaid {
			paid++
		}
	}
	if paid == len(ts) {
		r.Status = StateApproved
	} else {
		r.Status = StatePending
	}
	return r
}

func paymentHandle(ts []tickets.Ticket) string {
	for _, t := range ts {
		if t.PaymentHandle != "" {
			return t.PaymentHandle
		}
	}
	return ""
}
