package reconcile

import (
	"context"

	"github.com/ariefcatur/go-realtime-raffle/internal/metrics"
	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("reconcile")

type Store interface {
	FindByOrderReference(ctx context.Context, ref string) ([]tickets.Ticket, error)
	FindByPaymentHandle(ctx context.Context, handle string) ([]tickets.Ticket, error)
	MarkPaid(ctx context.Context, ref string) ([]int, error)
	Release(ctx context.Context, ref string) ([]int, error)
}

// Payments is the read side of the provider.
type Payments interface {
	GetPayment(ctx context.Context, handle string) (*payment.Payment, error)
}

// Cache is the optional Redis fast path: delivery dedup and terminal status.
// Misses and failures are never errors; the store stays the source of truth.
type Cache interface {
	SeenNotification(ctx context.Context, key string) bool
	MarkNotification(ctx context.Context, key string)
	CachedStatus(ctx context.Context, ref string) (State, bool)
	CacheStatus(ctx context.Context, ref string, st State)
}

// Target names the order a notification is about. Either field may be empty.
type Target struct {
	OrderReference string
	PaymentHandle  string
}

type Result struct {
	OrderReference string
	Outcome        payment.Outcome
	Numbers        []int // rows actually moved; empty for the idempotent no-op
	Duplicate      bool
}

// Service applies terminal payment outcomes. Every mutation it issues is a
// status-guarded bulk update, so duplicates, reordering and a concurrent
// expiry sweep all converge on the same final state.
type Service struct {
	Store    Store
	Payments Payments
	Cache    Cache
	Events   tickets.EventSink
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// ApplyOutcome resolves target and applies outcome once. Unknown targets
// return tickets.ErrUnknownReference, which callers acknowledge and drop.
func (s *Service) ApplyOutcome(ctx context.Context, target Target, outcome payment.Outcome) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile.ApplyOutcome")
	defer span.End()
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	res, err := s.apply(ctx, target, outcome)
	if err != nil {
		if errors.Is(err, tickets.ErrUnknownReference) {
			s.Metrics.Reconciliation(string(outcome), "unknown_reference")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.Metrics.Reconciliation(string(outcome), "error")
		}
		return nil, err
	}
	result := "noop"
	if len(res.Numbers) > 0 {
		result = "applied"
	}
	s.Metrics.Reconciliation(string(outcome), result)
	return res, nil
}

func (s *Service) apply(ctx context.Context, target Target, outcome payment.Outcome) (*Result, error) {
	ref, err := s.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	res := &Result{OrderReference: ref, Outcome: outcome}
	log := s.Log.With().Str("order_reference", ref).Str("payment_handle", target.PaymentHandle).
		Str("outcome", string(outcome)).Logger()

	switch outcome {
	case payment.OutcomeApproved:
		numbers, err := s.Store.MarkPaid(ctx, ref)
		if err != nil {
			return nil, err
		}
		res.Numbers = numbers
		if len(numbers) == 0 {
			log.Debug().Msg("approval had nothing to do")
			break
		}
		log.Info().Ints("numbers", numbers).Msg("order paid")
		s.cacheStatus(ctx, ref, StateApproved)
		s.emit(ctx, tickets.Event{
			Type:           tickets.EventTicketsPaid,
			OrderReference: ref,
			Payload:        tickets.TicketsPaidPayload{OrderReference: ref, PaymentHandle: target.PaymentHandle, Numbers: numbers},
		})

	case payment.OutcomeRejected:
		numbers, err := s.Store.Release(ctx, ref)
		if err != nil {
			return nil, err
		}
		res.Numbers = numbers
		if len(numbers) == 0 {
			log.Debug().Msg("rejection had nothing to do")
			break
		}
		log.Info().Ints("numbers", numbers).Msg("order released after rejected payment")
		s.cacheStatus(ctx, ref, StateReleased)
		s.emit(ctx, tickets.Event{
			Type:           tickets.EventTicketsReleased,
			OrderReference: ref,
			Payload:        tickets.TicketsReleasedPayload{OrderReference: ref, Numbers: numbers, Reason: tickets.ReasonPaymentRejected},
		})

	default:
		log.Info().Msg("non-terminal payment status, nothing to apply")
	}
	return res, nil
}

// resolve prefers the order reference and falls back to the payment handle.
// An order whose recorded handle differs from target's is not a match.
func (s *Service) resolve(ctx context.Context, target Target) (string, error) {
	if target.OrderReference != "" {
		ts, err := s.Store.FindByOrderReference(ctx, target.OrderReference)
		if err != nil {
			return "", err
		}
		if len(ts) > 0 {
			if h := paymentHandle(ts); h != "" && target.PaymentHandle != "" && h != target.PaymentHandle {
				return "", errors.Wrapf(tickets.ErrUnknownReference, "order %s is paid by %s, not %s", target.OrderReference, h, target.PaymentHandle)
			}
			return target.OrderReference, nil
		}
	}
	if target.PaymentHandle != "" {
		ts, err := s.Store.FindByPaymentHandle(ctx, target.PaymentHandle)
		if err != nil {
			return "", err
		}
		if len(ts) > 0 && ts[0].OrderReference != "" {
			return ts[0].OrderReference, nil
		}
	}
	return "", tickets.ErrUnknownReference
}

func (s *Service) cacheStatus(ctx context.Context, ref string, st State) {
	if s.Cache != nil {
		s.Cache.CacheStatus(ctx, ref, st)
	}
}

func (s *Service) emit(ctx context.Context, ev tickets.Event) {
	if s.Events != nil {
		s.Events.Emit(ctx, ev)
	}
}
