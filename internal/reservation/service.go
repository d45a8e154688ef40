package reservation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/metrics"
	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("reservation")

// releaseTimeout bounds the compensating release after a failed payment,
// which runs even when the caller already went away.
const releaseTimeout = 10 * time.Second

type Store interface {
	WithTx(ctx context.Context, fn func(tickets.Tx) error) error
	SetPaymentHandle(ctx context.Context, ref, handle string) (int64, error)
	Release(ctx context.Context, ref string) ([]int, error)
}

type Payments interface {
	CreatePayment(ctx context.Context, orderReference string, quantity int, buyerName string) (*payment.Payment, error)
	Amount(quantity int) int64
}

type Request struct {
	Numbers []int
	Buyer   tickets.Buyer
}

type Result struct {
	OrderReference string           `json:"order_reference"`
	Numbers        []int            `json:"numbers"`
	AmountCents    int64            `json:"amount_cents"`
	Payment        *payment.Payment `json:"payment"`
}

// Service is the only path from AVAILABLE to RESERVED.
type Service struct {
	Store        Store
	Payments     Payments
	Events       tickets.EventSink
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
	TotalTickets int

	Now          func() time.Time
	NewReference func() string
}

// Reserve holds every requested ticket for the buyer or none of them.
//
// The row transition commits first with no payment handle; the provider is
// called afterwards so no row lock is held across the network. A provider
// failure releases the fresh reservation before the error is returned.
func (s *Service) Reserve(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reservation.Reserve")
	defer span.End()

	res, err := s.reserve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Metrics.Reservation(resultLabel(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("order_reference", res.OrderReference))
	s.Metrics.Reservation("ok")
	return res, nil
}

func (s *Service) reserve(ctx context.Context, req Request) (*Result, error) {
	numbers, buyer, err := s.normalise(req)
	if err != nil {
		return nil, err
	}

	ref := s.newReference()
	err = s.Store.WithTx(ctx, func(tx tickets.Tx) error {
		locked, err := tx.LockForUpdate(ctx, numbers)
		if err != nil {
			return err
		}
		if err := checkAvailable(numbers, locked); err != nil {
			return err
		}
		n, err := tx.Reserve(ctx, tickets.Reservation{
			Numbers:        numbers,
			Buyer:          buyer,
			OrderReference: ref,
			ReservedAt:     s.now(),
		})
		if err != nil {
			return err
		}
		if int(n) != len(numbers) {
			return errors.Errorf("reserved %d of %d locked tickets", n, len(numbers))
		}
		return nil
	})
	if err != nil {
		if c, ok := tickets.AsConflict(err); ok {
			s.Log.Info().Ints("numbers", c.Numbers()).Msg("reservation conflict")
		}
		return nil, err
	}

	amount := s.Payments.Amount(len(numbers))
	log := s.Log.With().Str("order_reference", ref).Ints("numbers", numbers).Logger()
	log.Info().Msg("tickets reserved")
	s.emit(ctx, tickets.Event{
		Type:           tickets.EventTicketsReserved,
		OrderReference: ref,
		Payload:        tickets.TicketsReservedPayload{OrderReference: ref, Numbers: numbers, AmountCents: amount},
	})

	p, err := s.Payments.CreatePayment(ctx, ref, len(numbers), buyer.Name)
	if err != nil {
		log.Warn().Err(err).Msg("payment creation failed, releasing reservation")
		s.release(ctx, ref)
		return nil, &tickets.PaymentProviderError{Err: err}
	}

	n, err := s.Store.SetPaymentHandle(ctx, ref, p.Handle)
	switch {
	case err != nil:
		// The provider still carries the order reference as external
		// reference, so reconciliation works without the handle.
		log.Error().Err(err).Str("payment_handle", p.Handle).Msg("could not record payment handle")
	case n == 0:
		// An approval can settle the order before the handle lands; only
		// released rows mean the reservation is gone.
		return nil, errors.Wrapf(tickets.ErrReservationLost, "order %s", ref)
	}

	log.Info().Str("payment_handle", p.Handle).Msg("payment created")
	return &Result{OrderReference: ref, Numbers: numbers, AmountCents: amount, Payment: p}, nil
}

func (s *Service) release(ctx context.Context, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	numbers, err := s.Store.Release(ctx, ref)
	if err != nil {
		// The expiry sweep reclaims it later.
		s.Log.Error().Err(err).Str("order_reference", ref).Msg("release after payment failure")
		return
	}
	if len(numbers) > 0 {
		s.emit(ctx, tickets.Event{
			Type:           tickets.EventTicketsReleased,
			OrderReference: ref,
			Payload:        tickets.TicketsReleasedPayload{OrderReference: ref, Numbers: numbers, Reason: tickets.ReasonPaymentFailed},
		})
	}
}

// normalise deduplicates and sorts the numbers; ascending order is also the
// lock order.
func (s *Service) normalise(req Request) ([]int, tickets.Buyer, error) {
	buyer := tickets.Buyer{Name: strings.TrimSpace(req.Buyer.Name), Phone: strings.TrimSpace(req.Buyer.Phone)}
	if len(req.Numbers) == 0 {
		return nil, buyer, tickets.Invalid("numbers", "at least one ticket is required")
	}
	if buyer.Name == "" {
		return nil, buyer, tickets.Invalid("name", "required")
	}
	if buyer.Phone == "" {
		return nil, buyer, tickets.Invalid("phone", "required")
	}

	seen := make(map[int]struct{}, len(req.Numbers))
	numbers := make([]int, 0, len(req.Numbers))
	for _, n := range req.Numbers {
		if n < 1 || n > s.TotalTickets {
			return nil, buyer, tickets.Invalid("numbers", "%d is outside 1..%d", n, s.TotalTickets)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, buyer, nil
}

func checkAvailable(numbers []int, locked []tickets.Ticket) error {
	byNumber := make(map[int]tickets.Ticket, len(locked))
	for _, t := range locked {
		byNumber[t.Number] = t
	}
	var conflicts []tickets.Conflict
	for _, n := range numbers {
		t, ok := byNumber[n]
		if !ok {
			return tickets.Invalid("numbers", "ticket %d does not exist", n)
		}
		if t.Status != tickets.StatusAvailable {
			conflicts = append(conflicts, tickets.Conflict{Number: n, Status: t.Status})
		}
	}
	if len(conflicts) > 0 {
		return &tickets.ConflictError{Conflicts: conflicts}
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case tickets.IsValidation(err):
		return "invalid"
	case tickets.IsTransient(err):
		return "store_unavailable"
	case tickets.IsPaymentProvider(err):
		return "provider_error"
	}
	if _, ok := tickets.AsConflict(err); ok {
		return "conflict"
	}
	return "error"
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newReference() string {
	if s.NewReference != nil {
		return s.NewReference()
	}
	return NewOrderReference()
}

// NewOrderReference returns a UUIDv7: millisecond timestamp plus random bits,
// so references never repeat across time.
func NewOrderReference() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Service) emit(ctx context.Context, ev tickets.Event) {
	if s.Events != nil {
		s.Events.Emit(ctx, ev)
	}
}
