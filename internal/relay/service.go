package relay

import (
	"context"

	kafkax "github.com/ariefcatur/go-realtime-raffle/internal/kafka"
	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type Reconciler interface {
	HandleNotification(ctx context.Context, n reconcile.Notification) (*reconcile.Result, error)
}

// Service feeds relayed payment notifications into reconciliation.
type Service struct {
	Reconciler Reconciler
	Log        zerolog.Logger
}

// HandleNotification is installed as the consumer handler. Returning nil
// commits the offset, so only retryable failures are returned.
func (s *Service) HandleNotification(ctx context.Context, m kafkago.Message) error {
	var env tickets.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.Log.Error().Err(err).Int64("offset", m.Offset).Msg("skipping undecodable message")
		return nil
	}
	if env.EventType != tickets.EventPaymentNotification {
		return nil // not ours
	}
	n, err := kafkax.UnwrapPayload[reconcile.Notification](env.Payload)
	if err != nil {
		s.Log.Error().Err(err).Str("event_id", env.EventID).Msg("skipping bad notification payload")
		return nil
	}

	log := s.Log.With().Str("event_id", env.EventID).Str("payment_handle", n.PaymentHandle).
		Str("order_reference", n.OrderReference).Logger()
	res, err := s.Reconciler.HandleNotification(ctx, n)
	switch {
	case err == nil:
		log.Info().Str("outcome", string(res.Outcome)).Ints("numbers", res.Numbers).Bool("duplicate", res.Duplicate).Msg("notification applied")
		return nil
	case errors.Is(err, tickets.ErrUnknownReference):
		log.Info().Err(err).Msg("notification for unknown order dropped")
		return nil
	case tickets.IsTransient(err), tickets.IsPaymentProvider(err):
		return err
	default:
		log.Error().Err(err).Msg("notification failed")
		return err
	}
}
