package expiry

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/metrics"
	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/rs/zerolog"
)

type Store interface {
	ReleaseExpiredBefore(ctx context.Context, cutoff time.Time) ([]tickets.Released, error)
}

// StatusCache lets a status query tell a swept order from one that never existed.
type StatusCache interface {
	CacheStatus(ctx context.Context, ref string, st reconcile.State)
}

// Sweeper releases reservations older than Timeout. It keeps no state of its
// own; the status-guarded UPDATE makes it safe against reconciliation.
type Sweeper struct {
	Store    Store
	Cache    StatusCache
	Events   tickets.EventSink
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Timeout  time.Duration
	Interval time.Duration
	Now      func() time.Time
}

// Run sweeps once right away, to reclaim what a restart abandoned, then every
// Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Log.Info().Dur("timeout", s.Timeout).Dur("interval", s.Interval).Msg("expiry sweeper started")
	s.sweepLogged(ctx)

	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepLogged(ctx)
		case <-ctx.Done():
			s.Log.Info().Msg("expiry sweeper stopped")
			return nil
		}
	}
}

func (s *Sweeper) sweepLogged(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		// retried on the next tick
		s.Log.Error().Err(err).Msg("expiry sweep failed")
	}
}

// SweepOnce releases every reservation made at or before now-Timeout and
// returns the freed ticket numbers.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]int, error) {
	cutoff := s.now().Add(-s.Timeout)
	released, err := s.Store.ReleaseExpiredBefore(ctx, cutoff)
	if err != nil {
		s.Metrics.Sweep("error", 0)
		return nil, err
	}
	s.Metrics.Sweep("ok", len(released))
	if len(released) == 0 {
		return nil, nil
	}

	var all []int
	for ref, numbers := range tickets.GroupByOrder(released) {
		sort.Ints(numbers)
		all = append(all, numbers...)
		s.Log.Info().Str("order_reference", ref).Ints("numbers", numbers).Msg("reservation expired")
		if s.Cache != nil {
			s.Cache.CacheStatus(ctx, ref, reconcile.StateReleased)
		}
		if s.Events != nil {
			s.Events.Emit(ctx, tickets.Event{
				Type:           tickets.EventTicketsReleased,
				OrderReference: ref,
				Payload:        tickets.TicketsReleasedPayload{OrderReference: ref, Numbers: numbers, Reason: tickets.ReasonExpired},
			})
		}
	}
	sort.Ints(all)
	return all, nil
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
