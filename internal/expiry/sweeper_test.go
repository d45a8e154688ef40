package expiry_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/expiry"
	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/reservation"
	"github.com/ariefcatur/go-realtime-raffle/internal/testutil"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestReservationExpiresOnlyAfterTimeout(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore(10)
	clock := testutil.NewClock(t0)
	cache := testutil.NewMemCache()
	events := &testutil.Recorder{}

	engine := &reservation.Service{
		Store:        store,
		Payments:     &payment.Correlator{Provider: testutil.NewFakeProvider(), UnitPriceCents: 1000},
		Log:          zerolog.Nop(),
		TotalTickets: 10,
		Now:          clock.Now,
	}
	sweeper := &expiry.Sweeper{
		Store:   store,
		Cache:   cache,
		Events:  events,
		Log:     zerolog.Nop(),
		Timeout: 60 * time.Minute,
		Now:     clock.Now,
	}

	res, err := engine.Reserve(ctx, reservation.Request{Numbers: []int{5}, Buyer: tickets.Buyer{Name: "Ana", Phone: "1"}})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	clock.Advance(50 * time.Minute)
	freed, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep at 50m: %v", err)
	}
	if len(freed) != 0 {
		t.Fatalf("sweep at 50m freed %v", freed)
	}
	if st := store.Get(5).Status; st != tickets.StatusReserved {
		t.Fatalf("ticket 5 at 50m = %s", st)
	}

	clock.Advance(20 * time.Minute)
	freed, err = sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep at 70m: %v", err)
	}
	if len(freed) != 1 || freed[0] != 5 {
		t.Fatalf("sweep at 70m freed %v", freed)
	}
	tk := store.Get(5)
	if tk.Status != tickets.StatusAvailable || tk.OrderReference != "" || tk.PaymentHandle != "" ||
		tk.BuyerName != "" || tk.BuyerPhone != "" || tk.ReservedAt != nil {
		t.Errorf("ticket 5 not cleared: %+v", tk)
	}

	if st, ok := cache.CachedStatus(ctx, res.OrderReference); !ok || st != reconcile.StateReleased {
		t.Errorf("cached status = %s %v", st, ok)
	}
	evs := events.Events()
	if len(evs) != 1 || evs[0].OrderReference != res.OrderReference {
		t.Fatalf("events = %+v", evs)
	}
	if p := evs[0].Payload.(tickets.TicketsReleasedPayload); p.Reason != tickets.ReasonExpired {
		t.Errorf("reason = %s", p.Reason)
	}
}

func TestSweepLeavesPaidTickets(t *testing.T) {
	store := testutil.NewMemStore(5)
	store.Put(tickets.Ticket{Number: 1, Status: tickets.StatusPaid, OrderReference: "o", BuyerName: "a", BuyerPhone: "1"})
	old := t0.Add(-3 * time.Hour)
	store.Put(tickets.Ticket{Number: 2, Status: tickets.StatusReserved, OrderReference: "x", BuyerName: "a", BuyerPhone: "1", ReservedAt: &old})
	store.Put(tickets.Ticket{Number: 3, Status: tickets.StatusReserved, OrderReference: "y", BuyerName: "b", BuyerPhone: "2", ReservedAt: &old})

	sw := &expiry.Sweeper{Store: store, Log: zerolog.Nop(), Timeout: time.Hour, Now: func() time.Time { return t0 }}
	freed, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(freed) != 2 || freed[0] != 2 || freed[1] != 3 {
		t.Errorf("freed = %v, want [2 3]", freed)
	}
	if st := store.Get(1).Status; st != tickets.StatusPaid {
		t.Errorf("paid ticket swept to %s", st)
	}
}

func TestSweepBoundaryIsInclusive(t *testing.T) {
	store := testutil.NewMemStore(1)
	at := t0.Add(-time.Hour)
	store.Put(tickets.Ticket{Number: 1, Status: tickets.StatusReserved, OrderReference: "x", BuyerName: "a", BuyerPhone: "1", ReservedAt: &at})

	sw := &expiry.Sweeper{Store: store, Log: zerolog.Nop(), Timeout: time.Hour, Now: func() time.Time { return t0 }}
	if freed, _ := sw.SweepOnce(context.Background()); len(freed) != 1 {
		t.Errorf("reservation exactly at cutoff not released: %v", freed)
	}
}

func TestRunSweepsAtStartupAndStopsOnCancel(t *testing.T) {
	store := testutil.NewMemStore(2)
	old := t0.Add(-2 * time.Hour)
	store.Put(tickets.Ticket{Number: 2, Status: tickets.StatusReserved, OrderReference: "x", BuyerName: "a", BuyerPhone: "1", ReservedAt: &old})

	sw := &expiry.Sweeper{Store: store, Log: zerolog.Nop(), Timeout: time.Hour, Interval: time.Hour, Now: func() time.Time { return t0 }}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.Get(2).Status != tickets.StatusAvailable {
		select {
		case <-deadline:
			t.Fatal("startup sweep did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
