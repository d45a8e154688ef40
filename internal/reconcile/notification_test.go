package reconcile_test

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/pkg/errors"
)

func TestNotificationFetchesStatusFromProvider(t *testing.T) {
	f := newFixture(t)
	hold(f.store, "ord-1", "pay-1", t0, 3, 4)
	f.provider.SetStatus("pay-1", "ord-1", "approved")

	res, err := f.svc.HandleNotification(context.Background(), reconcile.Notification{PaymentHandle: "pay-1"})
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if res.Outcome != payment.OutcomeApproved || res.OrderReference != "ord-1" {
		t.Errorf("result = %+v", res)
	}
	assertStatus(t, f.store, tickets.StatusPaid, 3, 4)
}

func TestDuplicateNotificationIsShortCircuited(t *testing.T) {
	f := newFixture(t)
	hold(f.store, "ord-1", "pay-1", t0, 3)
	f.provider.SetStatus("pay-1", "ord-1", "approved")
	ctx := context.Background()

	if _, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1"}); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1"})
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate {
		t.Error("redelivery not flagged as duplicate")
	}
	if f.events.Count(tickets.EventTicketsPaid) != 1 {
		t.Errorf("paid events = %d", f.events.Count(tickets.EventTicketsPaid))
	}
}

func TestDuplicateWithoutCacheFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	f.svc.Cache = nil
	hold(f.store, "ord-1", "pay-1", t0, 3)
	n := reconcile.Notification{PaymentHandle: "pay-1", OrderReference: "ord-1", Status: "approved"}

	for i := 0; i < 3; i++ {
		if _, err := f.svc.HandleNotification(context.Background(), n); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	assertStatus(t, f.store, tickets.StatusPaid, 3)
	if f.events.Count(tickets.EventTicketsPaid) != 1 {
		t.Errorf("paid events = %d", f.events.Count(tickets.EventTicketsPaid))
	}
}

func TestPendingNotificationIsNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	hold(f.store, "ord-1", "pay-1", t0, 3)
	f.provider.SetStatus("pay-1", "ord-1", "pending")
	ctx := context.Background()

	if _, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1"}); err != nil {
		t.Fatal(err)
	}
	assertStatus(t, f.store, tickets.StatusReserved, 3)

	f.provider.SetStatus("pay-1", "ord-1", "approved")
	res, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Error("approval after pending treated as duplicate")
	}
	assertStatus(t, f.store, tickets.StatusPaid, 3)
}

func TestOutOfOrderRejectionAfterApproval(t *testing.T) {
	f := newFixture(t)
	hold(f.store, "ord-1", "pay-1", t0, 8)
	ctx := context.Background()

	if _, err := f.svc.HandleNotification(ctx, reconcile.Notification{OrderReference: "ord-1", Status: "APPROVED"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.HandleNotification(ctx, reconcile.Notification{OrderReference: "ord-1", Status: "cancelled"}); err != nil {
		t.Fatal(err)
	}
	assertStatus(t, f.store, tickets.StatusPaid, 8)
}

func TestNotificationByReferenceOnlyLooksUpHandle(t *testing.T) {
	f := newFixture(t)
	hold(f.store, "ord-1", "pay-1", t0, 2)
	f.provider.SetStatus("pay-1", "ord-1", "rejected")

	if _, err := f.svc.HandleNotification(context.Background(), reconcile.Notification{OrderReference: "ord-1"}); err != nil {
		t.Fatal(err)
	}
	assertStatus(t, f.store, tickets.StatusAvailable, 2)
}

func TestNotificationErrors(t *testing.T) {
	f := newFixture(t)
	hold(f.store, "ord-1", "pay-1", t0, 2)
	ctx := context.Background()

	if _, err := f.svc.HandleNotification(ctx, reconcile.Notification{}); !errors.Is(err, tickets.ErrUnknownReference) {
		t.Errorf("empty notification err = %v", err)
	}
	if _, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-404", Status: "approved"}); !errors.Is(err, tickets.ErrUnknownReference) {
		t.Errorf("unknown handle err = %v", err)
	}

	f.provider.GetErr = errors.New("timeout")
	_, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1"})
	if !tickets.IsPaymentProvider(err) {
		t.Errorf("provider failure err = %v", err)
	}
	assertStatus(t, f.store, tickets.StatusReserved, 2)
}

func TestNotificationCannotRedirectPaymentToAnotherOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("provider reference disagrees", func(t *testing.T) {
		f := newFixture(t)
		hold(f.store, "ord-paid", "pay-1", t0, 1)
		hold(f.store, "ord-other", "pay-2", t0, 7)
		f.provider.SetStatus("pay-1", "ord-paid", "approved")
		f.provider.SetStatus("pay-2", "ord-other", "pending")

		_, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1", OrderReference: "ord-other"})
		if !errors.Is(err, tickets.ErrUnknownReference) {
			t.Fatalf("err = %v, want ErrUnknownReference", err)
		}
		assertStatus(t, f.store, tickets.StatusReserved, 1, 7)
		if f.events.Count(tickets.EventTicketsPaid) != 0 {
			t.Error("paid event emitted")
		}
	})

	t.Run("provider has no reference", func(t *testing.T) {
		f := newFixture(t)
		hold(f.store, "ord-other", "pay-2", t0, 7)
		f.provider.SetStatus("pay-1", "", "approved")

		_, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1", OrderReference: "ord-other"})
		if !errors.Is(err, tickets.ErrUnknownReference) {
			t.Fatalf("err = %v, want ErrUnknownReference", err)
		}
		assertStatus(t, f.store, tickets.StatusReserved, 7)
	})

	t.Run("provider reference is used when body has none", func(t *testing.T) {
		f := newFixture(t)
		hold(f.store, "ord-paid", "pay-1", t0, 1)
		f.provider.SetStatus("pay-1", "ord-paid", "approved")

		res, err := f.svc.HandleNotification(ctx, reconcile.Notification{PaymentHandle: "pay-1"})
		if err != nil {
			t.Fatal(err)
		}
		if res.OrderReference != "ord-paid" {
			t.Errorf("order = %s", res.OrderReference)
		}
		assertStatus(t, f.store, tickets.StatusPaid, 1)
	})
}

func TestApplyOutcomeRejectsForeignHandle(t *testing.T) {
	f := newFixture(t)
	hold(f.store, "ord-1", "pay-1", t0, 4)

	_, err := f.svc.ApplyOutcome(context.Background(), reconcile.Target{OrderReference: "ord-1", PaymentHandle: "pay-9"}, payment.OutcomeApproved)
	if !errors.Is(err, tickets.ErrUnknownReference) {
		t.Fatalf("err = %v, want ErrUnknownReference", err)
	}
	assertStatus(t, f.store, tickets.StatusReserved, 4)
}
