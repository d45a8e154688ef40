// Package testutil holds in-memory stand-ins for the Postgres store, the
// payment provider, the Redis cache and the event bus.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
)

// MemStore mirrors tickets.Repo: per-number row locks taken in ascending
// order, staged writes applied on commit, and status-guarded bulk updates
// that lock their target rows before re-checking the guard.
type MemStore struct {
	mu    sync.Mutex
	rows  map[int]tickets.Ticket
	locks map[int]*sync.Mutex

	// Injected failures.
	LockErr             error
	SetPaymentHandleErr error
	ReleaseErr          error

	// AfterLock runs inside WithTx once the row locks are held.
	AfterLock func(numbers []int)
}

func NewMemStore(count int) *MemStore {
	s := &MemStore{rows: make(map[int]tickets.Ticket, count), locks: make(map[int]*sync.Mutex, count)}
	for n := 1; n <= count; n++ {
		s.rows[n] = tickets.Ticket{Number: n, Status: tickets.StatusAvailable}
		s.locks[n] = &sync.Mutex{}
	}
	return s
}

// Get returns a copy of one row.
func (s *MemStore) Get(n int) tickets.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[n]
}

// Put overwrites a row, for arranging fixtures.
func (s *MemStore) Put(t tickets.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[t.Number]; !ok {
		s.locks[t.Number] = &sync.Mutex{}
	}
	s.rows[t.Number] = t
}

// Count reports how many rows are in status st.
func (s *MemStore) Count(st tickets.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.rows {
		if t.Status == st {
			n++
		}
	}
	return n
}

func (s *MemStore) ListAll(context.Context) ([]tickets.PublicTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tickets.PublicTicket, 0, len(s.rows))
	for _, n := range s.sortedNumbers() {
		out = append(out, s.rows[n].Public())
	}
	return out, nil
}

func (s *MemStore) ListByPhone(_ context.Context, phone string) ([]tickets.Ticket, error) {
	return s.filter(func(t tickets.Ticket) bool {
		return t.BuyerPhone == phone && (t.Status == tickets.StatusReserved || t.Status == tickets.StatusPaid)
	}), nil
}

func (s *MemStore) FindByOrderReference(_ context.Context, ref string) ([]tickets.Ticket, error) {
	return s.filter(func(t tickets.Ticket) bool { return ref != "" && t.OrderReference == ref }), nil
}

func (s *MemStore) FindByPaymentHandle(_ context.Context, handle string) ([]tickets.Ticket, error) {
	return s.filter(func(t tickets.Ticket) bool { return handle != "" && t.PaymentHandle == handle }), nil
}

func (s *MemStore) SetPaymentHandle(_ context.Context, ref, handle string) (int64, error) {
	if s.SetPaymentHandleErr != nil {
		return 0, s.SetPaymentHandleErr
	}
	held := func(t tickets.Ticket) bool {
		return ref != "" && t.OrderReference == ref && (t.Status == tickets.StatusReserved || t.Status == tickets.StatusPaid)
	}
	n := s.update(held, func(t *tickets.Ticket) { t.PaymentHandle = handle })
	return int64(len(n)), nil
}

func (s *MemStore) MarkPaid(_ context.Context, ref string) ([]int, error) {
	return s.update(reservedFor(ref), func(t *tickets.Ticket) {
		t.Status = tickets.StatusPaid
		t.ReservedAt = nil
	}), nil
}

func (s *MemStore) Release(_ context.Context, ref string) ([]int, error) {
	if s.ReleaseErr != nil {
		return nil, s.ReleaseErr
	}
	return s.update(reservedFor(ref), clearTicket), nil
}

func (s *MemStore) ReleaseExpiredBefore(_ context.Context, cutoff time.Time) ([]tickets.Released, error) {
	var out []tickets.Released
	expired := func(t tickets.Ticket) bool {
		return t.Status == tickets.StatusReserved && t.ReservedAt != nil && !t.ReservedAt.After(cutoff)
	}
	s.update(expired, func(t *tickets.Ticket) {
		out = append(out, tickets.Released{Number: t.Number, OrderReference: t.OrderReference})
		clearTicket(t)
	})
	return out, nil
}

func (s *MemStore) WithTx(ctx context.Context, fn func(tickets.Tx) error) error {
	tx := &memTx{s: s, staged: map[int]tickets.Ticket{}}
	defer tx.unlock()
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, t := range tx.staged {
		s.rows[n] = t
	}
	return nil
}

type memTx struct {
	s      *MemStore
	held   []*sync.Mutex
	staged map[int]tickets.Ticket
}

func (tx *memTx) LockForUpdate(_ context.Context, numbers []int) ([]tickets.Ticket, error) {
	if tx.s.LockErr != nil {
		return nil, tx.s.LockErr
	}
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)
	tx.held = append(tx.held, tx.s.lockRows(sorted)...)
	if tx.s.AfterLock != nil {
		tx.s.AfterLock(sorted)
	}

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var out []tickets.Ticket
	for _, n := range sorted {
		if t, ok := tx.s.rows[n]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tx *memTx) Reserve(_ context.Context, res tickets.Reservation) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var n int64
	for _, num := range res.Numbers {
		t, ok := tx.s.rows[num]
		if !ok || t.Status != tickets.StatusAvailable {
			continue
		}
		at := res.ReservedAt
		mustTransition(t.Status, tickets.StatusReserved)
		t.Status = tickets.StatusReserved
		t.BuyerName, t.BuyerPhone = res.Buyer.Name, res.Buyer.Phone
		t.OrderReference, t.PaymentHandle = res.OrderReference, res.PaymentHandle
		t.ReservedAt = &at
		tx.staged[num] = t
		n++
	}
	return n, nil
}

func (tx *memTx) unlock() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	tx.held = nil
}

// lockRows takes the row locks of numbers, which must be sorted.
func (s *MemStore) lockRows(numbers []int) []*sync.Mutex {
	s.mu.Lock()
	ms := make([]*sync.Mutex, 0, len(numbers))
	for _, n := range numbers {
		if m, ok := s.locks[n]; ok {
			ms = append(ms, m)
		}
	}
	s.mu.Unlock()
	for _, m := range ms {
		m.Lock()
	}
	return ms
}

// update finds rows matching guard, locks them, re-checks the guard and
// applies fn to the rows that still match. It returns their numbers sorted.
func (s *MemStore) update(guard func(tickets.Ticket) bool, fn func(*tickets.Ticket)) []int {
	candidates := make([]int, 0)
	for _, t := range s.filter(guard) {
		candidates = append(candidates, t.Number)
	}
	held := s.lockRows(candidates)
	defer func() {
		for _, m := range held {
			m.Unlock()
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, n := range candidates {
		t := s.rows[n]
		if !guard(t) {
			continue
		}
		before := t.Status
		fn(&t)
		mustTransition(before, t.Status)
		s.rows[n] = t
		out = append(out, n)
	}
	return out
}

func (s *MemStore) filter(keep func(tickets.Ticket) bool) []tickets.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tickets.Ticket
	for _, n := range s.sortedNumbers() {
		if t := s.rows[n]; keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *MemStore) sortedNumbers() []int {
	ns := make([]int, 0, len(s.rows))
	for n := range s.rows {
		ns = append(ns, n)
	}
	sort.Ints(ns)
	return ns
}

func mustTransition(from, to tickets.Status) {
	if from != to && !tickets.CanTransition(from, to) {
		panic(fmt.Sprintf("illegal ticket transition %s -> %s", from, to))
	}
}

func reservedFor(ref string) func(tickets.Ticket) bool {
	return func(t tickets.Ticket) bool {
		return ref != "" && t.OrderReference == ref && t.Status == tickets.StatusReserved
	}
}

func clearTicket(t *tickets.Ticket) {
	t.Status = tickets.StatusAvailable
	t.BuyerName, t.BuyerPhone = "", ""
	t.OrderReference, t.PaymentHandle = "", ""
	t.ReservedAt = nil
}
