package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/pkg/errors"
)

// FakeProvider is an in-memory payment.Provider. Created payments start as
// "pending"; tests move them with SetStatus.
type FakeProvider struct {
	mu       sync.Mutex
	seq      int
	payments map[string]*payment.Payment

	CreateErr error
	GetErr    error
	Created   []*payment.CreateRequest
	Gets      int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{payments: map[string]*payment.Payment{}}
}

func (f *FakeProvider) CreatePayment(_ context.Context, req *payment.CreateRequest) (*payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, req)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.seq++
	p := &payment.Payment{
		Handle:            fmt.Sprintf("pay-%d", f.seq),
		Status:            "pending",
		ExternalReference: req.OrderReference,
		QRCode:            "pix-code-" + req.OrderReference,
	}
	f.payments[p.Handle] = p
	cp := *p
	return &cp, nil
}

func (f *FakeProvider) GetPayment(_ context.Context, handle string) (*payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	p, ok := f.payments[handle]
	if !ok {
		return nil, errors.Errorf("payment %s not found", handle)
	}
	cp := *p
	return &cp, nil
}

// SetStatus changes the provider-side status of handle, registering the
// payment when it does not exist yet.
func (f *FakeProvider) SetStatus(handle, ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[handle]
	if !ok {
		p = &payment.Payment{Handle: handle, ExternalReference: ref}
		f.payments[handle] = p
	}
	p.Status = status
}

func (f *FakeProvider) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created)
}

// Recorder is a tickets.EventSink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []tickets.Event
}

func (r *Recorder) Emit(_ context.Context, ev tickets.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []tickets.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tickets.Event(nil), r.events...)
}

// Types lists the recorded event types in emission order.
func (r *Recorder) Types() []string {
	var out []string
	for _, ev := range r.Events() {
		out = append(out, ev.Type)
	}
	return out
}

// Count reports how many events of type typ were recorded.
func (r *Recorder) Count(typ string) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// MemCache is an in-memory reconcile.Cache.
type MemCache struct {
	mu     sync.Mutex
	seen   map[string]bool
	status map[string]reconcile.State
}

func NewMemCache() *MemCache {
	return &MemCache{seen: map[string]bool{}, status: map[string]reconcile.State{}}
}

func (c *MemCache) SeenNotification(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[key]
}

func (c *MemCache) MarkNotification(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = true
}

func (c *MemCache) CachedStatus(_ context.Context, ref string) (reconcile.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.status[ref]
	return st, ok
}

func (c *MemCache) CacheStatus(_ context.Context, ref string, st reconcile.State) {
	if st != reconcile.StateApproved && st != reconcile.StateReleased {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[ref] = st
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sequence returns a reference generator yielding prefix-1, prefix-2, ...
func Sequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return strings.TrimSuffix(prefix, "-") + fmt.Sprintf("-%d", n)
	}
}
