package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

// Handler receives events published on the Bus.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id   uint64
	name string
	fn   Handler
}

// Bus is an in-process, per-tenant publish/subscribe channel. Publish runs
// handlers synchronously, tenant-specific handlers first and then handlers
// subscribed to every tenant, each in subscription order. Publishes for the
// same tenant are serialized so handlers observe them in call order.
type Bus struct {
	tr  *tracker.Tracker
	log zerolog.Logger
	seq atomic.Uint64

	mu       sync.RWMutex
	byTenant map[string][]subscription
	all      []subscription

	dispatchMu sync.Mutex
	dispatch   map[string]*sync.Mutex
}

// NewBus returns an empty bus. Subscriptions are registered with tr as
// listeners.
func NewBus(tr *tracker.Tracker, log zerolog.Logger) *Bus {
	return &Bus{
		tr:       tr,
		log:      log.With().Str("component", "bus").Logger(),
		byTenant: make(map[string][]subscription),
		dispatch: make(map[string]*sync.Mutex),
	}
}

// Subscribe registers fn for events of tenantID and returns the function that
// removes it. Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(tenantID, name string, fn Handler) func() {
	s := b.newSub(name, fn)
	b.mu.Lock()
	b.byTenant[tenantID] = append(b.byTenant[tenantID], s)
	b.mu.Unlock()
	return b.track(s, func() {
		b.mu.Lock()
		b.byTenant[tenantID] = without(b.byTenant[tenantID], s.id)
		if len(b.byTenant[tenantID]) == 0 {
			delete(b.byTenant, tenantID)
		}
		b.mu.Unlock()
	})
}

// SubscribeAll registers fn for events of every tenant.
func (b *Bus) SubscribeAll(name string, fn Handler) func() {
	s := b.newSub(name, fn)
	b.mu.Lock()
	b.all = append(b.all, s)
	b.mu.Unlock()
	return b.track(s, func() {
		b.mu.Lock()
		b.all = without(b.all, s.id)
		b.mu.Unlock()
	})
}

func (b *Bus) newSub(name string, fn Handler) subscription {
	return subscription{id: b.seq.Add(1), name: name, fn: fn}
}

func (b *Bus) track(s subscription, remove func()) func() {
	key := fmt.Sprintf("bus:%s:%d", s.name, s.id)
	var once sync.Once
	unsubscribe := func() { once.Do(remove) }
	b.tr.RegisterListener(key, tracker.ReleaseFunc(func() error {
		unsubscribe()
		return nil
	}))
	return func() {
		unsubscribe()
		b.tr.Forget(key)
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) lockFor(tenantID string) *sync.Mutex {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	m := b.dispatch[tenantID]
	if m == nil {
		m = &sync.Mutex{}
		b.dispatch[tenantID] = m
	}
	return m
}

// Publish delivers ev to the subscribers of ev.TenantID and to every
// all-tenant subscriber. A panicking handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	m := b.lockFor(ev.TenantID)
	m.Lock()
	defer m.Unlock()

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.byTenant[ev.TenantID])+len(b.all))
	subs = append(subs, b.byTenant[ev.TenantID]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(ctx, s, ev)
	}
}

func (b *Bus) call(ctx context.Context, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("subscriber", s.name).Str("tenant_id", ev.TenantID).Msg("event handler panicked")
		}
	}()
	s.fn(ctx, ev)
}
