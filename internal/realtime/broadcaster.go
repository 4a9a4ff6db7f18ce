package realtime

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

var (
	// ErrCapacityExceeded is returned by Subscribe when either the deployment
	// or the tenant connection limit is reached.
	ErrCapacityExceeded = errors.New("capacity_exceeded")
	// ErrHandshakeFailed is returned when the initial ready frame cannot be
	// delivered; the connection ends in StateFailed.
	ErrHandshakeFailed = errors.New("realtime: handshake failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("realtime: broadcaster closed")
)

// State is the lifecycle of one connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Options configures a Broadcaster. Zero values take the noted defaults.
type Options struct {
	MaxConnections      int           // deployment-wide cap; default 1000
	HeartbeatInterval   time.Duration // default 30s
	MaxMissedHeartbeats int           // default 2
	OutboxSize          int           // per-connection buffer; default 64
	QueueSize           int           // per-tenant emission queue; default 1024
	// TenantLimit returns the per-tenant connection cap; <= 0 means only the
	// deployment cap applies. May be nil.
	TenantLimit func(tenantID string) int
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 1000
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MaxMissedHeartbeats <= 0 {
		o.MaxMissedHeartbeats = 2
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	return o
}

type client struct {
	handle string
	tenant string
	conn   Conn

	state    atomic.Int32
	missed   atomic.Int32
	lastBeat atomic.Int64

	out       chan Event
	ping      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) State() State { return State(c.state.Load()) }

type hub struct {
	tenant  string
	mu      sync.RWMutex
	clients map[string]*client
	queue   chan Event
	stopped chan struct{}
}

// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	opts Options
	tr   *tracker.Tracker
	log  zerolog.Logger

	mu      sync.RWMutex
	hubs    map[string]*hub
	clients map[string]*client
	closed  bool

	active            atomic.Int64
	accepted          atomic.Uint64
	rejected          atomic.Uint64
	sendErrors        atomic.Uint64
	heartbeatTimeouts atomic.Uint64
	dropped           atomic.Uint64
}

// NewBroadcaster builds a broadcaster and starts its heartbeat ticker, which
// is registered with tr as "realtime.heartbeat".
func NewBroadcaster(tr *tracker.Tracker, opts Options, log zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		opts:    opts.withDefaults(),
		tr:      tr,
		log:     log.With().Str("component", "broadcaster").Logger(),
		hubs:    make(map[string]*hub),
		clients: make(map[string]*client),
	}
	tr.Ticker("realtime.heartbeat", b.opts.HeartbeatInterval, b.heartbeat)
	return b
}

// HasCapacity reports whether a new connection for tenantID would currently
// be accepted. Subscribe re-checks atomically.
func (b *Broadcaster) HasCapacity(tenantID string) bool {
	if b.active.Load() >= int64(b.opts.MaxConnections) {
		return false
	}
	limit := b.tenantLimit(tenantID)
	if limit <= 0 {
		return true
	}
	b.mu.RLock()
	h := b.hubs[tenantID]
	b.mu.RUnlock()
	if h == nil {
		return true
	}
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return n < limit
}

func (b *Broadcaster) tenantLimit(tenantID string) int {
	if b.opts.TenantLimit == nil {
		return 0
	}
	return b.opts.TenantLimit(tenantID)
}

func (b *Broadcaster) reserve() bool {
	for {
		cur := b.active.Load()
		if cur >= int64(b.opts.MaxConnections) {
			return false
		}
		if b.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Subscribe attaches conn to tenantID and returns its handle. The connection
// moves connecting -> open once the ready frame is delivered, or
// connecting -> failed when it is not.
func (b *Broadcaster) Subscribe(tenantID string, conn Conn) (string, error) {
	if !b.reserve() {
		b.rejected.Add(1)
		return "", ErrCapacityExceeded
	}

	c := &client{
		handle: uuid.NewString(),
		tenant: tenantID,
		conn:   conn,
		out:    make(chan Event, b.opts.OutboxSize),
		ping:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.lastBeat.Store(time.Now().UnixNano())

	limit := b.tenantLimit(tenantID)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.active.Add(-1)
		return "", ErrClosed
	}
	h := b.hubs[tenantID]
	if h == nil {
		h = &hub{
			tenant:  tenantID,
			clients: make(map[string]*client),
			queue:   make(chan Event, b.opts.QueueSize),
			stopped: make(chan struct{}),
		}
		b.hubs[tenantID] = h
		go b.emit(h)
	}
	h.mu.Lock()
	if limit > 0 && len(h.clients) >= limit {
		h.mu.Unlock()
		b.mu.Unlock()
		b.active.Add(-1)
		b.rejected.Add(1)
		return "", ErrCapacityExceeded
	}
	// Registered before the client is reachable, so every close path finds
	// the entry it forgets.
	b.tr.RegisterConnection(connName(c.handle), tracker.ReleaseFunc(func() error {
		return b.closeClient(c, CloseGoingAway, "server shutdown")
	}))
	h.clients[c.handle] = c
	b.clients[c.handle] = c
	h.mu.Unlock()
	b.mu.Unlock()

	if err := conn.Send(NewEvent(tenantID, TypeConnectionReady, map[string]string{"handle": c.handle})); err != nil {
		c.closeOnce.Do(func() {
			b.detach(c)
			close(c.done)
			c.state.Store(int32(StateFailed))
			_ = conn.Close(CloseInternalError, "handshake failed")
			b.tr.Forget(connName(c.handle))
		})
		b.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("connection failed during handshake")
		return "", ErrHandshakeFailed
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// Closed while the ready frame was in flight.
		return "", ErrClosed
	}
	b.accepted.Add(1)
	go b.writer(c)
	return c.handle, nil
}

func connName(handle string) string { return "ws:" + handle }

// Unsubscribe closes and forgets handle. Unknown or already closed handles
// are ignored.
func (b *Broadcaster) Unsubscribe(handle string) {
	b.mu.RLock()
	c := b.clients[handle]
	b.mu.RUnlock()
	if c != nil {
		_ = b.closeClient(c, CloseNormal, "unsubscribed")
	}
}

// Touch records a heartbeat from handle and resets its missed count.
func (b *Broadcaster) Touch(handle string) {
	b.mu.RLock()
	c := b.clients[handle]
	b.mu.RUnlock()
	if c != nil {
		c.missed.Store(0)
		c.lastBeat.Store(time.Now().UnixNano())
	}
}

// State returns the state of a live connection.
func (b *Broadcaster) State(handle string) (State, bool) {
	b.mu.RLock()
	c := b.clients[handle]
	b.mu.RUnlock()
	if c == nil {
		return StateClosed, false
	}
	return c.State(), true
}

// Broadcast enqueues ev for every open connection of tenantID. Events for a
// tenant with no connections are discarded. The call never blocks; when the
// tenant queue is full the event is dropped and counted.
func (b *Broadcaster) Broadcast(tenantID string, ev Event) {
	ev.TenantID = tenantID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	h := b.hubs[tenantID]
	if h == nil {
		return
	}
	select {
	case h.queue <- ev:
	default:
		b.dropped.Add(1)
		b.log.Warn().Str("tenant_id", tenantID).Str("type", ev.Type).Msg("tenant broadcast queue full; event dropped")
	}
}

// emit is the single emission goroutine of h. It hands each event to every
// open connection's outbox in queue order; connections whose outbox is full
// are closed.
func (b *Broadcaster) emit(h *hub) {
	defer close(h.stopped)
	for ev := range h.queue {
		var slow []*client
		h.mu.RLock()
		for _, c := range h.clients {
			if c.State() != StateOpen {
				continue
			}
			select {
			case c.out <- ev:
			default:
				slow = append(slow, c)
			}
		}
		h.mu.RUnlock()

		for _, c := range slow {
			b.sendErrors.Add(1)
			b.log.Warn().Str("tenant_id", h.tenant).Str("handle", c.handle).Msg("outbox full; closing slow connection")
			_ = b.closeClient(c, CloseTryAgainLater, "slow consumer")
		}
	}
}

// writer serializes all writes to c.conn.
func (b *Broadcaster) writer(c *client) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			if err := c.conn.Send(ev); err != nil {
				b.sendErrors.Add(1)
				b.log.Debug().Err(err).Str("handle", c.handle).Msg("send failed; closing connection")
				_ = b.closeClient(c, CloseInternalError, "send failed")
				return
			}
		case <-c.ping:
			if err := c.conn.Ping(); err != nil {
				b.sendErrors.Add(1)
				_ = b.closeClient(c, CloseInternalError, "ping failed")
				return
			}
		}
	}
}

func (b *Broadcaster) heartbeat() {
	b.mu.RLock()
	all := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		all = append(all, c)
	}
	b.mu.RUnlock()

	for _, c := range all {
		if c.State() != StateOpen {
			continue
		}
		if int(c.missed.Load()) >= b.opts.MaxMissedHeartbeats {
			b.heartbeatTimeouts.Add(1)
			b.log.Info().Str("tenant_id", c.tenant).Str("handle", c.handle).Msg("heartbeat timeout; closing connection")
			_ = b.closeClient(c, ClosePolicy, "heartbeat timeout")
			continue
		}
		c.missed.Add(1)
		select {
		case c.ping <- struct{}{}:
		default:
		}
	}
}

// detach removes c from the registries and releases its capacity slot. The
// tenant's hub is reaped when c was its last client. It reports false if c
// was already detached.
func (b *Broadcaster) detach(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.handle]; !ok {
		return false
	}
	delete(b.clients, c.handle)
	b.active.Add(-1)

	h := b.hubs[c.tenant]
	if h == nil {
		return true
	}
	h.mu.Lock()
	delete(h.clients, c.handle)
	if len(h.clients) == 0 && !b.closed {
		// Broadcast sends under b.mu, so closing the queue here is safe.
		delete(b.hubs, c.tenant)
		close(h.queue)
	}
	h.mu.Unlock()
	return true
}

// closeClient closes c once and returns the transport's close error. Later
// calls return nil. A connection whose close fails ends in StateFailed.
func (b *Broadcaster) closeClient(c *client, code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		b.detach(c)
		close(c.done)
		if err = c.conn.Close(code, reason); err != nil {
			c.state.Store(int32(StateFailed))
			b.log.Warn().Err(err).Str("tenant_id", c.tenant).Str("handle", c.handle).Msg("close failed")
		} else {
			c.state.Store(int32(StateClosed))
		}
		b.tr.Forget(connName(c.handle))
	})
	return err
}

// Stats is a snapshot of broadcaster counters.
type Stats struct {
	Active            int64          `json:"active"`
	Accepted          uint64         `json:"accepted"`
	Rejected          uint64         `json:"rejected"`
	SendErrors        uint64         `json:"send_errors"`
	HeartbeatTimeouts uint64         `json:"heartbeat_timeouts"`
	DroppedEvents     uint64         `json:"dropped_events"`
	Tenants           map[string]int `json:"tenants"`
}

// Stats returns the current counters and per-tenant connection counts.
func (b *Broadcaster) Stats() Stats {
	st := Stats{
		Active:            b.active.Load(),
		Accepted:          b.accepted.Load(),
		Rejected:          b.rejected.Load(),
		SendErrors:        b.sendErrors.Load(),
		HeartbeatTimeouts: b.heartbeatTimeouts.Load(),
		DroppedEvents:     b.dropped.Load(),
		Tenants:           make(map[string]int),
	}
	b.mu.RLock()
	hubs := make([]*hub, 0, len(b.hubs))
	for _, h := range b.hubs {
		hubs = append(hubs, h)
	}
	b.mu.RUnlock()
	for _, h := range hubs {
		h.mu.RLock()
		if n := len(h.clients); n > 0 {
			st.Tenants[h.tenant] = n
		}
		h.mu.RUnlock()
	}
	return st
}

// Close rejects new subscriptions, releases every connection through the
// tracker and stops the emission goroutines and the heartbeat ticker. The
// report lists connections whose close failed. Later calls report nothing.
func (b *Broadcaster) Close() tracker.Report {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return tracker.Report{}
	}
	b.closed = true
	all := make([]*client, 0, len(b.clients))
	names := make([]string, 0, len(b.clients)+1)
	for _, c := range b.clients {
		all = append(all, c)
		names = append(names, connName(c.handle))
	}
	hubs := make([]*hub, 0, len(b.hubs))
	for _, h := range b.hubs {
		hubs = append(hubs, h)
		close(h.queue)
	}
	b.mu.Unlock()

	sort.Strings(names)
	rep := b.tr.ReleaseAll(append(names, "realtime.heartbeat")...)
	for _, c := range all {
		// Clients someone else already released are no-ops here.
		_ = b.closeClient(c, CloseGoingAway, "server shutdown")
	}
	for _, h := range hubs {
		<-h.stopped
	}
	return rep
}
