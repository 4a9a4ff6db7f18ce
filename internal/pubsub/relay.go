// Package pubsub relays dashboard events between service instances over Redis
// Pub/Sub so that a connection held by one instance sees changes written
// through another.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-concierge-backend/internal/realtime"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "concierge:realtime:events"

const (
	defaultOutboxSize     = 1024
	defaultPublishTimeout = 2 * time.Second
)

// Envelope is the wire form of a relayed event.
type Envelope struct {
	InstanceID string         `json:"instance_id"`
	Event      realtime.Event `json:"event"`
}

// Relay publishes local events and delivers events published by other
// instances. Events carrying this instance's id are never delivered back.
type Relay struct {
	client     *redis.Client
	channel    string
	instanceID string
	log        zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	outbox         chan realtime.Event
	publishTimeout time.Duration
	dropped        atomic.Uint64
}

// NewRelay returns a relay on channel (DefaultChannel when empty).
func NewRelay(client *redis.Client, channel string, log zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		log:        log.With().Str("component", "relay").Str("channel", channel).Logger(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,

		outbox:         make(chan realtime.Event, defaultOutboxSize),
		publishTimeout: defaultPublishTimeout,
	}
}

// InstanceID identifies this process on the channel.
func (r *Relay) InstanceID() string { return r.instanceID }

// Publish sends ev to the other instances.
func (r *Relay) Publish(ctx context.Context, ev realtime.Event) error {
	data, err := r.encode(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}
	return nil
}

// Enqueue hands ev to RunPublisher without blocking. When the outbox is
// full the event is dropped, counted and false is returned.
func (r *Relay) Enqueue(ev realtime.Event) bool {
	select {
	case r.outbox <- ev:
		return true
	default:
		r.dropped.Add(1)
		r.log.Warn().Str("tenant_id", ev.TenantID).Str("type", ev.Type).Msg("relay outbox full; event not relayed")
		return false
	}
}

// Dropped returns how many events Enqueue discarded.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// RunPublisher publishes enqueued events until ctx ends. Each publish is
// bounded by the publish timeout, so an unreachable Redis only delays the
// relay and never the writer that raised the event.
func (r *Relay) RunPublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.outbox:
			pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
			err := r.Publish(pctx, ev)
			cancel()
			if err != nil {
				r.log.Warn().Err(err).Str("tenant_id", ev.TenantID).Str("type", ev.Type).Msg("relay publish failed")
			}
		}
	}
}

// Run subscribes to the channel and calls deliver for each remote event until
// ctx ends, reconnecting with exponential backoff. Deliveries happen on the
// calling goroutine in channel order.
func (r *Relay) Run(ctx context.Context, deliver func(realtime.Event)) error {
	backoff := r.minBackoff
	for {
		err := r.subscribe(ctx, deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn().Err(err).Dur("backoff", backoff).Msg("relay subscription lost; reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}

func (r *Relay) subscribe(ctx context.Context, deliver func(realtime.Event)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, remote, err := r.decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn().Err(err).Msg("discarding malformed relay message")
				continue
			}
			if remote {
				deliver(ev)
			}
		}
	}
}

func (r *Relay) encode(ev realtime.Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{InstanceID: r.instanceID, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("marshal relay event: %w", err)
	}
	return data, nil
}

// decode reports remote=false for messages this instance published.
func (r *Relay) decode(data []byte) (realtime.Event, bool, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return realtime.Event{}, false, fmt.Errorf("unmarshal relay event: %w", err)
	}
	if env.Event.TenantID == "" {
		return realtime.Event{}, false, fmt.Errorf("relay event without tenant")
	}
	return env.Event, env.InstanceID != r.instanceID, nil
}
