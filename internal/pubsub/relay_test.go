package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-concierge-backend/internal/realtime"
)

func newRelay(t *testing.T) *Relay {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRelay(client, "", zerolog.Nop())
	r.minBackoff = 5 * time.Millisecond
	return r
}

func TestRelay_DecodeSkipsOwnMessages(t *testing.T) {
	a, b := newRelay(t), newRelay(t)
	require.NotEqual(t, a.InstanceID(), b.InstanceID())

	data, err := a.encode(realtime.NewEvent("hotel-a", realtime.TypeRequestCreated, map[string]any{"id": "r1"}))
	require.NoError(t, err)

	_, remote, err := a.decode(data)
	require.NoError(t, err)
	assert.False(t, remote, "own message is not delivered back")

	ev, remote, err := b.decode(data)
	require.NoError(t, err)
	assert.True(t, remote)
	assert.Equal(t, "hotel-a", ev.TenantID)
	assert.Equal(t, realtime.TypeRequestCreated, ev.Type)
	assert.Equal(t, map[string]any{"id": "r1"}, ev.Payload)
}

func TestRelay_EnvelopeWireShape(t *testing.T) {
	r := newRelay(t)
	data, err := r.encode(realtime.NewEvent("hotel-a", realtime.TypeRequestUpdated, nil))
	require.NoError(t, err)

	var raw struct {
		InstanceID string         `json:"instance_id"`
		Event      map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, r.InstanceID(), raw.InstanceID)
	assert.Equal(t, "hotel-a", raw.Event["tenantId"])
	assert.Equal(t, "request.updated", raw.Event["type"])
}

func TestRelay_DecodeRejectsMalformed(t *testing.T) {
	r := newRelay(t)
	_, _, err := r.decode([]byte("not json"))
	assert.Error(t, err)
	_, _, err = r.decode([]byte(`{"instance_id":"x","event":{"type":"request.created"}}`))
	assert.Error(t, err, "tenant is required")
}

func TestRelay_PublishUnavailable(t *testing.T) {
	r := newRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := r.Publish(ctx, realtime.NewEvent("hotel-a", realtime.TypeRequestCreated, nil))
	assert.Error(t, err)
}

func TestRelay_RunStopsWithContext(t *testing.T) {
	r := newRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := r.Run(ctx, func(realtime.Event) { t.Fatal("nothing should be delivered") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelay_EnqueueNeverBlocksOnUnavailableRedis(t *testing.T) {
	r := newRelay(t)
	r.outbox = make(chan realtime.Event, 2)

	start := time.Now()
	assert.True(t, r.Enqueue(realtime.NewEvent("hotel-a", realtime.TypeRequestCreated, 1)))
	assert.True(t, r.Enqueue(realtime.NewEvent("hotel-a", realtime.TypeRequestCreated, 2)))
	assert.False(t, r.Enqueue(realtime.NewEvent("hotel-a", realtime.TypeRequestCreated, 3)), "full outbox drops")
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.EqualValues(t, 1, r.Dropped())
}

func TestRelay_RunPublisherDrainsAndStops(t *testing.T) {
	r := newRelay(t)
	r.publishTimeout = 20 * time.Millisecond
	for i := 0; i < 3; i++ {
		require.True(t, r.Enqueue(realtime.NewEvent("hotel-a", realtime.TypeRequestCreated, i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunPublisher(ctx)
	}()

	// Failed publishes are bounded and consumed, not retried forever.
	require.Eventually(t, func() bool { return len(r.outbox) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
