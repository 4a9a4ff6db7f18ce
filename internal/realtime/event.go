// Package realtime pushes tenant-scoped change events to live staff
// dashboards.
//
// The Broadcaster owns the per-tenant connection sets: capacity checks,
// heartbeats and a single emission goroutine per tenant so that every
// connection of a tenant observes events in Broadcast call order. The Bus is
// the in-process publish/subscribe seam between writers (the request
// materializer) and fan-out (broadcaster, cross-instance relay).
package realtime

import "time"

// Event types emitted to dashboards.
const (
	TypeRequestCreated  = "request.created"
	TypeRequestUpdated  = "request.updated"
	TypeCallSummarized  = "call.summarized"
	TypeConnectionReady = "connection.ready"
)

// Event is the wire shape of a dashboard notification.
type Event struct {
	TenantID  string    `json:"tenantId"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event for tenantID with the current time.
func NewEvent(tenantID, typ string, payload any) Event {
	return Event{TenantID: tenantID, Type: typ, Payload: payload, Timestamp: time.Now().UTC()}
}
