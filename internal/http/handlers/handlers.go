// Package handlers exposes the concierge HTTP API: voice platform webhooks,
// service request management, the dashboard aggregate, the realtime channel
// and operational stats.
//
// Handlers are transport-thin. They bind and validate input, read the tenant
// resolved by middleware, delegate to services and translate results into
// the shared response envelope.
package handlers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-concierge-backend/internal/cache"
	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/services"
	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

//
// Service contracts (context-aware)
//

// CallService ingests voice platform events.
type CallService interface {
	RecordTurn(ctx context.Context, tenantID, externalID string, turn services.Turn) (*domain.Call, bool, error)
	EndCall(ctx context.Context, tenantID string, in services.EndCallInput) (*services.EndCallResult, error)
	Summary(ctx context.Context, tenantID, callID string) (*domain.Summary, error)
}

// RequestWriter creates and updates service requests.
type RequestWriter interface {
	Create(ctx context.Context, tenantID string, in services.CreateInput) (*domain.ServiceRequest, error)
	UpdateStatus(ctx context.Context, tenantID, id, status string) (*domain.ServiceRequest, error)
}

// DashboardReader serves cached dashboard reads.
type DashboardReader interface {
	Summary(ctx context.Context, tenantID string) (*services.DashboardSummary, error)
	ListRequests(ctx context.Context, tenantID, status string, page, pageSize int) ([]domain.ServiceRequest, int64, error)
	Fingerprint(ctx context.Context, tenantID string) (string, error)
}

// IdempotencyStore records processed webhook deliveries.
type IdempotencyStore interface {
	Lookup(ctx context.Context, tenantID, scope, key string) (*domain.Idempotency, error)
	Remember(ctx context.Context, tenantID, scope, key, resourceID string, status int) error
}

// Realtime is the connection registry behind GET /ws.
type Realtime interface {
	HasCapacity(tenantID string) bool
	Subscribe(tenantID string, conn realtime.Conn) (string, error)
	Unsubscribe(handle string)
	Touch(handle string)
	Stats() realtime.Stats
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. Nil optional fields disable the
// matching feature: no Idempotency means keys are validated but not stored;
// no Tracker or Cache hides the corresponding ops endpoint data.
type Deps struct {
	Calls       CallService
	Requests    RequestWriter
	Dashboard   DashboardReader
	Idempotency IdempotencyStore
	Realtime    Realtime
	Cache       *cache.Cache
	Tracker     *tracker.Tracker

	// AllowedOrigins restricts WebSocket handshakes; empty allows any origin.
	AllowedOrigins []string
}

// Handlers groups the API endpoints.
type Handlers struct {
	deps     Deps
	validate *validator.Validate
	now      func() time.Time
}

// New constructs Handlers bound to deps.
func New(deps Deps) *Handlers {
	return &Handlers{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}
