// Package services – Materializer
//
// Materializer turns extracted items into service requests. Every request is
// written to the canonical table first, then mirrored into the legacy display
// table under the same correlation id. A mirror failure is logged and left to
// the Reconciler. Once the canonical write succeeds the tenant's dashboard
// cache keys are invalidated and only then is the change event published.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/cache"
	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/repo"
	"github.com/tbourn/go-concierge-backend/internal/search"
)

// Cache key prefixes owned by dashboard reads.
const (
	keyDashboard = "dashboard:"
	keyRequests  = "requests:"
)

// RequestPayload is the payload of request.created and request.updated events.
type RequestPayload struct {
	RequestID string  `json:"requestId"`
	CallID    *string `json:"callId,omitempty"`
	Status    string  `json:"status"`
	Category  string  `json:"category"`
	Location  string  `json:"location,omitempty"`
	Priority  string  `json:"priority"`
}

func payloadOf(r *domain.ServiceRequest) RequestPayload {
	return RequestPayload{
		RequestID: r.ID,
		CallID:    r.CallID,
		Status:    r.Status,
		Category:  r.Category,
		Location:  r.Location,
		Priority:  r.Priority,
	}
}

// CreateInput is a request entered directly by staff.
type CreateInput struct {
	Location    string `json:"location"    validate:"max=64"`
	Description string `json:"description" validate:"required,max=2000"`
	Category    string `json:"category"    validate:"max=64"`
	Quantity    int    `json:"quantity"    validate:"gte=0,lte=100"`
	Priority    string `json:"priority"    validate:"omitempty,oneof=low normal high urgent"`
}

// Materializer is safe for concurrent use once constructed.
type Materializer struct {
	DB    *gorm.DB
	Cache *cache.Cache
	Bus   *realtime.Bus
	Log   zerolog.Logger

	validate *validator.Validate
	now      func() time.Time
}

// NewMaterializer wires a Materializer. cache and bus may be nil in tools that
// only write.
func NewMaterializer(db *gorm.DB, c *cache.Cache, bus *realtime.Bus, log zerolog.Logger) *Materializer {
	return &Materializer{
		DB:       db,
		Cache:    c,
		Bus:      bus,
		Log:      log.With().Str("component", "materializer").Logger(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Materialize writes one request per item. Items whose canonical write fails
// are reported in the joined error; the returned slice holds the requests
// that were written.
func (m *Materializer) Materialize(ctx context.Context, tenantID string, callID *string, items []domain.ServiceRequestItem) ([]domain.ServiceRequest, error) {
	tr := otel.Tracer("services/Materializer")
	ctx, span := tr.Start(ctx, "Materialize",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("items", len(items)),
		),
	)
	defer span.End()

	out := make([]domain.ServiceRequest, 0, len(items))
	var errs []error
	for i, it := range items {
		r := m.build(tenantID, callID, it)
		if err := m.write(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		m.notify(ctx, tenantID, realtime.TypeRequestCreated, r)
		out = append(out, *r)
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// Create materializes a single request entered without a call.
func (m *Materializer) Create(ctx context.Context, tenantID string, in CreateInput) (*domain.ServiceRequest, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := m.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	r := m.build(tenantID, nil, domain.ServiceRequestItem{
		Category:    in.Category,
		Description: in.Description,
		Quantity:    in.Quantity,
		Location:    in.Location,
	})
	if in.Priority != "" {
		r.Priority = in.Priority
	}
	if err := m.write(ctx, r); err != nil {
		return nil, err
	}
	m.notify(ctx, tenantID, realtime.TypeRequestCreated, r)
	return r, nil
}

// UpdateStatus moves a request to status and mirrors the change.
func (m *Materializer) UpdateStatus(ctx context.Context, tenantID, id, status string) (*domain.ServiceRequest, error) {
	tr := otel.Tracer("services/Materializer")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("request.id", id),
			attribute.String("status", status),
		),
	)
	defer span.End()

	if !domain.ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	r, err := repo.UpdateRequestStatus(ctx, m.DB, tenantID, id, status)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanonicalWrite, err)
	}
	m.mirror(ctx, r)
	m.notify(ctx, tenantID, realtime.TypeRequestUpdated, r)
	return r, nil
}

func (m *Materializer) build(tenantID string, callID *string, it domain.ServiceRequestItem) *domain.ServiceRequest {
	now := m.now().UTC()
	category := categoryOf(it.Category)
	qty := it.Quantity
	if qty <= 0 {
		qty = 1
	}
	return &domain.ServiceRequest{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		CallID:      callID,
		Location:    strings.TrimSpace(it.Location),
		Description: strings.TrimSpace(it.Description),
		Category:    category,
		Quantity:    qty,
		Status:      domain.StatusReceived,
		Priority:    PriorityFor(it.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// write performs the canonical insert followed by the best-effort mirror.
func (m *Materializer) write(ctx context.Context, r *domain.ServiceRequest) error {
	if err := repo.CreateRequest(ctx, m.DB, r); err != nil {
		m.Log.Error().Err(err).
			Str("tenant_id", r.TenantID).
			Str("correlation_id", r.ID).
			Msg("canonical request write failed")
		return fmt.Errorf("%w: %v", ErrCanonicalWrite, err)
	}
	m.mirror(ctx, r)
	return nil
}

func (m *Materializer) mirror(ctx context.Context, r *domain.ServiceRequest) {
	if err := repo.UpsertLegacyRequest(ctx, m.DB, domain.MirrorOf(r)); err != nil {
		ev := m.Log.Warn().Err(err).
			Str("tenant_id", r.TenantID).
			Str("request_id", r.ID).
			Str("correlation_id", r.ID)
		if r.CallID != nil {
			ev = ev.Str("call_id", *r.CallID)
		}
		ev.Msg("mirror write failed; left for reconciliation")
		mirrorFailures.Inc()
	}
}

// notify invalidates the tenant's dashboard keys, then publishes the event.
func (m *Materializer) notify(ctx context.Context, tenantID, typ string, r *domain.ServiceRequest) {
	invalidateDashboard(m.Cache, tenantID)
	if m.Bus != nil {
		m.Bus.Publish(ctx, realtime.NewEvent(tenantID, typ, payloadOf(r)))
	}
}

func invalidateDashboard(c *cache.Cache, tenantID string) {
	if c == nil {
		return
	}
	c.InvalidatePrefix(tenantID, keyDashboard)
	c.InvalidatePrefix(tenantID, keyRequests)
}

func categoryOf(raw string) string {
	if c := strings.ToLower(strings.TrimSpace(raw)); c != "" {
		return c
	}
	return search.Fallback
}

var priorityWords = []struct {
	priority string
	words    []string
}{
	{domain.PriorityUrgent, []string{"emergency", "urgent", "fire", "smoke", "flood", "leak", "injur", "medical", "ambulance", "locked out"}},
	{domain.PriorityHigh, []string{"asap", "immediately", "right away", "broken", "not working", "no hot water", "no power"}},
	{domain.PriorityLow, []string{"no rush", "whenever", "tomorrow", "when convenient"}},
}

// PriorityFor derives a priority from keywords in a request description.
func PriorityFor(description string) string {
	d := strings.ToLower(description)
	for _, p := range priorityWords {
		for _, w := range p.words {
			if strings.Contains(d, w) {
				return p.priority
			}
		}
	}
	return domain.PriorityNormal
}
