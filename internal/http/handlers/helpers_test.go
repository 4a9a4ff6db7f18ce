package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/repo"
	"github.com/tbourn/go-concierge-backend/internal/services"
)

const testTenant = "hotel-a"

// ---------- stubs ----------

type stubCalls struct {
	recordTurn func(ctx context.Context, tenantID, externalID string, turn services.Turn) (*domain.Call, bool, error)
	endCall    func(ctx context.Context, tenantID string, in services.EndCallInput) (*services.EndCallResult, error)
	summary    func(ctx context.Context, tenantID, callID string) (*domain.Summary, error)
	endCalls   int
}

func (s *stubCalls) RecordTurn(ctx context.Context, tenantID, externalID string, turn services.Turn) (*domain.Call, bool, error) {
	return s.recordTurn(ctx, tenantID, externalID, turn)
}

func (s *stubCalls) EndCall(ctx context.Context, tenantID string, in services.EndCallInput) (*services.EndCallResult, error) {
	s.endCalls++
	return s.endCall(ctx, tenantID, in)
}

func (s *stubCalls) Summary(ctx context.Context, tenantID, callID string) (*domain.Summary, error) {
	if s.summary == nil {
		return nil, repo.ErrNotFound
	}
	return s.summary(ctx, tenantID, callID)
}

type stubRequests struct {
	create       func(ctx context.Context, tenantID string, in services.CreateInput) (*domain.ServiceRequest, error)
	updateStatus func(ctx context.Context, tenantID, id, status string) (*domain.ServiceRequest, error)
}

func (s stubRequests) Create(ctx context.Context, tenantID string, in services.CreateInput) (*domain.ServiceRequest, error) {
	return s.create(ctx, tenantID, in)
}

func (s stubRequests) UpdateStatus(ctx context.Context, tenantID, id, status string) (*domain.ServiceRequest, error) {
	return s.updateStatus(ctx, tenantID, id, status)
}

type stubDashboard struct {
	summary     func(ctx context.Context, tenantID string) (*services.DashboardSummary, error)
	list        func(ctx context.Context, tenantID, status string, page, pageSize int) ([]domain.ServiceRequest, int64, error)
	fingerprint string
	listCalls   int
}

func (s *stubDashboard) Summary(ctx context.Context, tenantID string) (*services.DashboardSummary, error) {
	return s.summary(ctx, tenantID)
}

func (s *stubDashboard) ListRequests(ctx context.Context, tenantID, status string, page, pageSize int) ([]domain.ServiceRequest, int64, error) {
	s.listCalls++
	return s.list(ctx, tenantID, status, page, pageSize)
}

func (s *stubDashboard) Fingerprint(context.Context, string) (string, error) {
	if s.fingerprint == "" {
		return "", repo.ErrNotFound
	}
	return s.fingerprint, nil
}

type idemRecord struct {
	tenant, scope, key, resource string
	status                       int
}

type memIdempotency struct{ recs []idemRecord }

func (m *memIdempotency) Lookup(_ context.Context, tenantID, scope, key string) (*domain.Idempotency, error) {
	for _, r := range m.recs {
		if r.tenant == tenantID && r.scope == scope && r.key == key {
			return &domain.Idempotency{TenantID: r.tenant, Scope: r.scope, Key: r.key, ResourceID: r.resource, Status: r.status}, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memIdempotency) Remember(_ context.Context, tenantID, scope, key, resourceID string, status int) error {
	m.recs = append(m.recs, idemRecord{tenantID, scope, key, resourceID, status})
	return nil
}

type stubRealtime struct {
	capacity bool
	stats    realtime.Stats
}

func (s stubRealtime) HasCapacity(string) bool                         { return s.capacity }
func (s stubRealtime) Subscribe(string, realtime.Conn) (string, error) { return "", realtime.ErrCapacityExceeded }
func (s stubRealtime) Unsubscribe(string)                              {}
func (s stubRealtime) Touch(string)                                    {}
func (s stubRealtime) Stats() realtime.Stats                           { return s.stats }

// ---------- router plumbing ----------

// newRouter mounts the API like the production router, minus tenant
// resolution: every request belongs to testTenant.
func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		middleware.WithTenant(c, testTenant)
		c.Next()
	}, middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	r.POST("/webhooks/calls/turn", h.RecordTurn)
	r.POST("/webhooks/calls/end", h.EndCall)
	r.GET("/requests", h.ListRequests)
	r.POST("/requests", h.CreateRequest)
	r.PATCH("/requests/:id/status", h.UpdateRequestStatus)
	r.GET("/dashboard/summary", h.DashboardSummary)
	r.GET("/ws", h.Realtime)
	r.GET("/ops/cache", h.CacheStats)
	r.DELETE("/ops/cache", h.PurgeCache)
	r.GET("/ops/broadcaster", h.BroadcasterStats)
	r.GET("/ops/resources", h.ResourceStats)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, w).Code
}
