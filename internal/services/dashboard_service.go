// Package services – DashboardService
//
// Dashboard reads go through the tenant-sharded cache. Keys live under the
// "dashboard:" and "requests:" prefixes, which the Materializer invalidates
// before every change event is published.
package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/cache"
	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/repo"
	"github.com/tbourn/go-concierge-backend/internal/utils"
)

const recentRequests = 10

// DashboardSummary is the aggregate shown at the top of a staff dashboard.
type DashboardSummary struct {
	Counts      map[string]int64        `json:"counts"`
	Total       int64                   `json:"total"`
	CallsToday  int64                   `json:"calls_today"`
	LastUpdated *time.Time              `json:"last_updated,omitempty"`
	Recent      []domain.ServiceRequest `json:"recent"`
}

// RequestPage is one page of canonical requests.
type RequestPage struct {
	Items []domain.ServiceRequest
	Total int64
}

// DashboardService serves cached dashboard reads.
type DashboardService struct {
	DB    *gorm.DB
	Cache *cache.Cache
	TTL   time.Duration

	now func() time.Time
}

func (s *DashboardService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Summary returns the tenant's dashboard aggregate.
func (s *DashboardService) Summary(ctx context.Context, tenantID string) (*DashboardSummary, error) {
	tr := otel.Tracer("services/DashboardService")
	ctx, span := tr.Start(ctx, "Summary", trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	v, err := s.Cache.GetOrLoad(tenantID, keyDashboard+"summary", s.TTL, func() (any, error) {
		counts, err := repo.StatusCounts(ctx, s.DB, tenantID)
		if err != nil {
			return nil, err
		}
		total, last, err := repo.RequestsStats(ctx, s.DB, tenantID)
		if err != nil {
			return nil, err
		}
		now := s.clock().UTC()
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		calls, err := repo.CallsSince(ctx, s.DB, tenantID, day)
		if err != nil {
			return nil, err
		}
		recent, err := repo.ListRequestsPage(ctx, s.DB, tenantID, repo.RequestFilter{}, 0, recentRequests)
		if err != nil {
			return nil, err
		}
		return &DashboardSummary{Counts: counts, Total: total, CallsToday: calls, LastUpdated: last, Recent: recent}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DashboardSummary), nil
}

// ListRequests returns a page of requests, optionally filtered by status.
func (s *DashboardService) ListRequests(ctx context.Context, tenantID, status string, page, pageSize int) ([]domain.ServiceRequest, int64, error) {
	tr := otel.Tracer("services/DashboardService")
	ctx, span := tr.Start(ctx, "ListRequests",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("status", status),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if status != "" && !domain.ValidStatus(status) {
		return nil, 0, ErrInvalidStatus
	}
	page, pageSize = utils.ClampPage(page, pageSize)

	key := fmt.Sprintf("%s%s:%d:%d", keyRequests, status, page, pageSize)
	v, err := s.Cache.GetOrLoad(tenantID, key, s.TTL, func() (any, error) {
		f := repo.RequestFilter{Status: status}
		total, err := repo.CountRequests(ctx, s.DB, tenantID, f)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			return &RequestPage{Items: []domain.ServiceRequest{}}, nil
		}
		items, err := repo.ListRequestsPage(ctx, s.DB, tenantID, f, utils.Offset(page, pageSize), pageSize)
		if err != nil {
			return nil, err
		}
		return &RequestPage{Items: items, Total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	p := v.(*RequestPage)
	return p.Items, p.Total, nil
}

// Fingerprint returns a weak validator for the tenant's request set, suitable
// for an ETag. It reads the database directly.
func (s *DashboardService) Fingerprint(ctx context.Context, tenantID string) (string, error) {
	count, last, err := repo.RequestsStats(ctx, s.DB, tenantID)
	if err != nil {
		return "", err
	}
	var ts int64
	if last != nil {
		ts = last.UnixNano()
	}
	return fmt.Sprintf(`W/"requests:%s:%d:%d"`, tenantID, count, ts), nil
}

// Request returns a single request of the tenant.
func (s *DashboardService) Request(ctx context.Context, tenantID, id string) (*domain.ServiceRequest, error) {
	r, err := repo.GetRequest(ctx, s.DB, tenantID, id)
	if err != nil {
		return nil, ErrRequestNotFound
	}
	return r, nil
}
