// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers the canonical service_requests table and
// its display mirror, legacy_requests.
//
// Every query is scoped by tenant_id. A request id that exists under another
// tenant is reported as ErrNotFound.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

// RequestFilter narrows ListRequestsPage and CountRequests.
type RequestFilter struct {
	Status string
}

func (f RequestFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// CreateRequest inserts a canonical request. The caller assigns r.ID (the
// correlation id).
func CreateRequest(ctx context.Context, db *gorm.DB, r *domain.ServiceRequest) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return db.WithContext(ctx).Create(r).Error
}

// GetRequest fetches a canonical request by id within tenantID.
func GetRequest(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.ServiceRequest, error) {
	var r domain.ServiceRequest
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRequestsByCall returns the canonical requests raised from callID,
// oldest first.
func ListRequestsByCall(ctx context.Context, db *gorm.DB, tenantID, callID string) ([]domain.ServiceRequest, error) {
	var out []domain.ServiceRequest
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND call_id = ?", tenantID, callID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// UpdateRequestStatus sets the status of request id and returns the updated
// row. It returns ErrNotFound when no row matched within tenantID.
func UpdateRequestStatus(ctx context.Context, db *gorm.DB, tenantID, id, status string) (*domain.ServiceRequest, error) {
	res := db.WithContext(ctx).
		Model(&domain.ServiceRequest{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return GetRequest(ctx, db, tenantID, id)
}

// ListRequestsPage returns a page of canonical requests ordered by
// UpdatedAt DESC, ID ASC.
func ListRequestsPage(ctx context.Context, db *gorm.DB, tenantID string, f RequestFilter, offset, limit int) ([]domain.ServiceRequest, error) {
	var out []domain.ServiceRequest
	q := db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	err := f.apply(q).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountRequests returns the number of canonical requests matching f.
func CountRequests(ctx context.Context, db *gorm.DB, tenantID string, f RequestFilter) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.ServiceRequest{}).Where("tenant_id = ?", tenantID)
	err := f.apply(q).Count(&total).Error
	return total, err
}

// ListAllRequests returns every canonical request of tenantID. Used by the
// mirror reconciler.
func ListAllRequests(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.ServiceRequest, error) {
	var out []domain.ServiceRequest
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// UpsertLegacyRequest writes the mirror row keyed by correlation id.
func UpsertLegacyRequest(ctx context.Context, db *gorm.DB, l *domain.LegacyRequest) error {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"room_number", "request_content", "order_type", "state", "updated_at"}),
		}).
		Create(l).Error
}

// RepairLegacyRequest upserts l unless the stored mirror row carries a newer
// updated_at, so a repair built from an older canonical read cannot overwrite
// a fresher mirror write. It reports whether a row was written. MySQL ignores
// the condition and always writes.
func RepairLegacyRequest(ctx context.Context, db *gorm.DB, l *domain.LegacyRequest) (bool, error) {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now().UTC()
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"room_number", "request_content", "order_type", "state", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "legacy_requests.updated_at <= excluded.updated_at"},
			}},
		}).
		Create(l)
	return res.RowsAffected > 0, res.Error
}

// GetLegacyRequest fetches the mirror row for correlationID within tenantID.
func GetLegacyRequest(ctx context.Context, db *gorm.DB, tenantID, correlationID string) (*domain.LegacyRequest, error) {
	var l domain.LegacyRequest
	err := db.WithContext(ctx).
		Where("correlation_id = ? AND tenant_id = ?", correlationID, tenantID).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLegacyRequests returns every mirror row of tenantID keyed by
// correlation id.
func ListLegacyRequests(ctx context.Context, db *gorm.DB, tenantID string) (map[string]domain.LegacyRequest, error) {
	var rows []domain.LegacyRequest
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.LegacyRequest, len(rows))
	for _, r := range rows {
		out[r.CorrelationID] = r
	}
	return out, nil
}
