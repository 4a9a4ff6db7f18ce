// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Tenant
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetTenantBySubdomain returns the active tenant routed by subdomain. The
// comparison is case-insensitive; inactive tenants are reported as ErrNotFound.
func GetTenantBySubdomain(ctx context.Context, db *gorm.DB, subdomain string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).
		Where("subdomain = ? AND active = ?", strings.ToLower(subdomain), true).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTenant fetches a tenant by primary key.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ListActiveTenants returns every active tenant ordered by id.
func ListActiveTenants(ctx context.Context, db *gorm.DB) ([]domain.Tenant, error) {
	var out []domain.Tenant
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// CreateTenant inserts t, lower-casing its subdomain. Used by the seed command
// and tests; tenants are otherwise provisioned out of band.
func CreateTenant(ctx context.Context, db *gorm.DB, t *domain.Tenant) error {
	t.Subdomain = strings.ToLower(strings.TrimSpace(t.Subdomain))
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return db.WithContext(ctx).Create(t).Error
}
