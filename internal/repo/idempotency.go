// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for webhook deliveries.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (tenant_id, scope, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, tenantID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND scope = ? AND idem_key = ? AND expires_at > ?", tenantID, scope, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, tenantID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Scope:      scope,
		Key:        key,
		ResourceID: resourceID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate entry")
}

// IdempotencyStore binds the idempotency helpers to a database and a record
// lifetime.
type IdempotencyStore struct {
	DB  *gorm.DB
	TTL time.Duration
}

// Exists reports whether a live record exists. Its signature matches
// middleware.IdempotencyLookup.
func (s IdempotencyStore) Exists(ctx context.Context, tenantID, scope, key string, now time.Time) (bool, error) {
	_, err := GetIdempotency(ctx, s.DB, tenantID, scope, key, now)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Lookup returns the live record for (tenantID, scope, key) or ErrNotFound.
func (s IdempotencyStore) Lookup(ctx context.Context, tenantID, scope, key string) (*domain.Idempotency, error) {
	return GetIdempotency(ctx, s.DB, tenantID, scope, key, time.Now().UTC())
}

// Remember records the outcome of a processed request. A concurrent writer
// that already stored the key wins; ErrDuplicate is swallowed.
func (s IdempotencyStore) Remember(ctx context.Context, tenantID, scope, key, resourceID string, status int) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := CreateIdempotency(ctx, s.DB, tenantID, scope, key, resourceID, status, ttl)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}
