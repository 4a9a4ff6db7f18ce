// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists call summaries.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

// SaveSummary upserts the summary for s.CallID. A retried call replaces the
// previous text, items, source and locale.
func SaveSummary(ctx context.Context, db *gorm.DB, s *domain.Summary) error {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "items", "source", "locale", "updated_at"}),
		}).
		Create(s).Error
}

// GetSummary returns the summary stored for callID within tenantID.
func GetSummary(ctx context.Context, db *gorm.DB, tenantID, callID string) (*domain.Summary, error) {
	var s domain.Summary
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND call_id = ?", tenantID, callID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}
