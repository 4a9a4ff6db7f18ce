// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for dashboard views and conditional responses (ETag generation) in the
// HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

// RequestsStats returns the number of canonical requests of tenantID and the
// greatest UpdatedAt among them (nil when the tenant has none).
func RequestsStats(ctx context.Context, db *gorm.DB, tenantID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ServiceRequest{}).Where("tenant_id = ?", tenantID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// StatusCounts returns the number of canonical requests per status for
// tenantID. Statuses with no rows are present with a zero count.
func StatusCounts(ctx context.Context, db *gorm.DB, tenantID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.ServiceRequest{}).
		Select("status, COUNT(*) AS n").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{
		domain.StatusReceived:   0,
		domain.StatusInProgress: 0,
		domain.StatusCompleted:  0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// CallsSince counts calls of tenantID started at or after since.
func CallsSince(ctx context.Context, db *gorm.DB, tenantID string, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("tenant_id = ? AND started_at >= ?", tenantID, since).
		Count(&n).Error
	return n, err
}
