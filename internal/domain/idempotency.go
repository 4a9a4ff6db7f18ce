package domain

import "time"

// Idempotency records the outcome of a processed webhook delivery, keyed by
// (tenant_id, scope, key). The voice platform retries end-of-call deliveries
// on timeouts; a replay returns the stored result instead of re-running the
// pipeline.
type Idempotency struct {
	ID         string    `gorm:"type:VARCHAR(36) NOT NULL;primaryKey"`
	TenantID   string    `gorm:"type:VARCHAR(64) NOT NULL;uniqueIndex:ux_tenant_scope_key,priority:1"`
	Scope      string    `gorm:"type:VARCHAR(32) NOT NULL;uniqueIndex:ux_tenant_scope_key,priority:2"`
	Key        string    `gorm:"column:idem_key;type:VARCHAR(200) NOT NULL;uniqueIndex:ux_tenant_scope_key,priority:3"`
	ResourceID string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
