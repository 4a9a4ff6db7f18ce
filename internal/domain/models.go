// Package domain defines the persistence models for tenants, calls,
// transcripts, summaries and service requests. These types are mapped with
// GORM and form the core data layer of the concierge backend.
//
// Every row that belongs to a hotel carries a TenantID; repository queries
// always filter on it so one tenant can never observe another tenant's data.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tenant is an isolated hotel account. Tenants are provisioned outside this
// service (see the migrate --seed command for local setups) and are read-only
// to the call pipeline.
//
// Fields:
//   - Subdomain: first hostname label that routes traffic to the tenant.
//   - MaxConnections: cap on concurrent realtime dashboard connections (0 = deployment default).
//   - MonthlyCallLimit: informational quota surfaced to ops tooling.
type Tenant struct {
	ID               string    `json:"id"                 gorm:"type:varchar(64);primaryKey"`
	Subdomain        string    `json:"subdomain"          gorm:"type:varchar(63);not null;uniqueIndex:ux_tenant_subdomain"`
	Name             string    `json:"name"               gorm:"type:varchar(255);not null"`
	Active           bool      `json:"active"             gorm:"not null;default:true"`
	MaxConnections   int       `json:"max_connections"    gorm:"not null;default:0"`
	MonthlyCallLimit int       `json:"monthly_call_limit" gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// Call statuses.
const (
	CallInProgress = "in-progress"
	CallEnded      = "ended"
	CallFailed     = "failed"
)

// Call is one voice interaction between a guest and the voice platform.
// It is created on the first transcript event and finalized on the
// end-of-call event; afterwards only DurationSec may be backfilled.
//
// ProcessedAt is set once the summary and every extracted request of an ended
// call were persisted. ProcessingUntil is the lease held while that pipeline
// runs, so a retried end event can resume a pipeline that failed part way.
type Call struct {
	ID              string         `json:"id"           gorm:"type:char(36);primaryKey"`
	TenantID        string         `json:"tenant_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_call_tenant_external,priority:1"`
	ExternalID      string         `json:"external_id"  gorm:"type:varchar(128);not null;uniqueIndex:ux_call_tenant_external,priority:2"`
	Status          string         `json:"status"       gorm:"type:varchar(16);not null;check:status IN ('in-progress','ended','failed')"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	DurationSec     int            `json:"duration_sec" gorm:"not null;default:0"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingUntil *time.Time     `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Call.
func (Call) TableName() string { return "calls" }

// Finalized reports whether the call has reached a terminal status.
func (c *Call) Finalized() bool { return c.Status == CallEnded || c.Status == CallFailed }

// Transcript roles.
const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// TranscriptEntry is one turn of dialogue within a call. Entries are
// append-only and ordered by Seq; (CallID, Seq) is unique so re-delivered
// platform events are ignored.
type TranscriptEntry struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID  string    `json:"tenant_id"  gorm:"type:varchar(64);not null;index"`
	CallID    string    `json:"call_id"    gorm:"type:char(36);not null;uniqueIndex:ux_transcript_call_seq,priority:1"`
	Seq       int       `json:"seq"        gorm:"not null;uniqueIndex:ux_transcript_call_seq,priority:2"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('caller','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	SpokenAt  time.Time `json:"spoken_at"`
	CreatedAt time.Time `json:"created_at"`

	Call Call `json:"-" gorm:"foreignKey:CallID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TranscriptEntry.
func (TranscriptEntry) TableName() string { return "transcript_entries" }

// ServiceRequestItem is one structured, actionable item extracted from a
// transcript ("2 towels to room 204").
type ServiceRequestItem struct {
	Category    string `json:"category"`
	Description string `json:"description" validate:"required"`
	Quantity    int    `json:"quantity"    validate:"gte=0"`
	Location    string `json:"location"`
}

// Summary sources.
const (
	SummaryFromModel    = "model"
	SummaryFromFallback = "fallback"
	SummaryEmpty        = "empty"
)

// Summary is the synopsis of a call plus the structured items extracted from
// it. There is at most one summary per call; a retried call replaces it.
type Summary struct {
	ID        string                                  `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID  string                                  `json:"tenant_id"  gorm:"type:varchar(64);not null;index"`
	CallID    string                                  `json:"call_id"    gorm:"type:char(36);not null;uniqueIndex:ux_summary_call"`
	Text      string                                  `json:"text"       gorm:"type:text;not null"`
	Items     datatypes.JSONSlice[ServiceRequestItem] `json:"items"`
	Source    string                                  `json:"source"     gorm:"type:varchar(16);not null"`
	Locale    string                                  `json:"locale"     gorm:"type:varchar(16)"`
	CreatedAt time.Time                               `json:"created_at"`
	UpdatedAt time.Time                               `json:"updated_at"`
}

// TableName returns the database table name for Summary.
func (Summary) TableName() string { return "summaries" }

// Service request statuses.
const (
	StatusReceived   = "received"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// ValidStatus reports whether s is a known service request status.
func ValidStatus(s string) bool {
	switch s {
	case StatusReceived, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ServiceRequest is the canonical, authoritative copy of a staff task. Its ID
// doubles as the correlation identifier embedded in the mirrored LegacyRequest.
// CallID is optional: requests may be entered directly by front-desk staff.
type ServiceRequest struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID    string    `json:"tenant_id"   gorm:"type:varchar(64);not null;index:idx_req_tenant_updated,priority:1"`
	CallID      *string   `json:"call_id,omitempty" gorm:"type:char(36);index"`
	Location    string    `json:"location"    gorm:"type:varchar(64)"`
	Description string    `json:"description" gorm:"type:text;not null"`
	Category    string    `json:"category"    gorm:"type:varchar(64);not null;default:'general'"`
	Quantity    int       `json:"quantity"    gorm:"not null;default:1"`
	Status      string    `json:"status"      gorm:"type:varchar(16);not null;check:status IN ('received','in-progress','completed')"`
	Priority    string    `json:"priority"    gorm:"type:varchar(16);not null;default:'normal'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"  gorm:"index:idx_req_tenant_updated,priority:2"`
}

// TableName returns the database table name for ServiceRequest.
func (ServiceRequest) TableName() string { return "service_requests" }

// LegacyRequest is the display-oriented mirror of a ServiceRequest consumed by
// older dashboards. Columns differ from the canonical table, but content must
// stay equivalent: tenant, room/location, content/description and state/status.
type LegacyRequest struct {
	CorrelationID  string    `json:"correlation_id"  gorm:"type:char(36);primaryKey"`
	TenantID       string    `json:"tenant_id"       gorm:"type:varchar(64);not null;index"`
	RoomNumber     string    `json:"room_number"     gorm:"type:varchar(64)"`
	RequestContent string    `json:"request_content" gorm:"type:text;not null"`
	OrderType      string    `json:"order_type"      gorm:"type:varchar(64)"`
	State          string    `json:"state"           gorm:"type:varchar(32);not null"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for LegacyRequest.
func (LegacyRequest) TableName() string { return "legacy_requests" }

// legacyStates maps canonical statuses onto the labels older dashboards expect.
var legacyStates = map[string]string{
	StatusReceived:   "NEW",
	StatusInProgress: "WORKING",
	StatusCompleted:  "DONE",
}

// LegacyState returns the mirror state label for a canonical status.
func LegacyState(status string) string {
	if s, ok := legacyStates[status]; ok {
		return s
	}
	return "NEW"
}

// MirrorOf builds the mirrored display row for a canonical request.
func MirrorOf(r *ServiceRequest) *LegacyRequest {
	return &LegacyRequest{
		CorrelationID:  r.ID,
		TenantID:       r.TenantID,
		RoomNumber:     r.Location,
		RequestContent: r.Description,
		OrderType:      r.Category,
		State:          LegacyState(r.Status),
		UpdatedAt:      r.UpdatedAt,
	}
}

// EquivalentTo reports whether the mirror row carries the same observable
// content as the canonical request.
func (l *LegacyRequest) EquivalentTo(r *ServiceRequest) bool {
	return l.CorrelationID == r.ID &&
		l.TenantID == r.TenantID &&
		l.RoomNumber == r.Location &&
		l.RequestContent == r.Description &&
		l.OrderType == r.Category &&
		l.State == LegacyState(r.Status)
}
