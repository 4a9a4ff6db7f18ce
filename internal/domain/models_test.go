package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.TempDir()+"/domain.db"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Tenant{}, &Call{}, &TranscriptEntry{}, &Summary{}, &ServiceRequest{}, &LegacyRequest{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{(Tenant{}).TableName(), "tenants"},
		{(Call{}).TableName(), "calls"},
		{(TranscriptEntry{}).TableName(), "transcript_entries"},
		{(Summary{}).TableName(), "summaries"},
		{(ServiceRequest{}).TableName(), "service_requests"},
		{(LegacyRequest{}).TableName(), "legacy_requests"},
		{(Idempotency{}).TableName(), "idempotency"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Fatalf("TableName() = %q; want %q", c.got, c.want)
		}
	}
}

func TestMigration_UniqueIndexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, ix := range []struct {
		model any
		name  string
	}{
		{&Tenant{}, "ux_tenant_subdomain"},
		{&Call{}, "ux_call_tenant_external"},
		{&TranscriptEntry{}, "ux_transcript_call_seq"},
		{&Summary{}, "ux_summary_call"},
	} {
		if !m.HasIndex(ix.model, ix.name) {
			t.Fatalf("expected index %s", ix.name)
		}
	}

	now := time.Now().UTC()
	c1 := &Call{ID: "c1", TenantID: "t1", ExternalID: "ext-1", Status: CallInProgress, StartedAt: now}
	if err := db.Create(c1).Error; err != nil {
		t.Fatalf("insert call: %v", err)
	}
	dup := &Call{ID: "c2", TenantID: "t1", ExternalID: "ext-1", Status: CallInProgress, StartedAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation for duplicate external id within a tenant")
	}
	other := &Call{ID: "c3", TenantID: "t2", ExternalID: "ext-1", Status: CallInProgress, StartedAt: now}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("same external id under another tenant should be accepted: %v", err)
	}
}

func TestCall_StatusCheckConstraint(t *testing.T) {
	db := newDomainDB(t)
	bad := &Call{ID: "c1", TenantID: "t1", ExternalID: "x", Status: "paused", StartedAt: time.Now()}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check constraint failure for unknown status")
	}
}

func TestSummary_ItemsRoundTrip(t *testing.T) {
	db := newDomainDB(t)
	s := &Summary{
		ID:       "s1",
		TenantID: "t1",
		CallID:   "c1",
		Text:     "Guest asked for towels",
		Source:   SummaryFromModel,
		Items: []ServiceRequestItem{
			{Category: "housekeeping", Description: "2 towels", Quantity: 2, Location: "204"},
		},
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("insert summary: %v", err)
	}
	var got Summary
	if err := db.First(&got, "id = ?", "s1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Location != "204" || got.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
}

func TestFinalized(t *testing.T) {
	for status, want := range map[string]bool{
		CallInProgress: false,
		CallEnded:      true,
		CallFailed:     true,
	} {
		c := Call{Status: status}
		if c.Finalized() != want {
			t.Fatalf("Finalized(%q) = %v; want %v", status, c.Finalized(), want)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusReceived, StatusInProgress, StatusCompleted} {
		if !ValidStatus(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if ValidStatus("cancelled") || ValidStatus("") {
		t.Fatalf("unexpected status accepted")
	}
}

func TestMirrorOf_Equivalence(t *testing.T) {
	r := &ServiceRequest{
		ID:          "r1",
		TenantID:    "t1",
		Location:    "204",
		Description: "extra pillow",
		Category:    "housekeeping",
		Status:      StatusInProgress,
	}
	m := MirrorOf(r)
	if m.CorrelationID != "r1" || m.RoomNumber != "204" || m.State != "WORKING" {
		t.Fatalf("unexpected mirror: %+v", m)
	}
	if !m.EquivalentTo(r) {
		t.Fatalf("mirror should be equivalent to its source")
	}

	r.Status = StatusCompleted
	if m.EquivalentTo(r) {
		t.Fatalf("status change should break equivalence")
	}
	if LegacyState("bogus") != "NEW" {
		t.Fatalf("unknown status should map to NEW")
	}
}
