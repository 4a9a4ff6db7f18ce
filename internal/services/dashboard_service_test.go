package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/repo"
)

func insertRaw(t *testing.T, f *fixture, tenant, status string) string {
	t.Helper()
	r := &domain.ServiceRequest{ID: uuid.NewString(), TenantID: tenant, Description: "raw", Status: status}
	if err := repo.CreateRequest(context.Background(), f.db, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return r.ID
}

func TestDashboardSummary_CachedUntilMaterializerInvalidates(t *testing.T) {
	f := newFixture(t)
	svc := &DashboardService{DB: f.db, Cache: f.cache, TTL: time.Minute}
	ctx := context.Background()

	insertRaw(t, f, "hotel-a", domain.StatusReceived)
	insertRaw(t, f, "hotel-a", domain.StatusCompleted)
	insertRaw(t, f, "hotel-b", domain.StatusReceived)

	s1, err := svc.Summary(ctx, "hotel-a")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s1.Total != 2 || s1.Counts[domain.StatusReceived] != 1 || s1.Counts[domain.StatusInProgress] != 0 || len(s1.Recent) != 2 {
		t.Fatalf("unexpected summary: %+v", s1)
	}

	// A write that bypasses the materializer is not visible until expiry.
	insertRaw(t, f, "hotel-a", domain.StatusReceived)
	s2, _ := svc.Summary(ctx, "hotel-a")
	if s2.Total != 2 {
		t.Fatalf("expected cached total 2, got %d", s2.Total)
	}

	if _, err := f.mat.Create(ctx, "hotel-a", CreateInput{Description: "towels"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	s3, _ := svc.Summary(ctx, "hotel-a")
	if s3.Total != 4 {
		t.Fatalf("expected fresh total 4, got %d", s3.Total)
	}
	if st := f.cache.Stats(); st.Hits == 0 || st.Misses == 0 {
		t.Fatalf("cache not exercised: %+v", st)
	}
}

func TestDashboardListRequests(t *testing.T) {
	f := newFixture(t)
	svc := &DashboardService{DB: f.db, Cache: f.cache, TTL: time.Minute}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		insertRaw(t, f, "hotel-a", domain.StatusReceived)
	}
	insertRaw(t, f, "hotel-a", domain.StatusCompleted)

	items, total, err := svc.ListRequests(ctx, "hotel-a", domain.StatusReceived, 1, 2)
	if err != nil || total != 3 || len(items) != 2 {
		t.Fatalf("page 1: total=%d len=%d err=%v", total, len(items), err)
	}
	items, _, _ = svc.ListRequests(ctx, "hotel-a", domain.StatusReceived, 2, 2)
	if len(items) != 1 {
		t.Fatalf("page 2: len=%d", len(items))
	}
	items, total, _ = svc.ListRequests(ctx, "hotel-b", "", 0, 0)
	if total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty tenant: %v %d", items, total)
	}
	if _, _, err := svc.ListRequests(ctx, "hotel-a", "bogus", 1, 10); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("want ErrInvalidStatus, got %v", err)
	}
}

func TestDashboardFingerprintTracksChanges(t *testing.T) {
	f := newFixture(t)
	svc := &DashboardService{DB: f.db, Cache: f.cache}
	ctx := context.Background()

	e0, err := svc.Fingerprint(ctx, "hotel-a")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	r, _ := f.mat.Create(ctx, "hotel-a", CreateInput{Description: "towels"})
	e1, _ := svc.Fingerprint(ctx, "hotel-a")
	if e0 == e1 {
		t.Fatal("fingerprint unchanged after create")
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := f.mat.UpdateStatus(ctx, "hotel-a", r.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("update: %v", err)
	}
	e2, _ := svc.Fingerprint(ctx, "hotel-a")
	if e1 == e2 {
		t.Fatal("fingerprint unchanged after status update")
	}
	again, _ := svc.Fingerprint(ctx, "hotel-a")
	if again != e2 {
		t.Fatal("fingerprint not stable")
	}
}

func TestDashboardRequest_TenantScoped(t *testing.T) {
	f := newFixture(t)
	svc := &DashboardService{DB: f.db, Cache: f.cache}
	ctx := context.Background()
	r, _ := f.mat.Create(ctx, "hotel-a", CreateInput{Description: "towels"})
	if _, err := svc.Request(ctx, "hotel-a", r.ID); err != nil {
		t.Fatalf("own request: %v", err)
	}
	if _, err := svc.Request(ctx, "hotel-b", r.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("want ErrRequestNotFound, got %v", err)
	}
}
