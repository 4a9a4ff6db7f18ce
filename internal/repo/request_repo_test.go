package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

func TestRequests_CreateGetUpdate_TenantScoped(t *testing.T) {
	db := newTestDB(t, &domain.ServiceRequest{})
	ctx := context.Background()

	r := &domain.ServiceRequest{
		ID: "r1", TenantID: "t1", Location: "204", Description: "2 towels",
		Category: "housekeeping", Quantity: 2, Status: domain.StatusReceived, Priority: domain.PriorityNormal,
	}
	if err := CreateRequest(ctx, db, r); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	if _, err := GetRequest(ctx, db, "t2", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant read should be not found, got %v", err)
	}
	if _, err := UpdateRequestStatus(ctx, db, "t2", "r1", domain.StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant update should be not found, got %v", err)
	}

	got, err := UpdateRequestStatus(ctx, db, "t1", "r1", domain.StatusInProgress)
	if err != nil {
		t.Fatalf("UpdateRequestStatus: %v", err)
	}
	if got.Status != domain.StatusInProgress || got.Quantity != 2 {
		t.Fatalf("unexpected request after update: %+v", got)
	}
}

func TestRequests_PageAndCount(t *testing.T) {
	db := newTestDB(t, &domain.ServiceRequest{})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	seedRequest(t, db, "a", "t1", domain.StatusReceived, base)
	seedRequest(t, db, "b", "t1", domain.StatusCompleted, base.Add(time.Minute))
	seedRequest(t, db, "c", "t1", domain.StatusReceived, base.Add(2*time.Minute))
	seedRequest(t, db, "d", "t2", domain.StatusReceived, base)

	all, err := ListRequestsPage(ctx, db, "t1", RequestFilter{}, 0, 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRequestsPage: %d, %v", len(all), err)
	}
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	page, _ := ListRequestsPage(ctx, db, "t1", RequestFilter{}, 1, 1)
	if len(page) != 1 || page[0].ID != "b" {
		t.Fatalf("unexpected page: %+v", page)
	}

	n, err := CountRequests(ctx, db, "t1", RequestFilter{Status: domain.StatusReceived})
	if err != nil || n != 2 {
		t.Fatalf("CountRequests(received) = %d, %v", n, err)
	}
	rx, _ := ListRequestsPage(ctx, db, "t1", RequestFilter{Status: domain.StatusReceived}, 0, 10)
	if len(rx) != 2 {
		t.Fatalf("filtered list = %d; want 2", len(rx))
	}

	everything, _ := ListAllRequests(ctx, db, "t1")
	if len(everything) != 3 {
		t.Fatalf("ListAllRequests = %d; want 3", len(everything))
	}
}

func TestLegacyRequests_UpsertByCorrelationID(t *testing.T) {
	db := newTestDB(t, &domain.LegacyRequest{})
	ctx := context.Background()

	l := &domain.LegacyRequest{CorrelationID: "r1", TenantID: "t1", RoomNumber: "204", RequestContent: "towels", OrderType: "housekeeping", State: "NEW"}
	if err := UpsertLegacyRequest(ctx, db, l); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	l2 := &domain.LegacyRequest{CorrelationID: "r1", TenantID: "t1", RoomNumber: "204", RequestContent: "towels", OrderType: "housekeeping", State: "DONE"}
	if err := UpsertLegacyRequest(ctx, db, l2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := GetLegacyRequest(ctx, db, "t1", "r1")
	if err != nil || got.State != "DONE" {
		t.Fatalf("GetLegacyRequest = %+v, %v", got, err)
	}
	if _, err := GetLegacyRequest(ctx, db, "t2", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant mirror read should be not found, got %v", err)
	}

	m, err := ListLegacyRequests(ctx, db, "t1")
	if err != nil || len(m) != 1 || m["r1"].State != "DONE" {
		t.Fatalf("ListLegacyRequests = %+v, %v", m, err)
	}
}

func TestSaveSummary_ReplacesOnRetry(t *testing.T) {
	db := newTestDB(t, &domain.Summary{})
	ctx := context.Background()

	s1 := &domain.Summary{TenantID: "t1", CallID: "c1", Text: "first", Source: domain.SummaryFromFallback}
	if err := SaveSummary(ctx, db, s1); err != nil {
		t.Fatalf("SaveSummary 1: %v", err)
	}
	s2 := &domain.Summary{
		TenantID: "t1", CallID: "c1", Text: "second", Source: domain.SummaryFromModel,
		Items: []domain.ServiceRequestItem{{Description: "towels", Quantity: 2}},
	}
	if err := SaveSummary(ctx, db, s2); err != nil {
		t.Fatalf("SaveSummary 2: %v", err)
	}

	var n int64
	db.Model(&domain.Summary{}).Where("call_id = ?", "c1").Count(&n)
	if n != 1 {
		t.Fatalf("expected one summary row per call, got %d", n)
	}
	got, err := GetSummary(ctx, db, "t1", "c1")
	if err != nil || got.Text != "second" || got.Source != domain.SummaryFromModel || len(got.Items) != 1 {
		t.Fatalf("GetSummary = %+v, %v", got, err)
	}
}
