package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/repo"
	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

func TestReconciler_RepairsMissingAndStaleMirrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, tn := range []domain.Tenant{
		{ID: "hotel-a", Subdomain: "a", Name: "A", Active: true},
		{ID: "hotel-b", Subdomain: "b", Name: "B", Active: true},
	} {
		tn := tn
		if err := repo.CreateTenant(ctx, f.db, &tn); err != nil {
			t.Fatalf("tenant: %v", err)
		}
	}

	ok, _ := f.mat.Create(ctx, "hotel-a", CreateInput{Description: "in sync"})
	stale, _ := f.mat.Create(ctx, "hotel-a", CreateInput{Description: "stale"})
	insertRaw(t, f, "hotel-b", domain.StatusReceived) // no mirror at all

	// Canonical moves on without the mirror.
	if _, err := repo.UpdateRequestStatus(ctx, f.db, "hotel-a", stale.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("update: %v", err)
	}

	r := &Reconciler{DB: f.db, Log: zerolog.Nop()}
	rep, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Tenants != 2 || rep.Checked != 3 || rep.Repaired != 2 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	m, err := repo.GetLegacyRequest(ctx, f.db, "hotel-a", stale.ID)
	if err != nil || m.State != "DONE" {
		t.Fatalf("stale mirror not repaired: %+v %v", m, err)
	}
	if m, err := repo.GetLegacyRequest(ctx, f.db, "hotel-a", ok.ID); err != nil || m.State != "NEW" {
		t.Fatalf("in-sync mirror changed: %+v %v", m, err)
	}

	rep, _ = r.RunOnce(ctx)
	if rep.Repaired != 0 {
		t.Fatalf("second pass repaired %d", rep.Repaired)
	}
}

func TestReconciler_RepairsFromCurrentCanonicalRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := repo.CreateTenant(ctx, f.db, &domain.Tenant{ID: "hotel-a", Subdomain: "a", Name: "A", Active: true}); err != nil {
		t.Fatalf("tenant: %v", err)
	}
	id := insertRaw(t, f, "hotel-a", domain.StatusReceived)

	// Staff complete the request after the pass read the canonical rows
	// but before it read the mirror.
	var fired atomic.Bool
	err := f.db.Callback().Query().After("gorm:query").Register("test:concurrent_update", func(tx *gorm.DB) {
		if tx.Statement.Table != "legacy_requests" || !fired.CompareAndSwap(false, true) {
			return
		}
		if _, err := f.mat.UpdateStatus(ctx, "hotel-a", id, domain.StatusCompleted); err != nil {
			t.Errorf("concurrent update: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	r := &Reconciler{DB: f.db, Log: zerolog.Nop()}
	if _, err := r.ReconcileTenant(ctx, "hotel-a"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !fired.Load() {
		t.Fatal("update was not injected")
	}

	canon, _ := repo.GetRequest(ctx, f.db, "hotel-a", id)
	m, err := repo.GetLegacyRequest(ctx, f.db, "hotel-a", id)
	if err != nil || !m.EquivalentTo(canon) {
		t.Fatalf("canonical status=%s mirror=%+v err=%v", canon.Status, m, err)
	}
	if m.State != "DONE" {
		t.Fatalf("mirror state = %s, want DONE", m.State)
	}
}

func TestRepairLegacyRequest_KeepsNewerMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.mat.Create(ctx, "hotel-a", CreateInput{Description: "towels"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	older := *r
	older.Status = domain.StatusInProgress
	older.UpdatedAt = r.UpdatedAt.Add(-time.Minute)
	written, err := repo.RepairLegacyRequest(ctx, f.db, domain.MirrorOf(&older))
	if err != nil || written {
		t.Fatalf("older repair written=%v err=%v", written, err)
	}
	m, _ := repo.GetLegacyRequest(ctx, f.db, "hotel-a", r.ID)
	if m.State != "NEW" {
		t.Fatalf("mirror overwritten by older data: %+v", m)
	}
}

func TestReconciler_FailsStaleCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := repo.CreateTenant(ctx, f.db, &domain.Tenant{ID: "hotel-a", Subdomain: "a", Name: "A", Active: true}); err != nil {
		t.Fatalf("tenant: %v", err)
	}
	abandoned, _ := repo.UpsertCall(ctx, f.db, "hotel-a", "ext-gone", time.Now().Add(-2*time.Hour))
	live, _ := repo.UpsertCall(ctx, f.db, "hotel-a", "ext-live", time.Now())

	r := &Reconciler{DB: f.db, Log: zerolog.Nop(), StaleCallAfter: 30 * time.Minute}
	rep, err := r.RunOnce(ctx)
	if err != nil || rep.StaleCalls != 1 {
		t.Fatalf("report=%+v err=%v", rep, err)
	}

	got, _ := repo.GetCallByExternalID(ctx, f.db, "hotel-a", "ext-gone")
	if got.ID != abandoned.ID || got.Status != domain.CallFailed {
		t.Fatalf("abandoned call: %+v", got)
	}
	got, _ = repo.GetCallByExternalID(ctx, f.db, "hotel-a", "ext-live")
	if got.ID != live.ID || got.Status != domain.CallInProgress {
		t.Fatalf("live call: %+v", got)
	}

	r.StaleCallAfter = 0
	if rep, _ := r.RunOnce(ctx); rep.StaleCalls != 0 {
		t.Fatalf("disabled check still failed calls: %+v", rep)
	}
}

func TestReconciler_StartRegistersTicker(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(zerolog.Nop())
	r := &Reconciler{DB: f.db, Log: zerolog.Nop(), Timeout: time.Second}
	rel := r.Start(tr, time.Hour)
	if !tr.Has("reconciler") {
		t.Fatal("reconciler ticker not tracked")
	}
	if err := rel.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}
