package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

func TestGetIdempotency_BlankInputs_ReturnNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "   ", "calls.end", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank tenant, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "t1", "calls.end", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:         "expired",
		TenantID:   "t1",
		Scope:      "calls.end",
		Key:        "k1",
		ResourceID: "c1",
		Status:     200,
		CreatedAt:  now.Add(-2 * time.Hour),
		ExpiresAt:  now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, "t1", "calls.end", "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	rec2, err2 := GetIdempotency(context.Background(), db, "t1", "calls.end", "missing", now)
	if rec2 != nil || err2 != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec2, err2)
	}
}

func TestCreateIdempotency_SuccessDuplicateAndTenantScope(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, "t9", "calls.end", "k9", "c9", 202, ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec == nil || rec.ID == "" || rec.TenantID != "t9" || rec.Key != "k9" || rec.ResourceID != "c9" || rec.Status != 202 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(ctx, db, "t9", "calls.end", "k9", time.Now().UTC())
	if err != nil || got.ResourceID != "c9" {
		t.Fatalf("lookup after create: rec=%+v err=%v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "t9", "calls.end", "k9", "cX", 200, ttl); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Another tenant may reuse the key.
	if _, err := CreateIdempotency(ctx, db, "t10", "calls.end", "k9", "cY", 200, ttl); err != nil {
		t.Fatalf("other tenant create: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "t11", "calls.end", "k9", time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("unrelated tenant must not see the record, got %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	_, err := CreateIdempotency(context.Background(), db, "tX", "calls.end", "kX", "cX", 200, time.Minute)
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{errors.New("UNIQUE constraint failed: idempotency.idem_key"), true},
		{errors.New("Error 1062: Duplicate entry 'x' for key 'y'"), true},
		{errors.New("no such table"), false},
	}
	for _, c := range cases {
		if got := IsUniqueViolation(c.err); got != c.want {
			t.Fatalf("IsUniqueViolation(%v) = %v; want %v", c.err, got, c.want)
		}
	}
}

func TestIdempotencyStore_RememberExistsLookup(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	s := IdempotencyStore{DB: db, TTL: time.Hour}

	if ok, err := s.Exists(ctx, "t1", "/webhooks/calls/end", "k1", time.Now().UTC()); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := s.Remember(ctx, "t1", "/webhooks/calls/end", "k1", "call-1", 201); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := s.Remember(ctx, "t1", "/webhooks/calls/end", "k1", "call-2", 201); err != nil {
		t.Fatalf("second remember should be swallowed: %v", err)
	}
	if ok, err := s.Exists(ctx, "t1", "/webhooks/calls/end", "k1", time.Now().UTC()); !ok || err != nil {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}
	rec, err := s.Lookup(ctx, "t1", "/webhooks/calls/end", "k1")
	if err != nil || rec.ResourceID != "call-1" || rec.Status != 201 {
		t.Fatalf("lookup = %+v, %v", rec, err)
	}
	if _, err := s.Lookup(ctx, "t2", "/webhooks/calls/end", "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tenant must not see the record: %v", err)
	}
}
