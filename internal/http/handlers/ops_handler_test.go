package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-concierge-backend/internal/cache"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

func TestOpsEndpoints(t *testing.T) {
	r := newRouter(New(Deps{}))
	for _, p := range []string{"/ops/cache", "/ops/broadcaster", "/ops/resources"} {
		if w := do(t, r, http.MethodGet, p, nil, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s without backing component: %d", p, w.Code)
		}
	}

	c := cache.New(time.Minute)
	c.Set(testTenant, "dashboard:summary", 1, 0)
	_, _ = c.Get(testTenant, "dashboard:summary")
	tr := tracker.New(zerolog.Nop())
	tr.RegisterTimer("reconciler", tracker.ReleaseFunc(func() error { return nil }))

	r = newRouter(New(Deps{
		Cache:    c,
		Tracker:  tr,
		Realtime: stubRealtime{stats: realtime.Stats{Active: 3, Tenants: map[string]int{testTenant: 3}}},
	}))

	cs := decode[cache.Stats](t, do(t, r, http.MethodGet, "/ops/cache", nil, nil))
	if cs.Entries != 1 || cs.Hits != 1 || cs.Tenants != 1 {
		t.Fatalf("cache stats=%+v", cs)
	}
	bs := decode[realtime.Stats](t, do(t, r, http.MethodGet, "/ops/broadcaster", nil, nil))
	if bs.Active != 3 || bs.Tenants[testTenant] != 3 {
		t.Fatalf("broadcaster stats=%+v", bs)
	}
	ds := decode[tracker.Diagnostics](t, do(t, r, http.MethodGet, "/ops/resources", nil, nil))
	if ds.Total != 1 || ds.Categories[tracker.Timer].Count != 1 {
		t.Fatalf("diagnostics=%+v", ds)
	}
}

func TestPurgeCache_DropsOnlyCallerShard(t *testing.T) {
	c := cache.New(time.Minute)
	c.Set(testTenant, "dashboard:summary", 1, 0)
	c.Set("hotel-b", "dashboard:summary", 2, 0)
	_, _ = c.Get(testTenant, "dashboard:summary")

	r := newRouter(New(Deps{Cache: c}))

	cs := decode[cache.Stats](t, do(t, r, http.MethodDelete, "/ops/cache", nil, nil))
	if cs.Entries != 1 || cs.Tenants != 1 || cs.Hits != 1 {
		t.Fatalf("after purge: %+v", cs)
	}
	if _, ok := c.Get("hotel-b", "dashboard:summary"); !ok {
		t.Fatal("other tenant's entry was purged")
	}

	cs = decode[cache.Stats](t, do(t, r, http.MethodDelete, "/ops/cache?reset_stats=true", nil, nil))
	if cs.Hits != 0 || cs.Misses != 0 {
		t.Fatalf("counters not reset: %+v", cs)
	}
}
