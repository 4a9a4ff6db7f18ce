package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-concierge-backend/internal/cache"
	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func allModels() []any {
	return []any{
		&domain.Tenant{}, &domain.Call{}, &domain.TranscriptEntry{}, &domain.Summary{},
		&domain.ServiceRequest{}, &domain.LegacyRequest{}, &domain.Idempotency{},
	}
}

// recorder captures bus events in publish order.
type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) handle(_ context.Context, ev realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db    *gorm.DB
	cache *cache.Cache
	bus   *realtime.Bus
	rec   *recorder
	mat   *Materializer
}

func newFixture(t *testing.T, migrate ...any) *fixture {
	t.Helper()
	if len(migrate) == 0 {
		migrate = allModels()
	}
	db := newSvcDB(t, migrate...)
	c := cache.New(0)
	bus := realtime.NewBus(tracker.New(zerolog.Nop()), zerolog.Nop())
	rec := &recorder{}
	bus.SubscribeAll("recorder", rec.handle)
	return &fixture{db: db, cache: c, bus: bus, rec: rec, mat: NewMaterializer(db, c, bus, zerolog.Nop())}
}
