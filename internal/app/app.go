// Package app assembles the concierge process: storage, tenant resolution,
// the summary pipeline, realtime fan-out and the HTTP router. The serve
// command builds one App and runs it until a shutdown signal arrives.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/cache"
	"github.com/tbourn/go-concierge-backend/internal/config"
	httpapi "github.com/tbourn/go-concierge-backend/internal/http"
	"github.com/tbourn/go-concierge-backend/internal/http/handlers"
	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
	"github.com/tbourn/go-concierge-backend/internal/pubsub"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/repo"
	"github.com/tbourn/go-concierge-backend/internal/search"
	"github.com/tbourn/go-concierge-backend/internal/services"
	"github.com/tbourn/go-concierge-backend/internal/summary"
	"github.com/tbourn/go-concierge-backend/internal/tenant"
	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 30 * time.Second

// App is a fully wired concierge process.
type App struct {
	Config      config.Config
	Log         zerolog.Logger
	DB          *gorm.DB
	Engine      *gin.Engine
	Tracker     *tracker.Tracker
	Broadcaster *realtime.Broadcaster
	Resolver    *tenant.Resolver
	Reconciler  *services.Reconciler

	closed   bool
	released tracker.Report
}

// New opens the database, migrates it and wires every component. Collectors
// are registered with reg when it is non-nil. On error everything created so
// far is released.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	db, err := repo.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	tr := tracker.New(log)
	a := &App{Config: cfg, Log: log, DB: db, Tracker: tr}
	wired := false
	defer func() {
		if !wired {
			_ = a.Close()
		}
	}()

	// Caches
	dashCache := cache.New(cfg.CacheTTL)
	dashCache.StartSweeper(tr, cfg.CacheSweepInterval)
	tenantCache := cache.New(cfg.Tenancy.PositiveTTL)
	tenantCache.StartSweeperNamed(tr, "tenant_cache.sweeper", cfg.CacheSweepInterval)
	if reg != nil {
		if err := reg.Register(dashCache.Collector()); err != nil && !isAlreadyRegistered(err) {
			return nil, fmt.Errorf("register cache collector: %w", err)
		}
	}

	// Tenancy
	a.Resolver = tenant.NewResolver(tenant.Store{DB: db}, tenantCache, tenant.Options{
		BaseDomain:    cfg.Tenancy.BaseDomain,
		DefaultTenant: cfg.Tenancy.DefaultTenant,
		PositiveTTL:   cfg.Tenancy.PositiveTTL,
		NegativeTTL:   cfg.Tenancy.NegativeTTL,
	}, log)

	// Summary pipeline
	gen, err := newSummarizer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	// Realtime
	bus := realtime.NewBus(tr, log)
	a.Broadcaster = realtime.NewBroadcaster(tr, realtime.Options{
		MaxConnections:      cfg.Realtime.MaxConnections,
		HeartbeatInterval:   cfg.Realtime.HeartbeatInterval,
		MaxMissedHeartbeats: cfg.Realtime.MaxMissed,
		TenantLimit:         tenantLimit(a.Resolver, cfg.Tenancy.DefaultMaxConns),
	}, log)
	bc := a.Broadcaster
	bus.SubscribeAll("broadcaster", func(_ context.Context, ev realtime.Event) {
		bc.Broadcast(ev.TenantID, ev)
	})
	if cfg.Redis.Addr != "" {
		startRelay(tr, bus, bc, cfg.Redis, log)
	}

	// Services
	materializer := services.NewMaterializer(db, dashCache, bus, log)
	calls := &services.CallService{
		DB:            db,
		Summarizer:    gen,
		Materializer:  materializer,
		Bus:           bus,
		Log:           log.With().Str("component", "calls").Logger(),
		DefaultLocale: language.Make(cfg.Summary.DefaultLocale),
	}
	dashboard := &services.DashboardService{DB: db, Cache: dashCache, TTL: cfg.CacheTTL}
	idem := repo.IdempotencyStore{DB: db, TTL: cfg.IdempotencyTTL}

	a.Reconciler = &services.Reconciler{
		DB:             db,
		Log:            log.With().Str("component", "reconciler").Logger(),
		Timeout:        cfg.ReconcileInterval / 2,
		StaleCallAfter: cfg.StaleCallAfter,
	}
	if cfg.ReconcileInterval > 0 {
		a.Reconciler.Start(tr, cfg.ReconcileInterval)
	}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByTenantOrIP())
	rl.StartSweeper(tr, 5*time.Minute)

	// HTTP
	h := handlers.New(handlers.Deps{
		Calls:          calls,
		Requests:       materializer,
		Dashboard:      dashboard,
		Idempotency:    idem,
		Realtime:       bc,
		Cache:          dashCache,
		Tracker:        tr,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	a.Engine = gin.New()
	httpapi.RegisterRoutes(a.Engine, cfg, httpapi.Deps{
		Handlers:    h,
		Resolver:    a.Resolver,
		Idempotency: idem.Exists,
		RateLimiter: rl,
	})
	wired = true
	return a, nil
}

func newSummarizer(ctx context.Context, cfg config.Config, log zerolog.Logger) (*summary.Generator, error) {
	catalog := search.DefaultCatalog()
	if cfg.CategoriesPath != "" {
		c, err := search.LoadCatalog(cfg.CategoriesPath)
		if err != nil {
			return nil, fmt.Errorf("load categories: %w", err)
		}
		catalog = c
	}
	classifier := search.New(catalog, search.WithThreshold(cfg.Threshold))

	model, err := summary.NewOpenAIModel(ctx, summary.ModelConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if model == nil {
		log.Warn().Msg("LLM_API_KEY not set; summaries use the fallback extractor only")
	}
	return summary.New(model, classifier, summary.Options{
		Timeout:            cfg.LLM.Timeout,
		Retries:            cfg.Summary.Retries,
		MinTurns:           cfg.Summary.MinTurns,
		MaxTranscriptRunes: cfg.Summary.MaxTranscriptRunes,
		AbandonAfter:       cfg.Summary.AbandonAfter,
	}, log), nil
}

// tenantLimit prefers the tenant row's cap and falls back to the deployment
// default.
func tenantLimit(r *tenant.Resolver, fallback int) func(string) int {
	return func(tenantID string) int {
		if n := r.MaxConnections(tenantID); n > 0 {
			return n
		}
		return fallback
	}
}

// startRelay mirrors local bus events to Redis and delivers remote events
// straight to the broadcaster. Remote events never re-enter the bus, so they
// cannot be relayed twice.
func startRelay(tr *tracker.Tracker, bus *realtime.Bus, bc *realtime.Broadcaster, cfg config.RedisConfig, log zerolog.Logger) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	relay := pubsub.NewRelay(client, cfg.Channel, log)

	// Publishing happens off the bus so a Redis outage never stalls the
	// writer that raised the event.
	bus.SubscribeAll("relay", func(_ context.Context, ev realtime.Event) {
		relay.Enqueue(ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.RunPublisher(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = relay.Run(ctx, func(ev realtime.Event) { bc.Broadcast(ev.TenantID, ev) })
	}()
	tr.RegisterListener("relay.subscriber", tracker.ReleaseFunc(func() error {
		cancel()
		wg.Wait()
		return client.Close()
	}))
	log.Info().Str("addr", cfg.Addr).Str("instance_id", relay.InstanceID()).Msg("redis relay started")
}

// Run serves HTTP on the configured port until ctx is cancelled, then shuts
// the server down gracefully and releases every resource.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Engine,
		ReadTimeout:       a.Config.ReadTimeout,
		ReadHeaderTimeout: a.Config.ReadHeaderTimeout,
		WriteTimeout:      a.Config.WriteTimeout,
		IdleTimeout:       a.Config.IdleTimeout,
		MaxHeaderBytes:    a.Config.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info().Str("addr", srv.Addr).Str("mode", gin.Mode()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.Log.Info().Msg("shutting down server")
	case serveErr = <-errCh:
		a.Log.Error().Err(serveErr).Msg("server failed")
	}

	// Realtime clients are told to reconnect before the listener closes;
	// Shutdown does not wait for hijacked connections.
	a.closeRealtime()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Error().Err(err).Msg("server forced to shutdown")
		serveErr = errors.Join(serveErr, err)
	}

	return errors.Join(serveErr, a.Close())
}

// Close releases every tracked resource and closes the database. It is safe
// to call more than once.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.closeRealtime()
	rep := a.released
	rep.Merge(a.Tracker.CleanupAll())
	ev := a.Log.Info()
	if len(rep.Failed) > 0 {
		ev = a.Log.Warn().Int("failed", len(rep.Failed))
	}
	ev.Int("released", rep.Released).Msg("resources released")

	closeDB(a.DB)
	if len(rep.Failed) > 0 {
		return fmt.Errorf("%d resources failed to release", len(rep.Failed))
	}
	return nil
}

func (a *App) closeRealtime() {
	if a.Broadcaster != nil {
		a.released.Merge(a.Broadcaster.Close())
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
