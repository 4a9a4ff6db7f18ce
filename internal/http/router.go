// Package httpapi wires the HTTP transport (Gin) to the concierge handlers.
// It centralizes cross-cutting concerns such as tracing, correlation IDs,
// logging/redaction, panic recovery, metrics, compression, CORS, security
// headers, tenant resolution, idempotency and rate limiting.
//
// Public routes (/health, /metrics, /swagger) sit outside the tenant scope.
// Everything under the API base path is tenant-scoped.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-concierge-backend/docs"
	"github.com/tbourn/go-concierge-backend/internal/config"
	"github.com/tbourn/go-concierge-backend/internal/http/handlers"
	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
)

// maxBodyBytes caps request bodies. End-of-call payloads carry the full
// transcript, so this is larger than a typical JSON API.
const maxBodyBytes = 4 << 20

// Deps are the collaborators the router mounts. Handlers is required; a nil
// RateLimiter gets a fresh limiter built from config, a nil Idempotency
// lookup disables replay detection.
type Deps struct {
	Handlers    *handlers.Handlers
	Resolver    middleware.TenantResolver
	Idempotency middleware.IdempotencyLookup
	RateLimiter *middleware.RateLimiter
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (never on the websocket route)
//  8. CORS and security headers
//
// and, for the tenant-scoped API group:
//  9. Tenant resolution
//  10. Idempotency validator (before rate limiter to allow bypass on replay)
//  11. Rate limiter (per tenant/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Vapi-Secret", "X-Api-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression; websocket upgrades must reach the handler untouched
	wsPath := joinPath(cfg.APIBasePath, "/ws")
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPath, "/metrics"})))

	// 8) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	rl := d.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByTenantOrIP())
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Tenant(d.Resolver, middleware.TenantOptions{
			Secret:     []byte(cfg.Tenancy.JWTSecret),
			QueryToken: cfg.Tenancy.QueryToken,
		}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, d.Idempotency),
		rl.Handler(),
	)

	h := d.Handlers
	{
		// Voice platform webhooks
		api.POST("/webhooks/calls/turn", h.RecordTurn)
		api.POST("/webhooks/calls/end", h.EndCall)

		// Service requests
		api.GET("/requests", h.ListRequests)
		api.POST("/requests", h.CreateRequest)
		api.PATCH("/requests/:id/status", h.UpdateRequestStatus)

		// Dashboard
		api.GET("/dashboard/summary", h.DashboardSummary)
		api.GET("/ws", h.Realtime)
	}

	if cfg.OpsEnabled {
		ops := api.Group("/ops", middleware.OpsAuth(cfg.OpsToken))
		ops.GET("/cache", h.CacheStats)
		ops.DELETE("/cache", h.PurgeCache)
		ops.GET("/broadcaster", h.BroadcasterStats)
		ops.GET("/resources", h.ResourceStats)
	}
}

// corsMiddleware returns the CORS chain. Without an allowlist every origin
// is accepted and credentials are disabled.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"If-None-Match", middleware.HeaderIdempotencyKey, middleware.HeaderOpsToken,
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// Force ACAO: * even without an Origin header (health checks, curl).
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return prefix + p
}
