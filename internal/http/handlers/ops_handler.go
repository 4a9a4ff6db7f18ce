package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
	"github.com/tbourn/go-concierge-backend/internal/sysutil"
)

// CacheStats godoc
// @ID          opsCache
// @Summary     Dashboard cache counters
// @Tags        Ops
// @Produce     json
// @Param       X-Ops-Token  header  string  true  "Operator credential"
// @Success     200  {object}  cache.Stats
// @Failure     403  {object}  handlers.ErrorResponse  "Missing or wrong ops credential"
// @Router      /ops/cache [get]
func (h *Handlers) CacheStats(c *gin.Context) {
	if h.deps.Cache == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "cache disabled")
		return
	}
	ok(c, http.StatusOK, h.deps.Cache.Stats())
}

// PurgeCache godoc
// @ID          opsCachePurge
// @Summary     Drop the caller's cached dashboard reads
// @Description Removes every cached entry of the resolved tenant. With reset_stats=true the hit, miss and eviction counters are zeroed too.
// @Tags        Ops
// @Produce     json
// @Param       X-Ops-Token  header  string  true  "Operator credential"
// @Param       reset_stats  query  bool  false  "Zero the cache counters"
// @Success     200  {object}  cache.Stats
// @Failure     404  {object}  handlers.ErrorResponse  "Cache disabled"
// @Failure     403  {object}  handlers.ErrorResponse  "Missing or wrong ops credential"
// @Router      /ops/cache [delete]
func (h *Handlers) PurgeCache(c *gin.Context) {
	if h.deps.Cache == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "cache disabled")
		return
	}
	tenantID := middleware.TenantFrom(c)
	h.deps.Cache.InvalidateTenant(tenantID)
	if sysutil.IsTruthy(c.Query("reset_stats")) {
		h.deps.Cache.ResetStats()
	}
	middleware.LoggerFrom(c).Info().Str("tenant_id", tenantID).Msg("dashboard cache purged")
	ok(c, http.StatusOK, h.deps.Cache.Stats())
}

// BroadcasterStats godoc
// @ID          opsBroadcaster
// @Summary     Realtime connection counters
// @Tags        Ops
// @Produce     json
// @Param       X-Ops-Token  header  string  true  "Operator credential"
// @Success     200  {object}  realtime.Stats
// @Failure     403  {object}  handlers.ErrorResponse  "Missing or wrong ops credential"
// @Router      /ops/broadcaster [get]
func (h *Handlers) BroadcasterStats(c *gin.Context) {
	if h.deps.Realtime == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "realtime disabled")
		return
	}
	ok(c, http.StatusOK, h.deps.Realtime.Stats())
}

// ResourceStats godoc
// @ID          opsResources
// @Summary     Tracked resources by category
// @Description Timers, listeners and connections currently registered with the resource tracker.
// @Tags        Ops
// @Produce     json
// @Param       X-Ops-Token  header  string  true  "Operator credential"
// @Success     200  {object}  tracker.Diagnostics
// @Failure     403  {object}  handlers.ErrorResponse  "Missing or wrong ops credential"
// @Router      /ops/resources [get]
func (h *Handlers) ResourceStats(c *gin.Context) {
	if h.deps.Tracker == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "tracker disabled")
		return
	}
	ok(c, http.StatusOK, h.deps.Tracker.Diagnostics())
}
