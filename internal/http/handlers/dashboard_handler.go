package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
)

// DashboardSummary godoc
// @ID          dashboardSummary
// @Summary     Dashboard aggregate
// @Description Counts by status, calls today and the most recent requests. Served from the tenant cache; supports weak ETag.
// @Tags        Dashboard
// @Produce     json
//
// @Success     200  {object}  services.DashboardSummary
// @Success     304  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /dashboard/summary [get]
func (h *Handlers) DashboardSummary(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middleware.TenantFrom(c)

	sum, err := h.deps.Dashboard.Summary(ctx, tenantID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if fp, err := h.deps.Dashboard.Fingerprint(ctx, tenantID); err == nil {
		if notModified(c, scopedETag(fp, "summary", strconv.FormatInt(sum.CallsToday, 10))) {
			return
		}
	}
	ok(c, http.StatusOK, sum)
}
