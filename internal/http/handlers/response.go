// Package handlers implements the concierge HTTP API: voice platform
// webhooks, service request management, the dashboard summary, realtime
// upgrades and the ops endpoints.
//
// Every failure is written as an ErrorResponse with a stable code so the
// voice platform and staff dashboards can branch on it:
//
//	HTTP/1.1 400 Bad Request
//	{"request_id":"…","code":"tenant_unresolved","message":"could not determine tenant"}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
	"github.com/tbourn/go-concierge-backend/internal/utils"
)

// ErrorResponse is the error envelope shared by all endpoints.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"call_not_found"`
	Message   string `json:"message" example:"call not found"`
}

// fail aborts with an ErrorResponse. Server errors are logged with the
// request-scoped logger, which already carries tenant_id.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := middleware.RequestIDFrom(c)
	if reqID == "" {
		reqID = c.Writer.Header().Get("X-Request-ID")
	}
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: reqID, Code: code, Message: msg})
}

// Fail lets the router answer NoRoute and NoMethod in the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size query params and bounds them.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), utils.DefaultPage),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}

// notModified sets the ETag header and reports whether the client already
// holds it, in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
