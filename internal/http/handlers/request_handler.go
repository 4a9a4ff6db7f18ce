// Service request HTTP handlers.
//
//   - GET   /requests               (list, paginated, optional status filter, ETag)
//   - POST  /requests               (create without a call, e.g. front desk entry)
//   - PATCH /requests/{id}/status   (move through received → in-progress → completed)
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
	"github.com/tbourn/go-concierge-backend/internal/services"
)

// CreateRequestRequest is the JSON payload for a staff-entered request.
type CreateRequestRequest struct {
	Description string `json:"description" binding:"required" example:"Late checkout for room 311"`
	Location    string `json:"location"    example:"311"`
	Category    string `json:"category"    example:"front_desk"`
	Quantity    int    `json:"quantity"    example:"1"`
	// Priority overrides the keyword-derived priority.
	Priority string `json:"priority" example:"normal" enums:"low,normal,high,urgent"`
}

// UpdateStatusRequest is the JSON payload for a status change.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required" example:"in-progress" enums:"received,in-progress,completed"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []domain.ServiceRequest `json:"requests"`
	Pagination Pagination              `json:"pagination"`
}

// scopedETag extends a weak validator with the parts that select a view of
// the same data (filters, pages).
func scopedETag(fingerprint string, parts ...string) string {
	return strings.TrimSuffix(fingerprint, `"`) + ":" + strings.Join(parts, ":") + `"`
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List service requests (paginated)
// @Description Returns a page of the tenant's requests, most recently updated first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       status     query  string  false "Filter by status"  Enums(received, in-progress, completed)
// @Param       page       query  int     false "Page number"       minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"    minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListRequestsResponse
// @Success     304  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid status"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middleware.TenantFrom(c)
	status := strings.TrimSpace(c.Query("status"))
	if status != "" && !domain.ValidStatus(status) {
		fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, "status must be received, in-progress or completed")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if fp, err := h.deps.Dashboard.Fingerprint(ctx, tenantID); err == nil {
		if notModified(c, scopedETag(fp, status, strconv.Itoa(page), strconv.Itoa(pageSize))) {
			return
		}
	}

	items, total, err := h.deps.Dashboard.ListRequests(ctx, tenantID, status, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListRequestsResponse{Requests: items, Pagination: newPagination(page, pageSize, total)})
}

// CreateRequest godoc
// @ID          createRequest
// @Summary     Create a service request
// @Description Creates a request that did not come from a call. It is mirrored and broadcast like call-derived requests.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateRequestRequest  true  "Request payload"
//
// @Success     201  {object}  domain.ServiceRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Canonical write failed"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "description required")
		return
	}
	r, err := h.deps.Requests.Create(c.Request.Context(), middleware.TenantFrom(c), services.CreateInput{
		Location:    req.Location,
		Description: req.Description,
		Category:    req.Category,
		Quantity:    req.Quantity,
		Priority:    req.Priority,
	})
	switch {
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeMaterializeFailed, err.Error())
	default:
		ok(c, http.StatusCreated, r)
	}
}

// UpdateRequestStatus godoc
// @ID          updateRequestStatus
// @Summary     Change the status of a service request
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                        true  "Request ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateStatusRequest  true  "New status"
//
// @Success     200  {object}  domain.ServiceRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or invalid status"
// @Failure     404  {object}  handlers.ErrorResponse  "Request not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/{id}/status [patch]
func (h *Handlers) UpdateRequestStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}

	r, err := h.deps.Requests.UpdateStatus(c.Request.Context(), middleware.TenantFrom(c), id, strings.TrimSpace(req.Status))
	switch {
	case errors.Is(err, services.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, "status must be received, in-progress or completed")
	case errors.Is(err, services.ErrRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "request not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusOK, r)
	}
}
