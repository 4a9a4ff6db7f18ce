// Webhook HTTP handlers.
//
// This file exposes the voice platform callbacks:
//   - POST /webhooks/calls/turn   (one live transcript turn)
//   - POST /webhooks/calls/end    (end of call with the full ordered transcript)
//
// The end-of-call webhook honors Idempotency-Key: a delivery whose key was
// already processed for the same tenant and route returns the stored outcome
// with `Idempotency-Replayed: true` and does not run the pipeline again.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/http/middleware"
	"github.com/tbourn/go-concierge-backend/internal/services"
)

//
// DTOs
//

// TurnEventRequest is a single live transcript turn.
type TurnEventRequest struct {
	// CallID is the voice platform's call identifier.
	CallID string `json:"call_id" validate:"required,max=128" example:"vapi-7f1c2a"`
	// Seq orders turns within the call; 0 appends after the last stored turn.
	Seq      int       `json:"seq"       validate:"gte=0" example:"3"`
	Role     string    `json:"role"      validate:"required,max=16" example:"caller"`
	Content  string    `json:"content"   validate:"required,max=4000" example:"Could I get two extra towels in 204?"`
	SpokenAt time.Time `json:"spoken_at"`
}

// TurnEventResponse acknowledges a turn.
type TurnEventResponse struct {
	// CallID is the internal call id.
	CallID string `json:"call_id"`
	// Accepted is false when the turn had already been stored.
	Accepted bool `json:"accepted"`
}

// EndCallRequest is the end-of-call event. Malformed turns are dropped and
// logged rather than rejecting the whole delivery.
type EndCallRequest struct {
	CallID      string          `json:"call_id"      validate:"required,max=128" example:"vapi-7f1c2a"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at"`
	DurationSec int             `json:"duration_sec" validate:"gte=0" example:"94"`
	Locale      string          `json:"locale"       validate:"omitempty,max=16" example:"en-US"`
	Turns       []services.Turn `json:"turns"        validate:"max=2000"`
}

// EndCallResponse reports the outcome of an end-of-call event. Duplicate is
// set when the call had already been processed, Partial when some extracted
// requests could not be written. Resumed marks a retry that finished an
// earlier partial run.
type EndCallResponse struct {
	CallID      string                  `json:"call_id"`
	ExternalID  string                  `json:"external_id,omitempty"`
	Status      string                  `json:"status,omitempty"`
	DurationSec int                     `json:"duration_sec"`
	Duplicate   bool                    `json:"duplicate"`
	Partial     bool                    `json:"partial"`
	Resumed     bool                    `json:"resumed,omitempty"`
	Summary     *domain.Summary         `json:"summary,omitempty"`
	Requests    []domain.ServiceRequest `json:"requests"`
}

//
// Handlers
//

// RecordTurn godoc
// @ID          recordTurn
// @Summary     Ingest one live transcript turn
// @Description Creates the call on first contact and appends the turn. Re-delivered turns (same call and seq) are acknowledged with accepted=false.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token carrying tenant_id"
// @Param       body           body    handlers.TurnEventRequest  true  "Turn event"
//
// @Success     202  {object}  handlers.TurnEventResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Call already ended"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /webhooks/calls/turn [post]
func (h *Handlers) RecordTurn(c *gin.Context) {
	var req TurnEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	call, accepted, err := h.deps.Calls.RecordTurn(c.Request.Context(), middleware.TenantFrom(c), req.CallID, services.Turn{
		Seq:      req.Seq,
		Role:     req.Role,
		Content:  req.Content,
		SpokenAt: req.SpokenAt,
	})
	switch {
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrCallFinalized):
		fail(c, http.StatusConflict, ErrCodeCallFinalized, "call already ended")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusAccepted, TurnEventResponse{CallID: call.ID, Accepted: accepted})
}

// EndCall godoc
// @ID          endCall
// @Summary     Process an ended call
// @Description Finalizes the call, summarizes the transcript and materializes the extracted service requests.
// @Description A repeated event for a finished call only backfills the duration. Supports Idempotency-Key.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string  false "Bearer token carrying tenant_id"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(evt_01HZX3)
// @Param       body             body    handlers.EndCallRequest  true  "End-of-call event"
//
// @Success     201  {object}  handlers.EndCallResponse  "Processed"
// @Success     200  {object}  handlers.EndCallResponse  "Duplicate or replay"
// @Failure     400  {object}  handlers.ErrorResponse    "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse    "Internal error"
// @Router      /webhooks/calls/end [post]
func (h *Handlers) EndCall(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middleware.TenantFrom(c)

	var req EndCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	// Idempotency (replay path).
	key, _ := middleware.GetIdempotencyKey(c)
	scope := c.FullPath()
	store := h.deps.Idempotency
	if key != "" && store != nil {
		if rec, err := store.Lookup(ctx, tenantID, scope, key); err == nil && rec != nil {
			resp := EndCallResponse{CallID: rec.ResourceID, ExternalID: strings.TrimSpace(req.CallID), Duplicate: true, Requests: []domain.ServiceRequest{}}
			if sum, err := h.deps.Calls.Summary(ctx, tenantID, rec.ResourceID); err == nil {
				resp.Summary = sum
			}
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, resp)
			return
		}
	}

	res, err := h.deps.Calls.EndCall(ctx, tenantID, services.EndCallInput{
		ExternalID:  req.CallID,
		StartedAt:   req.StartedAt,
		EndedAt:     req.EndedAt,
		DurationSec: req.DurationSec,
		Locale:      req.Locale,
		Turns:       req.Turns,
	})
	if res == nil {
		if errors.Is(err, services.ErrValidation) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		if err == nil {
			err = errors.New("call pipeline returned no result")
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("call_id", res.Call.ID).Msg("call processed with errors")
	}

	// Idempotency (store path) – best effort. A partial run is not
	// remembered so a retry with the same key can resume it.
	if key != "" && store != nil && err == nil {
		if rerr := store.Remember(ctx, tenantID, scope, key, res.Call.ID, status); rerr != nil {
			middleware.LoggerFrom(c).Warn().Err(rerr).Msg("idempotency record not stored")
		}
	}

	reqs := res.Requests
	if reqs == nil {
		reqs = []domain.ServiceRequest{}
	}
	ok(c, status, EndCallResponse{
		CallID:      res.Call.ID,
		ExternalID:  res.Call.ExternalID,
		Status:      res.Call.Status,
		DurationSec: res.Call.DurationSec,
		Duplicate:   res.Duplicate,
		Partial:     err != nil,
		Resumed:     res.Resumed,
		Summary:     res.Summary,
		Requests:    reqs,
	})
}
