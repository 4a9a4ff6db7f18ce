// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase and snake_case. Clients branch on them instead
// of parsing messages. Generic codes mirror HTTP status semantics; the
// domain-specific ones cover conditions a status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "capacity_exceeded",
//	  "message": "realtime capacity reached, retry later"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeCapacityExceeded  = "capacity_exceeded"
	ErrCodeTenantUnresolved  = "tenant_unresolved"
	ErrCodeMaterializeFailed = "materialize_failed"
	ErrCodeInvalidStatus     = "invalid_status"
	ErrCodeCallFinalized     = "call_finalized"
	ErrCodeListFailed        = "list_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)
