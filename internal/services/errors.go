// Package services holds the call-to-request pipeline: call ingest, summary,
// request materialization, dashboard reads and mirror reconciliation.
// This file centralizes service-level error values so that handlers can map
// them onto HTTP responses.
package services

import "errors"

var (
	// ErrValidation is returned for malformed input such as an empty
	// transcript line, an unknown role or a request without a description.
	ErrValidation = errors.New("validation failed")

	// ErrCanonicalWrite wraps a failed write of a canonical service request.
	// It is fatal for that request only; other items are still materialized.
	ErrCanonicalWrite = errors.New("canonical request write failed")

	// ErrInvalidStatus is returned for a status outside received,
	// in-progress and completed.
	ErrInvalidStatus = errors.New("invalid request status")

	// ErrRequestNotFound indicates the request does not exist for the tenant.
	ErrRequestNotFound = errors.New("request not found")

	// ErrCallFinalized is returned when turns arrive for a call that has
	// already ended.
	ErrCallFinalized = errors.New("call already finalized")
)
