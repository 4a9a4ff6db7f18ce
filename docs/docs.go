// Package docs registers the OpenAPI document served at /swagger.
// Regenerate with: swag init -g cmd/concierge/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/webhooks/calls/turn": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["webhooks"],
                "summary": "Ingest one live transcript turn",
                "parameters": [
                    {"description": "Turn event", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.TurnEventRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.TurnEventResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/webhooks/calls/end": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["webhooks"],
                "summary": "Process an ended call",
                "parameters": [
                    {"type": "string", "description": "Idempotency key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "End-of-call event", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.EndCallRequest"}}
                ],
                "responses": {
                    "200": {"description": "Duplicate delivery", "schema": {"$ref": "#/definitions/handlers.EndCallResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.EndCallResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/requests": {
            "get": {
                "produces": ["application/json"],
                "tags": ["requests"],
                "summary": "List service requests (paginated)",
                "parameters": [
                    {"type": "string", "description": "Filter by status", "name": "status", "in": "query"},
                    {"type": "integer", "description": "Page (1-based)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Page size (max 100)", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListRequestsResponse"}},
                    "304": {"description": "Not Modified"}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["requests"],
                "summary": "Create a service request",
                "parameters": [
                    {"description": "Request", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateRequestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.ServiceRequest"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/requests/{id}/status": {
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["requests"],
                "summary": "Change the status of a service request",
                "parameters": [
                    {"type": "string", "description": "Request ID", "name": "id", "in": "path", "required": true},
                    {"description": "New status", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.ServiceRequest"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/dashboard/summary": {
            "get": {
                "produces": ["application/json"],
                "tags": ["dashboard"],
                "summary": "Dashboard aggregate",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "304": {"description": "Not Modified"}
                }
            }
        },
        "/ws": {
            "get": {
                "tags": ["realtime"],
                "summary": "Realtime dashboard channel",
                "parameters": [
                    {"type": "string", "description": "Bearer token for browsers", "name": "access_token", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "503": {"description": "Capacity exceeded", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/ops/cache": {
            "get": {"produces": ["application/json"], "tags": ["ops"], "summary": "Dashboard cache counters", "parameters": [{"type": "string", "description": "Operator credential (OPS_TOKEN)", "name": "X-Ops-Token", "in": "header", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Missing or wrong ops credential", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}},
            "delete": {"produces": ["application/json"], "tags": ["ops"], "summary": "Drop the caller's cached dashboard reads", "parameters": [{"type": "string", "description": "Operator credential (OPS_TOKEN)", "name": "X-Ops-Token", "in": "header", "required": true}, {"type": "boolean", "name": "reset_stats", "in": "query"}], "responses": {"200": {"description": "OK"}, "403": {"description": "Missing or wrong ops credential", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}, "404": {"description": "Cache disabled", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}}
        },
        "/ops/broadcaster": {"get": {"produces": ["application/json"], "tags": ["ops"], "summary": "Realtime connection counters", "parameters": [{"type": "string", "description": "Operator credential (OPS_TOKEN)", "name": "X-Ops-Token", "in": "header", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Missing or wrong ops credential", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}}},
        "/ops/resources": {"get": {"produces": ["application/json"], "tags": ["ops"], "summary": "Tracked resources by category", "parameters": [{"type": "string", "description": "Operator credential (OPS_TOKEN)", "name": "X-Ops-Token", "in": "header", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Missing or wrong ops credential", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}}}
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.TurnEventRequest": {
            "type": "object",
            "required": ["call_id", "role", "content"],
            "properties": {
                "call_id": {"type": "string"},
                "seq": {"type": "integer"},
                "role": {"type": "string", "enum": ["caller", "assistant"]},
                "content": {"type": "string"},
                "spoken_at": {"type": "string"}
            }
        },
        "handlers.TurnEventResponse": {
            "type": "object",
            "properties": {
                "call_id": {"type": "string"},
                "accepted": {"type": "boolean"}
            }
        },
        "handlers.EndCallRequest": {
            "type": "object",
            "required": ["call_id"],
            "properties": {
                "call_id": {"type": "string"},
                "started_at": {"type": "string"},
                "ended_at": {"type": "string"},
                "duration_sec": {"type": "integer"},
                "locale": {"type": "string"},
                "turns": {"type": "array", "items": {"type": "object"}}
            }
        },
        "handlers.EndCallResponse": {
            "type": "object",
            "properties": {
                "call_id": {"type": "string"},
                "external_id": {"type": "string"},
                "status": {"type": "string"},
                "duration_sec": {"type": "integer"},
                "duplicate": {"type": "boolean"},
                "partial": {"type": "boolean"},
                "resumed": {"type": "boolean"},
                "summary": {"type": "object"},
                "requests": {"type": "array", "items": {"$ref": "#/definitions/domain.ServiceRequest"}}
            }
        },
        "handlers.CreateRequestRequest": {
            "type": "object",
            "required": ["description"],
            "properties": {
                "description": {"type": "string"},
                "location": {"type": "string"},
                "category": {"type": "string"},
                "quantity": {"type": "integer"},
                "priority": {"type": "string"}
            }
        },
        "handlers.UpdateStatusRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {"type": "string", "enum": ["received", "in-progress", "completed"]}
            }
        },
        "handlers.ListRequestsResponse": {
            "type": "object",
            "properties": {
                "requests": {"type": "array", "items": {"$ref": "#/definitions/domain.ServiceRequest"}},
                "pagination": {"type": "object"}
            }
        },
        "domain.ServiceRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "tenant_id": {"type": "string"},
                "call_id": {"type": "string"},
                "location": {"type": "string"},
                "description": {"type": "string"},
                "category": {"type": "string"},
                "quantity": {"type": "integer"},
                "status": {"type": "string"},
                "priority": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Concierge Backend API",
	Description:      "Multi-tenant hotel voice concierge: call webhooks, service requests, dashboards and realtime updates.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
