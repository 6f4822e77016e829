/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Transport-only JSON structures. Workflow payloads decode straight into
  the engine request types (validated by their schema shapes), so only
  types that exist for the HTTP layer live here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse rendering
*/
package api

import (
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/ledger"
	"github.com/warp/campus-engine/schema"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string               `json:"error"`
	Details string               `json:"details,omitempty"`
	Fields  []generic.FieldError `json:"fields,omitempty"`
}

// LoginRequest is the login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

var loginShape = schema.Shape{
	"username": {Kind: schema.String, Required: true},
	"password": {Kind: schema.String, Required: true},
}

// AccountStatusRequest activates or deactivates an account.
type AccountStatusRequest struct {
	Status ledger.AccountStatus `json:"status"`
}

var accountStatusShape = schema.Shape{
	"status": {Kind: schema.String, Required: true, Allowed: []string{string(ledger.AccountActive), string(ledger.AccountInactive)}},
}

// ListResponse wraps collections so clients can rely on a stable envelope.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest selects a scenario. Super admins must name the
// organization to seed.
type LoadScenarioRequest struct {
	ScenarioID     string     `json:"scenario_id"`
	OrganizationID generic.ID `json:"organization_id"`
}

var loadScenarioShape = schema.Shape{
	"scenario_id":     {Kind: schema.String, Required: true},
	"organization_id": {Kind: schema.ID},
}

// ScenarioResult reports what a scenario created.
type ScenarioResult struct {
	ScenarioID string         `json:"scenario_id"`
	Created    map[string]any `json:"created"`
}
