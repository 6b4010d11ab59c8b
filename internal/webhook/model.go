// Package webhook dispatches domain events to per-agent endpoints and
// records delivery outcomes.
package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Event names dispatched by the system. An endpoint may also subscribe to
// "*" to receive every event.
const (
	EventAgentTierUpdated        = "agent.tier_updated"
	EventAgentStatusUpdated      = "agent.status_updated"
	EventAgentPermissionsUpdated = "agent.permissions_updated"
	EventPersonaCreated          = "persona.created"
	EventPersonaUpdated          = "persona.updated"
	EventDriftWarning            = "agent.drift.warning"
	EventDriftRevoked            = "agent.drift.revoked"
)

// Endpoint is an agent's registered webhook subscription.
type Endpoint struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	AgentID   string    `json:"agent_id"   db:"agent_id"`
	URL       string    `json:"url"        db:"url"`
	Events    []string  `json:"events"     db:"events"`
	Secret    string    `json:"-"          db:"secret"`
	IsActive  bool      `json:"is_active"  db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Envelope is the JSON body POSTed to a subscribed endpoint.
type Envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
	Data      any       `json:"data"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID           uuid.UUID `json:"id"            db:"id"`
	EndpointID   uuid.UUID `json:"endpoint_id"   db:"endpoint_id"`
	Event        string    `json:"event"         db:"event"`
	StatusCode   int       `json:"status_code"   db:"status_code"`
	Attempt      int       `json:"attempt"       db:"attempt"`
	Success      bool      `json:"success"       db:"success"`
	ErrorMessage string    `json:"error_message" db:"error_message"`
	DeliveredAt  time.Time `json:"delivered_at"  db:"delivered_at"`
}

// RegisterRequest is the payload for creating a webhook endpoint.
type RegisterRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required"`
}

// RegisterResult returns the newly created endpoint and its one-time secret.
type RegisterResult struct {
	Endpoint *Endpoint `json:"endpoint"`
	Secret   string    `json:"secret"`
}
