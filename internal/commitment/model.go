// Package commitment implements anonymous re-identification tokens: salted
// SHA-256 commitments with hash-mode and Groth16-mode verification, TTL
// expiry, and revocation.
package commitment

import "time"

// Status is the lifecycle state of a commitment. Revoked is terminal.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Commitment is an anonymous re-identification token bound to an agent's
// credentials at registration time.
type Commitment struct {
	Commitment  string     `json:"commitment"   db:"commitment"`
	AgentID     string     `json:"agent_id"     db:"agent_id"`
	Status      Status     `json:"status"       db:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Permissions []string   `json:"permissions"  db:"permissions"`
	Tier        string     `json:"tier"         db:"tier"`
	CreatedAt   time.Time  `json:"created_at"   db:"created_at"`
}

// RegisterRequest is the payload for POST /v1/zkp/register-commitment.
type RegisterRequest struct {
	AgentID   string     `json:"agent_id" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// RegisterResult is returned once; the salt is never retrievable again.
type RegisterResult struct {
	Commitment string     `json:"commitment"`
	Salt       string     `json:"salt"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Message    string     `json:"message"`
}

// Proof is a Groth16 zk-SNARK proof as submitted by the caller.
type Proof struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
}

// VerifyResult is the response shape for both hash-mode and Groth16-mode
// verification.
type VerifyResult struct {
	Valid       bool     `json:"valid"`
	Reason      string   `json:"reason,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Tier        string   `json:"tier,omitempty"`
}
