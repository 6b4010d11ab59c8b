// Package persona implements the signed, versioned behavioral profile bound
// to exactly one agent: canonicalization, HMAC signing, versioned history,
// integrity verification, and import/export bundles.
package persona

import "time"

// Guardrails bounds the behavioral limits a persona enforces.
type Guardrails struct {
	ToxicityThreshold       float64 `json:"toxicity_threshold"`
	HallucinationTolerance  string  `json:"hallucination_tolerance"` // strict | moderate | lenient
	SourceCitationRequired  bool    `json:"source_citation_required"`
}

// Constraints bounds what actions and content the persona permits.
type Constraints struct {
	ForbiddenTopics     []string `json:"forbidden_topics"`
	RequiredDisclaimers []string `json:"required_disclaimers"`
	AllowedActions      []string `json:"allowed_actions"`
	BlockedActions      []string `json:"blocked_actions"`
	MaxResponseLength   int      `json:"max_response_length"`
}

// Personality carries the free-form trait mapping. Canonicalization keeps
// numeric and string values as they are and renders any other value as its
// string form; the range of numeric values is not checked.
type Personality struct {
	Traits map[string]any `json:"traits"`
}

// Persona is the current, mutable behavioral profile for one agent.
type Persona struct {
	AgentID     string      `json:"agent_id"     db:"agent_id"`
	Version     string      `json:"version"       db:"version"`
	Personality Personality `json:"personality"   db:"-"`
	Guardrails  Guardrails  `json:"guardrails"    db:"-"`
	Constraints Constraints `json:"constraints"   db:"-"`
	Hash        string      `json:"persona_hash"  db:"persona_hash"`
	UpdatedAt   time.Time   `json:"updated_at"    db:"updated_at"`

	// CanonicalJSON is the exact canonical byte representation that Hash was
	// computed over; it is re-verified byte-for-byte on integrity checks.
	CanonicalJSON []byte `json:"-" db:"canonical_json"`
}

// HistoryEntry is an immutable, append-only record of a past persona state.
type HistoryEntry struct {
	ID            int64     `json:"id"             db:"id"`
	AgentID       string    `json:"agent_id"       db:"agent_id"`
	PersonaHash   string    `json:"persona_hash"   db:"persona_hash"`
	PersonaVersion string   `json:"persona_version" db:"persona_version"`
	CanonicalJSON []byte    `json:"-"              db:"canonical_json"`
	ChangedAt     time.Time `json:"changed_at"     db:"changed_at"`
}

// RegisterRequest is the payload for POST /v1/agents/:id/persona.
type RegisterRequest struct {
	Version     string         `json:"version" binding:"required"`
	Personality Personality    `json:"personality"`
	Guardrails  Guardrails     `json:"guardrails"`
	Constraints Constraints    `json:"constraints"`
}

// UpdateRequest is the payload for PUT /v1/agents/:id/persona.
type UpdateRequest struct {
	Version     string      `json:"version"`
	Personality Personality `json:"personality"`
	Guardrails  Guardrails  `json:"guardrails"`
	Constraints Constraints `json:"constraints"`
}

// Diff summarizes what changed between two persona versions by field path:
// a top-level field, or a dotted path one level into a nested object.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Edited  []string `json:"edited"`
}

// UpdateResult is returned by Update.
type UpdateResult struct {
	Persona         *Persona
	PreviousVersion string
	Diff            Diff
}

// VerifyResult is returned by VerifyIntegrity.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	AgentID        string `json:"agent_id"`
	PersonaVersion string `json:"persona_version,omitempty"`
}
