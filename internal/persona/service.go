package persona

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
	"github.com/trustvault/trustvault/internal/canon"
)

// repo is the persistence surface required by Service.
type repo interface {
	Get(ctx context.Context, agentID string) (*Persona, error)
	Create(ctx context.Context, p *Persona) error
	ReplaceWithHistory(ctx context.Context, next *Persona) error
	History(ctx context.Context, agentID string, limit, offset int, descending bool) ([]*HistoryEntry, int, error)
}

// Ledger is the narrow audit-append capability Service optionally writes to.
type Ledger interface {
	Append(ctx context.Context, subjectURI, action, actor string, payload any) error
}

// WebhookDispatcher fans out persona lifecycle events. Optional.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, agentID, event string, data map[string]any)
}

// DriftConfigSeeder creates a default drift config the first time a persona
// is registered, seeded from the persona's own guardrails. Optional.
type DriftConfigSeeder interface {
	EnsureDefault(ctx context.Context, agentID string, toxicityBaseline float64, maxResponseLength int) error
}

// Service implements persona registration, update, retrieval, integrity
// verification, history, and import/export.
type Service struct {
	repo     repo
	ledger   Ledger
	webhooks WebhookDispatcher
	drift    DriftConfigSeeder
	logger   *zap.Logger

	locks sync.Map // agentID -> *sync.Mutex, serializes read-modify-write per agent
}

// NewService creates a new persona Service.
func NewService(repo repo, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetLedger injects the optional audit ledger.
func (s *Service) SetLedger(l Ledger) { s.ledger = l }

// SetWebhookDispatcher injects the optional webhook fan-out capability.
func (s *Service) SetWebhookDispatcher(w WebhookDispatcher) { s.webhooks = w }

// SetDriftConfigSeeder injects the optional drift-config seeding hook.
func (s *Service) SetDriftConfigSeeder(d DriftConfigSeeder) { s.drift = d }

func (s *Service) lockFor(agentID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(agentID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) appendLedger(ctx context.Context, agentID, action string, payload any) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Append(ctx, "persona:"+agentID, action, "trustvault-system", payload); err != nil {
		s.logger.Warn("persona: ledger append failed", zap.Error(err))
	}
}

func sign(apiKey string, canonical []byte) string {
	return canon.Sign([]byte(apiKey), canonical)
}

// Register creates the first persona for an agent. Fails with conflict if
// one already exists.
func (s *Service) Register(ctx context.Context, agentID, apiKey string, req RegisterRequest) (*Persona, error) {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	if req.Version == "" {
		return nil, apperr.Validation("version is required", apperr.FieldError{Field: "version", Message: "required"})
	}
	if _, err := parseVersion(req.Version); err != nil {
		return nil, apperr.Validation(err.Error(), apperr.FieldError{Field: "version", Message: "must be semver major.minor.patch"})
	}

	canonical := Canonicalize(req.Version, req.Personality, req.Guardrails, req.Constraints)
	if len(canonical) > MaxCanonicalBytes {
		return nil, apperr.TooLarge(fmt.Sprintf("canonicalized persona is %d bytes, limit is %d", len(canonical), MaxCanonicalBytes))
	}

	p := &Persona{
		AgentID:       agentID,
		Version:       req.Version,
		CanonicalJSON: canonical,
		Hash:          sign(apiKey, canonical),
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, apperr.Conflict("persona already exists for this agent")
		}
		return nil, fmt.Errorf("create persona: %w", err)
	}
	p.Personality, p.Guardrails, p.Constraints = req.Personality, req.Guardrails, req.Constraints

	if s.drift != nil {
		if err := s.drift.EnsureDefault(ctx, agentID, req.Guardrails.ToxicityThreshold, req.Constraints.MaxResponseLength); err != nil {
			s.logger.Warn("persona: seed default drift config failed", zap.Error(err))
		}
	}

	s.appendLedger(ctx, agentID, "persona.created", map[string]any{"version": p.Version, "persona_hash": p.Hash})
	if s.webhooks != nil {
		s.webhooks.Dispatch(ctx, agentID, "persona.created", map[string]any{"version": p.Version, "persona_hash": p.Hash})
	}
	return p, nil
}

// Update replaces the current persona, archiving the prior state to history.
// The caller-supplied version must be strictly greater than current; if
// omitted, it defaults to a minor-increment of current.
func (s *Service) Update(ctx context.Context, agentID, apiKey string, req UpdateRequest) (*UpdateResult, error) {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("no persona registered for this agent")
		}
		return nil, fmt.Errorf("get current persona: %w", err)
	}

	newVersion, err := nextVersion(current.Version, req.Version)
	if err != nil {
		return nil, apperr.New(apperr.KindConflict, "invalid_version: "+err.Error())
	}

	canonical := Canonicalize(newVersion, req.Personality, req.Guardrails, req.Constraints)
	if len(canonical) > MaxCanonicalBytes {
		return nil, apperr.TooLarge(fmt.Sprintf("canonicalized persona is %d bytes, limit is %d", len(canonical), MaxCanonicalBytes))
	}

	next := &Persona{
		AgentID:       agentID,
		Version:       newVersion,
		CanonicalJSON: canonical,
		Hash:          sign(apiKey, canonical),
	}

	if err := s.repo.ReplaceWithHistory(ctx, next); err != nil {
		return nil, fmt.Errorf("replace persona: %w", err)
	}
	next.Personality, next.Guardrails, next.Constraints = req.Personality, req.Guardrails, req.Constraints

	diff := diffCanonical(current.CanonicalJSON, canonical)

	s.appendLedger(ctx, agentID, "persona.updated", map[string]any{
		"previous_version": current.Version, "version": next.Version, "diff": diff,
	})
	if s.webhooks != nil {
		s.webhooks.Dispatch(ctx, agentID, "persona.updated", map[string]any{
			"previous_version": current.Version, "version": next.Version, "diff": diff,
		})
	}

	return &UpdateResult{Persona: next, PreviousVersion: current.Version, Diff: diff}, nil
}

// Get retrieves the current persona, hydrating its structured fields from
// canonical storage.
func (s *Service) Get(ctx context.Context, agentID string) (*Persona, error) {
	p, err := s.repo.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("no persona registered for this agent")
		}
		return nil, fmt.Errorf("get persona: %w", err)
	}
	if err := hydrate(p); err != nil {
		return nil, fmt.Errorf("hydrate persona: %w", err)
	}
	return p, nil
}

// VerifyIntegrity recomputes the HMAC over the stored canonical persona and
// compares it, timing-safely, to the stored hash.
func (s *Service) VerifyIntegrity(ctx context.Context, agentID, apiKey string) (*VerifyResult, error) {
	p, err := s.repo.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &VerifyResult{Valid: false, Reason: "no persona", AgentID: agentID}, nil
		}
		return nil, fmt.Errorf("get persona: %w", err)
	}
	if !canon.Verify([]byte(apiKey), p.CanonicalJSON, p.Hash) {
		return &VerifyResult{Valid: false, Reason: "tampered", AgentID: agentID, PersonaVersion: p.Version}, nil
	}
	return &VerifyResult{Valid: true, AgentID: agentID, PersonaVersion: p.Version}, nil
}

// History returns a page of persona history for an agent.
func (s *Service) History(ctx context.Context, agentID string, limit, offset int, descending bool) ([]*HistoryEntry, int, error) {
	return s.repo.History(ctx, agentID, limit, offset, descending)
}
