package agent

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
)

// repo is the persistence surface required by Service.
type repo interface {
	Create(ctx context.Context, a *Agent) error
	GetByAgentID(ctx context.Context, agentID string) (*Agent, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Agent, error)
	Update(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, agentID string) error
}

// Ledger is the narrow audit-append capability Service optionally writes to.
type Ledger interface {
	Append(ctx context.Context, subjectURI, action, actor string, payload any) error
}

// WebhookDispatcher fans out lifecycle events. Optional.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, agentID, event string, data map[string]any)
}

// CommitmentRevoker clears an agent's active commitments on revoke. Optional.
type CommitmentRevoker interface {
	RevokeAllForAgent(ctx context.Context, agentID string) error
}

// Service implements agent registration, credential verification, and
// lifecycle mutation.
type Service struct {
	repo       repo
	ledger     Ledger
	webhooks   WebhookDispatcher
	commitment CommitmentRevoker
	logger     *zap.Logger
}

// NewService creates a new agent Service.
func NewService(repo repo, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetLedger injects the optional audit ledger.
func (s *Service) SetLedger(l Ledger) { s.ledger = l }

// SetWebhookDispatcher injects the optional webhook fan-out capability.
func (s *Service) SetWebhookDispatcher(w WebhookDispatcher) { s.webhooks = w }

// SetCommitmentRevoker injects the optional commitment cascade capability.
func (s *Service) SetCommitmentRevoker(c CommitmentRevoker) { s.commitment = c }

func (s *Service) appendLedger(ctx context.Context, agentID, action string, payload any) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Append(ctx, "agent:"+agentID, action, "trustvault-system", payload); err != nil {
		s.logger.Warn("agent: ledger append failed", zap.Error(err), zap.String("action", action))
	}
}

// generateAgentID produces an opaque, printable, timestamp-ordered identifier.
func generateAgentID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	ts := time.Now().UnixMilli()
	tsBuf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		tsBuf[i] = byte(ts & 0xff)
		ts >>= 8
	}
	combined := append(tsBuf, buf...)
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(combined)
	return "agent_" + strings.ToLower(encoded), nil
}

// generateAPIKey returns a printable-prefixed random key of at least 24
// bytes of entropy.
func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "tvk_" + hex.EncodeToString(buf), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Register creates a new agent identity and returns the plaintext API key
// exactly once.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation("name is required", apperr.FieldError{Field: "name", Message: "required"})
	}
	if strings.TrimSpace(req.OwnerEmail) == "" {
		return nil, apperr.Validation("owner_email is required", apperr.FieldError{Field: "owner_email", Message: "required"})
	}

	agentID, err := generateAgentID()
	if err != nil {
		return nil, fmt.Errorf("generate agent id: %w", err)
	}
	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	a := &Agent{
		AgentID:     agentID,
		Name:        req.Name,
		OwnerEmail:  req.OwnerEmail,
		APIKeyHash:  hashKey(apiKey),
		Permissions: req.Permissions,
		Status:      StatusActive,
		Tier:        TierFree,
	}
	if a.Permissions == nil {
		a.Permissions = []string{}
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	s.appendLedger(ctx, agentID, "register", map[string]any{"name": a.Name, "owner_email": a.OwnerEmail})
	s.logger.Info("agent registered", zap.String("agent_id", agentID))

	return &RegisterResult{Agent: a, APIKey: apiKey}, nil
}

// Verify checks a presented API key against the stored hash in constant
// time and returns the agent if and only if it is active. All failure modes
// surface externally as the same unauthorized error to avoid an
// agent-existence oracle; the distinguishing reason is logged internally.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*Agent, error) {
	a, err := s.repo.GetByAgentID(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Info("agent verify failed", zap.String("reason", "agent_not_found"), zap.String("agent_id", req.AgentID))
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("lookup agent: %w", err)
	}

	presented := hashKey(req.APIKey)
	match := subtle.ConstantTimeCompare([]byte(presented), []byte(a.APIKeyHash)) == 1
	if !match {
		s.logger.Info("agent verify failed", zap.String("reason", "invalid_credentials"), zap.String("agent_id", req.AgentID))
		return nil, apperr.Unauthorized("invalid credentials")
	}
	if a.Status != StatusActive {
		s.logger.Info("agent verify failed", zap.String("reason", "agent_inactive"), zap.String("agent_id", req.AgentID))
		return nil, apperr.Unauthorized("invalid credentials")
	}

	now := time.Now().UTC()
	a.LastVerifiedAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update last_verified_at: %w", err)
	}
	return a, nil
}

// Get retrieves an agent by agent_id.
func (s *Service) Get(ctx context.Context, agentID string) (*Agent, error) {
	a, err := s.repo.GetByAgentID(ctx, agentID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("agent not found")
	}
	return a, err
}

// List returns agents, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Agent, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// UpdateTier changes an agent's service tier and emits agent.tier_updated.
func (s *Service) UpdateTier(ctx context.Context, agentID string, tier Tier) (*Agent, error) {
	a, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	before := a.Tier
	a.Tier = tier
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update tier: %w", err)
	}
	s.emitUpdate(ctx, agentID, "agent.tier_updated", map[string]any{"before": before, "after": tier})
	return a, nil
}

// UpdateStatus changes an agent's lifecycle status and emits agent.status_updated.
func (s *Service) UpdateStatus(ctx context.Context, agentID string, status Status) (*Agent, error) {
	a, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusRevoked {
		return nil, apperr.Conflict("agent is revoked")
	}
	before := a.Status
	a.Status = status
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	s.emitUpdate(ctx, agentID, "agent.status_updated", map[string]any{"before": before, "after": status})
	return a, nil
}

// UpdatePermissions replaces an agent's permission set and emits
// agent.permissions_updated.
func (s *Service) UpdatePermissions(ctx context.Context, agentID string, permissions []string) (*Agent, error) {
	a, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	before := a.Permissions
	a.Permissions = permissions
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update permissions: %w", err)
	}
	s.emitUpdate(ctx, agentID, "agent.permissions_updated", map[string]any{"before": before, "after": permissions})
	return a, nil
}

// Revoke terminally transitions an agent to revoked and clears any active
// commitments it owns.
func (s *Service) Revoke(ctx context.Context, agentID string) (*Agent, error) {
	a, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	a.Status = StatusRevoked
	a.ActiveCommitment = ""
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("revoke agent: %w", err)
	}
	if s.commitment != nil {
		if err := s.commitment.RevokeAllForAgent(ctx, agentID); err != nil {
			s.logger.Warn("agent: revoke commitments failed", zap.Error(err), zap.String("agent_id", agentID))
		}
	}
	s.appendLedger(ctx, agentID, "revoke", nil)
	s.emitUpdate(ctx, agentID, "agent.status_updated", map[string]any{"before": StatusActive, "after": StatusRevoked})
	return a, nil
}

func (s *Service) emitUpdate(ctx context.Context, agentID, event string, data map[string]any) {
	s.appendLedger(ctx, agentID, event, data)
	if s.webhooks != nil {
		s.webhooks.Dispatch(ctx, agentID, event, data)
	}
}
