package commitment

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
)

// repo is the persistence surface required by Service.
type repo interface {
	Create(ctx context.Context, c *Commitment) error
	Get(ctx context.Context, digest string) (*Commitment, error)
	Revoke(ctx context.Context, digest string) error
	RevokeAllForAgent(ctx context.Context, agentID string) error
	ActiveCount(ctx context.Context) (int, error)
	SweepExpired(ctx context.Context) (int, error)
}

// AgentSnapshot is the subset of agent state a commitment captures at
// registration time so verification needs no agent join.
type AgentSnapshot struct {
	Permissions []string
	Tier        string
}

// AgentLookup resolves the agent snapshot to embed in a new commitment.
type AgentLookup interface {
	Snapshot(ctx context.Context, agentID string) (*AgentSnapshot, error)
}

// Ledger is the narrow audit-append capability Service optionally writes to.
type Ledger interface {
	Append(ctx context.Context, subjectURI, action, actor string, payload any) error
}

// Service implements commitment registration and verification.
type Service struct {
	repo     repo
	agents   AgentLookup
	verifier Groth16Verifier
	vk       []byte
	ledger   Ledger
	logger   *zap.Logger
}

// NewService creates a new commitment Service with StubGroth16Verifier bound
// as its Groth16 verifier; SetGroth16Verifier replaces it.
func NewService(repo repo, agents AgentLookup, logger *zap.Logger) *Service {
	return &Service{repo: repo, agents: agents, verifier: StubGroth16Verifier{}, logger: logger}
}

// SetGroth16Verifier overrides the injected Groth16 verifier capability.
func (s *Service) SetGroth16Verifier(v Groth16Verifier, verificationKey []byte) {
	s.verifier = v
	s.vk = verificationKey
}

// SetLedger injects the optional audit ledger.
func (s *Service) SetLedger(l Ledger) { s.ledger = l }

func (s *Service) appendLedger(ctx context.Context, agentID, action string, payload any) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Append(ctx, "commitment:"+agentID, action, "trustvault-system", payload); err != nil {
		s.logger.Warn("commitment: ledger append failed", zap.Error(err))
	}
}

// Register creates an anonymous commitment bound to (agentID, apiKey) with a
// fresh random salt. The salt is returned exactly once.
func (s *Service) Register(ctx context.Context, agentID, apiKey string, expiresAt *time.Time) (*RegisterResult, error) {
	saltBytes := make([]byte, 32)
	if _, err := rand.Read(saltBytes); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)

	digest := computeCommitment(agentID, apiKey, salt)

	snap := &AgentSnapshot{}
	if s.agents != nil {
		var err error
		snap, err = s.agents.Snapshot(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("resolve agent snapshot: %w", err)
		}
	}

	c := &Commitment{
		Commitment:  digest,
		AgentID:     agentID,
		ExpiresAt:   expiresAt,
		Permissions: snap.Permissions,
		Tier:        snap.Tier,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create commitment: %w", err)
	}

	s.appendLedger(ctx, agentID, "commitment.registered", map[string]any{"commitment": digest})

	return &RegisterResult{
		Commitment: digest,
		Salt:       salt,
		ExpiresAt:  expiresAt,
		Message:    "store this salt now; it will not be returned again",
	}, nil
}

func computeCommitment(agentID, apiKey, salt string) string {
	sum := sha256.Sum256([]byte(agentID + ":" + apiKey + ":" + salt))
	return hex.EncodeToString(sum[:])
}

func (s *Service) lookupActive(ctx context.Context, digest string) (*Commitment, bool) {
	c, err := s.repo.Get(ctx, digest)
	if err != nil {
		return nil, false
	}
	if c.Status != StatusActive {
		return nil, false
	}
	if c.ExpiresAt != nil && !time.Now().UTC().Before(*c.ExpiresAt) {
		return nil, false
	}
	return c, true
}

// VerifyHash checks a caller-presented preimage hash against a commitment in
// hash mode, using a constant-time byte comparison.
func (s *Service) VerifyHash(ctx context.Context, digest, preimageHash string) *VerifyResult {
	c, ok := s.lookupActive(ctx, digest)
	if !ok {
		return &VerifyResult{Valid: false, Reason: "not found or revoked"}
	}
	if !constantTimeHexEqual(digest, preimageHash) {
		return &VerifyResult{Valid: false, Reason: "preimage mismatch"}
	}
	return &VerifyResult{Valid: true, Permissions: c.Permissions, Tier: c.Tier}
}

// VerifyGroth16 checks a zk-SNARK proof against a commitment in Groth16
// mode. The first public signal must match the commitment hex; the
// injected verifier is then invoked as a pure function.
func (s *Service) VerifyGroth16(ctx context.Context, digest string, proof Proof, publicSignals []string) (*VerifyResult, error) {
	c, ok := s.lookupActive(ctx, digest)
	if !ok {
		return &VerifyResult{Valid: false, Reason: "not found or revoked"}, nil
	}
	if len(publicSignals) == 0 || !constantTimeHexEqual(digest, publicSignals[0]) {
		return &VerifyResult{Valid: false, Reason: "commitment mismatch"}, nil
	}
	if s.verifier == nil {
		return &VerifyResult{Valid: false, Reason: "verifier unavailable"}, nil
	}
	ok, err := s.verifier.Verify(s.vk, proof, publicSignals)
	if err != nil {
		return nil, fmt.Errorf("groth16 verify: %w", err)
	}
	if !ok {
		return &VerifyResult{Valid: false, Reason: "invalid proof"}, nil
	}
	return &VerifyResult{Valid: true, Permissions: c.Permissions, Tier: c.Tier}, nil
}

func constantTimeHexEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Revoke transitions an active commitment to revoked. Revoking a commitment
// that is unknown or no longer active returns a not_found error.
func (s *Service) Revoke(ctx context.Context, digest string) error {
	if err := s.repo.Revoke(ctx, digest); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("no such active commitment")
		}
		return fmt.Errorf("revoke commitment: %w", err)
	}
	s.appendLedger(ctx, "", "commitment.revoked", map[string]any{"commitment": digest})
	return nil
}

// RevokeAllForAgent clears every active commitment owned by agentID. Used by
// the agent service's revoke cascade.
func (s *Service) RevokeAllForAgent(ctx context.Context, agentID string) error {
	return s.repo.RevokeAllForAgent(ctx, agentID)
}

// ActiveCount returns the number of currently active, non-expired
// commitments.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	return s.repo.ActiveCount(ctx)
}

// SweepExpired transitions every active-but-expired commitment to revoked.
// Intended to run on a schedule; crash-safe and re-entrant since it is a
// single idempotent query.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("commitment: ttl sweep revoked expired commitments", zap.Int("count", n))
	}
	return n, nil
}
