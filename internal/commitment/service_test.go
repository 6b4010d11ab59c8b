package commitment_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/commitment"
)

type stubRepo struct {
	mu   sync.Mutex
	rows map[string]*commitment.Commitment
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: make(map[string]*commitment.Commitment)}
}

func (r *stubRepo) Create(_ context.Context, c *commitment.Commitment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Status = commitment.StatusActive
	c.CreatedAt = time.Now().UTC()
	cp := *c
	r.rows[c.Commitment] = &cp
	return nil
}

func (r *stubRepo) Get(_ context.Context, digest string) (*commitment.Commitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[digest]
	if !ok {
		return nil, commitment.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *stubRepo) Revoke(_ context.Context, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[digest]
	if !ok || c.Status != commitment.StatusActive {
		return commitment.ErrNotFound
	}
	c.Status = commitment.StatusRevoked
	return nil
}

func (r *stubRepo) RevokeAllForAgent(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.AgentID == agentID {
			c.Status = commitment.StatusRevoked
		}
	}
	return nil
}

func (r *stubRepo) ActiveCount(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, c := range r.rows {
		if c.Status == commitment.StatusActive && (c.ExpiresAt == nil || c.ExpiresAt.After(now)) {
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) SweepExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, c := range r.rows {
		if c.Status == commitment.StatusActive && c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			c.Status = commitment.StatusRevoked
			n++
		}
	}
	return n, nil
}

func newService() *commitment.Service {
	return commitment.NewService(newStubRepo(), nil, zap.NewNop())
}

func preimage(agentID, apiKey, salt string) string {
	sum := sha256.Sum256([]byte(agentID + ":" + apiKey + ":" + salt))
	return hex.EncodeToString(sum[:])
}

func TestRegisterThenVerifyHashSucceeds(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	res, err := svc.Register(ctx, "agent_1", "key", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h := preimage("agent_1", "key", res.Salt)
	if h != res.Commitment {
		t.Fatalf("expected preimage hash to equal commitment, got %s vs %s", h, res.Commitment)
	}

	result := svc.VerifyHash(ctx, res.Commitment, h)
	if !result.Valid {
		t.Fatalf("expected valid, got %+v", result)
	}
}

func TestRevokedCommitmentStaysRevoked(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	res, _ := svc.Register(ctx, "agent_1", "key", nil)
	h := preimage("agent_1", "key", res.Salt)

	if err := svc.Revoke(ctx, res.Commitment); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	result := svc.VerifyHash(ctx, res.Commitment, h)
	if result.Valid {
		t.Fatal("expected revoked commitment to fail verification")
	}

	if err := svc.Revoke(ctx, res.Commitment); err == nil {
		t.Fatal("expected second revoke of an already-revoked commitment to fail")
	}
}

func TestExpiredCommitmentRejectedAtExactBoundary(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	past := time.Now().UTC()
	res, _ := svc.Register(ctx, "agent_1", "key", &past)
	h := preimage("agent_1", "key", res.Salt)

	result := svc.VerifyHash(ctx, res.Commitment, h)
	if result.Valid {
		t.Fatal("expected commitment expiring exactly now to be rejected")
	}
}

func TestSweepExpiredRevokesPastTTL(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	res, _ := svc.Register(ctx, "agent_1", "key", &past)

	n, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept commitment, got %d", n)
	}

	h := preimage("agent_1", "key", res.Salt)
	if svc.VerifyHash(ctx, res.Commitment, h).Valid {
		t.Fatal("expected swept commitment to no longer verify")
	}
}

func TestWrongPreimageRejected(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	res, _ := svc.Register(ctx, "agent_1", "key", nil)

	result := svc.VerifyHash(ctx, res.Commitment, "0000000000000000000000000000000000000000000000000000000000000000")
	if result.Valid {
		t.Fatal("expected mismatched preimage to be rejected")
	}
}
