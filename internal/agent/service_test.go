package agent_test

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/agent"
	"github.com/trustvault/trustvault/internal/apperr"
)

type stubRepo struct {
	mu   sync.RWMutex
	rows map[string]*agent.Agent
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: make(map[string]*agent.Agent)}
}

func (r *stubRepo) Create(_ context.Context, a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.rows[a.AgentID] = &cp
	return nil
}

func (r *stubRepo) GetByAgentID(_ context.Context, agentID string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[agentID]
	if !ok {
		return nil, agent.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *stubRepo) List(_ context.Context, status string, limit, offset int) ([]*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range r.rows {
		if status == "" || string(a.Status) == status {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubRepo) Update(_ context.Context, a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[a.AgentID]; !ok {
		return agent.ErrNotFound
	}
	cp := *a
	r.rows[a.AgentID] = &cp
	return nil
}

func (r *stubRepo) Delete(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[agentID]; !ok {
		return agent.ErrNotFound
	}
	delete(r.rows, agentID)
	return nil
}

func newService() *agent.Service {
	return agent.NewService(newStubRepo(), zap.NewNop())
}

func TestRegisterThenVerifySucceeds(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	res, err := svc.Register(ctx, agent.RegisterRequest{Name: "A", OwnerEmail: "a@x.y"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.APIKey == "" {
		t.Fatal("expected a plaintext api key")
	}

	a, err := svc.Verify(ctx, agent.VerifyRequest{AgentID: res.Agent.AgentID, APIKey: res.APIKey})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if a.Status != agent.StatusActive {
		t.Fatalf("expected active status, got %s", a.Status)
	}
}

func TestVerifyWrongKeyIsUnauthorized(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	res, _ := svc.Register(ctx, agent.RegisterRequest{Name: "A", OwnerEmail: "a@x.y"})

	_, err := svc.Verify(ctx, agent.VerifyRequest{AgentID: res.Agent.AgentID, APIKey: "wrong"})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestVerifyUnknownAgentIsUnauthorizedNotNotFound(t *testing.T) {
	svc := newService()
	_, err := svc.Verify(context.Background(), agent.VerifyRequest{AgentID: "agent_nope", APIKey: "x"})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized (no existence oracle), got %v", err)
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	res, _ := svc.Register(ctx, agent.RegisterRequest{Name: "A", OwnerEmail: "a@x.y"})

	if _, err := svc.Revoke(ctx, res.Agent.AgentID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, err := svc.Verify(ctx, agent.VerifyRequest{AgentID: res.Agent.AgentID, APIKey: res.APIKey})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindUnauthorized {
		t.Fatalf("expected verify to fail after revoke, got %v", err)
	}

	_, err = svc.UpdateStatus(ctx, res.Agent.AgentID, agent.StatusActive)
	if appErr, ok := apperr.As(err); !ok || appErr.Kind != apperr.KindConflict {
		t.Fatalf("expected conflict reactivating a revoked agent, got %v", err)
	}
}

func TestUpdatePermissionsWildcardMatch(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	res, _ := svc.Register(ctx, agent.RegisterRequest{Name: "A", OwnerEmail: "a@x.y"})

	a, err := svc.UpdatePermissions(ctx, res.Agent.AgentID, []string{"persona:*:read"})
	if err != nil {
		t.Fatalf("update permissions: %v", err)
	}
	if !a.HasPermission("persona:main:read") {
		t.Fatal("expected wildcard permission to match")
	}
	if a.HasPermission("persona:main:write") {
		t.Fatal("did not expect write permission to match a read-only wildcard")
	}
}
