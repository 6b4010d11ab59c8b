package persona_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
	"github.com/trustvault/trustvault/internal/persona"
)

type stubRepo struct {
	mu      sync.Mutex
	current map[string]*persona.Persona
	history map[string][]*persona.HistoryEntry
	nextID  int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		current: make(map[string]*persona.Persona),
		history: make(map[string][]*persona.HistoryEntry),
	}
}

func (r *stubRepo) Get(_ context.Context, agentID string) (*persona.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.current[agentID]
	if !ok {
		return nil, persona.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *stubRepo) Create(_ context.Context, p *persona.Persona) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.current[p.AgentID]; ok {
		return persona.ErrConflict
	}
	cp := *p
	r.current[p.AgentID] = &cp
	r.nextID++
	r.history[p.AgentID] = append(r.history[p.AgentID], &persona.HistoryEntry{
		ID: r.nextID, AgentID: p.AgentID, PersonaHash: p.Hash, PersonaVersion: p.Version,
	})
	return nil
}

func (r *stubRepo) ReplaceWithHistory(_ context.Context, next *persona.Persona) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.current[next.AgentID]; !ok {
		return persona.ErrNotFound
	}
	r.nextID++
	current := r.current[next.AgentID]
	r.history[next.AgentID] = append(r.history[next.AgentID], &persona.HistoryEntry{
		ID: r.nextID, AgentID: current.AgentID, PersonaHash: current.Hash, PersonaVersion: current.Version,
	})
	cp := *next
	r.current[next.AgentID] = &cp
	return nil
}

func (r *stubRepo) History(_ context.Context, agentID string, limit, offset int, descending bool) ([]*persona.HistoryEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.history[agentID]
	return all, len(all), nil
}

func newService() (*persona.Service, *stubRepo) {
	repo := newStubRepo()
	return persona.NewService(repo, zap.NewNop()), repo
}

const apiKey = "test-api-key"

func TestRegisterThenConflictOnSecondRegister(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "agent_1", apiKey, persona.RegisterRequest{
		Version: "1.0.0",
		Personality: persona.Personality{Traits: map[string]any{"helpfulness": 0.9}},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = svc.Register(ctx, "agent_1", apiKey, persona.RegisterRequest{Version: "1.0.0"})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindConflict {
		t.Fatalf("expected conflict on second register, got %v", err)
	}
}

func TestUpdateVersionMustBeStrictlyGreater(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	svc.Register(ctx, "agent_1", apiKey, persona.RegisterRequest{Version: "1.1.0"})

	_, err := svc.Update(ctx, "agent_1", apiKey, persona.UpdateRequest{Version: "1.0.0"})
	if appErr, ok := apperr.As(err); !ok || appErr.Kind != apperr.KindConflict {
		t.Fatalf("expected conflict for semver downgrade, got %v", err)
	}
}

func TestUpdateDefaultsToMinorBump(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	svc.Register(ctx, "agent_1", apiKey, persona.RegisterRequest{Version: "1.0.0"})

	res, err := svc.Update(ctx, "agent_1", apiKey, persona.UpdateRequest{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Persona.Version != "1.1.0" {
		t.Fatalf("expected minor bump to 1.1.0, got %s", res.Persona.Version)
	}
	if res.PreviousVersion != "1.0.0" {
		t.Fatalf("expected previous_version 1.0.0, got %s", res.PreviousVersion)
	}
}

func TestVerifyIntegrityDetectsTamper(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()
	svc.Register(ctx, "agent_1", apiKey, persona.RegisterRequest{
		Version: "1.0.0", Personality: persona.Personality{Traits: map[string]any{"helpfulness": 0.9}},
	})

	result, err := svc.VerifyIntegrity(ctx, "agent_1", apiKey)
	if err != nil || !result.Valid {
		t.Fatalf("expected valid before tamper, got %+v err=%v", result, err)
	}

	repo.mu.Lock()
	repo.current["agent_1"].CanonicalJSON = []byte(`{"version":"1.0.0","personality":{"traits":{"helpfulness":0.1}}}`)
	repo.mu.Unlock()

	result, err = svc.VerifyIntegrity(ctx, "agent_1", apiKey)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid || result.Reason != "tampered" {
		t.Fatalf("expected tampered result, got %+v", result)
	}
}

func TestVerifyIntegrityNoPersona(t *testing.T) {
	svc, _ := newService()
	result, err := svc.VerifyIntegrity(context.Background(), "agent_missing", apiKey)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid || result.Reason != "no persona" {
		t.Fatalf("expected no-persona result, got %+v", result)
	}
}

func TestRegisterRejectsOversizedPersona(t *testing.T) {
	svc, _ := newService()
	big := strings.Repeat("x", persona.MaxCanonicalBytes)

	_, err := svc.Register(context.Background(), "agent_1", apiKey, persona.RegisterRequest{
		Version:     "1.0.0",
		Constraints: persona.Constraints{ForbiddenTopics: []string{big}},
	})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindPayloadTooBig {
		t.Fatalf("expected payload_too_large, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	svc.Register(ctx, "agent_1", apiKey, persona.RegisterRequest{
		Version: "1.0.0", Personality: persona.Personality{Traits: map[string]any{"helpfulness": 0.9}},
	})

	bundle, err := svc.ExportBundle(ctx, "agent_1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	imported, err := svc.ImportBundle(ctx, "agent_2", "another-key", bundle)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.Version != "1.0.0" {
		t.Fatalf("expected imported version 1.0.0, got %s", imported.Version)
	}

	result, err := svc.VerifyIntegrity(ctx, "agent_2", "another-key")
	if err != nil || !result.Valid {
		t.Fatalf("expected re-signed bundle to verify under importing agent's key, got %+v err=%v", result, err)
	}
}
