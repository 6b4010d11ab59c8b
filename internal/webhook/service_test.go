package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/webhook"
)

type stubRepo struct {
	mu         sync.Mutex
	endpoints  map[uuid.UUID]*webhook.Endpoint
	deliveries map[uuid.UUID][]*webhook.Delivery
}

func newStubRepo() *stubRepo {
	return &stubRepo{endpoints: make(map[uuid.UUID]*webhook.Endpoint), deliveries: make(map[uuid.UUID][]*webhook.Delivery)}
}

func (r *stubRepo) Create(_ context.Context, e *webhook.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = uuid.New()
	e.IsActive = true
	e.CreatedAt = time.Now().UTC()
	cp := *e
	r.endpoints[e.ID] = &cp
	return nil
}

func (r *stubRepo) Get(_ context.Context, id uuid.UUID) (*webhook.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *stubRepo) ListByAgent(_ context.Context, agentID string) ([]*webhook.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*webhook.Endpoint
	for _, e := range r.endpoints {
		if e.AgentID == agentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubRepo) ListActiveByAgentAndEvent(_ context.Context, agentID, event string) ([]*webhook.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*webhook.Endpoint
	for _, e := range r.endpoints {
		if e.AgentID != agentID || !e.IsActive {
			continue
		}
		for _, ev := range e.Events {
			if ev == event || ev == "*" {
				cp := *e
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *stubRepo) Delete(_ context.Context, agentID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok || e.AgentID != agentID {
		return webhook.ErrNotFound
	}
	delete(r.endpoints, id)
	return nil
}

func (r *stubRepo) SetActive(_ context.Context, agentID string, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok || e.AgentID != agentID {
		return webhook.ErrNotFound
	}
	e.IsActive = active
	return nil
}

func (r *stubRepo) RotateSecret(_ context.Context, agentID string, id uuid.UUID, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok || e.AgentID != agentID {
		return webhook.ErrNotFound
	}
	e.Secret = secret
	return nil
}

func (r *stubRepo) RecordDelivery(_ context.Context, d *webhook.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()
	cp := *d
	r.deliveries[d.EndpointID] = append(r.deliveries[d.EndpointID], &cp)
	return nil
}

func (r *stubRepo) ListDeliveries(_ context.Context, endpointID uuid.UUID, _ int) ([]*webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries[endpointID], nil
}

func (r *stubRepo) deliveryCount(endpointID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries[endpointID])
}

func TestDispatchDeliversSignedPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		gotBody   []byte
		gotSig    string
		callCount int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		callCount++
		mu.Unlock()
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get("X-Webhook-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newStubRepo()
	svc := webhook.NewService(repo, 4, time.Second, zap.NewNop())
	ctx := context.Background()

	res, err := svc.Register(ctx, "agent_1", webhook.RegisterRequest{URL: server.URL, Events: []string{webhook.EventPersonaCreated}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	svc.Dispatch(ctx, "agent_1", webhook.EventPersonaCreated, map[string]any{"persona_version": "1.0.0"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := callCount > 0
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if callCount == 0 {
		t.Fatal("expected at least one delivery attempt")
	}

	var envelope webhook.Envelope
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Event != webhook.EventPersonaCreated || envelope.AgentID != "agent_1" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	mac := hmac.New(sha256.New, []byte(res.Secret))
	mac.Write(gotBody)
	expectedSig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != expectedSig {
		t.Fatalf("expected signature %s, got %s", expectedSig, gotSig)
	}
}

func TestDispatchSkipsUnsubscribedEvents(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newStubRepo()
	svc := webhook.NewService(repo, 4, time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Register(ctx, "agent_1", webhook.RegisterRequest{URL: server.URL, Events: []string{webhook.EventDriftWarning}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	svc.Dispatch(ctx, "agent_1", webhook.EventPersonaCreated, map[string]any{})
	time.Sleep(100 * time.Millisecond)

	if called {
		t.Fatal("expected endpoint not subscribed to this event to not be called")
	}
}
