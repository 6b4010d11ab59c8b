package drift_test

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/drift"
)

type stubRepo struct {
	mu      sync.Mutex
	configs map[string]*drift.Config
	pings   map[string][]*drift.HealthPing
	nextID  int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{configs: make(map[string]*drift.Config), pings: make(map[string][]*drift.HealthPing)}
}

func (r *stubRepo) GetConfig(_ context.Context, agentID string) (*drift.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[agentID]
	if !ok {
		return nil, drift.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *stubRepo) UpsertConfig(_ context.Context, c *drift.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.configs[c.AgentID] = &cp
	return nil
}

func (r *stubRepo) EnsureDefaultConfig(_ context.Context, c *drift.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[c.AgentID]; ok {
		return nil
	}
	cp := *c
	r.configs[c.AgentID] = &cp
	return nil
}

func (r *stubRepo) InsertPing(_ context.Context, p *drift.HealthPing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.pings[p.AgentID] = append(r.pings[p.AgentID], &cp)
	return nil
}

func (r *stubRepo) LatestPing(_ context.Context, agentID string) (*drift.HealthPing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pings := r.pings[agentID]
	if len(pings) == 0 {
		return nil, drift.ErrNotFound
	}
	cp := *pings[len(pings)-1]
	return &cp, nil
}

func (r *stubRepo) RecentScores(_ context.Context, agentID string, n int) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pings := r.pings[agentID]
	var scores []float64
	for i := len(pings) - 1; i >= 0 && len(scores) < n; i-- {
		scores = append(scores, pings[i].DriftScore)
	}
	return scores, nil
}

func (r *stubRepo) RecentMetricValues(_ context.Context, agentID, metric string, n int) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pings := r.pings[agentID]
	var values []float64
	for i := len(pings) - 1; i >= 0 && len(values) < n; i-- {
		if v, ok := pings[i].Metrics[metric]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}

func (r *stubRepo) History(_ context.Context, agentID, metric string, limit, offset int) ([]*drift.HealthPing, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*drift.HealthPing
	pings := r.pings[agentID]
	for i := len(pings) - 1; i >= 0; i-- {
		if metric != "" {
			if _, ok := pings[i].Metrics[metric]; !ok {
				continue
			}
		}
		matched = append(matched, pings[i])
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total || limit <= 0 {
		end = total
	}
	return matched[offset:end], total, nil
}

type stubChecker struct{ active bool }

func (c stubChecker) IsActive(_ context.Context, _ string) (bool, error) { return c.active, nil }

type stubRevoker struct{ revoked []string }

func (r *stubRevoker) Revoke(_ context.Context, agentID string) error {
	r.revoked = append(r.revoked, agentID)
	return nil
}

func newService(active bool) (*drift.Service, *stubRepo) {
	repo := newStubRepo()
	svc := drift.NewService(repo, stubChecker{active: active}, zap.NewNop())
	return svc, repo
}

func TestIngestPingAtBaselineScoresZero(t *testing.T) {
	svc, repo := newService(true)
	ctx := context.Background()
	cfg := drift.DefaultConfig("agent_1", 0.1, 500)
	_ = repo.EnsureDefaultConfig(ctx, &cfg)

	result, err := svc.IngestPing(ctx, "agent_1", drift.PingRequest{
		Metrics: map[string]float64{"toxicity_score": 0.1, "avg_response_length": 500},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.DriftScore != 0 {
		t.Fatalf("expected zero drift score at baseline, got %f", result.DriftScore)
	}
	if result.Status != drift.StatusHealthy {
		t.Fatalf("expected healthy status, got %s", result.Status)
	}
}

func TestIngestPingRejectsEmptyMetrics(t *testing.T) {
	svc, _ := newService(true)
	_, err := svc.IngestPing(context.Background(), "agent_1", drift.PingRequest{Metrics: map[string]float64{}})
	if err == nil {
		t.Fatal("expected validation error for empty metrics")
	}
}

func TestIngestPingRejectsInactiveAgent(t *testing.T) {
	svc, _ := newService(false)
	_, err := svc.IngestPing(context.Background(), "agent_1", drift.PingRequest{Metrics: map[string]float64{"toxicity_score": 0.1}})
	if err == nil {
		t.Fatal("expected forbidden error for inactive agent")
	}
}

func TestIngestPingAutoRevokesOnBreach(t *testing.T) {
	svc, repo := newService(true)
	ctx := context.Background()
	revoker := &stubRevoker{}
	svc.SetAgentRevoker(revoker)

	cfg := drift.DefaultConfig("agent_1", 0.0, 0)
	cfg.DriftThreshold = 0.5
	cfg.WarningThreshold = 0.2
	cfg.AutoRevoke = true
	cfg.MetricWeights = map[string]float64{"toxicity_score": 1.0}
	cfg.BaselineMetrics = map[string]float64{"toxicity_score": 0.0}
	_ = repo.UpsertConfig(ctx, &cfg)

	result, err := svc.IngestPing(ctx, "agent_1", drift.PingRequest{Metrics: map[string]float64{"toxicity_score": 1.0}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != drift.StatusRevoked {
		t.Fatalf("expected revoked status, got %s", result.Status)
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != "agent_1" {
		t.Fatalf("expected agent_1 to be revoked, got %+v", revoker.revoked)
	}
}

func TestDriftScoreReportsTrend(t *testing.T) {
	svc, repo := newService(true)
	ctx := context.Background()
	cfg := drift.DefaultConfig("agent_1", 0, 0)
	cfg.MetricWeights = map[string]float64{"m": 1.0}
	cfg.BaselineMetrics = map[string]float64{"m": 0.1}
	_ = repo.UpsertConfig(ctx, &cfg)

	scores := []float64{0.1, 0.1, 0.1, 0.5, 0.5, 0.5}
	for _, s := range scores {
		_, err := svc.IngestPing(ctx, "agent_1", drift.PingRequest{Metrics: map[string]float64{"m": s}})
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	result, err := svc.DriftScore(ctx, "agent_1")
	if err != nil {
		t.Fatalf("drift score: %v", err)
	}
	if result.Trend != drift.TrendWorsening {
		t.Fatalf("expected worsening trend, got %s", result.Trend)
	}
}

func TestUpdateConfigRejectsWarningEqualToThreshold(t *testing.T) {
	svc, _ := newService(true)
	_, err := svc.UpdateConfig(context.Background(), drift.Config{
		AgentID:          "agent_1",
		DriftThreshold:   0.5,
		WarningThreshold: 0.5,
		SpikeSensitivity: 2.0,
	})
	if err == nil {
		t.Fatal("expected validation error when warning_threshold equals drift_threshold")
	}
}
