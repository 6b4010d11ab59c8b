package drift

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
)

// repo is the persistence surface required by Service.
type repo interface {
	GetConfig(ctx context.Context, agentID string) (*Config, error)
	UpsertConfig(ctx context.Context, c *Config) error
	EnsureDefaultConfig(ctx context.Context, c *Config) error
	InsertPing(ctx context.Context, p *HealthPing) error
	LatestPing(ctx context.Context, agentID string) (*HealthPing, error)
	RecentScores(ctx context.Context, agentID string, n int) ([]float64, error)
	RecentMetricValues(ctx context.Context, agentID, metric string, n int) ([]float64, error)
	History(ctx context.Context, agentID, metric string, limit, offset int) ([]*HealthPing, int, error)
}

// AgentChecker reports whether an agent is currently active.
type AgentChecker interface {
	IsActive(ctx context.Context, agentID string) (bool, error)
}

// AgentRevoker transitions an agent to revoked status.
type AgentRevoker interface {
	Revoke(ctx context.Context, agentID string) error
}

// Ledger is the narrow audit-append capability Service optionally writes to.
type Ledger interface {
	Append(ctx context.Context, subjectURI, action, actor string, payload any) error
}

// WebhookDispatcher is the narrow fire-and-forget notification capability
// Service optionally dispatches through.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, agentID, event string, data map[string]any)
}

// Service implements health-ping ingestion, drift scoring, and config
// management.
type Service struct {
	repo     repo
	agents   AgentChecker
	revoker  AgentRevoker
	ledger   Ledger
	webhooks WebhookDispatcher
	logger   *zap.Logger
	history  *metricHistoryCache

	spikeWindow int
}

// NewService creates a new drift Service.
func NewService(repo repo, agents AgentChecker, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		agents:      agents,
		logger:      logger,
		history:     newMetricHistoryCache(),
		spikeWindow: DefaultSpikeWindow,
	}
}

// SetAgentRevoker injects the capability used to auto-revoke on a drift
// breach with auto_revoke enabled.
func (s *Service) SetAgentRevoker(r AgentRevoker) { s.revoker = r }

// SetLedger injects the optional audit ledger.
func (s *Service) SetLedger(l Ledger) { s.ledger = l }

// SetWebhookDispatcher injects the optional webhook dispatcher.
func (s *Service) SetWebhookDispatcher(w WebhookDispatcher) { s.webhooks = w }

// SetSpikeWindow overrides the number of prior pings used for spike
// detection statistics. Defaults to DefaultSpikeWindow.
func (s *Service) SetSpikeWindow(n int) {
	if n >= 2 {
		s.spikeWindow = n
	}
}

func (s *Service) appendLedger(ctx context.Context, agentID, action string, payload any) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Append(ctx, "agent:"+agentID, action, "trustvault-system", payload); err != nil {
		s.logger.Warn("drift: ledger append failed", zap.Error(err))
	}
}

func (s *Service) dispatch(ctx context.Context, agentID, event string, data map[string]any) {
	if s.webhooks == nil {
		return
	}
	s.webhooks.Dispatch(ctx, agentID, event, data)
}

// EnsureDefault seeds a default DriftConfig for an agent if one does not
// already exist, baselined off persona guardrails. Implements
// persona.DriftConfigSeeder.
func (s *Service) EnsureDefault(ctx context.Context, agentID string, toxicityBaseline float64, maxResponseLength int) error {
	cfg := DefaultConfig(agentID, toxicityBaseline, maxResponseLength)
	return s.repo.EnsureDefaultConfig(ctx, &cfg)
}

func (s *Service) configFor(ctx context.Context, agentID string) (*Config, error) {
	cfg, err := s.repo.GetConfig(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			fresh := DefaultConfig(agentID, 0, 0)
			return &fresh, nil
		}
		return nil, fmt.Errorf("load drift config: %w", err)
	}
	return cfg, nil
}

// IngestPing runs the full health-ping pipeline: validation, activity
// check, scoring, spike detection, threshold evaluation, and persistence.
func (s *Service) IngestPing(ctx context.Context, agentID string, req PingRequest) (*PingResult, error) {
	if len(req.Metrics) == 0 {
		return nil, apperr.Validation("metrics must be a non-empty mapping", apperr.FieldError{Field: "metrics", Message: "required"})
	}
	for name, v := range req.Metrics {
		if v != v { // NaN
			return nil, apperr.Validation("metric values must be finite numbers", apperr.FieldError{Field: "metrics." + name, Message: "must be finite"})
		}
	}
	if req.RequestCount != nil && *req.RequestCount < 0 {
		return nil, apperr.Validation("request_count must be >= 0", apperr.FieldError{Field: "request_count", Message: "must be >= 0"})
	}

	if s.agents != nil {
		active, err := s.agents.IsActive(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("check agent status: %w", err)
		}
		if !active {
			return nil, apperr.Forbidden("agent is not active")
		}
	}

	cfg, err := s.configFor(ctx, agentID)
	if err != nil {
		return nil, err
	}

	score := Score(req.Metrics, cfg.MetricWeights, cfg.BaselineMetrics)

	priorByMetric := make(map[string][]float64, len(req.Metrics))
	for metric := range req.Metrics {
		if cached, ok := s.history.get(agentID, metric); ok {
			priorByMetric[metric] = cached
			continue
		}
		values, err := s.repo.RecentMetricValues(ctx, agentID, metric, s.spikeWindow)
		if err != nil {
			return nil, fmt.Errorf("load metric history for spike detection: %w", err)
		}
		priorByMetric[metric] = values
		s.history.set(agentID, metric, values)
	}
	spikes := DetectSpikes(req.Metrics, priorByMetric, cfg.SpikeSensitivity)

	status := StatusHealthy
	message := "within normal bounds"
	switch {
	case score >= cfg.DriftThreshold && cfg.AutoRevoke:
		status = StatusRevoked
		message = "drift threshold breached; agent revoked"
	case score >= cfg.DriftThreshold, score >= cfg.WarningThreshold:
		status = StatusWarning
		message = "drift threshold exceeded"
	}

	ping := &HealthPing{
		AgentID:      agentID,
		Metrics:      req.Metrics,
		RequestCount: req.RequestCount,
		PeriodStart:  req.PeriodStart,
		PeriodEnd:    req.PeriodEnd,
		DriftScore:   score,
		Spikes:       spikes,
	}
	if err := s.repo.InsertPing(ctx, ping); err != nil {
		return nil, fmt.Errorf("persist health ping: %w", err)
	}
	s.history.invalidate(agentID, req.Metrics)

	switch status {
	case StatusRevoked:
		if s.revoker != nil {
			if err := s.revoker.Revoke(ctx, agentID); err != nil {
				s.logger.Error("drift: auto-revoke failed", zap.String("agent_id", agentID), zap.Error(err))
			}
		}
		s.appendLedger(ctx, agentID, "agent.drift.revoked", map[string]any{"score": score, "spikes": spikes, "threshold": cfg.DriftThreshold})
		s.dispatch(ctx, agentID, "agent.drift.revoked", map[string]any{"score": score, "spikes": spikes, "threshold": cfg.DriftThreshold})
	case StatusWarning:
		s.appendLedger(ctx, agentID, "agent.drift.warning", map[string]any{"score": score, "spikes": spikes, "threshold": cfg.DriftThreshold})
		s.dispatch(ctx, agentID, "agent.drift.warning", map[string]any{"score": score, "spikes": spikes, "threshold": cfg.DriftThreshold})
	}

	return &PingResult{
		PingID:     ping.ID,
		DriftScore: score,
		Spikes:     spikes,
		Status:     status,
		Message:    message,
	}, nil
}

// DriftScore returns the current drift score for an agent, its last-ping
// timestamp, and a trend comparing recent pings.
func (s *Service) DriftScore(ctx context.Context, agentID string) (*ScoreResult, error) {
	latest, err := s.repo.LatestPing(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &ScoreResult{}, nil
		}
		return nil, fmt.Errorf("load latest ping: %w", err)
	}

	scores, err := s.repo.RecentScores(ctx, agentID, 6)
	if err != nil {
		return nil, fmt.Errorf("load recent scores: %w", err)
	}

	trend := trendFromScores(scores)
	score := latest.DriftScore
	createdAt := latest.CreatedAt
	return &ScoreResult{Score: &score, LastPingAt: &createdAt, Trend: trend}, nil
}

// trendFromScores compares the mean of the most recent 3 scores against the
// previous 3. scores is ordered most-recent-first.
func trendFromScores(scores []float64) Trend {
	if len(scores) < 2 {
		return TrendStable
	}
	half := len(scores) / 2
	if half > 3 {
		half = 3
	}
	recent := scores[:half]
	previous := scores[half : half*2]
	if len(previous) == 0 {
		return TrendStable
	}

	diff := mean(recent) - mean(previous)
	switch {
	case diff > 0.02:
		return TrendWorsening
	case diff < -0.02:
		return TrendImproving
	default:
		return TrendStable
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// History returns a page of past health pings for an agent, optionally
// filtered to pings that observed a single metric.
func (s *Service) History(ctx context.Context, agentID, metric string, limit, offset int) ([]*HealthPing, int, error) {
	return s.repo.History(ctx, agentID, metric, limit, offset)
}

// GetConfig returns an agent's drift config, or the default config if none
// has been set yet.
func (s *Service) GetConfig(ctx context.Context, agentID string) (*Config, error) {
	return s.configFor(ctx, agentID)
}

// UpdateConfig validates and upserts an agent's drift config.
func (s *Service) UpdateConfig(ctx context.Context, cfg Config) (*Config, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertConfig(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("update drift config: %w", err)
	}
	return &cfg, nil
}
