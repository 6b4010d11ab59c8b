package drift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an agent has no drift config or no pings.
var ErrNotFound = errors.New("drift resource not found")

// Repository provides persistence for drift configs and health pings.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetConfig retrieves the drift config for an agent.
func (r *Repository) GetConfig(ctx context.Context, agentID string) (*Config, error) {
	row := r.db.QueryRow(ctx,
		`SELECT agent_id, drift_threshold, warning_threshold, auto_revoke, spike_sensitivity, metric_weights, baseline_metrics
		 FROM drift_configs WHERE agent_id = $1`, agentID)
	c := &Config{}
	if err := row.Scan(&c.AgentID, &c.DriftThreshold, &c.WarningThreshold, &c.AutoRevoke, &c.SpikeSensitivity, &c.MetricWeights, &c.BaselineMetrics); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan drift config: %w", err)
	}
	return c, nil
}

// UpsertConfig inserts or replaces the drift config for an agent.
func (r *Repository) UpsertConfig(ctx context.Context, c *Config) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO drift_configs (agent_id, drift_threshold, warning_threshold, auto_revoke, spike_sensitivity, metric_weights, baseline_metrics)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   drift_threshold = EXCLUDED.drift_threshold,
		   warning_threshold = EXCLUDED.warning_threshold,
		   auto_revoke = EXCLUDED.auto_revoke,
		   spike_sensitivity = EXCLUDED.spike_sensitivity,
		   metric_weights = EXCLUDED.metric_weights,
		   baseline_metrics = EXCLUDED.baseline_metrics`,
		c.AgentID, c.DriftThreshold, c.WarningThreshold, c.AutoRevoke, c.SpikeSensitivity, c.MetricWeights, c.BaselineMetrics,
	)
	if err != nil {
		return fmt.Errorf("upsert drift config: %w", err)
	}
	return nil
}

// EnsureDefaultConfig inserts a default config only if none exists yet.
func (r *Repository) EnsureDefaultConfig(ctx context.Context, c *Config) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO drift_configs (agent_id, drift_threshold, warning_threshold, auto_revoke, spike_sensitivity, metric_weights, baseline_metrics)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agent_id) DO NOTHING`,
		c.AgentID, c.DriftThreshold, c.WarningThreshold, c.AutoRevoke, c.SpikeSensitivity, c.MetricWeights, c.BaselineMetrics,
	)
	if err != nil {
		return fmt.Errorf("ensure default drift config: %w", err)
	}
	return nil
}

// InsertPing persists a new health ping and assigns its ID.
func (r *Repository) InsertPing(ctx context.Context, p *HealthPing) error {
	p.CreatedAt = time.Now().UTC()
	row := r.db.QueryRow(ctx,
		`INSERT INTO health_pings (agent_id, metrics, request_count, period_start, period_end, drift_score, spikes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.AgentID, p.Metrics, p.RequestCount, p.PeriodStart, p.PeriodEnd, p.DriftScore, p.Spikes, p.CreatedAt,
	)
	if err := row.Scan(&p.ID); err != nil {
		return fmt.Errorf("insert health ping: %w", err)
	}
	return nil
}

// LatestPing returns the most recent ping for an agent, or ErrNotFound if
// none exist.
func (r *Repository) LatestPing(ctx context.Context, agentID string) (*HealthPing, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, agent_id, metrics, request_count, period_start, period_end, drift_score, spikes, created_at
		 FROM health_pings WHERE agent_id = $1 ORDER BY created_at DESC LIMIT 1`, agentID)
	return scanPing(row)
}

// RecentScores returns the drift_score of the last n pings for an agent,
// most recent first.
func (r *Repository) RecentScores(ctx context.Context, agentID string, n int) ([]float64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT drift_score FROM health_pings WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`,
		agentID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan recent score: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// RecentMetricValues returns the last n observed values of a single metric
// for an agent, most recent first, used as spike-detection history.
func (r *Repository) RecentMetricValues(ctx context.Context, agentID, metric string, n int) ([]float64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT metrics -> $2 FROM health_pings
		 WHERE agent_id = $1 AND metrics ? $2
		 ORDER BY created_at DESC LIMIT $3`,
		agentID, metric, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent metric values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan recent metric value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// History returns a page of health pings for an agent, optionally filtered
// to a single metric's presence, most recent first, plus the total count.
func (r *Repository) History(ctx context.Context, agentID, metric string, limit, offset int) ([]*HealthPing, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	where := `WHERE agent_id = $1`
	args := []any{agentID}
	if metric != "" {
		where += ` AND metrics ? $2`
		args = append(args, metric)
	}

	var total int
	countArgs := append([]any{}, args...)
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM health_pings `+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count health pings: %w", err)
	}

	args = append(args, limit, offset)
	limitPos := len(args) - 1
	offsetPos := len(args)
	query := fmt.Sprintf(
		`SELECT id, agent_id, metrics, request_count, period_start, period_end, drift_score, spikes, created_at
		 FROM health_pings %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, limitPos, offsetPos)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query health ping history: %w", err)
	}
	defer rows.Close()

	var pings []*HealthPing
	for rows.Next() {
		p := &HealthPing{}
		if err := rows.Scan(&p.ID, &p.AgentID, &p.Metrics, &p.RequestCount, &p.PeriodStart, &p.PeriodEnd, &p.DriftScore, &p.Spikes, &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan health ping: %w", err)
		}
		pings = append(pings, p)
	}
	return pings, total, rows.Err()
}

func scanPing(row pgx.Row) (*HealthPing, error) {
	p := &HealthPing{}
	if err := row.Scan(&p.ID, &p.AgentID, &p.Metrics, &p.RequestCount, &p.PeriodStart, &p.PeriodEnd, &p.DriftScore, &p.Spikes, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan health ping: %w", err)
	}
	return p, nil
}
