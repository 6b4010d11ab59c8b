// Package drift implements the Anti-Drift Vault: health-ping ingestion,
// weighted multi-metric drift scoring, spike detection, threshold
// evaluation, and auto-revoke.
package drift

import "time"

// DefaultWeights is the metric_weights table seeded for a new DriftConfig
// when none is supplied.
var DefaultWeights = map[string]float64{
	"response_adherence":  0.3,
	"constraint_violations": 0.2,
	"toxicity_score":       0.2,
	"hallucination_rate":   0.2,
	"avg_response_length":  0.1,
}

// DefaultSpikeSensitivity is the default number of standard deviations that
// triggers a spike flag.
const DefaultSpikeSensitivity = 2.0

// DefaultSpikeWindow is the default number of prior pings used to compute
// running statistics for spike detection.
const DefaultSpikeWindow = 20

// Config is the per-agent drift configuration.
type Config struct {
	AgentID          string             `json:"agent_id"          db:"agent_id"`
	DriftThreshold   float64            `json:"drift_threshold"   db:"drift_threshold"`
	WarningThreshold float64            `json:"warning_threshold" db:"warning_threshold"`
	AutoRevoke       bool               `json:"auto_revoke"       db:"auto_revoke"`
	SpikeSensitivity float64            `json:"spike_sensitivity" db:"spike_sensitivity"`
	MetricWeights    map[string]float64 `json:"metric_weights"    db:"metric_weights"`
	BaselineMetrics  map[string]float64 `json:"baseline_metrics"  db:"baseline_metrics"`
}

// HealthPing is an immutable ingested health-metrics event.
type HealthPing struct {
	ID           int64              `json:"id"            db:"id"`
	AgentID      string             `json:"agent_id"       db:"agent_id"`
	Metrics      map[string]float64 `json:"metrics"        db:"metrics"`
	RequestCount *int               `json:"request_count,omitempty" db:"request_count"`
	PeriodStart  *time.Time         `json:"period_start,omitempty"  db:"period_start"`
	PeriodEnd    *time.Time         `json:"period_end,omitempty"    db:"period_end"`
	DriftScore   float64            `json:"drift_score"   db:"drift_score"`
	Spikes       []string           `json:"spikes"         db:"spikes"`
	CreatedAt    time.Time          `json:"created_at"     db:"created_at"`
}

// PingRequest is the payload for POST /v1/drift/:id/health-ping.
type PingRequest struct {
	Metrics      map[string]float64 `json:"metrics" binding:"required"`
	RequestCount *int               `json:"request_count,omitempty"`
	PeriodStart  *time.Time         `json:"period_start,omitempty"`
	PeriodEnd    *time.Time         `json:"period_end,omitempty"`
}

// PingStatus is the threshold-evaluation outcome of a single ping.
type PingStatus string

const (
	StatusHealthy PingStatus = "healthy"
	StatusWarning PingStatus = "warning"
	StatusRevoked PingStatus = "revoked"
)

// PingResult is the response shape for a health-ping ingestion.
type PingResult struct {
	PingID     int64      `json:"ping_id"`
	DriftScore float64    `json:"drift_score"`
	Spikes     []string   `json:"spikes"`
	Status     PingStatus `json:"status"`
	Message    string     `json:"message"`
}

// Trend is the direction of recent drift score movement.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

// ScoreResult is the response shape for GET /v1/drift/:id/drift-score.
type ScoreResult struct {
	Score      *float64   `json:"score"`
	LastPingAt *time.Time `json:"last_ping_at,omitempty"`
	Trend      Trend      `json:"trend,omitempty"`
}
