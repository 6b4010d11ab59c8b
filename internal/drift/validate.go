package drift

import "github.com/trustvault/trustvault/internal/apperr"

// ValidateConfig enforces the DriftConfig invariants: thresholds within
// range and strictly ordered, positive spike sensitivity, non-negative
// weights.
func ValidateConfig(c Config) error {
	var fields []apperr.FieldError

	if c.DriftThreshold <= 0 || c.DriftThreshold > 1 {
		fields = append(fields, apperr.FieldError{Field: "drift_threshold", Message: "must be in (0, 1]"})
	}
	if c.WarningThreshold < 0 {
		fields = append(fields, apperr.FieldError{Field: "warning_threshold", Message: "must be >= 0"})
	}
	if c.WarningThreshold >= c.DriftThreshold {
		fields = append(fields, apperr.FieldError{Field: "warning_threshold", Message: "must be strictly less than drift_threshold"})
	}
	if c.SpikeSensitivity <= 0 {
		fields = append(fields, apperr.FieldError{Field: "spike_sensitivity", Message: "must be > 0"})
	}
	for metric, weight := range c.MetricWeights {
		if weight < 0 {
			fields = append(fields, apperr.FieldError{Field: "metric_weights." + metric, Message: "must be >= 0"})
		}
	}

	if len(fields) > 0 {
		return &apperr.Error{Kind: apperr.KindValidation, Message: "invalid drift config", Details: fields}
	}
	return nil
}

// DefaultConfig builds a DriftConfig seeded from persona guardrails, used
// when an agent registers a persona without an explicit drift config.
func DefaultConfig(agentID string, toxicityBaseline float64, maxResponseLength int) Config {
	weights := make(map[string]float64, len(DefaultWeights))
	for k, v := range DefaultWeights {
		weights[k] = v
	}
	return Config{
		AgentID:          agentID,
		DriftThreshold:   0.7,
		WarningThreshold: 0.4,
		AutoRevoke:       false,
		SpikeSensitivity: DefaultSpikeSensitivity,
		MetricWeights:    weights,
		BaselineMetrics: map[string]float64{
			"toxicity_score":      toxicityBaseline,
			"avg_response_length": float64(maxResponseLength),
		},
	}
}
