package persona

import "encoding/json"

type wireForm struct {
	Version     string      `json:"version"`
	Personality Personality `json:"personality"`
	Guardrails  Guardrails  `json:"guardrails"`
	Constraints Constraints `json:"constraints"`
}

// decodeCanonical unmarshals a persona's canonical JSON back into its
// structured fields. The canonical encoding is valid JSON, so the standard
// decoder round-trips it exactly.
func decodeCanonical(data []byte) (Personality, Guardrails, Constraints, error) {
	var w wireForm
	if err := json.Unmarshal(data, &w); err != nil {
		return Personality{}, Guardrails{}, Constraints{}, err
	}
	return w.Personality, w.Guardrails, w.Constraints, nil
}

// hydrate fills in a Persona's structured fields from its CanonicalJSON.
func hydrate(p *Persona) error {
	personality, guardrails, constraints, err := decodeCanonical(p.CanonicalJSON)
	if err != nil {
		return err
	}
	p.Personality = personality
	p.Guardrails = guardrails
	p.Constraints = constraints
	return nil
}
