package persona

import (
	"fmt"

	"github.com/trustvault/trustvault/internal/canon"
)

// MaxCanonicalBytes is the size bound a canonicalized persona must not
// exceed.
const MaxCanonicalBytes = 10 * 1024

func traitsValue(traits map[string]any) canon.Value {
	m := make(canon.Map, len(traits))
	for k, v := range traits {
		switch t := v.(type) {
		case float64:
			m[k] = canon.Num(t)
		case int:
			m[k] = canon.Num(float64(t))
		case string:
			m[k] = canon.Str(t)
		case nil:
			m[k] = canon.Null{}
		default:
			m[k] = canon.Str(fmt.Sprintf("%v", t))
		}
	}
	return m
}

func stringSeq(ss []string) canon.Seq {
	seq := make(canon.Seq, len(ss))
	for i, s := range ss {
		seq[i] = canon.Str(s)
	}
	return seq
}

func guardrailsValue(g Guardrails) canon.Value {
	return canon.Map{
		"toxicity_threshold":       canon.Num(g.ToxicityThreshold),
		"hallucination_tolerance":  canon.Str(g.HallucinationTolerance),
		"source_citation_required": canon.Bool(g.SourceCitationRequired),
	}
}

func constraintsValue(c Constraints) canon.Value {
	return canon.Map{
		"forbidden_topics":     stringSeq(c.ForbiddenTopics),
		"required_disclaimers": stringSeq(c.RequiredDisclaimers),
		"allowed_actions":      stringSeq(c.AllowedActions),
		"blocked_actions":      stringSeq(c.BlockedActions),
		"max_response_length":  canon.Num(float64(c.MaxResponseLength)),
	}
}

// ToValue renders a persona's mutable fields as a canon.Value tree.
func ToValue(version string, personality Personality, guardrails Guardrails, constraints Constraints) canon.Value {
	return canon.Map{
		"version":     canon.Str(version),
		"personality": canon.Map{"traits": traitsValue(personality.Traits)},
		"guardrails":  guardrailsValue(guardrails),
		"constraints": constraintsValue(constraints),
	}
}

// Canonicalize produces the canonical byte representation for a persona's
// mutable fields.
func Canonicalize(version string, personality Personality, guardrails Guardrails, constraints Constraints) []byte {
	return canon.Canonicalize(ToValue(version, personality, guardrails, constraints))
}
