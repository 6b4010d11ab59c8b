package persona

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trustvault/trustvault/internal/canon"
)

// RenderPrompt deterministically concatenates escaped persona fields in the
// fixed order version -> traits -> constraints -> guardrails, so the same
// persona always renders the same prompt regardless of map iteration order.
func RenderPrompt(version string, personality Personality, guardrails Guardrails, constraints Constraints) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Version: %s\n", canon.Escape(version))

	b.WriteString("Traits:\n")
	keys := make([]string, 0, len(personality.Traits))
	for k := range personality.Traits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", canon.Escape(k), canon.Escape(fmt.Sprintf("%v", personality.Traits[k])))
	}

	b.WriteString("Constraints:\n")
	fmt.Fprintf(&b, "- forbidden_topics: %s\n", canon.Escape(strings.Join(constraints.ForbiddenTopics, ", ")))
	fmt.Fprintf(&b, "- required_disclaimers: %s\n", canon.Escape(strings.Join(constraints.RequiredDisclaimers, ", ")))
	fmt.Fprintf(&b, "- allowed_actions: %s\n", canon.Escape(strings.Join(constraints.AllowedActions, ", ")))
	fmt.Fprintf(&b, "- blocked_actions: %s\n", canon.Escape(strings.Join(constraints.BlockedActions, ", ")))
	fmt.Fprintf(&b, "- max_response_length: %d\n", constraints.MaxResponseLength)

	b.WriteString("Guardrails:\n")
	fmt.Fprintf(&b, "- toxicity_threshold: %s\n", canon.Escape(fmt.Sprintf("%v", guardrails.ToxicityThreshold)))
	fmt.Fprintf(&b, "- hallucination_tolerance: %s\n", canon.Escape(guardrails.HallucinationTolerance))
	fmt.Fprintf(&b, "- source_citation_required: %t\n", guardrails.SourceCitationRequired)

	return b.String()
}
