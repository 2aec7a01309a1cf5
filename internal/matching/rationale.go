package matching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trialworks/venire/internal/capability"
	"github.com/trialworks/venire/internal/types"
)

// RationaleBuilder phrases a human-readable explanation for one match. The
// text-generation capability only improves the prose; the template fallback
// carries the same facts, so a backend outage never loses information.
type RationaleBuilder struct {
	store     Store
	generator capability.Generator
}

// NewRationaleBuilder creates a rationale builder
func NewRationaleBuilder(store Store, generator capability.Generator) *RationaleBuilder {
	return &RationaleBuilder{store: store, generator: generator}
}

// Build produces rationale text for a match, falling back to a deterministic
// template when generation fails or returns nothing usable.
func (r *RationaleBuilder) Build(ctx context.Context, persona *types.Persona, match EnsembleMatch) string {
	supporting := r.describeSignals(ctx, match.SignalScore.SupportingSignals)
	contradicting := r.describeSignals(ctx, match.SignalScore.ContradictingSignals)

	if r.generator != nil {
		prompt := rationalePrompt(persona, match, supporting, contradicting)
		text, err := r.generator.Complete(ctx, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return text
			}
		} else {
			slog.Warn("Rationale generation failed, using template",
				"persona_id", persona.ID, "error", err)
		}
	}

	return rationaleTemplate(persona, match, supporting, contradicting)
}

func (r *RationaleBuilder) describeSignals(ctx context.Context, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	catalog, err := r.store.GetSignals(ctx, ids)
	if err != nil {
		slog.Warn("Signal lookup for rationale failed", "error", err)
		return ids
	}

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if sig, ok := catalog[id]; ok {
			names = append(names, sig.Name)
		} else {
			names = append(names, id)
		}
	}
	return names
}

func rationalePrompt(persona *types.Persona, match EnsembleMatch, supporting, contradicting []string) string {
	var sb strings.Builder

	sb.WriteString("Write a short plain-English explanation (2-3 sentences) of why a juror matches the following behavioral archetype. ")
	sb.WriteString("Do not mention probabilities or internal method names.\n\n")
	fmt.Fprintf(&sb, "Archetype: %s. %s\n", persona.Name, persona.Description)
	fmt.Fprintf(&sb, "Overall match probability: %.0f%%, confidence %.0f%%.\n", match.Probability*100, match.Confidence*100)

	if len(supporting) > 0 {
		fmt.Fprintf(&sb, "Evidence in favor: %s.\n", strings.Join(supporting, ", "))
	}
	if len(contradicting) > 0 {
		fmt.Fprintf(&sb, "Evidence against: %s.\n", strings.Join(contradicting, ", "))
	}
	fmt.Fprintf(&sb, "Semantic similarity of the juror's profile to the archetype description: %.0f%%.\n", match.EmbeddingScore.Score*100)

	return sb.String()
}

// rationaleTemplate is the deterministic fallback. It carries the audit
// trail verbatim.
func rationaleTemplate(persona *types.Persona, match EnsembleMatch, supporting, contradicting []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s matched with %.0f%% probability (%.0f%% confidence).",
		persona.Name, match.Probability*100, match.Confidence*100)

	if len(supporting) > 0 {
		fmt.Fprintf(&sb, " Supporting evidence: %s.", strings.Join(supporting, ", "))
	}
	if len(contradicting) > 0 {
		fmt.Fprintf(&sb, " Contradicting evidence: %s.", strings.Join(contradicting, ", "))
	}
	if len(supporting) == 0 && len(contradicting) == 0 {
		sb.WriteString(" The match rests on profile similarity and prior assessment history; no directly observed signals weigh in yet.")
	}

	return sb.String()
}
