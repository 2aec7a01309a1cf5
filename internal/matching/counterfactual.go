package matching

import (
	"context"
	"fmt"
	"strings"
)

// maxCounterfactualSignals caps how many what-if signals the counterfactual
// text names.
const maxCounterfactualSignals = 3

// CounterfactualGenerator finds the unobserved signals that would most
// change the verdict between the top persona and its nearest rival, and
// renders them as fixed-template text.
type CounterfactualGenerator struct {
	store Store
}

// NewCounterfactualGenerator creates a counterfactual generator
func NewCounterfactualGenerator(store Store) *CounterfactualGenerator {
	return &CounterfactualGenerator{store: store}
}

// Generate compares the top match against the runner-up only, not the full
// candidate set. Returns template text naming each qualifying signal and how
// its presence would move confidence in the top match.
func (g *CounterfactualGenerator) Generate(ctx context.Context, jurorID, topPersonaID, runnerUpID string) (string, error) {
	topPersona, err := g.store.GetPersona(ctx, topPersonaID)
	if err != nil {
		return "", err
	}
	topName := topPersonaID
	if topPersona != nil {
		topName = topPersona.Name
	}

	if runnerUpID == "" {
		return fmt.Sprintf("No alternative persona to compare against; %s stands unchallenged on current evidence.", topName), nil
	}

	observed, err := observedSignalSet(ctx, g.store, jurorID)
	if err != nil {
		return "", err
	}

	candidates, err := discriminatingSignalsForPair(ctx, g.store, topPersonaID, runnerUpID, observed)
	if err != nil {
		return "", err
	}

	if len(candidates) == 0 {
		return fmt.Sprintf("Current evidence is already decisive: no unobserved signal would meaningfully shift the call between %s and its nearest alternative.", topName), nil
	}

	if len(candidates) > maxCounterfactualSignals {
		candidates = candidates[:maxCounterfactualSignals]
	}

	names, err := g.signalNames(ctx, candidates)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "What would change this assessment for %s:\n", topName)
	for _, c := range candidates {
		direction := "decrease"
		if c.WeightA > c.WeightB {
			direction = "increase"
		}
		fmt.Fprintf(&sb, "- If %q were confirmed, confidence in %s would %s (discrimination power %.2f).\n",
			names[c.SignalID], topName, direction, c.Power)
	}

	return strings.TrimSpace(sb.String()), nil
}

func (g *CounterfactualGenerator) signalNames(ctx context.Context, candidates []discriminatingSignal) (map[string]string, error) {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.SignalID)
	}

	catalog, err := g.store.GetSignals(ctx, ids)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if sig, ok := catalog[id]; ok {
			names[id] = sig.Name
		} else {
			names[id] = id
		}
	}
	return names, nil
}
