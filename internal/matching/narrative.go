package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/trialworks/venire/internal/types"
)

// Narrative assembly limits. Construction order and truncation are a
// behavioral contract: the embedding cache and any reproducibility checks
// depend on identical input producing identical text.
const (
	maxNarrativeArtifacts = 3
	artifactSummaryLimit  = 200
	maxNarrativeVoirDire  = 20
)

// NarrativeBuilder assembles a deterministic natural-language synopsis of a
// juror from demographics, observed signals, research notes, and voir dire
// answers. The resulting text is the sole input to the embedding scorer.
type NarrativeBuilder struct {
	store Store
}

// NewNarrativeBuilder creates a narrative builder backed by the store
func NewNarrativeBuilder(store Store) *NarrativeBuilder {
	return &NarrativeBuilder{store: store}
}

// Build renders the juror synopsis.
func (b *NarrativeBuilder) Build(ctx context.Context, juror *types.Juror) (string, error) {
	var sb strings.Builder

	writeDemographics(&sb, juror)

	if err := b.writeSignals(ctx, &sb, juror.ID); err != nil {
		return "", err
	}

	if err := b.writeArtifacts(ctx, &sb, juror.ID); err != nil {
		return "", err
	}

	if err := b.writeVoirDire(ctx, &sb, juror.ID); err != nil {
		return "", err
	}

	if juror.CaseType != "" {
		fmt.Fprintf(&sb, "Serving on a %s case.\n", juror.CaseType)
	}

	return strings.TrimSpace(sb.String()), nil
}

func writeDemographics(sb *strings.Builder, juror *types.Juror) {
	d := juror.Demographics

	var parts []string
	if d.AgeRange != "" {
		parts = append(parts, "age "+d.AgeRange)
	}
	if d.Occupation != "" {
		parts = append(parts, "works as "+d.Occupation)
	}
	if d.Education != "" {
		parts = append(parts, "education: "+d.Education)
	}
	if d.Location != "" {
		parts = append(parts, "from "+d.Location)
	}
	if d.MaritalStatus != "" {
		parts = append(parts, d.MaritalStatus)
	}

	if len(parts) > 0 {
		fmt.Fprintf(sb, "Juror profile: %s.\n", strings.Join(parts, ", "))
	}
}

// writeSignals groups observed truthy signal names by category, deduplicated,
// in stable category order.
func (b *NarrativeBuilder) writeSignals(ctx context.Context, sb *strings.Builder, jurorID string) error {
	observed, err := b.store.JurorSignals(ctx, jurorID)
	if err != nil {
		return err
	}
	if len(observed) == 0 {
		return nil
	}

	ids := make([]string, 0, len(observed))
	for _, js := range observed {
		if js.Value.Truthy() {
			ids = append(ids, js.SignalID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	catalog, err := b.store.GetSignals(ctx, ids)
	if err != nil {
		return err
	}

	byCategory := make(map[types.SignalCategory][]string)
	seen := make(map[string]bool)
	for _, id := range ids {
		sig, ok := catalog[id]
		if !ok || seen[sig.Name] {
			continue
		}
		seen[sig.Name] = true
		byCategory[sig.Category] = append(byCategory[sig.Category], sig.Name)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	for _, c := range categories {
		names := byCategory[types.SignalCategory(c)]
		sort.Strings(names)
		fmt.Fprintf(sb, "Observed %s traits: %s.\n", c, strings.Join(names, ", "))
	}

	return nil
}

func (b *NarrativeBuilder) writeArtifacts(ctx context.Context, sb *strings.Builder, jurorID string) error {
	artifacts, err := b.store.ResearchArtifacts(ctx, jurorID)
	if err != nil {
		return err
	}

	count := len(artifacts)
	if count > maxNarrativeArtifacts {
		count = maxNarrativeArtifacts
	}

	for i := 0; i < count; i++ {
		summary := artifacts[i].Summary
		if len(summary) > artifactSummaryLimit {
			summary = summary[:artifactSummaryLimit]
		}
		fmt.Fprintf(sb, "Research: %s\n", summary)
	}

	return nil
}

// writeVoirDire includes only exchanges with an actual answer, newest first,
// capped at maxNarrativeVoirDire entries.
func (b *NarrativeBuilder) writeVoirDire(ctx context.Context, sb *strings.Builder, jurorID string) error {
	entries, err := b.store.VoirDireEntries(ctx, jurorID)
	if err != nil {
		return err
	}

	written := 0
	for _, e := range entries {
		if written >= maxNarrativeVoirDire {
			break
		}
		if strings.TrimSpace(e.Answer) == "" {
			continue
		}
		fmt.Fprintf(sb, "Q: %s A: %s\n", e.Question, e.Answer)
		written++
	}

	return nil
}
