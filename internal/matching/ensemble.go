package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trialworks/venire/internal/capability"
	"github.com/trialworks/venire/internal/types"
)

// Base method weights and the evidence-richness adjustments applied before
// renormalization.
const (
	baseSignalWeight    = 0.35
	baseEmbeddingWeight = 0.30
	baseBayesianWeight  = 0.35

	// Rationale and counterfactual text is generated only for the top
	// matches; generation is comparatively expensive.
	topExplainedMatches = 5
)

// Matcher runs the three scorers concurrently per candidate persona,
// combines them under per-juror method weights, and orchestrates rationale
// and counterfactual generation for the top candidates.
type Matcher struct {
	store          Store
	signals        *SignalScorer
	embeddings     *EmbeddingScorer
	bayes          *BayesianUpdater
	rationale      *RationaleBuilder
	counterfactual *CounterfactualGenerator
}

// NewMatcher wires the ensemble from its parts
func NewMatcher(store Store, embedder capability.Embedder, generator capability.Generator) *Matcher {
	return &Matcher{
		store:          store,
		signals:        NewSignalScorer(store),
		embeddings:     NewEmbeddingScorer(store, embedder),
		bayes:          NewBayesianUpdater(store),
		rationale:      NewRationaleBuilder(store, generator),
		counterfactual: NewCounterfactualGenerator(store),
	}
}

// Embeddings exposes the embedding scorer so callers can invalidate its
// caches on persona or juror edits.
func (m *Matcher) Embeddings() *EmbeddingScorer {
	return m.embeddings
}

// MatchJuror scores the juror against every candidate persona and returns
// matches sorted by descending probability. An unknown juror degrades to the
// uniform-prior, base-weight path instead of failing: a match is always
// produced for a known persona set.
func (m *Matcher) MatchJuror(ctx context.Context, jurorID string, personaIDs []string) ([]EnsembleMatch, error) {
	if len(personaIDs) == 0 {
		return nil, nil
	}

	juror, err := m.store.GetJuror(ctx, jurorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load juror: %w", err)
	}
	if juror == nil {
		slog.Warn("Juror not found, matching with defaults", "juror_id", jurorID)
		juror = &types.Juror{ID: jurorID}
	}

	weights, err := m.determineWeights(ctx, jurorID)
	if err != nil {
		return nil, err
	}

	personas, err := m.store.GetPersonas(ctx, personaIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load personas: %w", err)
	}

	candidateIDs := make([]string, len(personas))
	for i, p := range personas {
		candidateIDs[i] = p.ID
	}

	// Fan out: the Bayesian posterior covers the whole set at once; signal
	// and embedding scorers run per persona. Each branch writes only its own
	// slot; shared state is read-only.
	signalResults := make([]*SignalScore, len(personas))
	embeddingResults := make([]*EmbeddingScore, len(personas))
	var posterior *BayesianPosterior
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := m.bayes.UpdateProbabilities(gctx, jurorID, candidateIDs, nil)
		if err != nil {
			return fmt.Errorf("bayesian update failed: %w", err)
		}
		mu.Lock()
		posterior = p
		mu.Unlock()
		return nil
	})

	for i := range personas {
		g.Go(func() error {
			score, err := m.signals.Score(gctx, jurorID, personas[i].ID)
			if err != nil {
				slog.Warn("Signal scorer failed for persona",
					"persona_id", personas[i].ID, "error", err)
				return nil
			}
			signalResults[i] = score
			return nil
		})

		g.Go(func() error {
			score, err := m.embeddings.Score(gctx, juror, &personas[i])
			if err != nil {
				slog.Warn("Embedding scorer failed for persona",
					"persona_id", personas[i].ID, "error", err)
				return nil
			}
			embeddingResults[i] = score
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]EnsembleMatch, 0, len(personas))
	for i, persona := range personas {
		// A persona with a failed signal or embedding scorer is skipped
		// entirely; the Bayesian method always produces a value.
		if signalResults[i] == nil || embeddingResults[i] == nil {
			continue
		}

		bayesProb := posterior.Probabilities[persona.ID]

		probability := clamp01(weights.Signal*signalResults[i].Score +
			weights.Embedding*embeddingResults[i].Score +
			weights.Bayesian*bayesProb)
		confidence := clamp01(weights.Signal*signalResults[i].Confidence +
			weights.Embedding*embeddingResults[i].Confidence +
			weights.Bayesian*posterior.Confidence)

		matches = append(matches, EnsembleMatch{
			PersonaID:       persona.ID,
			PersonaName:     persona.Name,
			Probability:     probability,
			Confidence:      confidence,
			SignalScore:     *signalResults[i],
			EmbeddingScore:  *embeddingResults[i],
			BayesianScore:   bayesProb,
			BayesConfidence: posterior.Confidence,
			Weights:         weights,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Probability > matches[j].Probability
	})

	m.attachDetails(ctx, jurorID, personas, matches)

	return matches, nil
}

// attachDetails generates rationale and counterfactual text for the top
// matches; the rest receive the deterministic placeholder so callers keep a
// stable list length.
func (m *Matcher) attachDetails(ctx context.Context, jurorID string, personas []types.Persona, matches []EnsembleMatch) {
	byID := make(map[string]*types.Persona, len(personas))
	for i := range personas {
		byID[personas[i].ID] = &personas[i]
	}

	for i := range matches {
		if i >= topExplainedMatches {
			matches[i].Detail = ScoreOnly{
				Placeholder: fmt.Sprintf("score: %d%% - details available on request",
					int(math.Round(matches[i].Probability*100))),
			}
			continue
		}

		persona := byID[matches[i].PersonaID]

		rationale := m.rationale.Build(ctx, persona, matches[i])

		runnerUp := ""
		if rival := nearestRival(matches, i); rival >= 0 {
			runnerUp = matches[rival].PersonaID
		}

		counterfactual, err := m.counterfactual.Generate(ctx, jurorID, matches[i].PersonaID, runnerUp)
		if err != nil {
			slog.Warn("Counterfactual generation failed",
				"persona_id", matches[i].PersonaID, "error", err)
			counterfactual = ""
		}

		matches[i].Detail = WithExplanation{
			Rationale:      rationale,
			Counterfactual: counterfactual,
		}
	}
}

// nearestRival returns the index of the next-best alternative to matches[i]:
// the runner-up for the leader, the leader for everyone else.
func nearestRival(matches []EnsembleMatch, i int) int {
	if len(matches) < 2 {
		return -1
	}
	if i == 0 {
		return 1
	}
	return 0
}

// determineWeights shifts the base method weights by evidence richness, then
// renormalizes. Rich narratives favor the embedding method; sparse evidence
// favors the Bayesian method, which degrades gracefully to priors; a deep
// signal record favors the directly-explainable signal method.
func (m *Matcher) determineWeights(ctx context.Context, jurorID string) (MethodWeights, error) {
	signals, err := m.store.JurorSignals(ctx, jurorID)
	if err != nil {
		return MethodWeights{}, fmt.Errorf("failed to load juror signals: %w", err)
	}

	artifacts, err := m.store.ResearchArtifacts(ctx, jurorID)
	if err != nil {
		return MethodWeights{}, fmt.Errorf("failed to load research artifacts: %w", err)
	}

	entries, err := m.store.VoirDireEntries(ctx, jurorID)
	if err != nil {
		return MethodWeights{}, fmt.Errorf("failed to load voir dire entries: %w", err)
	}

	answered := 0
	for _, e := range entries {
		if e.Answer != "" {
			answered++
		}
	}

	richNarrative := len(artifacts) > 0 || answered > 0

	return determineWeights(len(signals), richNarrative), nil
}

// determineWeights is the pure weight rule.
func determineWeights(signalCount int, richNarrative bool) MethodWeights {
	w := MethodWeights{
		Signal:    baseSignalWeight,
		Embedding: baseEmbeddingWeight,
		Bayesian:  baseBayesianWeight,
	}

	if richNarrative && signalCount > 5 {
		w.Embedding += 0.10
		w.Signal -= 0.05
		w.Bayesian -= 0.05
	}

	if signalCount < 3 && !richNarrative {
		w.Bayesian += 0.10
		w.Embedding -= 0.10
	}

	if signalCount > 10 {
		w.Signal += 0.05
		w.Bayesian -= 0.05
	}

	sum := w.Signal + w.Embedding + w.Bayesian
	w.Signal /= sum
	w.Embedding /= sum
	w.Bayesian /= sum

	return w
}
