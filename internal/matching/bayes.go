package matching

import (
	"context"
	"math"

	"github.com/trialworks/venire/internal/types"
)

// priorFloor is the probability given to candidate personas that have no
// persisted prior mapping before the prior is renormalized.
const priorFloor = 0.01

// BayesianUpdater sequentially applies Bayes' rule over the candidate
// persona set for each observed juror signal, starting from persisted
// mapping confidences when available.
type BayesianUpdater struct {
	store Store
}

// NewBayesianUpdater creates a Bayesian updater backed by the store
func NewBayesianUpdater(store Store) *BayesianUpdater {
	return &BayesianUpdater{store: store}
}

// UpdateProbabilities computes the posterior over personaIDs from the
// juror's observed signals. When newSignalIDs is non-empty, only those
// signals are applied (incremental update onto the persisted prior).
func (b *BayesianUpdater) UpdateProbabilities(ctx context.Context, jurorID string, personaIDs []string, newSignalIDs []string) (*BayesianPosterior, error) {
	if len(personaIDs) == 0 {
		return &BayesianPosterior{Probabilities: map[string]float64{}, Confidence: 0, Entropy: 0}, nil
	}

	prior, err := b.buildPrior(ctx, jurorID, personaIDs)
	if err != nil {
		return nil, err
	}

	weights, err := b.loadWeights(ctx, personaIDs)
	if err != nil {
		return nil, err
	}

	signals, err := b.store.JurorSignals(ctx, jurorID)
	if err != nil {
		return nil, err
	}

	if len(newSignalIDs) > 0 {
		wanted := make(map[string]bool, len(newSignalIDs))
		for _, id := range newSignalIDs {
			wanted[id] = true
		}
		filtered := signals[:0]
		for _, s := range signals {
			if wanted[s.SignalID] {
				filtered = append(filtered, s)
			}
		}
		signals = filtered
	}

	posterior := prior
	for _, signal := range signals {
		posterior = applySignal(posterior, personaIDs, weights, signal)
	}

	normalize(posterior, personaIDs)

	entropy := shannonEntropy(posterior)
	return &BayesianPosterior{
		Probabilities: posterior,
		Confidence:    entropyConfidence(entropy, len(personaIDs)),
		Entropy:       entropy,
	}, nil
}

// buildPrior uses persisted mapping confidences when any candidate has one,
// flooring unmapped candidates, then renormalizing. Without mappings the
// prior is uniform.
func (b *BayesianUpdater) buildPrior(ctx context.Context, jurorID string, personaIDs []string) (map[string]float64, error) {
	prior := make(map[string]float64, len(personaIDs))

	mappings, err := b.store.MappingsForJuror(ctx, jurorID)
	if err != nil {
		return nil, err
	}

	confidences := make(map[string]float64, len(mappings))
	for _, m := range mappings {
		confidences[m.PersonaID] = m.Confidence
	}

	hasPrior := false
	for _, id := range personaIDs {
		if c, ok := confidences[id]; ok && c > 0 {
			prior[id] = c
			hasPrior = true
		} else {
			prior[id] = priorFloor
		}
	}

	if !hasPrior {
		uniform := 1.0 / float64(len(personaIDs))
		for _, id := range personaIDs {
			prior[id] = uniform
		}
		return prior, nil
	}

	normalize(prior, personaIDs)
	return prior, nil
}

func (b *BayesianUpdater) loadWeights(ctx context.Context, personaIDs []string) (map[string]map[string]types.PersonaSignalWeight, error) {
	weights := make(map[string]map[string]types.PersonaSignalWeight, len(personaIDs))

	for _, personaID := range personaIDs {
		personaWeights, err := b.store.WeightsForPersona(ctx, personaID)
		if err != nil {
			return nil, err
		}

		bySignal := make(map[string]types.PersonaSignalWeight, len(personaWeights))
		for _, w := range personaWeights {
			bySignal[w.SignalID] = w
		}
		weights[personaID] = bySignal
	}

	return weights, nil
}

// applySignal performs one Bayes update across the whole persona set:
// posterior(p) = likelihood(signal|p) * prior(p) / marginal. A zero marginal
// means the signal is uninformative for the entire set; the update is
// skipped rather than dividing by zero.
func applySignal(prior map[string]float64, personaIDs []string, weights map[string]map[string]types.PersonaSignalWeight, signal types.JurorSignal) map[string]float64 {
	truthy := signal.Value.Truthy()

	marginal := 0.0
	unnormalized := make(map[string]float64, len(personaIDs))
	for _, id := range personaIDs {
		l := likelihood(weights[id], signal.SignalID, truthy)
		unnormalized[id] = l * prior[id]
		marginal += unnormalized[id]
	}

	if marginal == 0 {
		return prior
	}

	posterior := make(map[string]float64, len(personaIDs))
	for _, id := range personaIDs {
		posterior[id] = unnormalized[id] / marginal
	}
	return posterior
}

// likelihood of observing the signal value given the persona. A persona with
// no defined weight gets the neutral 0.5: the signal carries no information
// about it.
func likelihood(personaWeights map[string]types.PersonaSignalWeight, signalID string, truthy bool) float64 {
	w, ok := personaWeights[signalID]
	if !ok {
		return 0.5
	}

	switch w.Direction {
	case types.DirectionNegative:
		if truthy {
			return 1 - w.Weight
		}
		return w.Weight
	default:
		if truthy {
			return w.Weight
		}
		return 1 - w.Weight
	}
}

// normalize scales the distribution to sum to 1, falling back to uniform if
// all mass has collapsed to zero.
func normalize(dist map[string]float64, personaIDs []string) {
	sum := 0.0
	for _, id := range personaIDs {
		sum += dist[id]
	}

	if sum == 0 {
		uniform := 1.0 / float64(len(personaIDs))
		for _, id := range personaIDs {
			dist[id] = uniform
		}
		return
	}

	for _, id := range personaIDs {
		dist[id] /= sum
	}
}

// shannonEntropy over the posterior; zero-probability terms contribute 0.
func shannonEntropy(dist map[string]float64) float64 {
	entropy := 0.0
	for _, p := range dist {
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// entropyConfidence is 1 - H/Hmax: 1 when the posterior is sharply peaked,
// 0 when it is uniform. A single-candidate set is trivially certain.
func entropyConfidence(entropy float64, candidates int) float64 {
	if candidates <= 1 {
		return 1
	}
	maxEntropy := math.Log2(float64(candidates))
	return clamp01(1 - entropy/maxEntropy)
}
